package stream

import "sync"

// slots caps concurrent streams per client IP and across all clients.
type slots struct {
	mu       sync.Mutex
	perIP    map[string]int
	inUse    int
	maxPerIP int
	max      int
}

func newSlots(maxPerIP, max int) *slots {
	if max < 1 {
		max = 1000
	}
	return &slots{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		max:      max,
	}
}

// take claims a slot for ip. release may be called more than once; only the
// first call frees the slot.
func (s *slots) take(ip string) (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inUse >= s.max || s.perIP[ip] >= s.maxPerIP {
		return nil, false
	}
	s.perIP[ip]++
	s.inUse++

	var once sync.Once
	return func() { once.Do(func() { s.free(ip) }) }, true
}

func (s *slots) free(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse--
	if s.perIP[ip]--; s.perIP[ip] == 0 {
		delete(s.perIP, ip)
	}
}

// held returns the slots held by ip.
func (s *slots) held(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perIP[ip]
}

// total returns the slots held by everyone.
func (s *slots) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}
