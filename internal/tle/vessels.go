package tle

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/star/substep/internal/world"
)

// Vessel is a world vessel built from one entry, with its tracker.
type Vessel struct {
	State   world.VesselState
	Tracker *Tracker
}

// VesselID returns the stable id of a catalog object.
func VesselID(noradID int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("norad:"+strconv.Itoa(noradID)))
}

// Vessels converts every usable entry into a vessel orbiting body. Entries
// that fail conversion are logged and skipped.
func Vessels(ds *Dataset, body world.BodyState, epoch time.Time, logger *slog.Logger) []Vessel {
	out := make([]Vessel, 0, len(ds.Entries))
	for _, e := range ds.Entries {
		v, err := vesselFromEntry(e, body, epoch)
		if err != nil {
			logger.Warn("skipping TLE vessel", "norad_id", e.NORADID, "name", e.Name, "error", err)
			continue
		}
		out = append(out, v)
	}
	logger.Info("TLE vessels built",
		"body", body.Name,
		"vessels", len(out),
		"skipped", len(ds.Entries)-len(out),
		"stale", ds.Stale(epoch),
	)
	return out
}

func vesselFromEntry(e Entry, body world.BodyState, epoch time.Time) (Vessel, error) {
	el, err := Elements(e, body.GravParameter, epoch)
	if err != nil {
		return Vessel{}, err
	}
	el.ReferenceBody = body.Index
	tr, err := NewTracker(e, epoch)
	if err != nil {
		return Vessel{}, err
	}
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("NORAD %d", e.NORADID)
	}
	return Vessel{
		State: world.VesselState{
			ID:        VesselID(e.NORADID),
			Name:      name,
			Simulated: true,
			MainBody:  body.Index,
			Orbit:     &el,
		},
		Tracker: tr,
	}, nil
}
