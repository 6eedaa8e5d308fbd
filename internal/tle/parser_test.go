package tle

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/substep/internal/world"
)

const earthMu = 3.986004418e14

func TestParse(t *testing.T) {
	corrupted := strings.Replace(issLine2, "15.72125391", "15.72125392", 1)
	input := strings.Join([]string{
		"JUNK HEADER",
		issName, issLine1, issLine2,
		"",
		"BROKEN", issLine1, corrupted,
		starlinkName + "  ", starlinkLine1, starlinkLine2,
	}, "\r\n")

	entries, err := Parse(strings.NewReader(input), testLogger)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	iss := entries[0]
	assert.Equal(t, 25544, iss.NORADID)
	assert.Equal(t, issName, iss.Name)
	assert.Equal(t, issLine1, iss.Line1)
	assert.Equal(t, issLine2, iss.Line2)
	assert.Equal(t, 2008, iss.Epoch.Year())
	assert.Equal(t, 264, iss.Epoch.YearDay())

	sl := entries[1]
	assert.Equal(t, 44713, sl.NORADID)
	assert.Equal(t, starlinkName, sl.Name)
	assert.Equal(t, time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC), sl.Epoch)
}

func TestValidateLines(t *testing.T) {
	require.NoError(t, validateLines(issLine1, issLine2))

	tests := []struct {
		name         string
		line1, line2 string
		want         string
	}{
		{"short line", issLine1[:60], issLine2, "length"},
		{"swapped lines", issLine2, issLine1, "must start"},
		{"bad checksum", issLine1[:68] + "0", issLine2, "checksum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLines(tt.line1, tt.line2)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, 7, checksum(issLine1[:68]))
	assert.Equal(t, 7, checksum(issLine2[:68]))
	assert.Equal(t, 4, checksum("1-2"))
}

func TestParseEpoch(t *testing.T) {
	tm, err := parseEpoch("57001.00000000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(1957, 1, 1, 0, 0, 0, 0, time.UTC), tm)

	tm, err = parseEpoch("24001.25000000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), tm)

	_, err = parseEpoch("24")
	assert.Error(t, err)
	_, err = parseEpoch("xx001.0")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.tle")
	require.NoError(t, os.WriteFile(path, []byte(starlinkEntry()+issEntry()), 0o644))

	ds, err := Load(context.Background(), NewFetcher(path, testLogger), testLogger)
	require.NoError(t, err)
	assert.Equal(t, path, ds.Source)
	require.Len(t, ds.Entries, 2)
	oldest, newest := ds.EpochSpan()
	assert.Equal(t, 2008, oldest.Year())
	assert.Equal(t, 2024, newest.Year())

	empty := filepath.Join(t.TempDir(), "empty.tle")
	require.NoError(t, os.WriteFile(empty, []byte("nothing here\n"), 0o644))
	_, err = Load(context.Background(), NewFetcher(empty, testLogger), testLogger)
	assert.ErrorContains(t, err, "no valid TLE entries")
}

func parseOne(t *testing.T, text string) Entry {
	t.Helper()
	entries, err := Parse(strings.NewReader(text), testLogger)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestElements(t *testing.T) {
	e := parseOne(t, issEntry())
	epoch := e.Epoch.Add(-time.Hour)

	el, err := Elements(e, earthMu, epoch)
	require.NoError(t, err)
	assert.InDelta(t, 51.6416, el.Inclination, 1e-9)
	assert.InDelta(t, 247.4627, el.LAN, 1e-9)
	assert.InDelta(t, 0.0006703, el.Eccentricity, 1e-12)
	assert.InDelta(t, 130.5360, el.ArgumentOfPeriapsis, 1e-9)
	assert.InDelta(t, 325.0288*math.Pi/180, el.MeanAnomalyAtEpoch, 1e-9)
	assert.InDelta(t, 6.730960e6, el.SemiMajorAxis, 10)
	assert.InDelta(t, 3600, el.Epoch, 1e-3)

	e.Mean.MeanMotion = 0
	_, err = Elements(e, earthMu, epoch)
	assert.Error(t, err)
}

func TestParseMeanElements(t *testing.T) {
	e := parseOne(t, issEntry())
	assert.Equal(t, MeanElements{
		Inclination:  51.6416,
		RAAN:         247.4627,
		Eccentricity: 0.0006703,
		ArgPerigee:   130.5360,
		MeanAnomaly:  325.0288,
		MeanMotion:   15.72125391,
	}, e.Mean)
	assert.InDelta(t, (91 * time.Minute).Seconds(), e.Mean.Period().Seconds(), 60)
	assert.Zero(t, MeanElements{}.Period())

	// checksums hold but the mean motion field is not a number
	line2 := issLine2[:52] + "15.7x125391" + issLine2[63:68]
	line2 += string(rune('0' + checksum(line2)))
	_, err := parseEntry(issName, issLine1, line2)
	assert.ErrorContains(t, err, "invalid mean motion")
}

func TestDatasetEpochs(t *testing.T) {
	iss := parseOne(t, issEntry())
	starlink := parseOne(t, starlinkEntry())
	ds := &Dataset{Entries: []Entry{starlink, iss}}

	oldest, newest := ds.EpochSpan()
	assert.Equal(t, iss.Epoch, oldest)
	assert.Equal(t, starlink.Epoch, newest)

	assert.Equal(t, 1, ds.Stale(starlink.Epoch))
	assert.Equal(t, 2, ds.Stale(starlink.Epoch.Add(365*24*time.Hour)))

	oldest, newest = (&Dataset{}).EpochSpan()
	assert.True(t, oldest.IsZero())
	assert.True(t, newest.IsZero())
}

func TestTracker(t *testing.T) {
	e := parseOne(t, issEntry())
	tr, err := NewTracker(e, e.Epoch)
	require.NoError(t, err)
	assert.Equal(t, 25544, tr.NORADID())

	for _, ut := range []float64{0, 600, 3600} {
		pos, err := tr.Track(ut)
		require.NoError(t, err)
		assert.InDelta(t, 6.73e6, pos.Len(), 1.5e5, "ut=%v", ut)
	}

	a, _ := tr.Track(0)
	b, _ := tr.Track(600)
	// ten minutes at ~7.7 km/s
	assert.InDelta(t, 4.4e6, a.Sub(b).Len(), 6e5)

	e.Line1 = e.Line1[:68] + "0"
	_, err = NewTracker(e, e.Epoch)
	assert.Error(t, err)
}

func TestVessels(t *testing.T) {
	ds := &Dataset{Entries: []Entry{
		parseOne(t, issEntry()),
		parseOne(t, starlinkEntry()),
		{NORADID: 1, Line1: "1 bad", Line2: "2 bad"},
	}}
	ds.Entries[1].Name = ""
	earth := world.BodyState{Index: 3, Name: "Earth", GravParameter: earthMu}
	epoch := ds.Entries[0].Epoch

	vessels := Vessels(ds, earth, epoch, testLogger)
	require.Len(t, vessels, 2)

	iss := vessels[0]
	assert.Equal(t, VesselID(25544), iss.State.ID)
	assert.Equal(t, VesselID(25544), VesselID(25544), "ids are stable")
	assert.NotEqual(t, VesselID(25544), VesselID(44713))
	assert.Equal(t, issName, iss.State.Name)
	assert.True(t, iss.State.Simulated)
	assert.Equal(t, 3, iss.State.MainBody)
	require.NotNil(t, iss.State.Orbit)
	assert.Equal(t, 3, iss.State.Orbit.ReferenceBody)
	assert.InDelta(t, 0, iss.State.Orbit.Epoch, 1e-3)
	require.NotNil(t, iss.Tracker)

	assert.Equal(t, "NORAD 44713", vessels[1].State.Name)
}
