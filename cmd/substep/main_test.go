package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/substep/internal/config"
	"github.com/star/substep/internal/irradiance"
	"github.com/star/substep/internal/substep"
	"github.com/star/substep/internal/tle"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const tleData = `ISS (ZARYA)
1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537
`

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)
	_, err = newLogger("loud")
	assert.Error(t, err)
}

func TestBuildWorld(t *testing.T) {
	cfg := config.Default()
	cfg.Tick.Warp = 50
	cfg.Tick.Paused = true

	sb, err := buildWorld(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	assert.Len(t, sb.Vessels(), 4)
	assert.Equal(t, 50.0, sb.Warp())
	assert.False(t, sb.Running())

	cfg.Tick.Warp = 1e12
	_, err = buildWorld(context.Background(), cfg, testLogger)
	assert.ErrorContains(t, err, "tick.warp")
}

func TestBuildWorldWithTLE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.tle")
	require.NoError(t, os.WriteFile(path, []byte(tleData), 0o644))

	cfg := config.Default()
	cfg.TLE.Source = path
	sb, err := buildWorld(context.Background(), cfg, testLogger)
	require.NoError(t, err)
	require.Len(t, sb.Vessels(), 5)

	iss, ok := sb.Vessel(tle.VesselID(25544))
	require.True(t, ok)
	assert.Equal(t, "ISS (ZARYA)", iss.Name)
	assert.True(t, iss.Simulated)

	cfg.TLE.Body = "Vulcan"
	_, err = buildWorld(context.Background(), cfg, testLogger)
	assert.ErrorContains(t, err, "Vulcan")
}

func TestMainLoopDrivesEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Tick.Warp = 600
	sb, err := buildWorld(context.Background(), cfg, testLogger)
	require.NoError(t, err)

	envs := irradiance.NewAccumulator(testLogger)
	sched := substep.New(cfg.Scheduler, sb, envs, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mainLoop(ctx, sb, sched, 5*time.Millisecond, nil) }()

	// 600x warp consumes a 60s step every 100ms of real time
	require.Eventually(t, func() bool { return envs.Len() == 4 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, sched.Alive())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("main loop did not stop")
	}
	assert.Eventually(t, func() bool { return !sched.Alive() }, time.Second, 5*time.Millisecond)
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", "", "--log", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "ok:")
	assert.Contains(t, out.String(), "4 vessels")
}
