package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/signal.report/internal/config"
	"github.com/banshee-data/signal.report/internal/db"
	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

func TestParseFlags_Defaults(t *testing.T) {
	o, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, options{
		listen:     ":8080",
		grpcListen: ":50051",
		dbPath:     "signal_journal.db",
	}, *o)
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{
		"--config", "/etc/signal.yaml",
		"--listen", "127.0.0.1:9000",
		"--grpc-listen", "",
		"--db", "/var/lib/signal.db",
		"--dev",
		"--fixtures", "testdata",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/signal.yaml", o.configPath)
	assert.Equal(t, "127.0.0.1:9000", o.listen)
	assert.Empty(t, o.grpcListen)
	assert.Equal(t, "/var/lib/signal.db", o.dbPath)
	assert.True(t, o.devMode)
	assert.Equal(t, "testdata", o.fixtures)
}

func TestParseFlags_Errors(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"--nope"}, &stderr)
	assert.Error(t, err)

	_, err = parseFlags([]string{"extra"}, &stderr)
	assert.EqualError(t, err, "unexpected argument: extra")

	_, err = parseFlags([]string{"--listen", ""}, &stderr)
	assert.EqualError(t, err, "listen address is required")

	o, err := parseFlags([]string{"--version", "--listen", ""}, &stderr)
	require.NoError(t, err)
	assert.True(t, o.version)

	_, err = parseFlags([]string{"--help"}, &stderr)
	assert.True(t, errors.Is(err, pflag.ErrHelp))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, lane.Lane("north"), cfg.GetDefaultLane())

	path := filepath.Join(t.TempDir(), "signal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intersection:\n  lanes: [a, b]\n"), 0o644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	lanes, err := cfg.Lanes()
	require.NoError(t, err)
	assert.Equal(t, lane.Set{"a", "b"}, lanes)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func openJournal(t *testing.T) *db.DB {
	t.Helper()
	j, err := db.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestBuild_DevMode(t *testing.T) {
	cfg := config.Default()
	cfg.Alerts.Contacts = []string{"+15550100"}

	app, err := build(cfg, &options{devMode: true}, openJournal(t), nil)
	require.NoError(t, err)
	t.Cleanup(app.close)

	require.NotNil(t, app.orchestrator)
	assert.Len(t, app.ports, 1, "dev mode uses a disabled modem")
	assert.Equal(t, lane.Set{"north", "east", "south", "west"}, app.orchestrator.Lanes())
}

func TestBuild_RejectsBadLanes(t *testing.T) {
	cfg := config.Default()
	cfg.Intersection.Lanes = []string{"solo"}
	_, err := build(cfg, &options{devMode: true}, openJournal(t), nil)
	assert.Error(t, err)
}

func TestBuildSource(t *testing.T) {
	clock := timeutil.NewMockClock(timeutil.RealClock{}.Now())
	lanes := lane.MustSet("north", "south")
	cfg := config.Default()

	_, ok := buildSource(cfg, &options{}, lanes, clock).(*frames.Synthetic)
	assert.True(t, ok, "no cameras means synthetic frames")

	cfg.Cameras = map[string]string{"north": "http://cam-n/snap.jpg", "south": "http://cam-s/snap.jpg"}
	_, ok = buildSource(cfg, &options{}, lanes, clock).(*frames.HTTPSource)
	assert.True(t, ok)

	_, ok = buildSource(cfg, &options{devMode: true}, lanes, clock).(*frames.Synthetic)
	assert.True(t, ok)

	_, ok = buildSource(cfg, &options{fixtures: filepath.Join(t.TempDir(), "missing")}, lanes, clock).(*frames.Synthetic)
	assert.True(t, ok, "unusable fixtures fall back to synthetic frames")
}

func TestBuildActuator_NoPortLogsOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Signals = &config.Signals{Pins: map[string]signal.Pins{"north": {Red: 2, Yellow: 3, Green: 4}}}
	app := &application{}

	act, err := buildActuator(app, cfg, &options{}, lane.MustSet("north", "south"))
	require.NoError(t, err)
	assert.IsType(t, signal.LogActuator{}, act)
	assert.Empty(t, app.ports)
}
