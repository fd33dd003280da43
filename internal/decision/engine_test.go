package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

var (
	nesw  = lane.MustSet("north", "east", "south", "west")
	epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

type fakeLights struct {
	calls     []string
	switchErr error
	initErr   error
}

func (f *fakeLights) Initialize(l lane.Lane) error {
	f.calls = append(f.calls, "init:"+string(l))
	return f.initErr
}

func (f *fakeLights) SwitchTo(l lane.Lane) error {
	f.calls = append(f.calls, "switch:"+string(l))
	return f.switchErr
}

func count(l lane.Lane, n float64) lane.Result {
	return lane.Result{Lane: l, SmoothedCount: n}
}

func emergency(l lane.Lane, present bool) lane.Result {
	return lane.Result{Lane: l, EmergencyPresent: present}
}

func batch(rs ...lane.Result) map[lane.Lane]lane.Result {
	m := make(map[lane.Lane]lane.Result, len(rs))
	for _, r := range rs {
		m[r.Lane] = r
	}
	return m
}

type harness struct {
	t       *testing.T
	clock   *timeutil.MockClock
	lights  *fakeLights
	engine  *Engine
	reports []Report
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, clock: timeutil.NewMockClock(epoch), lights: &fakeLights{}}
	e, err := New(nesw, cfg, h.lights, WithClock(h.clock), WithReportHook(func(r Report) {
		h.reports = append(h.reports, r)
	}))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	h.engine = e
	return h
}

// at moves the clock to epoch+sec and runs one tick.
func (h *harness) at(sec int, fresh map[lane.Lane]lane.Result) lane.Lane {
	h.t.Helper()
	h.clock.Set(epoch.Add(time.Duration(sec) * time.Second))
	g, err := h.engine.Tick(fresh)
	require.NoError(h.t, err)
	return g
}

func (h *harness) lastSwitch() *Switch {
	for i := len(h.reports) - 1; i >= 0; i-- {
		if h.reports[i].Switch != nil {
			return h.reports[i].Switch
		}
	}
	return nil
}

func TestNew_Validation(t *testing.T) {
	_, err := New(lane.Set{"only"}, DefaultConfig(), &fakeLights{})
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.MinGreen = 200 * time.Second
	_, err = New(nesw, bad, &fakeLights{})
	assert.Error(t, err)

	_, err = New(nesw, DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = New(nesw, DefaultConfig(), &fakeLights{}, WithStartLane("up"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(*Config){
		"negative min":      func(c *Config) { c.MinGreen = -time.Second },
		"zero max":          func(c *Config) { c.MaxGreen = 0 },
		"zero timeout":      func(c *Config) { c.EmergencyTimeout = 0 },
		"ratio below one":   func(c *Config) { c.SwitchRatio = 0.9 },
		"negative staleness": func(c *Config) { c.StaleAfter = -time.Second },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestStart(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	st := h.engine.State()
	assert.Equal(t, lane.Lane("north"), st.CurrentGreen)
	assert.Equal(t, epoch, st.LastSwitch)
	assert.False(t, st.EmergencyOverride)
	assert.Equal(t, []string{"init:north"}, h.lights.calls)
	require.Len(t, h.reports, 1)
	assert.Equal(t, ReasonStartup, h.reports[0].Switch.Reason)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := New(nesw, DefaultConfig(), &fakeLights{})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Start(ctx), context.Canceled)
}

func TestMinGreenEnforced(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.Equal(t, lane.Lane("north"), h.at(10, batch(count("north", 1), count("east", 30))))
	assert.Equal(t, lane.Lane("north"), h.at(19, nil))
	assert.Equal(t, lane.Lane("east"), h.at(20, nil))

	sw := h.lastSwitch()
	require.NotNil(t, sw)
	assert.Equal(t, ReasonDensity, sw.Reason)
	assert.Equal(t, lane.Lane("north"), sw.From)
	assert.Equal(t, epoch.Add(20*time.Second), h.engine.State().LastSwitch)
}

func TestSwitchRatio(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("north"), h.at(30, batch(count("north", 5), count("east", 7.5))),
		"exactly 1.5x is not enough")
	assert.Equal(t, lane.Lane("east"), h.at(31, batch(count("east", 7.6))))
}

func TestMaxGreenFairness(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	equal := batch(count("north", 5), count("east", 5), count("south", 5), count("west", 5))

	assert.Equal(t, lane.Lane("north"), h.at(119, equal))
	assert.Equal(t, lane.Lane("east"), h.at(120, equal), "ties go to the next lane in rotation")
	assert.Equal(t, ReasonMaxGreen, h.lastSwitch().Reason)

	assert.Equal(t, lane.Lane("south"), h.at(240, nil))
}

func TestMaxGreen_NoData(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("north"), h.at(60, nil))
	assert.Equal(t, lane.Lane("east"), h.at(120, nil))
}

func TestMissingCurrentGreenCountsAsZero(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("east"), h.at(20, batch(count("east", 1))))
}

func TestTieBreakFollowsRotation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.Equal(t, lane.Lane("east"), h.at(20, batch(count("north", 0), count("east", 1))))

	// From east the rotation is south, west, north; south has no data.
	got := h.at(40, batch(count("east", 1), count("north", 9), count("west", 9)))
	assert.Equal(t, lane.Lane("west"), got)
}

func TestResultsRetainedForSilentLanes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(1, batch(count("east", 12)))
	h.at(2, batch(count("south", 3)))

	res := h.engine.Results()
	assert.Equal(t, 12.0, res["east"].SmoothedCount)
	assert.Equal(t, 3.0, res["south"].SmoothedCount)

	assert.Equal(t, lane.Lane("east"), h.at(20, nil))
}

func TestUnknownLaneIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(20, batch(count("up", 100)))
	assert.Equal(t, lane.Lane("north"), h.engine.State().CurrentGreen)
	assert.NotContains(t, h.engine.Results(), lane.Lane("up"))
}

func TestStaleResultsDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = 10 * time.Second
	h := newHarness(t, cfg)

	east := count("east", 50)
	east.ObservedAt = epoch
	h.at(1, batch(east))

	assert.Equal(t, lane.Lane("north"), h.at(20, nil))
	assert.Equal(t, []lane.Lane{"east"}, h.engine.State().Stale)
}

func TestAccidentFlag(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(1, batch(
		lane.Result{Lane: "west", AccidentConfirmed: true},
		lane.Result{Lane: "south", AccidentConfirmed: true},
	))
	st := h.engine.State()
	assert.True(t, st.AccidentFlag)
	assert.Equal(t, lane.Lane("south"), st.AccidentLane)
	assert.Equal(t, lane.Lane("north"), st.CurrentGreen, "accidents do not drive switching")

	h.at(2, batch(lane.Result{Lane: "west"}, lane.Result{Lane: "south"}))
	assert.False(t, h.engine.State().AccidentFlag)
}

func TestEmergencyPreemption(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("west"), h.at(2, batch(emergency("west", true), count("north", 40))))
	st := h.engine.State()
	assert.True(t, st.EmergencyOverride)
	assert.Equal(t, lane.Lane("west"), st.EmergencyLane)
	assert.Equal(t, ReasonEmergency, h.lastSwitch().Reason)
}

func TestEmergency_FirstLaneInOrderWins(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("east"), h.at(1, batch(emergency("west", true), emergency("east", true))))
}

func TestEmergency_NoSelfSwitch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(1, batch(emergency("north", true)))
	assert.Equal(t, []string{"init:north"}, h.lights.calls)
	assert.True(t, h.engine.State().EmergencyOverride)
}

func TestEmergency_SuppressesDensity(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(1, batch(emergency("north", true)))
	assert.Equal(t, lane.Lane("north"), h.at(50, batch(count("east", 99))))
}

func TestEmergency_OverridePersistsWithoutReports(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.at(5, batch(emergency("east", true)))
	// east goes quiet but the override holds until the timeout
	assert.Equal(t, lane.Lane("east"), h.at(30, batch(emergency("east", false), count("north", 50))))
	assert.True(t, h.engine.State().EmergencyOverride)

	assert.Equal(t, lane.Lane("north"), h.at(65, nil))
	assert.False(t, h.engine.State().EmergencyOverride)
}

func TestEmergency_OnLongHeldGreenKeepsGreen(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	assert.Equal(t, lane.Lane("north"), h.at(100, batch(count("north", 10), count("east", 10))))

	northEmergency := lane.Result{Lane: "north", SmoothedCount: 10, EmergencyPresent: true}
	for _, sec := range []int{101, 102, 130, 160} {
		assert.Equal(t, lane.Lane("north"), h.at(sec, batch(northEmergency, count("east", 40))), "t=%d", sec)
		st := h.engine.State()
		assert.True(t, st.EmergencyOverride, "t=%d", sec)
		assert.Equal(t, epoch.Add(101*time.Second), st.EmergencySince)
	}

	// a full timeout after arming, the override clears and density wins
	assert.Equal(t, lane.Lane("east"), h.at(161, batch(northEmergency, count("east", 40))))
	assert.False(t, h.engine.State().EmergencyOverride)
	assert.Equal(t, ReasonDensity, h.lastSwitch().Reason)
}

// North starts green; east reports an emergency at t=5 and keeps reporting
// it. The override takes east green at once, expires at t=65, and normal
// arbitration resumes in the same tick.
func TestScenario_EmergencyPreemptAndClear(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	var snapshots []map[lane.Lane]signal.Color
	ctl, err := signal.NewController(nesw, signal.LogActuator{}, signal.DefaultTiming(),
		signal.WithClock(clock),
		signal.WithObserver(func(s map[lane.Lane]signal.Color) { snapshots = append(snapshots, s) }))
	require.NoError(t, err)

	var switches []Switch
	e, err := New(nesw, DefaultConfig(), ctl, WithClock(clock), WithReportHook(func(r Report) {
		if r.Switch != nil {
			switches = append(switches, *r.Switch)
		}
	}))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	g, ok := ctl.Green()
	require.True(t, ok)
	require.Equal(t, lane.Lane("north"), g)

	tick := func(sec int, fresh map[lane.Lane]lane.Result) lane.Lane {
		clock.Set(epoch.Add(time.Duration(sec) * time.Second))
		got, err := e.Tick(fresh)
		require.NoError(t, err)
		return got
	}

	for sec := 1; sec < 5; sec++ {
		require.Equal(t, lane.Lane("north"), tick(sec, batch(count("north", 4), count("east", 2))))
	}

	snapshots = nil
	sleepsBefore := len(clock.Sleeps())
	eastEmergency := lane.Result{Lane: "east", SmoothedCount: 2, EmergencyPresent: true}
	require.Equal(t, lane.Lane("east"), tick(5, batch(eastEmergency)))

	assert.Equal(t, []time.Duration{3 * time.Second, time.Second}, clock.Sleeps()[sleepsBefore:])
	require.NotEmpty(t, snapshots)
	assert.Equal(t, signal.Yellow, snapshots[0]["north"])
	allRed := snapshots[len(snapshots)-2]
	for l, c := range allRed {
		assert.Equal(t, signal.Red, c, "all-red before green, lane %s", l)
	}
	assert.Equal(t, signal.Green, snapshots[len(snapshots)-1]["east"])
	assert.Equal(t, epoch.Add(5*time.Second), e.State().LastSwitch)

	for sec := 6; sec < 65; sec++ {
		require.Equal(t, lane.Lane("east"), tick(sec, batch(eastEmergency, count("north", 30))), "t=%d", sec)
		require.True(t, e.State().EmergencyOverride)
	}

	require.Equal(t, lane.Lane("north"), tick(65, batch(eastEmergency)))
	st := e.State()
	assert.False(t, st.EmergencyOverride)
	assert.Empty(t, st.EmergencyLane)

	// east is still reporting, but the expired override does not re-arm
	// until east reports clear once.
	assert.Equal(t, lane.Lane("north"), tick(66, batch(eastEmergency)))
	assert.False(t, e.State().EmergencyOverride)
	tick(70, batch(lane.Result{Lane: "east", SmoothedCount: 2}))
	assert.Equal(t, lane.Lane("east"), tick(71, batch(eastEmergency)))

	got := make([]Reason, len(switches))
	for i, s := range switches {
		got[i] = s.Reason
	}
	want := []Reason{ReasonStartup, ReasonEmergency, ReasonDensity, ReasonEmergency}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("switch reasons (-want +got):\n%s", diff)
	}
}

func TestActuationFault_ResyncNextTick(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	fault := &signal.ActuationError{Lane: "east", Color: signal.Green, Err: errors.New("relay")}
	h.lights.switchErr = fault

	h.clock.Set(epoch.Add(20 * time.Second))
	g, err := h.engine.Tick(batch(count("east", 10)))
	var aerr *signal.ActuationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, lane.Lane("north"), g)
	assert.True(t, h.engine.State().Faulted)

	h.lights.switchErr = nil
	assert.Equal(t, lane.Lane("east"), h.at(21, nil))
	st := h.engine.State()
	assert.False(t, st.Faulted)
	assert.Equal(t, epoch.Add(21*time.Second), st.LastSwitch)
	assert.Equal(t, ReasonResync, h.lastSwitch().Reason)
	assert.Equal(t, []string{"init:north", "switch:east", "init:east"}, h.lights.calls)
}

func TestActuationFault_ResyncRetries(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.lights.switchErr = errors.New("relay")
	h.clock.Set(epoch.Add(20 * time.Second))
	_, err := h.engine.Tick(batch(count("east", 10)))
	require.Error(t, err)

	h.lights.initErr = errors.New("still broken")
	h.clock.Set(epoch.Add(21 * time.Second))
	_, err = h.engine.Tick(nil)
	require.Error(t, err)
	assert.True(t, h.engine.State().Faulted)

	h.lights.initErr = nil
	assert.Equal(t, lane.Lane("east"), h.at(22, nil))
}
