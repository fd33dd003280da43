// Package decision turns per-lane perception results into signal
// switches: emergency preemption first, then the emergency timeout, then
// density arbitration bounded by the minimum and maximum green times.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

var logf = monitoring.Component("decision")

// Lights is the part of signal.Controller the engine drives.
type Lights interface {
	Initialize(start lane.Lane) error
	SwitchTo(target lane.Lane) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithReportHook is called at the end of every Start and Tick, on the
// decision goroutine. It must not block.
func WithReportHook(fn func(Report)) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

// WithStartLane overrides the first lane of the set as the initial green.
func WithStartLane(l lane.Lane) Option {
	return func(e *Engine) { e.start = l }
}

// Engine is driven by a single goroutine calling Tick. State and Results
// may be read from anywhere.
type Engine struct {
	lanes  lane.Set
	cfg    Config
	lights Lights
	clock  timeutil.Clock
	start  lane.Lane
	hooks  []func(Report)

	// tick goroutine only
	results map[lane.Lane]lane.Result
	// lanes whose emergency override timed out and that have not yet
	// reported the emergency gone
	expired map[lane.Lane]bool
	resync  lane.Lane

	mu    sync.RWMutex
	state State
	view  map[lane.Lane]lane.Result
}

// New validates cfg and returns an engine that has not touched the lights.
func New(lanes lane.Set, cfg Config, lights Lights, opts ...Option) (*Engine, error) {
	if len(lanes) < 2 {
		return nil, fmt.Errorf("need at least two lanes, have %d", len(lanes))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decision config: %w", err)
	}
	if lights == nil {
		return nil, errors.New("decision engine needs a signal controller")
	}
	e := &Engine{
		lanes:   lanes,
		cfg:     cfg,
		lights:  lights,
		clock:   timeutil.RealClock{},
		start:   lanes[0],
		results: make(map[lane.Lane]lane.Result, len(lanes)),
		expired: make(map[lane.Lane]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if !lanes.Contains(e.start) {
		return nil, fmt.Errorf("start lane %q is not one of %v", e.start, lanes)
	}
	return e, nil
}

// Start runs the all-red then green initialisation for the start lane and
// stamps the first switch time.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.lights.Initialize(e.start); err != nil {
		return fmt.Errorf("initialise lights: %w", err)
	}
	now := e.clock.Now()
	e.mu.Lock()
	e.state = State{CurrentGreen: e.start, LastSwitch: now}
	e.mu.Unlock()
	logf("started with %s green", e.start)
	e.report(Report{
		At:     now,
		State:  e.State(),
		Switch: &Switch{To: e.start, Reason: ReasonStartup, At: now},
	})
	return nil
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// Results returns the merged per-lane results used by the last tick.
func (e *Engine) Results() map[lane.Lane]lane.Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[lane.Lane]lane.Result, len(e.view))
	for l, r := range e.view {
		out[l] = r
	}
	return out
}

// Tick merges fresh results (lanes absent from fresh keep their previous
// result), decides, and performs at most one switch. It returns the lane
// that is green afterwards. A switch blocks for the full signal sequence.
// Actuation failures are returned as *signal.ActuationError and the lights
// are re-synchronised on the next tick.
func (e *Engine) Tick(fresh map[lane.Lane]lane.Result) (lane.Lane, error) {
	now := e.clock.Now()
	st := e.State()

	for l, r := range fresh {
		if !e.lanes.Contains(l) {
			logf("ignoring result for unknown lane %q", l)
			continue
		}
		e.results[l] = r
	}
	view, stale := e.merge(now)
	st.Stale = stale

	if e.resync != "" {
		return e.finishResync(now, st, view)
	}

	e.updateEmergency(now, &st, view)
	st.AccidentFlag, st.AccidentLane = false, ""
	for _, l := range e.lanes {
		if r, ok := view[l]; ok && r.AccidentConfirmed {
			st.AccidentFlag, st.AccidentLane = true, l
			break
		}
	}

	target, reason := e.arbitrate(now, &st, view)

	var sw *Switch
	var err error
	if target != "" && target != st.CurrentGreen {
		sw = &Switch{From: st.CurrentGreen, To: target, Reason: reason, Counts: counts(view)}
		logf("switching %s -> %s (%s)", st.CurrentGreen, target, reason)
		if err = e.lights.SwitchTo(target); err != nil {
			var aerr *signal.ActuationError
			if errors.As(err, &aerr) {
				logf("actuation fault during switch to %s: %v", target, err)
			}
			e.resync = target
			st.Faulted = true
			sw = nil
		} else {
			st.CurrentGreen = target
			st.LastSwitch = e.clock.Now()
			sw.At = st.LastSwitch
		}
	}

	e.commit(st, view)
	e.report(Report{At: now, Results: view, State: st.clone(), Switch: sw})
	return st.CurrentGreen, err
}

// merge builds the view used for decisions, dropping results older than
// StaleAfter when that is enabled.
func (e *Engine) merge(now time.Time) (map[lane.Lane]lane.Result, []lane.Lane) {
	view := make(map[lane.Lane]lane.Result, len(e.results))
	var stale []lane.Lane
	for _, l := range e.lanes {
		r, ok := e.results[l]
		if !ok {
			continue
		}
		if e.cfg.StaleAfter > 0 && !r.ObservedAt.IsZero() && now.Sub(r.ObservedAt) > e.cfg.StaleAfter {
			stale = append(stale, l)
			continue
		}
		view[l] = r
	}
	return view, stale
}

// updateEmergency arms or retargets the override from the first lane in
// enumeration order reporting an emergency. An armed override persists
// without reports until it times out.
func (e *Engine) updateEmergency(now time.Time, st *State, view map[lane.Lane]lane.Result) {
	for l := range e.expired {
		if r, ok := view[l]; ok && !r.EmergencyPresent {
			delete(e.expired, l)
		}
	}
	for _, l := range e.lanes {
		r, ok := view[l]
		if !ok || !r.EmergencyPresent || e.expired[l] {
			continue
		}
		if !st.EmergencyOverride || st.EmergencyLane != l {
			logf("emergency vehicle reported in %s", l)
			st.EmergencySince = now
		}
		st.EmergencyOverride = true
		st.EmergencyLane = l
		return
	}
}

// arbitrate returns the lane that should be green, or "" to keep the
// current one.
func (e *Engine) arbitrate(now time.Time, st *State, view map[lane.Lane]lane.Result) (lane.Lane, Reason) {
	elapsed := now.Sub(st.LastSwitch)

	if st.EmergencyOverride {
		if st.EmergencyLane != st.CurrentGreen {
			return st.EmergencyLane, ReasonEmergency
		}
		since := st.LastSwitch
		if st.EmergencySince.After(since) {
			since = st.EmergencySince
		}
		held := now.Sub(since)
		if held < e.cfg.EmergencyTimeout {
			return "", ""
		}
		logf("emergency override for %s timed out after %s", st.EmergencyLane, held)
		e.expired[st.EmergencyLane] = true
		st.EmergencyOverride = false
		st.EmergencyLane = ""
		st.EmergencySince = time.Time{}
	}

	if elapsed < e.cfg.MinGreen {
		return "", ""
	}

	var current float64
	if r, ok := view[st.CurrentGreen]; ok {
		current = r.SmoothedCount
	}
	var best lane.Lane
	bestCount := -1.0
	for _, l := range e.lanes.After(st.CurrentGreen) {
		r, ok := view[l]
		if !ok {
			continue
		}
		if r.SmoothedCount > bestCount {
			best, bestCount = l, r.SmoothedCount
		}
	}

	if best != "" && bestCount > e.cfg.SwitchRatio*current {
		return best, ReasonDensity
	}
	if elapsed >= e.cfg.MaxGreen {
		if best == "" {
			best = e.lanes.After(st.CurrentGreen)[0]
		}
		return best, ReasonMaxGreen
	}
	return "", ""
}

func (e *Engine) finishResync(now time.Time, st State, view map[lane.Lane]lane.Result) (lane.Lane, error) {
	target := e.resync
	logf("re-synchronising lights, %s green", target)
	if err := e.lights.Initialize(target); err != nil {
		e.commit(st, view)
		e.report(Report{At: now, Results: view, State: st.clone()})
		return st.CurrentGreen, err
	}
	e.resync = ""
	sw := &Switch{From: st.CurrentGreen, To: target, Reason: ReasonResync, Counts: counts(view)}
	st.CurrentGreen = target
	st.LastSwitch = e.clock.Now()
	st.Faulted = false
	sw.At = st.LastSwitch
	e.commit(st, view)
	e.report(Report{At: now, Results: view, State: st.clone(), Switch: sw})
	return target, nil
}

func (e *Engine) commit(st State, view map[lane.Lane]lane.Result) {
	e.mu.Lock()
	e.state = st
	e.view = view
	e.mu.Unlock()
}

func (e *Engine) report(r Report) {
	for _, h := range e.hooks {
		h(r)
	}
}

func counts(view map[lane.Lane]lane.Result) map[lane.Lane]float64 {
	out := make(map[lane.Lane]float64, len(view))
	for l, r := range view {
		out[l] = r.SmoothedCount
	}
	return out
}
