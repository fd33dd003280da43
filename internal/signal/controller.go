package signal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

// Timing holds the dwell times of the switch sequence.
type Timing struct {
	Yellow time.Duration
	AllRed time.Duration
}

// DefaultTiming is 3s of yellow followed by 1s of all-red.
func DefaultTiming() Timing {
	return Timing{Yellow: 3 * time.Second, AllRed: time.Second}
}

// Observer receives a snapshot after every individual light change.
type Observer func(map[lane.Lane]Color)

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for dwell times.
func WithClock(c timeutil.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithObserver registers fn to see every intermediate state.
func WithObserver(fn Observer) Option {
	return func(ctl *Controller) { ctl.observer = fn }
}

// Controller is the only writer of light state. Sequences are serialised:
// a second SwitchTo waits for the first to finish.
type Controller struct {
	lanes    lane.Set
	act      Actuator
	timing   Timing
	clock    timeutil.Clock
	observer Observer

	seqMu sync.Mutex

	mu     sync.RWMutex
	states map[lane.Lane]Color
}

// NewController returns a controller with every lane Off. Call Initialize
// before the first SwitchTo.
func NewController(lanes lane.Set, act Actuator, timing Timing, opts ...Option) (*Controller, error) {
	if len(lanes) == 0 {
		return nil, errors.New("signal controller needs at least one lane")
	}
	if act == nil {
		return nil, errors.New("signal controller needs an actuator")
	}
	if timing.Yellow < 0 || timing.AllRed < 0 {
		return nil, fmt.Errorf("negative dwell time: yellow=%s all_red=%s", timing.Yellow, timing.AllRed)
	}
	c := &Controller{
		lanes:  lanes,
		act:    act,
		timing: timing,
		clock:  timeutil.RealClock{},
		states: make(map[lane.Lane]Color, len(lanes)),
	}
	for _, l := range lanes {
		c.states[l] = Off
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Initialize drives every lane red, holds the all-red interval, then gives
// start the green.
func (c *Controller) Initialize(start lane.Lane) error {
	if !c.lanes.Contains(start) {
		return fmt.Errorf("unknown start lane %q", start)
	}
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if err := c.allRed(); err != nil {
		return c.fail(err)
	}
	c.clock.Sleep(c.timing.AllRed)
	if err := c.set(start, Green); err != nil {
		return c.fail(err)
	}
	monitoring.Logf("[signal] initialised, %s green", start)
	return nil
}

// SwitchTo runs the full sequence and returns once target is green:
// the current green goes yellow for the yellow interval, every lane goes
// red for the all-red interval, then target goes green. It blocks for the
// whole dwell and cannot be interrupted. Calling it with the lane that is
// already green still runs the sequence; callers that do not want that must
// check Green first.
func (c *Controller) SwitchTo(target lane.Lane) error {
	if !c.lanes.Contains(target) {
		return fmt.Errorf("unknown target lane %q", target)
	}
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if current, ok := c.Green(); ok {
		if err := c.set(current, Yellow); err != nil {
			return c.fail(err)
		}
		c.clock.Sleep(c.timing.Yellow)
	}
	if err := c.allRed(); err != nil {
		return c.fail(err)
	}
	c.clock.Sleep(c.timing.AllRed)
	if err := c.set(target, Green); err != nil {
		return c.fail(err)
	}
	return nil
}

// Shutdown drives every lane red without any dwell. The caller must make
// sure no sequence is running; Shutdown still waits for one if it is.
func (c *Controller) Shutdown() error {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	if err := c.allRed(); err != nil {
		return c.fail(err)
	}
	monitoring.Logf("[signal] all lanes red")
	return nil
}

// States returns a copy of every lane's current aspect.
func (c *Controller) States() map[lane.Lane]Color {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Green returns the lane currently showing green, if any.
func (c *Controller) Green() (lane.Lane, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, l := range c.lanes {
		if c.states[l] == Green {
			return l, true
		}
	}
	return "", false
}

// Lanes returns the controlled lanes in enumeration order.
func (c *Controller) Lanes() lane.Set { return c.lanes }

func (c *Controller) snapshotLocked() map[lane.Lane]Color {
	out := make(map[lane.Lane]Color, len(c.states))
	for l, s := range c.states {
		out[l] = s
	}
	return out
}

func (c *Controller) allRed() error {
	for _, l := range c.lanes {
		if err := c.set(l, Red); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) set(l lane.Lane, col Color) error {
	if err := c.act.Set(l, col); err != nil {
		return &ActuationError{Lane: l, Color: col, Err: err}
	}
	c.mu.Lock()
	c.states[l] = col
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.observer != nil {
		c.observer(snap)
	}
	return nil
}

// fail makes a best-effort attempt to bring every lane to red after an
// actuation fault and returns the original error.
func (c *Controller) fail(err error) error {
	monitoring.Logf("[signal] actuation fault: %v", err)
	for _, l := range c.lanes {
		if serr := c.set(l, Red); serr != nil {
			monitoring.Logf("[signal] safe-state %s failed: %v", l, serr)
		}
	}
	return err
}
