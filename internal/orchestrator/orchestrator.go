// Package orchestrator wires the signal pipeline together: a capture loop
// feeding per-lane workers, a decision loop draining their results on a
// fixed tick, and the side effects of every decision (alerts, journal,
// health).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/signal.report/internal/alert"
	"github.com/banshee-data/signal.report/internal/db"
	"github.com/banshee-data/signal.report/internal/decision"
	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/health"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/timeutil"
	"github.com/banshee-data/signal.report/internal/worker"
)

var logf = monitoring.Component("orchestrator")

// Journal is the part of *db.DB the orchestrator writes to.
type Journal interface {
	RecordSwitch(ctx context.Context, s db.SwitchRecord) (int64, error)
	RecordLaneObservations(ctx context.Context, obs []db.LaneObservation) error
}

// Health receives service status changes. *health.Server satisfies it.
type Health interface {
	SetServing(service string, serving bool)
}

// Options are the tunables.
type Options struct {
	Lanes     lane.Set
	StartLane lane.Lane
	Decision  decision.Config
	Timing    signal.Timing
	Worker    worker.Config

	Tick             time.Duration
	CaptureInterval  time.Duration
	SnapshotInterval time.Duration

	CongestionThreshold float64
	Clock               timeutil.Clock
	// Location is the zone alert times are rendered in. Defaults to UTC.
	Location *time.Location
}

// Deps are the adapters to the outside world. Dispatcher, Journal and
// Health are optional.
type Deps struct {
	Actuator   signal.Actuator
	Source     frames.Source
	Classifier worker.Classifier
	Dispatcher *alert.Dispatcher
	Journal    Journal
	Health     Health
}

const (
	journalQueueSize = 128
	recentSwitches   = 100
)

// Orchestrator owns every long-running routine of the controller.
type Orchestrator struct {
	opts       Options
	deps       Deps
	clock      timeutil.Clock
	controller *signal.Controller
	engine     *decision.Engine
	workers    []*worker.LaneWorker
	byLane     map[lane.Lane]*worker.LaneWorker
	capture    *worker.CaptureLoop

	// decision goroutine only
	detector     *alert.Detector
	lastSnapshot time.Time
	faulted      bool

	journal chan journalEntry

	mu       sync.RWMutex
	switches []decision.Switch
	ticks    uint64
}

type journalEntry struct {
	sw  *db.SwitchRecord
	obs []db.LaneObservation
}

// New builds the pipeline without starting anything.
func New(opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Actuator == nil || deps.Source == nil || deps.Classifier == nil {
		return nil, errors.New("orchestrator needs an actuator, a frame source and a classifier")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StartLane == "" && len(opts.Lanes) > 0 {
		opts.StartLane = opts.Lanes[0]
	}

	o := &Orchestrator{
		opts:     opts,
		deps:     deps,
		clock:    opts.Clock,
		byLane:   make(map[lane.Lane]*worker.LaneWorker, len(opts.Lanes)),
		detector: alert.NewDetector(opts.Lanes, opts.CongestionThreshold),
		journal:  make(chan journalEntry, journalQueueSize),
	}

	ctrl, err := signal.NewController(opts.Lanes, deps.Actuator, opts.Timing, signal.WithClock(opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("signal controller: %w", err)
	}
	o.controller = ctrl

	eng, err := decision.New(opts.Lanes, opts.Decision, ctrl,
		decision.WithClock(opts.Clock),
		decision.WithStartLane(opts.StartLane),
		decision.WithReportHook(o.onReport),
	)
	if err != nil {
		return nil, err
	}
	o.engine = eng

	for _, l := range opts.Lanes {
		w := worker.New(l, deps.Classifier, opts.Worker)
		o.workers = append(o.workers, w)
		o.byLane[l] = w
	}
	o.capture = worker.NewCaptureLoop(deps.Source, o.workers, opts.Clock, opts.CaptureInterval)
	return o, nil
}

// Run initialises the lights and runs until ctx is cancelled. On the way
// out every routine is stopped, the lights are driven red and pending
// journal entries are written.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.engine.Start(ctx); err != nil {
		o.setHealth(health.ServiceActuator, false)
		return err
	}
	o.setHealth("", true)
	o.setHealth(health.ServiceActuator, true)

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, w := range o.workers {
		wg.Add(1)
		go func(w *worker.LaneWorker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.capture.Run(runCtx)
	}()

	if o.deps.Dispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.deps.Dispatcher.Run(runCtx)
		}()
	}

	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		o.writeJournal()
	}()

	o.decisionLoop(runCtx)

	cancel()
	wg.Wait()
	if err := o.controller.Shutdown(); err != nil {
		logf("failed to drive lights red on shutdown: %v", err)
	}
	close(o.journal)
	<-journalDone
	o.setHealth("", false)
	logf("stopped")
	return ctx.Err()
}

func (o *Orchestrator) decisionLoop(ctx context.Context) {
	ticker := o.clock.NewTicker(o.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			o.tick()
		}
	}
}

// tick drains whatever each worker has published since the last tick and
// hands it to the engine.
func (o *Orchestrator) tick() {
	fresh := make(map[lane.Lane]lane.Result, len(o.workers))
	for _, w := range o.workers {
		if r, ok := w.Results().Take(); ok {
			fresh[w.Lane()] = r
		}
	}
	if _, err := o.engine.Tick(fresh); err != nil {
		var aerr *signal.ActuationError
		if errors.As(err, &aerr) {
			logf("actuation fault on %s (%s): %v", aerr.Lane, aerr.Color, aerr.Err)
		} else {
			logf("decision tick failed: %v", err)
		}
	}
	o.mu.Lock()
	o.ticks++
	o.mu.Unlock()
}

// onReport runs on the decision goroutine after every engine step.
func (o *Orchestrator) onReport(r decision.Report) {
	if r.State.Faulted != o.faulted {
		o.faulted = r.State.Faulted
		o.setHealth(health.ServiceActuator, !o.faulted)
	}

	if r.Switch != nil {
		o.mu.Lock()
		o.switches = append(o.switches, *r.Switch)
		if len(o.switches) > recentSwitches {
			o.switches = o.switches[len(o.switches)-recentSwitches:]
		}
		o.mu.Unlock()
		o.enqueue(journalEntry{sw: switchRecord(*r.Switch)})
	}

	if len(r.Results) == 0 {
		return
	}
	if o.deps.Dispatcher != nil {
		for _, e := range o.detector.Observe(r.Results, r.At.In(o.opts.Location)) {
			o.deps.Dispatcher.Notify(e)
		}
	}
	if o.lastSnapshot.IsZero() || r.At.Sub(o.lastSnapshot) >= o.opts.SnapshotInterval {
		o.lastSnapshot = r.At
		o.enqueue(journalEntry{obs: observations(o.opts.Lanes, r)})
	}
}

func (o *Orchestrator) enqueue(e journalEntry) {
	if o.deps.Journal == nil {
		return
	}
	select {
	case o.journal <- e:
	default:
		logf("journal queue full, dropping entry")
	}
}

func (o *Orchestrator) writeJournal() {
	for e := range o.journal {
		if o.deps.Journal == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if e.sw != nil {
			if _, err := o.deps.Journal.RecordSwitch(ctx, *e.sw); err != nil {
				logf("failed to journal switch: %v", err)
			}
		}
		if len(e.obs) > 0 {
			if err := o.deps.Journal.RecordLaneObservations(ctx, e.obs); err != nil {
				logf("failed to journal lane observations: %v", err)
			}
		}
		cancel()
	}
}

func (o *Orchestrator) setHealth(service string, serving bool) {
	if o.deps.Health != nil {
		o.deps.Health.SetServing(service, serving)
	}
}

func switchRecord(s decision.Switch) *db.SwitchRecord {
	rec := &db.SwitchRecord{
		From:   string(s.From),
		To:     string(s.To),
		Reason: string(s.Reason),
		At:     s.At,
	}
	if len(s.Counts) > 0 {
		rec.Counts = make(map[string]float64, len(s.Counts))
		for l, c := range s.Counts {
			rec.Counts[string(l)] = c
		}
	}
	return rec
}

func observations(lanes lane.Set, r decision.Report) []db.LaneObservation {
	out := make([]db.LaneObservation, 0, len(r.Results))
	for _, l := range lanes {
		res, ok := r.Results[l]
		if !ok {
			continue
		}
		out = append(out, db.LaneObservation{
			Lane:          string(l),
			SmoothedCount: res.SmoothedCount,
			Emergency:     res.EmergencyPresent,
			Accident:      res.AccidentConfirmed,
			ObservedAt:    res.ObservedAt,
			RecordedAt:    r.At,
		})
	}
	return out
}
