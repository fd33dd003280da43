package orchestrator

import (
	"fmt"

	"github.com/banshee-data/signal.report/internal/alert"
	"github.com/banshee-data/signal.report/internal/decision"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/signal"
	"github.com/banshee-data/signal.report/internal/worker"
)

// Lanes returns the lane enumeration.
func (o *Orchestrator) Lanes() lane.Set { return o.opts.Lanes }

// State returns the engine's decision state.
func (o *Orchestrator) State() decision.State { return o.engine.State() }

// Results returns the per-lane results the last tick decided on.
func (o *Orchestrator) Results() map[lane.Lane]lane.Result { return o.engine.Results() }

// Lights returns every lane's current aspect.
func (o *Orchestrator) Lights() map[lane.Lane]signal.Color { return o.controller.States() }

// Metrics returns each worker's counters in lane order.
func (o *Orchestrator) Metrics() []worker.Metrics {
	out := make([]worker.Metrics, 0, len(o.workers))
	for _, w := range o.workers {
		out = append(out, w.Metrics())
	}
	return out
}

// Switches returns the most recent switches, oldest first.
func (o *Orchestrator) Switches() []decision.Switch {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]decision.Switch(nil), o.switches...)
}

// Ticks counts completed decision ticks.
func (o *Orchestrator) Ticks() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ticks
}

// AlertStats returns the dispatcher counters, or zero without one.
func (o *Orchestrator) AlertStats() alert.Stats {
	if o.deps.Dispatcher == nil {
		return alert.Stats{}
	}
	return o.deps.Dispatcher.Stats()
}

// ResetLane clears a lane's smoothing history before its next frame, as
// after a camera reconnect.
func (o *Orchestrator) ResetLane(l lane.Lane) error {
	w, ok := o.byLane[l]
	if !ok {
		return fmt.Errorf("unknown lane %q", l)
	}
	w.RequestReset()
	return nil
}
