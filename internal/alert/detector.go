package alert

import (
	"time"

	"github.com/banshee-data/signal.report/internal/lane"
)

// DefaultCongestionThreshold is the smoothed count at which a lane is
// reported as congested.
const DefaultCongestionThreshold = 10

// Detector raises an event when a lane condition starts and stays quiet
// until it has cleared again.
type Detector struct {
	lanes      lane.Set
	congestion float64
	active     map[key]bool
}

type key struct {
	lane lane.Lane
	kind Kind
}

// NewDetector watches lanes. A congestion threshold <= 0 disables
// congestion alerts.
func NewDetector(lanes lane.Set, congestionThreshold float64) *Detector {
	return &Detector{
		lanes:      lanes,
		congestion: congestionThreshold,
		active:     make(map[key]bool),
	}
}

// Observe compares results with the previous observation and returns the
// conditions that newly started, in lane order. Lanes absent from results
// keep their previous state.
func (d *Detector) Observe(results map[lane.Lane]lane.Result, at time.Time) []Event {
	var out []Event
	for _, l := range d.lanes {
		r, ok := results[l]
		if !ok {
			continue
		}
		if d.edge(l, KindAccident, r.AccidentConfirmed) {
			out = append(out, NewEvent(KindAccident, l, at))
		}
		if d.edge(l, KindEmergency, r.EmergencyPresent) {
			e := NewEvent(KindEmergency, l, at)
			if r.EmergencyConfidence != nil {
				c := *r.EmergencyConfidence
				e.Confidence = &c
			}
			out = append(out, e)
		}
		if d.congestion > 0 && d.edge(l, KindCongestion, r.SmoothedCount >= d.congestion) {
			e := NewEvent(KindCongestion, l, at)
			n := r.SmoothedCount
			e.VehicleCount = &n
			out = append(out, e)
		}
	}
	return out
}

// Active reports whether the condition is currently raised for l.
func (d *Detector) Active(l lane.Lane, kind Kind) bool {
	return d.active[key{l, kind}]
}

// Reset forgets l's conditions so the next positive observation alerts
// again.
func (d *Detector) Reset(l lane.Lane) {
	for k := range d.active {
		if k.lane == l {
			delete(d.active, k)
		}
	}
}

func (d *Detector) edge(l lane.Lane, kind Kind, now bool) bool {
	k := key{l, kind}
	was := d.active[k]
	if now {
		d.active[k] = true
	} else {
		delete(d.active, k)
	}
	return now && !was
}
