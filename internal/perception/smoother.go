package perception

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/signal.report/internal/lane"
)

// SmootherConfig sizes the smoothing windows.
type SmootherConfig struct {
	CountWindow       int // samples averaged into the smoothed count
	AccidentWindow    int // samples considered for accident confirmation
	AccidentThreshold int // positives within the window needed to confirm
}

// DefaultSmootherConfig returns the reference window sizes (3, 5, 3).
func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{
		CountWindow:       3,
		AccidentWindow:    5,
		AccidentThreshold: 3,
	}
}

func (c SmootherConfig) normalize() SmootherConfig {
	d := DefaultSmootherConfig()
	if c.CountWindow <= 0 {
		c.CountWindow = d.CountWindow
	}
	if c.AccidentWindow <= 0 {
		c.AccidentWindow = d.AccidentWindow
	}
	if c.AccidentThreshold <= 0 {
		c.AccidentThreshold = d.AccidentThreshold
	}
	return c
}

// Smoother debounces the raw classifications of a single lane.
type Smoother struct {
	lane      lane.Lane
	cfg       SmootherConfig
	counts    []float64
	accidents []bool
}

// NewSmoother returns an empty Smoother for l. Zero config fields take the
// defaults.
func NewSmoother(l lane.Lane, cfg SmootherConfig) *Smoother {
	cfg = cfg.normalize()
	return &Smoother{
		lane:      l,
		cfg:       cfg,
		counts:    make([]float64, 0, cfg.CountWindow),
		accidents: make([]bool, 0, cfg.AccidentWindow),
	}
}

// Update folds one raw sample into the history and returns the resulting
// snapshot. It must be called at most once per sample.
func (s *Smoother) Update(raw lane.RawClassification) lane.Result {
	s.counts = pushFloat(s.counts, float64(raw.VehicleCount), s.cfg.CountWindow)
	s.accidents = pushBool(s.accidents, raw.AccidentIndicated, s.cfg.AccidentWindow)

	positives := 0
	for _, a := range s.accidents {
		if a {
			positives++
		}
	}

	return lane.Result{
		Lane:                s.lane,
		SmoothedCount:       stat.Mean(s.counts, nil),
		EmergencyPresent:    raw.EmergencyPresent,
		EmergencyConfidence: raw.EmergencyConfidence,
		// Confirmation may trigger before the window is full.
		AccidentConfirmed: positives >= s.cfg.AccidentThreshold,
		ObservedAt:        raw.ObservedAt,
	}
}

// Reset drops all history, as after a camera reconnect.
func (s *Smoother) Reset() {
	s.counts = s.counts[:0]
	s.accidents = s.accidents[:0]
}

// Len reports how many count and accident samples are currently retained.
func (s *Smoother) Len() (counts, accidents int) {
	return len(s.counts), len(s.accidents)
}

func pushFloat(w []float64, v float64, capacity int) []float64 {
	if len(w) == capacity {
		copy(w, w[1:])
		w = w[:len(w)-1]
	}
	return append(w, v)
}

func pushBool(w []bool, v bool, capacity int) []bool {
	if len(w) == capacity {
		copy(w, w[1:])
		w = w[:len(w)-1]
	}
	return append(w, v)
}
