package vision

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/perception"
)

// Describer produces a free-text scene description for a frame.
type Describer interface {
	Describe(ctx context.Context, l lane.Lane, f frames.Frame) (string, error)
}

// Classifier runs a Describer and parses its answer. It satisfies
// worker.Classifier.
type Classifier struct {
	describer Describer
	parser    *perception.Parser
}

// NewClassifier pairs d with p. A nil parser uses the default threshold.
func NewClassifier(d Describer, p *perception.Parser) *Classifier {
	if p == nil {
		p = perception.NewParser(perception.DefaultEmergencyConfidence)
	}
	return &Classifier{describer: d, parser: p}
}

func (c *Classifier) Classify(ctx context.Context, l lane.Lane, f frames.Frame) (lane.RawClassification, error) {
	text, err := c.describer.Describe(ctx, l, f)
	if err != nil {
		return lane.RawClassification{}, err
	}
	return c.parser.Parse(text, f.CapturedAt)
}

// CannedResponses are the scene descriptions Simulated picks from.
var CannedResponses = []string{
	"5 cars, no emergency vehicles, light traffic, no accident",
	"12 vehicles, ambulance detected, heavy traffic, no accident",
	"3 cars, no emergency vehicles, moderate traffic, accident detected: collision",
	"15 vehicles, no emergency vehicles, heavy traffic, no accident",
}

// Simulated is a Describer that answers with a random canned response.
// It stands in for the model in --dev runs.
type Simulated struct {
	mu        sync.Mutex
	rng       *rand.Rand
	responses []string
}

// NewSimulated returns a Simulated seeded with seed.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		responses: CannedResponses,
	}
}

func (s *Simulated) Describe(ctx context.Context, _ lane.Lane, _ frames.Frame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses[s.rng.IntN(len(s.responses))], nil
}
