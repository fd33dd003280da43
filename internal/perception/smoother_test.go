package perception

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/signal.report/internal/lane"
)

func sample(count int, accident, emergency bool) lane.RawClassification {
	return lane.RawClassification{
		VehicleCount:      count,
		AccidentIndicated: accident,
		EmergencyPresent:  emergency,
		ObservedAt:        time.Unix(1700000000, 0),
	}
}

func TestSmoother_CountIdempotence(t *testing.T) {
	for _, n := range []int{3, 4, 10} {
		s := NewSmoother("north", DefaultSmootherConfig())
		var res lane.Result
		for i := 0; i < n; i++ {
			res = s.Update(sample(7, false, false))
		}
		assert.Equal(t, 7.0, res.SmoothedCount, "after %d identical samples", n)
	}
}

func TestSmoother_CountWindowMean(t *testing.T) {
	s := NewSmoother("east", DefaultSmootherConfig())

	// A partial window averages what it has.
	assert.Equal(t, 4.0, s.Update(sample(4, false, false)).SmoothedCount)
	assert.Equal(t, 6.0, s.Update(sample(8, false, false)).SmoothedCount)
	assert.Equal(t, 6.0, s.Update(sample(6, false, false)).SmoothedCount)

	// The oldest sample (4) is evicted.
	assert.Equal(t, 8.0, s.Update(sample(10, false, false)).SmoothedCount)

	counts, _ := s.Len()
	assert.Equal(t, 3, counts)
}

func TestSmoother_AccidentDebounce(t *testing.T) {
	t.Run("single positive never confirms", func(t *testing.T) {
		s := NewSmoother("south", DefaultSmootherConfig())
		seq := []bool{true, false, false, false, false}
		for i, a := range seq {
			res := s.Update(sample(1, a, false))
			assert.False(t, res.AccidentConfirmed, "sample %d", i)
		}
	})

	t.Run("three positives confirm before the window fills", func(t *testing.T) {
		s := NewSmoother("south", DefaultSmootherConfig())
		assert.False(t, s.Update(sample(1, true, false)).AccidentConfirmed)
		assert.False(t, s.Update(sample(1, true, false)).AccidentConfirmed)
		assert.True(t, s.Update(sample(1, true, false)).AccidentConfirmed)
	})

	t.Run("three of five scattered positives confirm", func(t *testing.T) {
		s := NewSmoother("south", DefaultSmootherConfig())
		var res lane.Result
		for _, a := range []bool{true, false, true, false, true} {
			res = s.Update(sample(1, a, false))
		}
		assert.True(t, res.AccidentConfirmed)
	})

	t.Run("positives age out of the window", func(t *testing.T) {
		s := NewSmoother("south", DefaultSmootherConfig())
		for _, a := range []bool{true, true, true} {
			s.Update(sample(1, a, false))
		}
		res := s.Update(sample(1, false, false))
		assert.True(t, res.AccidentConfirmed)
		s.Update(sample(1, false, false))
		res = s.Update(sample(1, false, false)) // T T F F F
		assert.False(t, res.AccidentConfirmed)
	})
}

func TestSmoother_EmergencyPassthrough(t *testing.T) {
	s := NewSmoother("west", DefaultSmootherConfig())
	assert.True(t, s.Update(sample(0, false, true)).EmergencyPresent)
	assert.False(t, s.Update(sample(0, false, false)).EmergencyPresent)
	assert.True(t, s.Update(sample(0, false, true)).EmergencyPresent)
}

func TestSmoother_Reset(t *testing.T) {
	s := NewSmoother("west", DefaultSmootherConfig())
	s.Update(sample(9, true, false))
	s.Update(sample(9, true, false))
	s.Reset()

	counts, accidents := s.Len()
	require.Zero(t, counts)
	require.Zero(t, accidents)

	res := s.Update(sample(2, true, false))
	assert.Equal(t, 2.0, res.SmoothedCount)
	assert.False(t, res.AccidentConfirmed)
	assert.Equal(t, lane.Lane("west"), res.Lane)
}

func TestSmootherConfigDefaults(t *testing.T) {
	s := NewSmoother("north", SmootherConfig{})
	assert.Equal(t, DefaultSmootherConfig(), s.cfg)
}
