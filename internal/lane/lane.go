// Package lane defines the value types shared by every stage of the signal
// pipeline: lane identity, raw classifier output and the smoothed per-lane
// result published to the decision engine.
package lane

import (
	"fmt"
	"strings"
	"time"
)

// Lane identifies one controlled approach to the intersection.
type Lane string

func (l Lane) String() string { return string(l) }

// Set is the ordered lane enumeration of an intersection. The order is the
// reference order for every deterministic tie-break.
type Set []Lane

// NewSet builds a Set from names, rejecting fewer than two lanes, empty names
// and duplicates.
func NewSet(names ...string) (Set, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("an intersection needs at least 2 lanes, got %d", len(names))
	}
	seen := make(map[Lane]bool, len(names))
	set := make(Set, 0, len(names))
	for _, name := range names {
		l := Lane(strings.TrimSpace(name))
		if l == "" {
			return nil, fmt.Errorf("lane name must not be empty")
		}
		if seen[l] {
			return nil, fmt.Errorf("duplicate lane %q", l)
		}
		seen[l] = true
		set = append(set, l)
	}
	return set, nil
}

// MustSet is NewSet for tests and static tables. It panics on error.
func MustSet(names ...string) Set {
	s, err := NewSet(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Index returns the position of l in the enumeration, or -1.
func (s Set) Index(l Lane) int {
	for i, x := range s {
		if x == l {
			return i
		}
	}
	return -1
}

// Contains reports whether l belongs to the set.
func (s Set) Contains(l Lane) bool { return s.Index(l) >= 0 }

// After returns the lanes in rotation order starting with the lane after l
// and ending with the lane before it. l itself is excluded. When l is not in
// the set every lane is returned in enumeration order.
func (s Set) After(l Lane) []Lane {
	i := s.Index(l)
	if i < 0 {
		out := make([]Lane, len(s))
		copy(out, s)
		return out
	}
	out := make([]Lane, 0, len(s)-1)
	for k := 1; k < len(s); k++ {
		out = append(out, s[(i+k)%len(s)])
	}
	return out
}

// RawClassification is the structured reading of one classifier response for
// one lane at one instant. It is never mutated after construction.
type RawClassification struct {
	VehicleCount        int
	EmergencyPresent    bool
	EmergencyConfidence *float64 // nil when the response carried no confidence
	AccidentIndicated   bool
	Description         string
	ObservedAt          time.Time
}

// Result is the immutable snapshot a lane worker publishes after smoothing.
type Result struct {
	Lane                Lane      `json:"lane"`
	SmoothedCount       float64   `json:"smoothed_count"`
	EmergencyPresent    bool      `json:"emergency_present"`
	EmergencyConfidence *float64  `json:"emergency_confidence,omitempty"`
	AccidentConfirmed   bool      `json:"accident_confirmed"`
	ObservedAt          time.Time `json:"observed_at"`
}
