package decision

import (
	"time"

	"github.com/banshee-data/signal.report/internal/lane"
)

// State is the engine's view of the intersection. Only Tick writes it;
// State() hands out copies.
type State struct {
	CurrentGreen      lane.Lane `json:"current_green"`
	LastSwitch        time.Time `json:"last_switch"`
	EmergencyOverride bool      `json:"emergency_override"`
	EmergencyLane     lane.Lane `json:"emergency_lane,omitempty"`
	AccidentFlag      bool      `json:"accident_flag"`
	AccidentLane      lane.Lane `json:"accident_lane,omitempty"`
	// Stale lists lanes whose last result is older than StaleAfter.
	Stale []lane.Lane `json:"stale,omitempty"`
	// Faulted is set after an actuation failure until the lights have been
	// re-synchronised.
	Faulted bool `json:"faulted"`
	// EmergencySince is when the current override was armed. The timeout
	// runs from the later of it and LastSwitch.
	EmergencySince time.Time `json:"emergency_since,omitzero"`
}

func (s State) clone() State {
	s.Stale = append([]lane.Lane(nil), s.Stale...)
	return s
}

// Reason says why a switch happened.
type Reason string

const (
	ReasonStartup   Reason = "startup"
	ReasonEmergency Reason = "emergency"
	ReasonDensity   Reason = "density"
	ReasonMaxGreen  Reason = "max_green"
	ReasonResync    Reason = "resync"
)

// Switch describes one completed change of green.
type Switch struct {
	From   lane.Lane             `json:"from,omitempty"`
	To     lane.Lane             `json:"to"`
	Reason Reason                `json:"reason"`
	At     time.Time             `json:"at"`
	Counts map[lane.Lane]float64 `json:"counts,omitempty"`
}

// Report is what a tick saw and did. Results holds the merged view used
// for arbitration; stale lanes are absent from it.
type Report struct {
	At      time.Time
	Results map[lane.Lane]lane.Result
	State   State
	Switch  *Switch
}
