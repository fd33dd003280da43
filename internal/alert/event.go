// Package alert turns lane results into operator alerts and fans them out
// to the SMS modem, the webhook log and the journal.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/signal.report/internal/lane"
)

// Kind names what an alert is about.
type Kind string

const (
	KindAccident   Kind = "accident"
	KindEmergency  Kind = "emergency"
	KindCongestion Kind = "congestion"
)

// Urgent reports whether the kind warrants an SMS.
func (k Kind) Urgent() bool {
	return k == KindAccident || k == KindEmergency
}

// Event is one alert.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Kind         Kind      `json:"kind"`
	Lane         lane.Lane `json:"lane"`
	Confidence   *float64  `json:"confidence,omitempty"`
	VehicleCount *float64  `json:"vehicle_count,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent returns an event with a fresh id.
func NewEvent(kind Kind, l lane.Lane, at time.Time) Event {
	return Event{ID: uuid.New(), Kind: kind, Lane: l, Timestamp: at}
}

// TimestampLayout is how alert times are rendered in messages and the
// webhook payload.
const TimestampLayout = "2006-01-02 15:04:05"

// Message renders the operator-facing text, e.g.
//
//	ALERT: ACCIDENT detected at north approach. Time: 2026-03-01 08:00:00 (Confidence: 0.85)
func (e Event) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALERT: %s detected at %s approach. Time: %s",
		strings.ToUpper(string(e.Kind)), e.Lane, e.Timestamp.Format(TimestampLayout))
	if e.VehicleCount != nil {
		fmt.Fprintf(&b, " (Vehicles: %.1f)", *e.VehicleCount)
	}
	if e.Confidence != nil {
		fmt.Fprintf(&b, " (Confidence: %.2f)", *e.Confidence)
	}
	return b.String()
}
