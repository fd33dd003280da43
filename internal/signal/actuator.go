package signal

import (
	"fmt"
	"sync"

	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/monitoring"
)

// Actuator drives one lane's signal head to exactly one aspect.
type Actuator interface {
	Set(l lane.Lane, c Color) error
}

// ActuationError reports a hardware fault while changing a light. It is
// deliberately distinct from perception errors: the orchestrator treats it
// as a safety event.
type ActuationError struct {
	Lane  lane.Lane
	Color Color
	Err   error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("set %s to %s: %v", e.Lane, e.Color, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

// LogActuator only logs. It backs --dev runs with no relay board attached.
type LogActuator struct{}

func (LogActuator) Set(l lane.Lane, c Color) error {
	monitoring.Logf("[signal] %s -> %s", l, c)
	return nil
}

// Pins are the relay outputs wired to one signal head.
type Pins struct {
	Red    int `yaml:"red" json:"red"`
	Yellow int `yaml:"yellow" json:"yellow"`
	Green  int `yaml:"green" json:"green"`
}

// Commander is the part of a serialmux the relay board needs.
type Commander interface {
	SendCommand(string) error
}

// SerialActuator drives a relay board that accepts "O<pin>=<0|1>" lines.
// Outputs being switched off are written before the output being switched
// on, so a head never shows two lamps.
type SerialActuator struct {
	mu   sync.Mutex
	port Commander
	pins map[lane.Lane]Pins
}

// NewSerialActuator checks that every lane has pins before returning.
func NewSerialActuator(port Commander, lanes lane.Set, pins map[lane.Lane]Pins) (*SerialActuator, error) {
	for _, l := range lanes {
		if _, ok := pins[l]; !ok {
			return nil, fmt.Errorf("no relay pins configured for lane %s", l)
		}
	}
	return &SerialActuator{port: port, pins: pins}, nil
}

// Reset sends "X", which drops every relay output.
func (a *SerialActuator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port.SendCommand("X")
}

func (a *SerialActuator) Set(l lane.Lane, c Color) error {
	p, ok := a.pins[l]
	if !ok {
		return fmt.Errorf("unknown lane %s", l)
	}
	outputs := []struct {
		pin int
		on  bool
	}{
		{p.Red, c == Red},
		{p.Yellow, c == Yellow},
		{p.Green, c == Green},
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pass := range []bool{false, true} {
		for _, o := range outputs {
			if o.on != pass {
				continue
			}
			v := 0
			if o.on {
				v = 1
			}
			if err := a.port.SendCommand(fmt.Sprintf("O%d=%d", o.pin, v)); err != nil {
				return err
			}
		}
	}
	return nil
}
