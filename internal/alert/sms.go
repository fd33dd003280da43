package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/signal.report/internal/serialmux"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

// Modem pauses between the text-mode, recipient and body writes.
const (
	ModemCommandPause = 500 * time.Millisecond
	ModemSendPause    = 2 * time.Second
)

// ctrlZ ends an SMS body.
const ctrlZ = 0x1A

// SMSSink texts urgent alerts to every contact through a GSM modem. The
// modem mux should use "\r" as its terminator.
type SMSSink struct {
	mu       sync.Mutex
	modem    serialmux.SerialMuxInterface
	contacts []string
	clock    timeutil.Clock
}

// NewSMSSink returns a sink writing AT commands to modem.
func NewSMSSink(modem serialmux.SerialMuxInterface, contacts []string, clock timeutil.Clock) *SMSSink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SMSSink{modem: modem, contacts: contacts, clock: clock}
}

// Send texts e to each contact. Non-urgent kinds are ignored. A failure
// for one contact does not stop the others.
func (s *SMSSink) Send(ctx context.Context, e Event) error {
	if !e.Kind.Urgent() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := e.Message()
	var errs []error
	for _, number := range s.contacts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.text(number, msg); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", number, err))
		}
	}
	if len(errs) == 0 {
		logf("%s SMS sent to %d contacts", e.Kind, len(s.contacts))
	}
	return errors.Join(errs...)
}

func (s *SMSSink) text(number, msg string) error {
	if err := s.modem.SendCommand("AT+CMGF=1"); err != nil {
		return err
	}
	s.clock.Sleep(ModemCommandPause)
	if err := s.modem.SendCommand(fmt.Sprintf("AT+CMGS=%q", number)); err != nil {
		return err
	}
	s.clock.Sleep(ModemCommandPause)
	if err := s.modem.SendRaw(append([]byte(msg), ctrlZ)); err != nil {
		return err
	}
	s.clock.Sleep(ModemSendPause)
	return nil
}
