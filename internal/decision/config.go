package decision

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the arbitration thresholds.
type Config struct {
	// MinGreen is how long a lane keeps green before density arbitration
	// may take it away. Emergency preemption ignores it.
	MinGreen time.Duration
	// MaxGreen forces a switch even without a denser lane.
	MaxGreen time.Duration
	// EmergencyTimeout clears an emergency override once this long has
	// passed since the last switch.
	EmergencyTimeout time.Duration
	// SwitchRatio is how many times denser a competing lane must be.
	SwitchRatio float64
	// StaleAfter, when positive, stops a lane's last result from being
	// used once it is older than this. Zero keeps last-known values
	// forever.
	StaleAfter time.Duration
}

// DefaultConfig returns 20s min green, 120s max green, a 60s emergency
// timeout and a 1.5 switch ratio, with staleness disabled.
func DefaultConfig() Config {
	return Config{
		MinGreen:         20 * time.Second,
		MaxGreen:         120 * time.Second,
		EmergencyTimeout: 60 * time.Second,
		SwitchRatio:      1.5,
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MinGreen < 0 {
		errs = append(errs, fmt.Errorf("min green %s is negative", c.MinGreen))
	}
	if c.MaxGreen <= 0 {
		errs = append(errs, fmt.Errorf("max green %s must be positive", c.MaxGreen))
	}
	if c.MinGreen > c.MaxGreen {
		errs = append(errs, fmt.Errorf("min green %s exceeds max green %s", c.MinGreen, c.MaxGreen))
	}
	if c.EmergencyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("emergency timeout %s must be positive", c.EmergencyTimeout))
	}
	if c.SwitchRatio < 1 {
		errs = append(errs, fmt.Errorf("switch ratio %v must be at least 1", c.SwitchRatio))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after %s is negative", c.StaleAfter))
	}
	return errors.Join(errs...)
}
