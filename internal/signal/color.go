// Package signal owns the intersection's light state and runs the fixed
// green, yellow, all-red, green switch sequence against an Actuator.
package signal

import (
	"fmt"
	"strings"
)

// Color is the aspect shown by one lane's signal head.
type Color int

const (
	Off Color = iota
	Red
	Yellow
	Green
)

func (c Color) String() string {
	switch c {
	case Off:
		return "OFF"
	case Red:
		return "RED"
	case Yellow:
		return "YELLOW"
	case Green:
		return "GREEN"
	default:
		return fmt.Sprintf("Color(%d)", int(c))
	}
}

// MarshalText renders the color name so snapshots serialise as strings.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText, case-insensitively.
func (c *Color) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "OFF":
		*c = Off
	case "RED":
		*c = Red
	case "YELLOW":
		*c = Yellow
	case "GREEN":
		*c = Green
	default:
		return fmt.Errorf("unknown signal color %q", b)
	}
	return nil
}
