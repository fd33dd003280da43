package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealSerialMux opens the serial device at path and wraps it.
func NewRealSerialMux(path string, port PortOptions, opts Options) (*SerialMux[serial.Port], error) {
	mode, err := port.SerialMode()
	if err != nil {
		return nil, err
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if opts.Name == "" {
		opts.Name = path
	}
	return NewSerialMux[serial.Port](p, opts), nil
}
