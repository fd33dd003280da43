package serialmux

import "io"

// SerialPorter is the minimal surface needed from a serial port. It lets
// tests substitute TestableSerialPort for real hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
