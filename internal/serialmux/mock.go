package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter for tests. Every Write is
// recorded separately so tests can assert on the exact command sequence a
// device received.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond
	readBuf  bytes.Buffer
	writes   [][]byte

	// WriteError, when set, fails every Write from the FailAfter'th call
	// onwards (counting from zero).
	WriteError error
	FailAfter  int
	// ShortWrite reports one byte less than written.
	ShortWrite bool
	CloseError error
	// BlockReads makes Read wait for AddReadData or Close instead of
	// returning io.EOF-like empty reads.
	BlockReads bool

	closed bool
}

// NewTestableSerialPort returns an empty port with blocking reads.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{BlockReads: true}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.BlockReads && !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	return p.readBuf.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil && len(p.writes) >= p.FailAfter {
		return 0, p.WriteError
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if p.ShortWrite && len(b) > 0 {
		return len(b) - 1, nil
	}
	return len(b), nil
}

// Close marks the port closed and wakes blocked readers.
func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// Closed reports whether Close was called.
func (p *TestableSerialPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AddReadData queues bytes for the next Read calls.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.readCond.Broadcast()
}

// Writes returns a copy of each successful Write call's payload.
func (p *TestableSerialPort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	for i, w := range p.writes {
		out[i] = string(w)
	}
	return out
}

// Lines returns the written commands with line terminators stripped.
func (p *TestableSerialPort) Lines() []string {
	writes := p.Writes()
	out := make([]string, len(writes))
	for i, w := range writes {
		out[i] = strings.TrimRight(w, "\r\n")
	}
	return out
}

// Reset forgets recorded writes and pending reads.
func (p *TestableSerialPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = nil
	p.readBuf.Reset()
}
