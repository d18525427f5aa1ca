// Package modem controls the cellular modem: power rail, enumeration,
// AT-command health checks, SIM identity and signal strength.
package modem

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal AT-command serial interface. go.bug.st/serial's
// Port satisfies it directly; tests use ScriptPort.
type Port interface {
	io.ReadWriter
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// Opener opens the AT port. Split out so tests can hand back a scripted
// port and so a busy device surfaces as an open error.
type Opener func() (Port, error)

// DefaultATDevice is where the modem's AT channel enumerates.
const DefaultATDevice = "/dev/ttyUSB2"

// SerialOpener returns an Opener for a real serial device.
func SerialOpener(path string) Opener {
	return func() (Port, error) {
		mode := &serial.Mode{BaudRate: 115200}
		p, err := serial.Open(path, mode)
		if err != nil {
			return nil, fmt.Errorf("modem: open %s: %w", path, err)
		}
		return p, nil
	}
}

// ScriptPort is a canned AT conversation for tests. Each write consumes
// the next scripted response.
type ScriptPort struct {
	Responses []string
	Writes    []string
	Closed    bool

	pending []byte
}

// Read returns bytes from the response queued by the last write, and EOF
// once the response is exhausted.
func (s *ScriptPort) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write records the command and arms the next response.
func (s *ScriptPort) Write(p []byte) (int, error) {
	s.Writes = append(s.Writes, string(p))
	if len(s.Responses) > 0 {
		s.pending = []byte(s.Responses[0])
		s.Responses = s.Responses[1:]
	}
	return len(p), nil
}

// Close marks the port closed.
func (s *ScriptPort) Close() error {
	s.Closed = true
	return nil
}

// SetReadTimeout is a no-op for the script port.
func (s *ScriptPort) SetReadTimeout(time.Duration) error { return nil }
