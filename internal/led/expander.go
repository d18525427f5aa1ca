package led

import (
	"fmt"
	"sync"

	"github.com/bugg-resources/buggd/internal/shell"
)

// Expander drives the individual LED colour channels. The product uses a
// PCF8574 8-bit IO expander; implementations hide its active-low drive.
type Expander interface {
	// SetChannel switches one colour channel on or off.
	SetChannel(channel int, on bool) error
}

// PCF8574 talks to the expander with i2cset, keeping a shadow of the
// output register so single-channel writes do not disturb the others.
// Outputs are active low: a cleared bit lights the channel.
type PCF8574 struct {
	mu     sync.Mutex
	runner shell.Runner
	bus    int
	addr   uint8
	shadow uint8
}

// NewPCF8574 creates a driver for the expander at the given bus and
// address with every channel off.
func NewPCF8574(runner shell.Runner, bus int, addr uint8) *PCF8574 {
	return &PCF8574{
		runner: runner,
		bus:    bus,
		addr:   addr,
		shadow: 0xff,
	}
}

// SetChannel updates one output bit and writes the full register.
func (p *PCF8574) SetChannel(channel int, on bool) error {
	if channel < 0 || channel > 7 {
		return fmt.Errorf("led: channel %d out of range", channel)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.shadow
	if on {
		next &^= 1 << uint(channel)
	} else {
		next |= 1 << uint(channel)
	}
	_, err := p.runner.Run("i2cset", "-y",
		fmt.Sprintf("%d", p.bus),
		fmt.Sprintf("0x%02x", p.addr),
		fmt.Sprintf("0x%02x", next))
	if err != nil {
		return fmt.Errorf("led: write expander: %w", err)
	}
	p.shadow = next
	return nil
}

// MockExpander records channel writes for tests.
type MockExpander struct {
	mu       sync.Mutex
	Channels map[int]bool
	Err      error
}

// NewMockExpander creates a mock with all channels off.
func NewMockExpander() *MockExpander {
	return &MockExpander{Channels: make(map[int]bool)}
}

// SetChannel records the requested state.
func (m *MockExpander) SetChannel(channel int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Channels[channel] = on
	return nil
}

// Channel returns the last recorded state for a channel.
func (m *MockExpander) Channel(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Channels[channel]
}
