package soundcard

import (
	"fmt"
	"sync"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

// DefaultSPIDevice is the PGA's chip-select on the SPI bus.
const DefaultSPIDevice = "/dev/spidev0.0"

// SPIDevPGA writes control frames to the PGA through the spidev character
// device. A plain write performs a transmit-only transfer, which is all
// the PGA needs.
type SPIDevPGA struct {
	fsys fsutil.FileSystem
	dev  string
}

// NewSPIDevPGA creates a PGA driver on the given spidev node.
func NewSPIDevPGA(fsys fsutil.FileSystem, dev string) *SPIDevPGA {
	return &SPIDevPGA{fsys: fsys, dev: dev}
}

// Transfer sends one control frame.
func (p *SPIDevPGA) Transfer(frame [2]byte) error {
	if err := p.fsys.WriteFile(p.dev, frame[:], 0644); err != nil {
		return fmt.Errorf("soundcard: spi transfer: %w", err)
	}
	return nil
}

// MockPGA records transferred frames for tests.
type MockPGA struct {
	mu     sync.Mutex
	Frames [][2]byte
	Err    error
}

// Transfer records the frame.
func (m *MockPGA) Transfer(frame [2]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Frames = append(m.Frames, frame)
	return nil
}

// LastFrame returns the most recent frame, or false when none was sent.
func (m *MockPGA) LastFrame() ([2]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Frames) == 0 {
		return [2]byte{}, false
	}
	return m.Frames[len(m.Frames)-1], true
}
