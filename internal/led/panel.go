package led

import (
	"sync"

	"github.com/bugg-resources/buggd/internal/monitoring"
)

// Panel is the runtime write surface for the indicator stack. Several
// goroutines update it (capture loop, uploader, connectivity prober);
// updates are last-write-wins per LED. A nil Panel is a no-op so tests
// and headless runs need no wiring.
type Panel struct {
	mu   sync.Mutex
	leds *LEDs
	conn Connectivity
}

// NewPanel wraps an indicator stack. leds may be nil.
func NewPanel(leds *LEDs) *Panel {
	return &Panel{leds: leds}
}

// SetConnectivity records the network state and refreshes the data LED.
// Only the middle LED changes: the uploader and prober report here from
// their own goroutines, and must not blank the recording indicator.
func (p *Panel) SetConnectivity(c Connectivity) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.conn = c
	leds := p.leds
	p.mu.Unlock()

	if leds != nil {
		if err := leds.Middle.Set(DataColour(PhaseIdle, c)); err != nil {
			monitoring.Logf("led: middle: %v", err)
		}
	}
}

// Connectivity returns the last recorded network state.
func (p *Panel) Connectivity() Connectivity {
	if p == nil {
		return ConnectivityOffline
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Recording lights or clears the top LED.
func (p *Panel) Recording(active bool) {
	if p == nil || p.leds == nil {
		return
	}
	if err := p.leds.Top.Set(RecordingColour(active)); err != nil {
		monitoring.Logf("led: top: %v", err)
	}
}

// Data sets the middle LED directly, for phases with dedicated colours.
func (p *Panel) Data(c Colour) {
	if p == nil || p.leds == nil {
		return
	}
	if err := p.leds.Middle.Set(c); err != nil {
		monitoring.Logf("led: middle: %v", err)
	}
}

// Show applies a full status triple.
func (p *Panel) Show(s Status) {
	if p == nil || p.leds == nil {
		return
	}
	p.leds.Apply(s)
}

// AllOff blanks the stack.
func (p *Panel) AllOff() {
	if p == nil || p.leds == nil {
		return
	}
	p.leds.AllOff()
}
