package led

import "github.com/bugg-resources/buggd/internal/monitoring"

// Expander wiring on the main board. The bottom LED's red channel is
// driven straight from the power rail, so only its green and blue pins are
// switchable.
const (
	topRedPin      = 7
	topGreenPin    = 6
	topBluePin     = 5
	middleRedPin   = 4
	middleGreenPin = 3
	middleBluePin  = 2
	bottomGreenPin = 1
	bottomBluePin  = 0
)

// Expander location on the product.
const (
	ExpanderBus  = 1
	ExpanderAddr = 0x23
)

// LEDs is the three-LED indicator stack. Top shows recording state,
// Middle shows data/connectivity state, Bottom shows power.
type LEDs struct {
	Top    *LED
	Middle *LED
	Bottom *LED
}

// NewLEDs wires the stack with the production channel layout.
func NewLEDs(exp Expander) *LEDs {
	return &LEDs{
		Top:    NewLED(exp, PinChannel(topRedPin), PinChannel(topGreenPin), PinChannel(topBluePin)),
		Middle: NewLED(exp, PinChannel(middleRedPin), PinChannel(middleGreenPin), PinChannel(middleBluePin)),
		Bottom: NewLED(exp, WiredChannel(true), PinChannel(bottomGreenPin), PinChannel(bottomBluePin)),
	}
}

// Apply shows the given status triple. Failures are logged, not fatal: a
// broken indicator must never take down capture.
func (l *LEDs) Apply(s Status) {
	if err := l.Top.Set(s.Top); err != nil {
		monitoring.Logf("led: top: %v", err)
	}
	if err := l.Middle.Set(s.Middle); err != nil {
		monitoring.Logf("led: middle: %v", err)
	}
	if err := l.Bottom.Set(s.Bottom); err != nil {
		monitoring.Logf("led: bottom: %v", err)
	}
}

// AllOff blanks the stack except the hard-wired power channel.
func (l *LEDs) AllOff() {
	l.Apply(Status{Top: Off, Middle: Off, Bottom: Red})
}

// AtExit applies the shutdown policy: LEDs flagged StayOnAtExit keep their
// colour, everything else goes dark.
func (l *LEDs) AtExit() {
	for _, led := range []*LED{l.Top, l.Middle} {
		if led.StayOnAtExit {
			continue
		}
		if err := led.Set(Off); err != nil {
			monitoring.Logf("led: exit blank: %v", err)
		}
	}
	if !l.Bottom.StayOnAtExit {
		if err := l.Bottom.Set(Red); err != nil {
			monitoring.Logf("led: exit blank: %v", err)
		}
	}
}
