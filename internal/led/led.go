package led

import "fmt"

// UndisplayableError reports an attempt to show a colour that a hard-wired
// channel cannot produce.
type UndisplayableError struct {
	Colour  Colour
	Channel string
}

func (e *UndisplayableError) Error() string {
	return fmt.Sprintf("led: colour %s needs %s channel state the hardware has wired the other way", e.Colour, e.Channel)
}

// Channel describes one colour channel of an RGB LED: either a live
// expander pin or a channel fixed in hardware.
type Channel struct {
	Pin     int
	Wired   bool
	WiredOn bool
}

// PinChannel returns a channel driven by an expander pin.
func PinChannel(pin int) Channel {
	return Channel{Pin: pin}
}

// WiredChannel returns a channel permanently fixed to the given state.
func WiredChannel(on bool) Channel {
	return Channel{Wired: true, WiredOn: on}
}

var channelNames = [3]string{"red", "green", "blue"}

// LED is one RGB LED on the indicator stack.
type LED struct {
	exp      Expander
	channels [3]Channel

	// StayOnAtExit marks the LED to keep its last colour when the daemon
	// exits instead of being blanked.
	StayOnAtExit bool

	current Colour
}

// NewLED creates an LED with the given red, green and blue channels.
func NewLED(exp Expander, red, green, blue Channel) *LED {
	return &LED{exp: exp, channels: [3]Channel{red, green, blue}}
}

// Set displays the colour. Every channel is validated against the hardware
// before any write happens, so a rejected colour leaves the LED unchanged.
func (l *LED) Set(c Colour) error {
	rgb := c.rgb()
	for i, ch := range l.channels {
		if ch.Wired && ch.WiredOn != rgb[i] {
			return &UndisplayableError{Colour: c, Channel: channelNames[i]}
		}
	}
	for i, ch := range l.channels {
		if ch.Wired {
			continue
		}
		if err := l.exp.SetChannel(ch.Pin, rgb[i]); err != nil {
			return err
		}
	}
	l.current = c
	return nil
}

// Current returns the last colour successfully set.
func (l *LED) Current() Colour {
	return l.current
}
