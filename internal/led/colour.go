// Package led models the three-LED status indicator on the main board:
// an eight-colour palette, per-channel drive through an IO expander,
// hard-wired channel validation and the status encodings shown during
// normal operation and factory testing.
package led

// Colour is one of the eight colours an RGB LED can show with binary
// channel drive.
type Colour int

const (
	Black Colour = iota
	Red
	Green
	Blue
	Yellow
	Cyan
	Magenta
	White
)

// Off is the conventional name for a dark LED.
const Off = Black

var colourNames = map[Colour]string{
	Black:   "black",
	Red:     "red",
	Green:   "green",
	Blue:    "blue",
	Yellow:  "yellow",
	Cyan:    "cyan",
	Magenta: "magenta",
	White:   "white",
}

// rgb returns the red/green/blue channel states for the colour.
func (c Colour) rgb() [3]bool {
	switch c {
	case Red:
		return [3]bool{true, false, false}
	case Green:
		return [3]bool{false, true, false}
	case Blue:
		return [3]bool{false, false, true}
	case Yellow:
		return [3]bool{true, true, false}
	case Cyan:
		return [3]bool{false, true, true}
	case Magenta:
		return [3]bool{true, false, true}
	case White:
		return [3]bool{true, true, true}
	default:
		return [3]bool{false, false, false}
	}
}

func (c Colour) String() string {
	if name, ok := colourNames[c]; ok {
		return name
	}
	return "unknown"
}
