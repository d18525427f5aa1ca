package led

// Status is one full indicator state: a colour per LED.
type Status struct {
	Top    Colour
	Middle Colour
	Bottom Colour
}

// Phase identifies what the daemon is currently doing.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseRecording
	PhaseSleeping
	PhaseUploading
	PhaseIdle
)

// Connectivity mirrors the network state for display purposes.
type Connectivity int

const (
	ConnectivityOffline Connectivity = iota
	ConnectivityConnecting
	ConnectivityConnected
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	default:
		return "offline"
	}
}

// RecordingColour maps capture activity onto the top LED.
func RecordingColour(active bool) Colour {
	if active {
		return Green
	}
	return Off
}

// DataColour maps the data-plane phase and connectivity onto the middle
// LED. Setup and uploading have dedicated colours; otherwise the LED
// reflects connectivity.
func DataColour(p Phase, c Connectivity) Colour {
	switch p {
	case PhaseSetup:
		return Green
	case PhaseUploading:
		return Cyan
	}
	switch c {
	case ConnectivityConnected:
		return Blue
	case ConnectivityConnecting:
		return Red
	default:
		return Off
	}
}

// ForPhase is the pure encoding of runtime state onto the full stack. The
// bottom LED always shows power.
func ForPhase(p Phase, c Connectivity) Status {
	return Status{
		Top:    RecordingColour(p == PhaseRecording),
		Middle: DataColour(p, c),
		Bottom: Red,
	}
}

// BootStatus is shown for a few seconds at startup: top magenta marks the
// boot window, the middle LED reports the last factory-test verdict.
func BootStatus(factoryPassed bool) Status {
	middle := Red
	if factoryPassed {
		middle = Green
	}
	return Status{Top: Magenta, Middle: middle, Bottom: Red}
}

// FactoryOutcome is the minimal view of a self-test run needed for the LED
// encoding: failed test names per category plus the overall verdict.
type FactoryOutcome struct {
	ModemFailures     []string
	BusFailures       []string
	RecordingFailures []string
	AllPassed         bool
}

// Category colours for the top LED when exactly one category failed, and
// per-test colours for the middle LED when exactly one test in that
// category failed.
var (
	modemTestColours = map[string]Colour{
		"modem_enumerates":   Red,
		"modem_responsive":   Magenta,
		"modem_sim_readable": Blue,
		"modem_towers_found": Yellow,
	}
	busTestColours = map[string]Colour{
		"i2s_bridge_responding":     Red,
		"rtc_responding":            Cyan,
		"led_controller_responding": Magenta,
	}
	recordingTestColours = map[string]Colour{
		"internal_microphone_recording": Red,
		"external_microphone_recording": Yellow,
	}
)

// ForFactoryOutcome encodes a completed self-test run. All pass shows
// green. A single failed category shows that category's colour on top with
// the middle LED narrowing down the failed test (white when several tests
// in the category failed). Failures across several categories show white
// on top. Category priority for reading the middle LED: modem, then bus
// devices, then recording.
func ForFactoryOutcome(o FactoryOutcome) Status {
	if o.AllPassed {
		return Status{Top: Green, Middle: Off, Bottom: Red}
	}

	categories := 0
	for _, f := range [][]string{o.ModemFailures, o.BusFailures, o.RecordingFailures} {
		if len(f) > 0 {
			categories++
		}
	}
	if categories != 1 {
		return Status{Top: White, Middle: Off, Bottom: Red}
	}

	switch {
	case len(o.ModemFailures) > 0:
		return Status{Top: Yellow, Middle: singleColour(o.ModemFailures, modemTestColours), Bottom: Red}
	case len(o.BusFailures) > 0:
		return Status{Top: Red, Middle: singleColour(o.BusFailures, busTestColours), Bottom: Red}
	default:
		return Status{Top: Blue, Middle: singleColour(o.RecordingFailures, recordingTestColours), Bottom: Red}
	}
}

func singleColour(failures []string, colours map[string]Colour) Colour {
	if len(failures) != 1 {
		return White
	}
	if c, ok := colours[failures[0]]; ok {
		return c
	}
	return White
}
