package sensor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/soundcard"
)

// TypeExternalMic selects the versatile external microphone interface.
const TypeExternalMic = "ExternalMic"

// ExternalMicOptions is the option schema for the external interface.
var ExternalMicOptions = []config.Option{
	config.IntOption("record_length", 1200, "Length in seconds of each audio segment"),
	config.IntOption("record_freq", 44100, "Sample rate for the ADC"),
	config.BoolOption("compress_data", true, "Compress audio from WAV to VBR mp3"),
	config.IntOption("amplification", 1, "Amplification factor applied to the audio"),
	config.IntOption("capture_delay", 0, "Seconds to wait between audio segments"),
	config.IntOption("capture_card", 0, "Audio recording card number (arecord --list-devices)"),
	config.IntOption("gain", 0, "Soundcard gain, 0-20 in 3dB steps"),
	config.StringOption("phantom_power", "NONE", "NONE, PIP (plug-in power), P3V3 (3.3V on M12 pin 4) or P48 (48V, check microphone compatibility)"),
	config.BoolOption("enable_internal_mic", false, "Also record the internal microphone on the other channel"),
}

// ExternalMic records from the external microphone interface, optionally
// in stereo with the internal microphone on the second channel.
type ExternalMic struct {
	rec recorder
}

// NewExternalMic builds and configures the external-interface sensor,
// programming the analog frontend with the configured gain and phantom
// mode.
func NewExternalMic(deps Deps, opts map[string]json.RawMessage) (Sensor, error) {
	killStaleRecorders(deps)

	m := &ExternalMic{rec: recorder{
		deps:         deps,
		sampleFormat: "S16_LE",
	}}
	var err error
	if m.rec.recordLength, err = config.ResolveInt(opts, ExternalMicOptions[0]); err != nil {
		return nil, err
	}
	if m.rec.recordFreq, err = config.ResolveInt(opts, ExternalMicOptions[1]); err != nil {
		return nil, err
	}
	if m.rec.compress, err = config.ResolveBool(opts, ExternalMicOptions[2]); err != nil {
		return nil, err
	}
	if m.rec.amplify, err = config.ResolveInt(opts, ExternalMicOptions[3]); err != nil {
		return nil, err
	}
	if m.rec.captureDelay, err = config.ResolveInt(opts, ExternalMicOptions[4]); err != nil {
		return nil, err
	}
	if m.rec.captureCard, err = config.ResolveInt(opts, ExternalMicOptions[5]); err != nil {
		return nil, err
	}
	gain, err := config.ResolveInt(opts, ExternalMicOptions[6])
	if err != nil {
		return nil, err
	}
	phantomName, err := config.ResolveString(opts, ExternalMicOptions[7])
	if err != nil {
		return nil, err
	}
	phantom, err := soundcard.ParsePhantomMode(strings.ToUpper(phantomName))
	if err != nil {
		return nil, err
	}
	withInternal, err := config.ResolveBool(opts, ExternalMicOptions[8])
	if err != nil {
		return nil, err
	}

	m.rec.channels = 1
	if withInternal {
		m.rec.channels = 2
	}

	if err := deps.Card.EnableExternalChannel(); err != nil {
		return nil, fmt.Errorf("sensor: enable external channel: %w", err)
	}
	if err := deps.Card.SetGain(gain); err != nil {
		return nil, fmt.Errorf("sensor: set gain: %w", err)
	}
	if err := deps.Card.SetPhantom(phantom); err != nil {
		return nil, fmt.Errorf("sensor: set phantom: %w", err)
	}
	if withInternal {
		if err := deps.Card.EnableInternalChannel(); err != nil {
			return nil, fmt.Errorf("sensor: enable internal channel: %w", err)
		}
	}
	return m, nil
}

// Setup is a no-op: the frontend is programmed at construction.
func (m *ExternalMic) Setup() error { return nil }

// Capture records one segment.
func (m *ExternalMic) Capture(workingDir, dataDir string) (string, error) {
	return m.rec.capture(workingDir, dataDir)
}

// Postprocess compresses the named segment into the data directory.
func (m *ExternalMic) Postprocess(name string) (string, error) {
	return m.rec.postprocess(name)
}

// Sleep pauses for the configured capture delay.
func (m *ExternalMic) Sleep() { m.rec.sleep() }

// SyncInterval is one full capture cycle: segment length plus delay.
func (m *ExternalMic) SyncInterval() time.Duration { return m.rec.syncInterval() }
