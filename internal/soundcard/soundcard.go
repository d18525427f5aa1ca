package soundcard

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/bugg-resources/buggd/internal/audio"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/shell"
)

// PhantomMode selects the external microphone's powering scheme.
type PhantomMode string

const (
	PhantomNone PhantomMode = "NONE"
	PhantomPIP  PhantomMode = "PIP"
	Phantom3V3  PhantomMode = "P3V3"
	Phantom48   PhantomMode = "P48"
)

// ParsePhantomMode validates a user-supplied mode name.
func ParsePhantomMode(s string) (PhantomMode, error) {
	switch PhantomMode(s) {
	case PhantomNone, PhantomPIP, Phantom3V3, Phantom48:
		return PhantomMode(s), nil
	}
	return "", fmt.Errorf("soundcard: unknown phantom mode %q (want NONE, PIP, P3V3 or P48)", s)
}

// Gain bounds for the PGA.
const (
	MinGain = 0
	MaxGain = 20
)

// PGA programs the gain amplifier over SPI. The real implementation
// shells out; tests record frames.
type PGA interface {
	// Transfer sends one two-byte control frame.
	Transfer(frame [2]byte) error
}

// Bridge powers and configures the I2S bridge carrying the internal
// microphone. Satisfied by i2c.PCMD3180.
type Bridge interface {
	PowerOn() error
	PowerOff() error
	Initialize() error
}

// State is the persisted gain/phantom blob shared with soundcardctl.
type State struct {
	Gain    int         `json:"gain"`
	Phantom PhantomMode `json:"phantom"`
}

// DefaultExternalChannelGPIO switches the external input relay.
const DefaultExternalChannelGPIO = "/sys/class/gpio/gpio17/value"

// Soundcard owns the audio front-end state. Create with New; the
// constructor takes the hardware lock and fails when it is unavailable.
type Soundcard struct {
	lock      *Lock
	pga       PGA
	bridge    Bridge
	runner    shell.Runner
	fsys      fsutil.FileSystem
	statePath string

	// ExternalGPIO is the external channel switch node.
	ExternalGPIO string

	state State
}

// New acquires the hardware lock, restores persisted state and programs
// the PGA to match.
func New(pga PGA, bridge Bridge, runner shell.Runner, fsys fsutil.FileSystem, lockPath, statePath string) (*Soundcard, error) {
	lock, err := AcquireLock(lockPath)
	if err != nil {
		return nil, err
	}

	s := &Soundcard{
		lock:         lock,
		pga:          pga,
		bridge:       bridge,
		runner:       runner,
		fsys:         fsys,
		statePath:    statePath,
		ExternalGPIO: DefaultExternalChannelGPIO,
		state:        State{Gain: MinGain, Phantom: PhantomNone},
	}
	s.loadState()

	if err := s.program(); err != nil {
		lock.Release()
		return nil, err
	}
	return s, nil
}

// Close releases the hardware lock.
func (s *Soundcard) Close() error {
	return s.lock.Release()
}

// State returns the current gain/phantom settings.
func (s *Soundcard) State() State {
	return s.state
}

func (s *Soundcard) loadState() {
	data, err := s.fsys.ReadFile(s.statePath)
	if err != nil {
		return // first boot, defaults apply
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		monitoring.Logf("soundcard: corrupt state file, using defaults: %v", err)
		return
	}
	if st.Gain < MinGain || st.Gain > MaxGain {
		monitoring.Logf("soundcard: persisted gain %d out of range, using defaults", st.Gain)
		return
	}
	if _, err := ParsePhantomMode(string(st.Phantom)); err != nil {
		monitoring.Logf("soundcard: %v, using defaults", err)
		return
	}
	s.state = st
}

func (s *Soundcard) saveState() {
	data, err := json.Marshal(s.state)
	if err != nil {
		monitoring.Logf("soundcard: encode state: %v", err)
		return
	}
	if err := s.fsys.WriteFile(s.statePath, data, 0644); err != nil {
		monitoring.Logf("soundcard: persist state: %v", err)
	}
}

// phantomBits maps each mode onto the PGA control frame's power field.
var phantomBits = map[PhantomMode]byte{
	PhantomNone: 0x0,
	PhantomPIP:  0x1,
	Phantom3V3:  0x2,
	Phantom48:   0x4,
}

// program pushes the current state into the PGA as one control frame:
// gain in the low five bits of the first byte, phantom field in the
// second.
func (s *Soundcard) program() error {
	frame := [2]byte{byte(s.state.Gain) & 0x1f, phantomBits[s.state.Phantom]}
	if err := s.pga.Transfer(frame); err != nil {
		return fmt.Errorf("soundcard: program pga: %w", err)
	}
	return nil
}

// SetGain sets and persists the PGA gain.
func (s *Soundcard) SetGain(gain int) error {
	if gain < MinGain || gain > MaxGain {
		return fmt.Errorf("soundcard: gain %d out of range [%d, %d]", gain, MinGain, MaxGain)
	}
	prev := s.state.Gain
	s.state.Gain = gain
	if err := s.program(); err != nil {
		s.state.Gain = prev
		return err
	}
	s.saveState()
	return nil
}

// SetPhantom sets and persists the phantom power mode.
func (s *Soundcard) SetPhantom(mode PhantomMode) error {
	if _, err := ParsePhantomMode(string(mode)); err != nil {
		return err
	}
	prev := s.state.Phantom
	s.state.Phantom = mode
	if err := s.program(); err != nil {
		s.state.Phantom = prev
		return err
	}
	s.saveState()
	return nil
}

// EnableInternalChannel powers the I2S bridge and pushes its register
// configuration.
func (s *Soundcard) EnableInternalChannel() error {
	if err := s.bridge.PowerOn(); err != nil {
		return err
	}
	return s.bridge.Initialize()
}

// DisableInternalChannel powers the bridge down.
func (s *Soundcard) DisableInternalChannel() error {
	return s.bridge.PowerOff()
}

// EnableExternalChannel routes the external input through the relay.
func (s *Soundcard) EnableExternalChannel() error {
	if err := s.fsys.WriteFile(s.ExternalGPIO, []byte("1"), 0644); err != nil {
		return fmt.Errorf("soundcard: external channel on: %w", err)
	}
	return nil
}

// DisableExternalChannel disconnects the external input.
func (s *Soundcard) DisableExternalChannel() error {
	if err := s.fsys.WriteFile(s.ExternalGPIO, []byte("0"), 0644); err != nil {
		return fmt.Errorf("soundcard: external channel off: %w", err)
	}
	return nil
}

// MeasureVariance captures one second of both channels and returns the
// per-channel sample variance. Used by the recording self-test to tell a
// live microphone from a dead input.
func (s *Soundcard) MeasureVariance(workDir string) (map[string]float64, error) {
	path := filepath.Join(workDir, "variance.raw")
	_, err := s.runner.Run("arecord",
		"--device", "plughw:0,0",
		"--channels", "2",
		"--format", "S16_LE",
		"--rate", "44100",
		"--duration", "1",
		"-t", "raw",
		path)
	if err != nil {
		return nil, fmt.Errorf("soundcard: capture for variance: %w", err)
	}
	raw, err := s.fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("soundcard: read capture: %w", err)
	}
	defer func() { _ = s.fsys.Remove(path) }()

	return map[string]float64{
		"internal": audio.Variance(audio.SamplesS16LE(deinterleave(raw, 2, 0))),
		"external": audio.Variance(audio.SamplesS16LE(deinterleave(raw, 2, 1))),
	}, nil
}

// deinterleave extracts one channel's bytes from interleaved 16-bit
// frames.
func deinterleave(raw []byte, channels, channel int) []byte {
	const sampleBytes = 2
	frame := channels * sampleBytes
	out := make([]byte, 0, len(raw)/channels)
	for off := channel * sampleBytes; off+sampleBytes <= len(raw); off += frame {
		out = append(out, raw[off:off+sampleBytes]...)
	}
	return out
}
