package sensor

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bugg-resources/buggd/internal/audio"
	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/queue"
)

// TypeI2SMic selects the internal mono I2S microphone.
const TypeI2SMic = "I2SMic"

// I2SMicOptions is the option schema for the internal microphone.
var I2SMicOptions = []config.Option{
	config.IntOption("record_length", 1200, "Length in seconds of each audio segment"),
	config.IntOption("record_freq", 44100, "Sample rate for the I2S microphone"),
	config.BoolOption("compress_data", true, "Compress audio from WAV to VBR mp3"),
	config.IntOption("amplification", 5, "Amplification factor applied to the audio"),
	config.IntOption("capture_delay", 0, "Seconds to wait between audio segments"),
	config.IntOption("capture_card", 0, "Audio recording card number (arecord --list-devices)"),
}

// I2SMic records mono audio from the internal I2S microphone. It also
// implements the streaming pipeline for continuous mode.
type I2SMic struct {
	rec recorder
}

// NewI2SMic builds and configures the internal-microphone sensor.
func NewI2SMic(deps Deps, opts map[string]json.RawMessage) (Sensor, error) {
	if err := deps.Card.EnableInternalChannel(); err != nil {
		return nil, fmt.Errorf("sensor: enable internal channel: %w", err)
	}
	killStaleRecorders(deps)

	m := &I2SMic{rec: recorder{
		deps:         deps,
		channels:     1,
		sampleFormat: "S32_LE",
	}}
	var err error
	if m.rec.recordLength, err = config.ResolveInt(opts, I2SMicOptions[0]); err != nil {
		return nil, err
	}
	if m.rec.recordFreq, err = config.ResolveInt(opts, I2SMicOptions[1]); err != nil {
		return nil, err
	}
	if m.rec.compress, err = config.ResolveBool(opts, I2SMicOptions[2]); err != nil {
		return nil, err
	}
	if m.rec.amplify, err = config.ResolveInt(opts, I2SMicOptions[3]); err != nil {
		return nil, err
	}
	if m.rec.captureDelay, err = config.ResolveInt(opts, I2SMicOptions[4]); err != nil {
		return nil, err
	}
	if m.rec.captureCard, err = config.ResolveInt(opts, I2SMicOptions[5]); err != nil {
		return nil, err
	}
	return m, nil
}

// Setup is a no-op: the bridge init script already sets the channel
// volume.
func (m *I2SMic) Setup() error { return nil }

// Capture records one segment.
func (m *I2SMic) Capture(workingDir, dataDir string) (string, error) {
	return m.rec.capture(workingDir, dataDir)
}

// Postprocess compresses the named segment into the data directory.
func (m *I2SMic) Postprocess(name string) (string, error) {
	return m.rec.postprocess(name)
}

// Sleep pauses for the configured capture delay.
func (m *I2SMic) Sleep() { m.rec.sleep() }

// SyncInterval is one full capture cycle: segment length plus delay.
func (m *I2SMic) SyncInterval() time.Duration { return m.rec.syncInterval() }

// continuousBlock is 300ms of S32_LE mono samples.
func (m *I2SMic) continuousBlock() int {
	return m.rec.recordFreq * 3 / 10 * 4
}

// CaptureContinuous streams raw PCM blocks from arecord into the raw
// queue until shutdown or the stream ends.
func (m *I2SMic) CaptureContinuous(raw *queue.Queue[[]byte]) {
	blockSize := m.continuousBlock()
	stream, stop, err := m.rec.deps.Runner.Stream("sudo", "arecord",
		"--device", fmt.Sprintf("plughw:%d,0", m.rec.captureCard),
		"--channels", "1",
		"--rate", strconv.Itoa(m.rec.recordFreq),
		"--format", "S32_LE",
		"-t", "raw",
		"-B", "10000")
	if err != nil {
		monitoring.Logf("sensor: continuous capture: %v", err)
		return
	}
	defer func() {
		if err := stop(); err != nil {
			monitoring.Diagf("sensor: stop arecord: %v", err)
		}
	}()
	monitoring.Logf("sensor: continuous capture started, %d byte blocks", blockSize)

	for m.rec.deps.Stop == nil || !m.rec.deps.Stop.IsSet() {
		block := make([]byte, blockSize)
		if _, err := io.ReadFull(stream, block); err != nil {
			monitoring.Logf("sensor: continuous stream ended: %v", err)
			return
		}
		if err := raw.Put(block); err != nil {
			return
		}
		monitoring.Tracef("sensor: captured %d byte block", blockSize)
	}
}

// CompressContinuous wraps each raw block as WAV, runs it through the
// amplify/compress filter and queues the sendable bytes.
func (m *I2SMic) CompressContinuous(raw, ready *queue.Queue[[]byte]) {
	seq := 0
	for {
		block, err := raw.Get()
		if err != nil {
			return
		}
		seq++
		data, err := m.transformBlock(block, seq)
		if err != nil {
			monitoring.Logf("sensor: transform block %d: %v", seq, err)
			continue
		}
		if err := ready.Put(data); err != nil {
			return
		}
	}
}

func (m *I2SMic) transformBlock(block []byte, seq int) ([]byte, error) {
	wav := audio.WrapPCM(block, 1, 4, m.rec.recordFreq)
	wavPath := filepath.Join(m.rec.deps.WorkDir, fmt.Sprintf("chunk_%06d.wav", seq))
	if err := m.rec.deps.Fsys.WriteFile(wavPath, wav, 0o644); err != nil {
		return nil, err
	}
	defer m.rec.deps.Fsys.Remove(wavPath)

	volume := fmt.Sprintf("volume=%d", m.rec.amplify)
	var outPath string
	var err error
	if m.rec.compress {
		outPath = wavPath + ".mp3"
		_, err = m.rec.deps.Runner.Run("ffmpeg", "-y", "-loglevel", "panic",
			"-i", wavPath,
			"-codec:a", "libmp3lame",
			"-filter:a", volume,
			"-qscale:a", "0",
			"-ac", "1",
			outPath)
	} else {
		outPath = wavPath + ".out.wav"
		_, err = m.rec.deps.Runner.Run("ffmpeg", "-y", "-loglevel", "panic",
			"-i", wavPath,
			"-filter:a", volume,
			outPath)
	}
	if err != nil {
		return nil, err
	}
	defer m.rec.deps.Fsys.Remove(outPath)
	return m.rec.deps.Fsys.ReadFile(outPath)
}
