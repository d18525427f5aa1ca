package sensor

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bugg-resources/buggd/internal/monitoring"
)

// recStartTrim is cut from the front of every timed recording to remove
// the power-on pop.
const recStartTrim = 1 * time.Second

// workingFile is the fixed name of the in-flight recording.
const workingFile = "currentlyRecording.wav"

// recorder is the arecord/ffmpeg mechanics shared by the microphone
// variants.
type recorder struct {
	deps Deps

	captureCard  int
	channels     int
	sampleFormat string
	recordFreq   int
	recordLength int
	captureDelay int
	amplify      int
	compress     bool

	workingDir string
	dataDir    string
}

// timestampName formats a capture start time the way artifact files are
// named: ISO-8601 UTC with millisecond precision, colons replaced so the
// name is filesystem-safe.
func timestampName(t time.Time) string {
	return t.UTC().Format("2006-01-02T15_04_05.000") + "Z"
}

// capture records one timed segment, trims the pop from the front and
// leaves the result in workingDir under the returned name.
func (r *recorder) capture(workingDir, dataDir string) (string, error) {
	r.workingDir = workingDir
	r.dataDir = dataDir

	name := timestampName(r.deps.Clock.Now().Add(recStartTrim))
	wfile := filepath.Join(workingDir, workingFile)
	trimmed := filepath.Join(workingDir, "trimmed_"+workingFile)

	monitoring.Logf("sensor: recording %d channel(s) for %ds as %s", r.channels, r.recordLength, name)

	duration := r.recordLength + int(recStartTrim.Seconds())
	if _, err := r.deps.Runner.Run("sudo", "arecord",
		"--device", fmt.Sprintf("plughw:%d,0", r.captureCard),
		"--channels", strconv.Itoa(r.channels),
		"--rate", strconv.Itoa(r.recordFreq),
		"--format", r.sampleFormat,
		"--duration", strconv.Itoa(duration),
		wfile); err != nil {
		return "", fmt.Errorf("sensor: arecord: %w", err)
	}

	if _, err := r.deps.Runner.Run("ffmpeg", "-y", "-loglevel", "panic",
		"-i", wfile,
		"-ss", strconv.Itoa(int(recStartTrim.Seconds())),
		trimmed); err != nil {
		return "", fmt.Errorf("sensor: trim: %w", err)
	}
	if err := r.deps.Fsys.Remove(wfile); err != nil {
		monitoring.Logf("sensor: remove working file: %v", err)
	}
	if err := r.deps.Fsys.Rename(trimmed, filepath.Join(workingDir, name)); err != nil {
		return "", fmt.Errorf("sensor: stage recording: %w", err)
	}

	monitoring.Logf("sensor: %s finished recording", name)
	return name, nil
}

// postprocess compresses (or just amplifies) the named recording into the
// data directory and removes the working copy. Returns the final path.
func (r *recorder) postprocess(name string) (string, error) {
	src := filepath.Join(r.workingDir, name)
	volume := fmt.Sprintf("volume=%d", r.amplify)

	var out string
	var err error
	if r.compress {
		out = filepath.Join(r.dataDir, name+".mp3")
		monitoring.Logf("sensor: %s compressing", name)
		_, err = r.deps.Runner.Run("ffmpeg", "-loglevel", "panic",
			"-i", src,
			"-codec:a", "libmp3lame",
			"-filter:a", volume,
			"-qscale:a", "0",
			"-ac", strconv.Itoa(r.channels),
			out)
	} else {
		out = filepath.Join(r.dataDir, name+".wav")
		monitoring.Logf("sensor: %s amplifying without compression", name)
		_, err = r.deps.Runner.Run("ffmpeg", "-loglevel", "panic",
			"-i", src,
			"-filter:a", volume,
			out)
	}
	if err != nil {
		return "", fmt.Errorf("sensor: postprocess %s: %w", name, err)
	}

	if r.deps.Fsys.Exists(src) {
		if err := r.deps.Fsys.Remove(src); err != nil {
			monitoring.Logf("sensor: remove %s: %v", src, err)
		}
	}
	monitoring.Logf("sensor: %s staged at %s", name, out)
	return out, nil
}

func (r *recorder) sleep() {
	r.deps.Clock.Sleep(time.Duration(r.captureDelay) * time.Second)
}

func (r *recorder) syncInterval() time.Duration {
	return time.Duration(r.recordLength+r.captureDelay) * time.Second
}

// killStaleRecorders clears any arecord left over from a previous run so
// the capture device is free. Best effort.
func killStaleRecorders(deps Deps) {
	if _, err := deps.Runner.Run("sudo", "killall", "arecord"); err != nil {
		monitoring.Diagf("sensor: killall arecord: %v", err)
	}
}
