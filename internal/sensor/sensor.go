// Package sensor holds the capture variants: what it means to record one
// artifact, post-process it and pace the capture loop. The orchestrator
// drives whichever variant the config selects.
package sensor

import (
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/queue"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/soundcard"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// Sensor is one capture variant. Capture produces a raw working file and
// returns its name; Postprocess turns that into the final artifact in the
// data directory and returns its full path.
type Sensor interface {
	Setup() error
	Capture(workingDir, dataDir string) (string, error)
	Postprocess(name string) (string, error)
	Sleep()
	SyncInterval() time.Duration
}

// ContinuousSensor additionally supports the streaming pipeline: raw PCM
// blocks flow into the raw queue, the compressor turns each into a
// self-contained sendable chunk.
type ContinuousSensor interface {
	Sensor
	CaptureContinuous(raw *queue.Queue[[]byte])
	CompressContinuous(raw, ready *queue.Queue[[]byte])
}

// Card is the analog-frontend surface the sensors drive.
type Card interface {
	EnableInternalChannel() error
	EnableExternalChannel() error
	SetGain(gain int) error
	SetPhantom(mode soundcard.PhantomMode) error
}

// Deps carries the shared collaborators a sensor is built from. WorkDir
// is scratch space for in-flight recordings.
type Deps struct {
	Runner  shell.Runner
	Fsys    fsutil.FileSystem
	Clock   timeutil.Clock
	Stop    *stopflag.Flag
	Card    Card
	WorkDir string
}
