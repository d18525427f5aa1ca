// Package pipeline wires the capture, process and upload stages into one
// of the three operating topologies and owns the run lifecycle.
package pipeline

import (
	"sync/atomic"

	"github.com/bugg-resources/buggd/internal/led"
)

// RunContext carries the run-wide state shared between stages. Each field
// is updated by the stage that owns it and read by the others; no stage
// communicates through package globals.
type RunContext struct {
	connectivity atomic.Int32
	offline      atomic.Bool
	noSD         atomic.Bool
}

// NewRunContext starts offline-pessimistic: Offline and NoSD are false
// until the prologue proves otherwise.
func NewRunContext() *RunContext {
	return &RunContext{}
}

// SetConnectivity records the latest probe verdict.
func (c *RunContext) SetConnectivity(state led.Connectivity) {
	c.connectivity.Store(int32(state))
}

// Connectivity returns the latest probe verdict.
func (c *RunContext) Connectivity() led.Connectivity {
	return led.Connectivity(c.connectivity.Load())
}

// SetOffline marks the run as capture-only: no uploader runs, artifacts
// stay on local storage.
func (c *RunContext) SetOffline(v bool) {
	c.offline.Store(v)
}

// Offline reports capture-only operation.
func (c *RunContext) Offline() bool {
	return c.offline.Load()
}

// SetNoSD marks the run as spilling to local storage because the card is
// missing or unwritable.
func (c *RunContext) SetNoSD(v bool) {
	c.noSD.Store(v)
}

// NoSD reports whether the SD card is unavailable.
func (c *RunContext) NoSD() bool {
	return c.noSD.Load()
}
