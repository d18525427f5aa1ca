package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/hostinfo"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/ledger"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/queue"
	"github.com/bugg-resources/buggd/internal/recovery"
	"github.com/bugg-resources/buggd/internal/sensor"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
	"github.com/bugg-resources/buggd/internal/upload"
)

// Queue depths per topology. Small enough to bound memory on a 512MB
// board, large enough to ride out a flaky link.
const (
	fileQueueDepth  = 20
	rawQueueDepth   = 50
	readyQueueDepth = 50
)

// serviceName is the daemon's systemd unit, stopped before a scheduled
// reboot so shutdown is clean.
const serviceName = "buggd.service"

// ModemPower is the modem surface the prologue needs: presence detection
// doubles as the offline-mode decision.
type ModemPower interface {
	PowerOn() bool
}

// Orchestrator selects a topology from the configured mode, wires the
// stage goroutines and queues, and owns the shutdown flag. It is the
// outer error boundary: any error it returns is fatal and goes to the
// recovery blink path.
type Orchestrator struct {
	Cfg    *config.Config
	Paths  *config.Paths
	Serial string

	Sensor sensor.Sensor
	Modem  ModemPower
	Fsys   fsutil.FileSystem
	Clock  timeutil.Clock
	Runner shell.Runner
	Panel  *led.Panel
	Prober upload.Prober
	Sync   *upload.HTTPSync
	Dialer upload.Dialer
	Stop   *stopflag.Flag

	// Ledger and LogFile are optional; their absence never blocks capture.
	Ledger  *ledger.Ledger
	LogFile *monitoring.LogFile

	schedule *recovery.Schedule
}

// Run executes the selected topology until ctx is cancelled or a fatal
// error occurs. On cancellation it sets the shutdown flag and joins every
// stage before returning nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.schedule = recovery.NewSchedule(o.Clock)

	rc := NewRunContext()
	layout, err := o.prologue(rc)
	if err != nil {
		return err
	}

	monitoring.Opsf("pipeline: mode %s, offline=%v, nosd=%v",
		o.Cfg.Device.Mode, rc.Offline(), rc.NoSD())

	switch o.Cfg.Device.Mode {
	case config.ModeHTTPPolling:
		return o.runHTTPPolling(ctx, rc, layout)
	case config.ModeWebSocketSafe:
		return o.runWebSocketSafe(ctx, rc, layout)
	case config.ModeContinuousStream:
		return o.runContinuousStream(ctx, rc, layout)
	}
	return fmt.Errorf("pipeline: invalid mode %d", o.Cfg.Device.Mode)
}

// prologue establishes the run environment: modem power (absence means
// offline), SD mount (failure means local spill), directory layout, and
// the initial connectivity wait with a clock resync on success.
func (o *Orchestrator) prologue(rc *RunContext) (Layout, error) {
	if !o.Modem.PowerOn() {
		monitoring.Opsf("pipeline: no modem, running offline")
		rc.SetOffline(true)
	}

	if err := hostinfo.MountSD(o.Runner, o.Fsys, o.Paths.SDDevice, o.Paths.SDMountDir); err != nil {
		monitoring.Logf("pipeline: %v, spilling to local storage", err)
		rc.SetNoSD(true)
	}

	layout, err := NewLayout(o.Fsys, o.Paths, o.Cfg, o.Serial, !rc.NoSD())
	if err != nil {
		return Layout{}, err
	}

	if rc.Offline() {
		o.Panel.SetConnectivity(led.ConnectivityOffline)
		monitoring.Logf("pipeline: offline mode, saving to %s", layout.DataDir)
		return layout, nil
	}

	conn := upload.WaitForConnection(o.Clock, o.Prober, o.Panel, upload.BootConnectRetries, o.Stop)
	rc.SetConnectivity(conn)
	if conn == led.ConnectivityConnected {
		if err := hostinfo.SyncClock(o.Runner); err != nil {
			monitoring.Logf("pipeline: %v", err)
		}
	}
	return layout, nil
}

// captureLoop runs the shared capture cycle: record a segment, hand it to
// a background postprocess, sleep. The daily reboot check runs once per
// cycle and a due reboot executes only after the in-flight artifact
// finishes its postprocess, so a restart never truncates a file.
func (o *Orchestrator) captureLoop(layout Layout, wg *sync.WaitGroup, errCh chan<- error, onArtifact func(path string)) {
	for !o.Stop.IsSet() {
		o.Panel.Recording(true)
		name, err := o.Sensor.Capture(layout.WorkingDir, layout.DataDir)
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}

		rebootDue := o.schedule.Due()

		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := o.Sensor.Postprocess(name)
			if err != nil {
				monitoring.Logf("pipeline: %v", err)
			} else {
				o.stageArtifact(path)
				if onArtifact != nil {
					onArtifact(path)
				}
			}
			if rebootDue {
				o.dailyReboot()
			}
		}()

		o.Panel.Recording(false)
		o.Sensor.Sleep()
	}
}

// stageArtifact records the finished file in the ledger. Best effort.
func (o *Orchestrator) stageArtifact(path string) {
	if o.Ledger == nil {
		return
	}
	var size int64
	if info, err := o.Fsys.Stat(path); err == nil {
		size = info.Size()
	}
	if _, err := o.Ledger.Stage(path, int(o.Cfg.Device.Mode), size); err != nil {
		monitoring.Logf("pipeline: %v", err)
	}
}

func (o *Orchestrator) dailyReboot() {
	monitoring.Opsf("pipeline: daily reboot window crossed, restarting")
	if err := hostinfo.StopService(o.Runner, serviceName); err != nil {
		monitoring.Logf("pipeline: %v", err)
	}
	if err := hostinfo.Reboot(o.Runner); err != nil {
		monitoring.Logf("pipeline: %v", err)
	}
}

// runHTTPPolling pairs the capture loop with a periodic directory sync:
// every sync interval, wait for connectivity, resync the clock, then walk
// the upload tree posting one file at a time.
func (o *Orchestrator) runHTTPPolling(ctx context.Context, rc *RunContext, layout Layout) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.captureLoop(layout, &wg, errCh, nil)
	}()

	if !rc.Offline() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.syncLoop(rc, layout)
		}()
	}

	return o.await(ctx, &wg, errCh)
}

func (o *Orchestrator) syncLoop(rc *RunContext, layout Layout) {
	interval := o.Sensor.SyncInterval()
	for !o.Stop.IsSet() {
		cycleStart := o.Clock.Now()

		conn := upload.WaitForConnection(o.Clock, o.Prober, o.Panel, upload.BootConnectRetries, o.Stop)
		rc.SetConnectivity(conn)

		if conn == led.ConnectivityConnected {
			if err := hostinfo.SyncClock(o.Runner); err != nil {
				monitoring.Logf("pipeline: %v", err)
			}
			o.archiveLog(layout)
			if o.Ledger != nil {
				if _, err := o.Ledger.Reconcile(o.Fsys); err != nil {
					monitoring.Logf("pipeline: %v", err)
				}
			}

			o.Panel.Data(led.Cyan)
			n := o.Sync.SyncDir(layout.UploadDir, o.Stop)
			o.Sync.SyncLogs(layout.UploadDir)
			o.Panel.Data(led.Blue)
			monitoring.Opsf("pipeline: sync cycle uploaded %d files", n)
		} else {
			monitoring.Opsf("pipeline: no connection, skipping sync cycle")
		}

		o.sleepUntil(cycleStart.Add(interval))
	}
}

// archiveLog rotates the current boot log into the upload tree so field
// logs reach the collector with the next sync.
func (o *Orchestrator) archiveLog(layout Layout) {
	if o.LogFile == nil {
		return
	}
	if err := o.LogFile.ArchiveTo(layout.UploadDir); err != nil {
		monitoring.Logf("pipeline: %v", err)
	}
}

// sleepUntil sleeps in one-second grains so the stop flag is observed
// promptly.
func (o *Orchestrator) sleepUntil(deadline time.Time) {
	for !o.Stop.IsSet() && o.Clock.Now().Before(deadline) {
		o.Clock.Sleep(time.Second)
	}
}

// runWebSocketSafe feeds finished artifact paths through a bounded queue
// into the persistent-socket uploader. Offline, the capture loop still
// runs and artifacts stay on local storage.
func (o *Orchestrator) runWebSocketSafe(ctx context.Context, rc *RunContext, layout Layout) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	fileQ := queue.New[string](fileQueueDepth, o.Stop)

	onArtifact := func(path string) {
		if err := fileQ.Put(path); err != nil {
			monitoring.Logf("pipeline: %s left on disk: %v", path, err)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.captureLoop(layout, &wg, errCh, onArtifact)
	}()

	if rc.Offline() {
		monitoring.Logf("pipeline: offline, websocket uploader not started")
	} else {
		dialer, err := o.dialer()
		if err != nil {
			return err
		}
		uploader := o.socketUploader(dialer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			uploader.RunFiles(fileQ)
		}()
	}

	return o.await(ctx, &wg, errCh)
}

// runContinuousStream streams fixed-size blocks from the sensor through
// the compressor to the socket. This mode has no offline fallback: data
// never touches disk, so without a link there is nothing useful to do.
func (o *Orchestrator) runContinuousStream(ctx context.Context, rc *RunContext, layout Layout) error {
	if rc.Offline() {
		return errors.New("pipeline: continuous-stream mode requires a connection")
	}
	cs, ok := o.Sensor.(sensor.ContinuousSensor)
	if !ok {
		return fmt.Errorf("pipeline: sensor %q does not support continuous streaming", o.Cfg.Sensor.SensorType)
	}
	dialer, err := o.dialer()
	if err != nil {
		return err
	}

	rawQ := queue.New[[]byte](rawQueueDepth, o.Stop)
	readyQ := queue.New[[]byte](readyQueueDepth, o.Stop)
	uploader := o.socketUploader(dialer)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(3)
	go func() {
		defer wg.Done()
		o.Panel.Recording(true)
		cs.CaptureContinuous(rawQ)
		o.Panel.Recording(false)
	}()
	go func() {
		defer wg.Done()
		cs.CompressContinuous(rawQ, readyQ)
	}()
	go func() {
		defer wg.Done()
		uploader.RunChunks(readyQ)
	}()

	return o.await(ctx, &wg, errCh)
}

func (o *Orchestrator) dialer() (upload.Dialer, error) {
	if o.Dialer != nil {
		return o.Dialer, nil
	}
	uri, err := upload.WSURL(o.Cfg.Device.ServerURL)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("pipeline: websocket endpoint %s", uri)
	return &upload.WSDialer{URL: uri}, nil
}

func (o *Orchestrator) socketUploader(dialer upload.Dialer) *upload.SocketUploader {
	return &upload.SocketUploader{
		Dialer: dialer,
		Clock:  o.Clock,
		Panel:  o.Panel,
		Fsys:   o.Fsys,
		Stop:   o.Stop,
		Ledger: o.Ledger,
	}
}

// await blocks until cancellation or a fatal stage error, then sets the
// shutdown flag and joins every stage.
func (o *Orchestrator) await(ctx context.Context, wg *sync.WaitGroup, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		monitoring.Opsf("pipeline: shutdown requested")
		o.Stop.Set()
		wg.Wait()
		monitoring.Opsf("pipeline: all stages joined, exiting cleanly")
		return nil
	case err := <-errCh:
		o.Stop.Set()
		wg.Wait()
		return err
	}
}
