package pipeline

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bugg-resources/buggd/internal/config"
	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/httputil"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/queue"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
	"github.com/bugg-resources/buggd/internal/upload"
)

func TestRunContext(t *testing.T) {
	rc := NewRunContext()
	if rc.Offline() || rc.NoSD() {
		t.Fatal("fresh context not clean")
	}
	rc.SetOffline(true)
	rc.SetNoSD(true)
	rc.SetConnectivity(led.ConnectivityConnected)
	if !rc.Offline() || !rc.NoSD() || rc.Connectivity() != led.ConnectivityConnected {
		t.Fatal("context updates lost")
	}
}

func testPaths() *config.Paths {
	return &config.Paths{
		SDMountDir:     "/mnt/sd",
		SDDevice:       "/dev/mmcblk0p1",
		ConfigFile:     "/home/bugg/config.json",
		WorkingDirRoot: "/tmp/buggd_tmp",
		LocalUploadDir: "/home/bugg/audio",
	}
}

func testConfig(mode config.Mode) *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			ProjectID: "p1",
			ConfigID:  "c1",
			ServerURL: "http://collector",
			Mode:      mode,
		},
		Sensor: config.SensorConfig{SensorType: "I2SMic"},
	}
}

func TestNewLayoutWithSD(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	// A spilled recording from an earlier cardless run.
	fsys.WriteFile("/home/bugg/audio/proj_p1/old.mp3", []byte("x"), 0o644)

	l, err := NewLayout(fsys, testPaths(), testConfig(config.ModeHTTPPolling), "serial01", true)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.UploadDir != "/mnt/sd/audio" {
		t.Errorf("UploadDir = %q", l.UploadDir)
	}
	want := "/mnt/sd/audio/proj_p1/bugg_serial01/conf_c1"
	if l.DataDir != want {
		t.Errorf("DataDir = %q, want %q", l.DataDir, want)
	}
	if !fsys.Exists("/mnt/sd/audio/proj_p1/old.mp3") {
		t.Error("local spill not merged onto the card")
	}
	if fsys.Exists("/home/bugg/audio/proj_p1/old.mp3") {
		t.Error("spill left behind after merge")
	}
}

func TestNewLayoutWithoutSD(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	l, err := NewLayout(fsys, testPaths(), testConfig(config.ModeHTTPPolling), "serial01", false)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	if l.UploadDir != "/home/bugg/audio" {
		t.Errorf("UploadDir = %q", l.UploadDir)
	}
	if !strings.HasPrefix(l.DataDir, "/home/bugg/audio/proj_p1/") {
		t.Errorf("DataDir = %q not under local upload dir", l.DataDir)
	}
}

func TestNewLayoutDefaultsIdentity(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cfg := testConfig(config.ModeHTTPPolling)
	cfg.Device.ProjectID = ""
	cfg.Device.ConfigID = ""
	l, err := NewLayout(fsys, testPaths(), cfg, "serial01", false)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	want := "/home/bugg/audio/proj_na/bugg_serial01/conf_na"
	if l.DataDir != want {
		t.Errorf("DataDir = %q, want %q", l.DataDir, want)
	}
}

// scriptSensor drives the capture loop deterministically: every capture
// writes a fake recording, and an optional cap cancels the run.
type scriptSensor struct {
	fsys        fsutil.FileSystem
	cancel      context.CancelFunc
	maxCaptures int

	captures  atomic.Int32
	onCapture func(n int)

	mu         chan struct{}
	workingDir string
	dataDir    string
}

func newScriptSensor(fsys fsutil.FileSystem, cancel context.CancelFunc, maxCaptures int) *scriptSensor {
	s := &scriptSensor{fsys: fsys, cancel: cancel, maxCaptures: maxCaptures, mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *scriptSensor) Setup() error { return nil }

func (s *scriptSensor) Capture(workingDir, dataDir string) (string, error) {
	n := int(s.captures.Add(1))
	<-s.mu
	s.workingDir = workingDir
	s.dataDir = dataDir
	s.mu <- struct{}{}
	if s.onCapture != nil {
		s.onCapture(n)
	}
	name := "seg" + strconv.Itoa(n)
	s.fsys.WriteFile(filepath.Join(workingDir, name), []byte("pcm"), 0o644)
	if s.maxCaptures > 0 && n >= s.maxCaptures {
		s.cancel()
	}
	return name, nil
}

func (s *scriptSensor) Postprocess(name string) (string, error) {
	out := filepath.Join(s.DataDir(), name+".mp3")
	s.fsys.WriteFile(out, []byte("mp3"), 0o644)
	s.fsys.Remove(filepath.Join(s.WorkingDir(), name))
	return out, nil
}

func (s *scriptSensor) Sleep() { time.Sleep(time.Millisecond) }

func (s *scriptSensor) SyncInterval() time.Duration { return time.Minute }

func (s *scriptSensor) WorkingDir() string {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.workingDir
}

func (s *scriptSensor) DataDir() string {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.dataDir
}

// collectConn records sent messages and can cancel the run once enough
// have arrived, so shutdown ordering stays deterministic.
type collectConn struct {
	mu       chan struct{}
	sent     [][]byte
	cancelAt int
	cancel   context.CancelFunc
}

func newCollectConn() *collectConn {
	c := &collectConn{mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}
	return c
}

func (c *collectConn) Send(data []byte) error {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	if c.cancel != nil && len(c.sent) == c.cancelAt {
		c.cancel()
	}
	return nil
}

func (c *collectConn) Close() error { return nil }

func (c *collectConn) Sent() [][]byte {
	<-c.mu
	defer func() { c.mu <- struct{}{} }()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

type countingDialer struct {
	dials atomic.Int32
	conn  *collectConn
}

func (d *countingDialer) Dial() (upload.Conn, error) {
	d.dials.Add(1)
	return d.conn, nil
}

type fixedModem struct{ present bool }

func (m fixedModem) PowerOn() bool { return m.present }

type proberFunc func() bool

func (f proberFunc) Probe() bool { return f() }

func newOrchestrator(t *testing.T, mode config.Mode, modemPresent bool, maxCaptures int) (*Orchestrator, *scriptSensor, *fsutil.MemoryFileSystem, context.Context, context.CancelFunc) {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := newScriptSensor(fsys, cancel, maxCaptures)
	o := &Orchestrator{
		Cfg:    testConfig(mode),
		Paths:  testPaths(),
		Serial: "serial01",
		Sensor: s,
		Modem:  fixedModem{present: modemPresent},
		Fsys:   fsys,
		Clock:  timeutil.NewMockClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		Runner: shell.NewMockRunner(),
		Panel:  led.NewPanel(led.NewLEDs(led.NewMockExpander())),
		Prober: proberFunc(func() bool { return true }),
		Stop:   stopflag.New(),
	}
	return o, s, fsys, ctx, cancel
}

func TestRunInvalidMode(t *testing.T) {
	o, _, _, ctx, _ := newOrchestrator(t, config.Mode(7), true, 1)
	if err := o.Run(ctx); err == nil {
		t.Fatal("invalid mode accepted")
	}
}

func TestWebSocketSafeOfflineCapturesLocally(t *testing.T) {
	o, s, fsys, ctx, _ := newOrchestrator(t, config.ModeWebSocketSafe, false, 2)
	dialer := &countingDialer{conn: newCollectConn()}
	o.Dialer = dialer

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := dialer.dials.Load(); got != 0 {
		t.Errorf("offline run dialled %d times", got)
	}
	if o.Panel.Connectivity() != led.ConnectivityOffline {
		t.Errorf("panel connectivity = %v, want offline", o.Panel.Connectivity())
	}
	// Artifacts stay on local storage for a later card swap.
	if !fsys.Exists(filepath.Join(s.DataDir(), "seg1.mp3")) {
		t.Error("artifact missing from data dir")
	}
}

func TestWebSocketSafeOnlineUploadsAndDeletes(t *testing.T) {
	o, s, fsys, ctx, cancel := newOrchestrator(t, config.ModeWebSocketSafe, true, 0)
	conn := newCollectConn()
	conn.cancelAt = 2
	conn.cancel = cancel
	o.Dialer = &countingDialer{conn: conn}

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := conn.Sent()
	if len(sent) < 2 {
		t.Fatalf("sent %d messages, want at least 2", len(sent))
	}
	if string(sent[0]) != "mp3" {
		t.Errorf("first message = %q", sent[0])
	}
	// The first artifact is confirmed sent, so it must be gone.
	if fsys.Exists(filepath.Join(s.DataDir(), "seg1.mp3")) {
		t.Error("uploaded artifact not deleted")
	}
}

func TestContinuousStreamRequiresConnection(t *testing.T) {
	o, _, _, ctx, _ := newOrchestrator(t, config.ModeContinuousStream, false, 1)
	err := o.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "requires a connection") {
		t.Fatalf("offline continuous-stream error = %v", err)
	}
}

func TestContinuousStreamRequiresStreamingSensor(t *testing.T) {
	o, _, _, ctx, _ := newOrchestrator(t, config.ModeContinuousStream, true, 1)
	err := o.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "continuous streaming") {
		t.Fatalf("non-streaming sensor error = %v", err)
	}
}

// streamSensor emits numbered blocks forever; the test's connection
// decides when the run ends.
type streamSensor struct {
	*scriptSensor
}

func (s *streamSensor) CaptureContinuous(raw *queue.Queue[[]byte]) {
	for i := 0; ; i++ {
		if raw.Put([]byte{byte(i)}) != nil {
			return
		}
	}
}

func (s *streamSensor) CompressContinuous(raw, ready *queue.Queue[[]byte]) {
	for {
		block, err := raw.Get()
		if err != nil {
			return
		}
		if ready.Put(append([]byte("wav:"), block...)) != nil {
			return
		}
	}
}

func TestContinuousStreamFlow(t *testing.T) {
	o, _, _, ctx, cancel := newOrchestrator(t, config.ModeContinuousStream, true, 0)
	fsys := o.Fsys.(*fsutil.MemoryFileSystem)
	o.Sensor = &streamSensor{scriptSensor: newScriptSensor(fsys, cancel, 0)}
	conn := newCollectConn()
	conn.cancelAt = 3
	conn.cancel = cancel
	o.Dialer = &countingDialer{conn: conn}

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := conn.Sent()
	if len(sent) < 3 {
		t.Fatalf("sent %d chunks, want at least 3", len(sent))
	}
	if string(sent[0]) != "wav:\x00" {
		t.Errorf("first chunk = %q", sent[0])
	}
}

func TestDailyRebootDeferredPastPostprocess(t *testing.T) {
	o, s, _, ctx, _ := newOrchestrator(t, config.ModeWebSocketSafe, false, 2)
	runner := o.Runner.(*shell.MockRunner)
	clock := o.Clock.(*timeutil.MockClock)
	clock.Set(time.Date(2026, 6, 1, 1, 59, 0, 0, time.UTC))

	s.onCapture = func(n int) {
		if n == 1 {
			// The reboot window passes while the first segment records.
			clock.Set(time.Date(2026, 6, 1, 2, 5, 0, 0, time.UTC))
		}
	}

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !runner.Ran("sudo", "systemctl", "stop", "buggd.service") {
		t.Error("service not stopped before scheduled reboot")
	}
	if !runner.Ran("sudo", "reboot") {
		t.Error("scheduled reboot not issued")
	}
}

func TestHTTPPollingRunsSyncCycle(t *testing.T) {
	o, s, fsys, ctx, _ := newOrchestrator(t, config.ModeHTTPPolling, true, 2)
	runner := o.Runner.(*shell.MockRunner)

	// The prologue probes once; the sync loop probes again. Holding the
	// first capture until the second probe guarantees the sync cycle ran
	// before shutdown.
	var probes atomic.Int32
	syncStarted := make(chan struct{})
	o.Prober = proberFunc(func() bool {
		if probes.Add(1) == 2 {
			close(syncStarted)
		}
		return true
	})
	s.onCapture = func(n int) {
		if n == 1 {
			<-syncStarted
		}
	}
	o.Sync = &upload.HTTPSync{
		Client:    httputil.NewMockHTTPClient(),
		Fsys:      fsys,
		ServerURL: "http://collector",
	}

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if probes.Load() < 2 {
		t.Errorf("probed %d times, want prologue and sync cycle", probes.Load())
	}
	if !runner.Ran("sudo", "ntpdate") {
		t.Error("clock not resynced on connect")
	}
}
