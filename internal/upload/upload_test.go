package upload

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/httputil"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/queue"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

func testPanel() *led.Panel {
	return led.NewPanel(led.NewLEDs(led.NewMockExpander()))
}

func TestHTTPProber(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusNotFound, "not here")
	p := &HTTPProber{Client: client, URL: "http://collector"}
	if !p.Probe() {
		t.Error("any HTTP response should count as reachable")
	}

	client = httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("no route to host"))
	p = &HTTPProber{Client: client, URL: "http://collector"}
	if p.Probe() {
		t.Error("transport error should count as unreachable")
	}
}

func TestWaitForConnectionSucceeds(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	fails := 3
	p := proberFunc(func() bool {
		fails--
		return fails < 0
	})
	got := WaitForConnection(clock, p, testPanel(), BootConnectRetries, stopflag.New())
	if got != led.ConnectivityConnected {
		t.Fatalf("got %v, want connected", got)
	}
	if n := len(clock.Sleeps()); n != 3 {
		t.Errorf("slept %d times, want 3", n)
	}
	for _, d := range clock.Sleeps() {
		if d != time.Second {
			t.Errorf("probe spacing %v, want 1s", d)
		}
	}
}

func TestWaitForConnectionExhaustsAttempts(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	p := proberFunc(func() bool { return false })
	got := WaitForConnection(clock, p, testPanel(), 5, stopflag.New())
	if got != led.ConnectivityOffline {
		t.Fatalf("got %v, want offline", got)
	}
	if n := len(clock.Sleeps()); n != 5 {
		t.Errorf("slept %d times, want 5", n)
	}
}

func TestWaitForConnectionStop(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	stop := stopflag.New()
	stop.Set()
	p := proberFunc(func() bool {
		t.Fatal("probe after stop")
		return false
	})
	if got := WaitForConnection(clock, p, testPanel(), 5, stop); got != led.ConnectivityOffline {
		t.Fatalf("got %v, want offline", got)
	}
}

type proberFunc func() bool

func (f proberFunc) Probe() bool { return f() }

func TestUploadFileMultipartForm(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	if err := fsys.WriteFile("/audio/clip.mp3", []byte("mp3data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, "ok")

	s := &HTTPSync{Client: client, Fsys: fsys, ServerURL: "http://collector"}
	if err := s.UploadFile("/audio/clip.mp3"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	req := client.GetRequest(0)
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	_, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	mr := multipart.NewReader(req.Body, params["boundary"])
	form, err := mr.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	if got := form.Value["password"]; len(got) != 1 || got[0] != "soundscape" {
		t.Errorf("password field = %v", got)
	}
	files := form.File["file"]
	if len(files) != 1 || files[0].Filename != "clip.mp3" {
		t.Fatalf("file part = %+v", files)
	}
	f, err := files[0].Open()
	if err != nil {
		t.Fatalf("open part: %v", err)
	}
	defer f.Close()
	body, _ := io.ReadAll(f)
	if string(body) != "mp3data" {
		t.Errorf("file body = %q", body)
	}
}

func TestSyncDirDeletesOnlyConfirmed(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/a.mp3", []byte("a"), 0o644)
	fsys.WriteFile("/up/b.mp3", []byte("b"), 0o644)
	fsys.WriteFile("/up/run.log", []byte("log"), 0o644)

	client := httputil.NewMockHTTPClient()
	calls := 0
	client.DoFunc = func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	}

	s := &HTTPSync{Client: client, Fsys: fsys, ServerURL: "http://collector"}
	uploaded := s.SyncDir("/up", stopflag.New())
	if uploaded != 1 {
		t.Fatalf("uploaded = %d, want 1", uploaded)
	}
	// First file failed and must survive, second was confirmed and
	// deleted, logs are never touched by SyncDir.
	if !fsys.Exists("/up/a.mp3") {
		t.Error("failed upload was deleted")
	}
	if fsys.Exists("/up/b.mp3") {
		t.Error("confirmed upload was not deleted")
	}
	if !fsys.Exists("/up/run.log") {
		t.Error("log file was touched")
	}
}

func TestSyncDirRespectsStop(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/a.mp3", []byte("a"), 0o644)
	stop := stopflag.New()
	stop.Set()

	client := httputil.NewMockHTTPClient()
	s := &HTTPSync{Client: client, Fsys: fsys, ServerURL: "http://collector"}
	if got := s.SyncDir("/up", stop); got != 0 {
		t.Fatalf("uploaded = %d, want 0", got)
	}
	if client.RequestCount() != 0 {
		t.Error("request issued after stop")
	}
}

func TestSyncLogsShipsEachLogOnce(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/buggd_boot1.log", []byte("lines"), 0o644)
	fsys.WriteFile("/up/clip.mp3", []byte("mp3"), 0o644)

	client := httputil.NewMockHTTPClient()
	s := &HTTPSync{Client: client, Fsys: fsys, ServerURL: "http://collector"}

	s.SyncLogs("/up")
	if client.RequestCount() != 1 {
		t.Fatalf("requests = %d, want 1", client.RequestCount())
	}
	if fsys.Exists("/up/buggd_boot1.log") {
		t.Error("confirmed log not deleted")
	}
	if !fsys.Exists("/up/clip.mp3") {
		t.Error("audio file touched by the log sync")
	}

	// The next cycle must not re-post the same log.
	s.SyncLogs("/up")
	if client.RequestCount() != 1 {
		t.Errorf("requests after second cycle = %d, want still 1", client.RequestCount())
	}
}

func TestSyncLogsKeepsLogOnFailedUpload(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/buggd_boot1.log", []byte("lines"), 0o644)

	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection reset"))
	s := &HTTPSync{Client: client, Fsys: fsys, ServerURL: "http://collector"}

	s.SyncLogs("/up")
	if !fsys.Exists("/up/buggd_boot1.log") {
		t.Error("log deleted without a confirmed upload")
	}
}

func TestWSURL(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://collector:8080", "ws://collector:8080/ws/audio/", false},
		{"https://collector", "wss://collector/ws/audio/", false},
		{"ftp://collector", "", true},
	}
	for _, c := range cases {
		got, err := WSURL(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("WSURL(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("WSURL(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("WSURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

type mockConn struct {
	sent   [][]byte
	errs   []error
	closed bool

	// onSend fires after the nth successful send, so tests can stop the
	// queue at a known point in the loop.
	onSend func(n int)
}

func (c *mockConn) Send(data []byte) error {
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent = append(c.sent, cp)
	if c.onSend != nil {
		c.onSend(len(c.sent))
	}
	return nil
}

func (c *mockConn) Close() error {
	c.closed = true
	return nil
}

type mockDialer struct {
	conns []*mockConn
	errs  []error
	dials int
}

func (d *mockDialer) Dial() (Conn, error) {
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.conns) == 0 {
		return &mockConn{}, nil
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func TestRunFilesUploadsAndDeletes(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/a.mp3", []byte("aaa"), 0o644)
	fsys.WriteFile("/up/b.mp3", []byte("bbb"), 0o644)

	stop := stopflag.New()
	q := queue.New[string](20, stop)
	q.Put("/up/a.mp3")
	q.Put("/up/b.mp3")

	conn := &mockConn{onSend: func(n int) {
		if n == 2 {
			stop.Set()
		}
	}}
	u := &SocketUploader{
		Dialer: &mockDialer{conns: []*mockConn{conn}},
		Clock:  timeutil.NewMockClock(time.Now()),
		Panel:  testPanel(),
		Fsys:   fsys,
		Stop:   stopflag.New(),
	}
	u.RunFiles(q)

	if len(conn.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(conn.sent))
	}
	if string(conn.sent[0]) != "aaa" || string(conn.sent[1]) != "bbb" {
		t.Errorf("sent = %q, %q", conn.sent[0], conn.sent[1])
	}
	if fsys.Exists("/up/a.mp3") || fsys.Exists("/up/b.mp3") {
		t.Error("sent files should be deleted")
	}
	if !conn.closed {
		t.Error("connection left open after shutdown")
	}
}

func TestRunFilesStopsAfterInFlightSend(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	paths := []string{"/up/f1.mp3", "/up/f2.mp3", "/up/f3.mp3", "/up/f4.mp3", "/up/f5.mp3"}
	for _, p := range paths {
		fsys.WriteFile(p, []byte("x"), 0o644)
	}

	stop := stopflag.New()
	q := queue.New[string](20, stop)
	for _, p := range paths {
		q.Put(p)
	}

	// Shutdown arrives while the first file is going out. Only that send
	// may complete; the rest of the backlog stays on disk.
	conn := &mockConn{onSend: func(int) { stop.Set() }}
	u := &SocketUploader{
		Dialer: &mockDialer{conns: []*mockConn{conn}},
		Clock:  timeutil.NewMockClock(time.Now()),
		Panel:  testPanel(),
		Fsys:   fsys,
		Stop:   stopflag.New(),
	}
	u.RunFiles(q)

	if len(conn.sent) != 1 {
		t.Fatalf("sent %d messages after shutdown, want 1", len(conn.sent))
	}
	if q.Len() != 4 {
		t.Errorf("queue holds %d paths, want 4", q.Len())
	}
	if fsys.Exists("/up/f1.mp3") {
		t.Error("in-flight file should be deleted after its send")
	}
	for _, p := range paths[1:] {
		if !fsys.Exists(p) {
			t.Errorf("%s should survive shutdown", p)
		}
	}
}

func TestRunFilesRequeuesOnSendFailure(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("/up/a.mp3", []byte("aaa"), 0o644)

	qstop := stopflag.New()
	q := queue.New[string](20, qstop)
	q.Put("/up/a.mp3")

	bad := &mockConn{errs: []error{errors.New("broken pipe")}}
	// The retry lands on the fresh socket; its success ends the run.
	good := &mockConn{onSend: func(int) { qstop.Set() }}
	clock := timeutil.NewMockClock(time.Now())
	u := &SocketUploader{
		Dialer: &mockDialer{conns: []*mockConn{bad, good}},
		Clock:  clock,
		Panel:  testPanel(),
		Fsys:   fsys,
		Stop:   stopflag.New(),
	}
	u.RunFiles(q)

	if len(good.sent) != 1 || string(good.sent[0]) != "aaa" {
		t.Fatalf("file not resent on fresh socket: %+v", good.sent)
	}
	if fsys.Exists("/up/a.mp3") {
		t.Error("file should be deleted after the successful resend")
	}
	if !bad.closed {
		t.Error("dead socket not closed")
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != ReconnectDelay {
		t.Errorf("reconnect sleeps = %v, want one %v", sleeps, ReconnectDelay)
	}
}

func TestRunRedialsAfterDialFailure(t *testing.T) {
	stop := stopflag.New()
	q := queue.New[[]byte](50, stop)
	q.Put([]byte{1, 2, 3})

	conn := &mockConn{onSend: func(int) { stop.Set() }}
	clock := timeutil.NewMockClock(time.Now())
	d := &mockDialer{errs: []error{errors.New("refused"), errors.New("refused")}, conns: []*mockConn{conn}}
	u := &SocketUploader{
		Dialer: d,
		Clock:  clock,
		Panel:  testPanel(),
		Fsys:   fsutil.NewMemoryFileSystem(),
		Stop:   stopflag.New(),
	}
	u.RunChunks(q)

	if d.dials != 3 {
		t.Fatalf("dials = %d, want 3", d.dials)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(conn.sent))
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want two reconnect delays", sleeps)
	}
	for _, s := range sleeps {
		if s != ReconnectDelay {
			t.Errorf("sleep = %v, want %v", s, ReconnectDelay)
		}
	}
}

func TestRunChunksDropsChunkOnDeadSocket(t *testing.T) {
	stop := stopflag.New()
	q := queue.New[[]byte](50, stop)
	q.Put([]byte("first"))
	q.Put([]byte("second"))

	bad := &mockConn{errs: []error{errors.New("broken pipe")}}
	good := &mockConn{onSend: func(int) { stop.Set() }}
	u := &SocketUploader{
		Dialer: &mockDialer{conns: []*mockConn{bad, good}},
		Clock:  timeutil.NewMockClock(time.Now()),
		Panel:  testPanel(),
		Fsys:   fsutil.NewMemoryFileSystem(),
		Stop:   stopflag.New(),
	}
	u.RunChunks(q)

	if len(good.sent) != 1 || string(good.sent[0]) != "second" {
		t.Fatalf("surviving sends = %+v, want just the second chunk", good.sent)
	}
}

func TestRunStopsBeforeDialling(t *testing.T) {
	stop := stopflag.New()
	stop.Set()
	d := &mockDialer{}
	u := &SocketUploader{
		Dialer: d,
		Clock:  timeutil.NewMockClock(time.Now()),
		Panel:  testPanel(),
		Fsys:   fsutil.NewMemoryFileSystem(),
		Stop:   stop,
	}
	q := queue.New[string](20, stopflag.New())
	u.RunFiles(q)
	if d.dials != 0 {
		t.Errorf("dialled %d times after stop", d.dials)
	}
}
