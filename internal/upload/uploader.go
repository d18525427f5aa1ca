package upload

import (
	"errors"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/ledger"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/queue"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// SocketUploader ships queued artifacts over a persistent websocket,
// redialling whenever the socket drops. Files are removed from disk only
// after a successful send.
type SocketUploader struct {
	Dialer Dialer
	Clock  timeutil.Clock
	Panel  *led.Panel
	Fsys   fsutil.FileSystem
	Stop   *stopflag.Flag

	// Ledger, when present, records confirmed uploads.
	Ledger *ledger.Ledger
}

// RunFiles consumes file paths from q and uploads each file's contents
// as one binary message. It returns once the queue is shut down: the
// in-flight send completes, queued paths stay on disk for the next boot.
func (u *SocketUploader) RunFiles(q *queue.Queue[string]) {
	u.run(func(conn Conn) error {
		path, err := q.Get()
		if err != nil {
			return err
		}
		data, err := u.Fsys.ReadFile(path)
		if err != nil {
			monitoring.Logf("uploader: read %s: %v", path, err)
			return nil
		}
		if err := conn.Send(data); err != nil {
			// Socket is dead. Requeue so the file goes out on the
			// next connection.
			if qerr := q.Put(path); qerr != nil {
				monitoring.Logf("uploader: requeue %s: %v", path, qerr)
			}
			return err
		}
		monitoring.Diagf("uploader: sent %s (%d bytes)", path, len(data))
		if err := u.Fsys.Remove(path); err != nil {
			monitoring.Logf("uploader: remove after send %s: %v", path, err)
		}
		if u.Ledger != nil {
			if err := u.Ledger.MarkUploaded(path); err != nil {
				monitoring.Logf("uploader: ledger: %v", err)
			}
		}
		return nil
	})
}

// RunChunks consumes in-memory audio chunks from q and sends each as one
// binary message. A chunk lost to a dead socket is dropped: the stream
// is live data and the capture side keeps producing.
func (u *SocketUploader) RunChunks(q *queue.Queue[[]byte]) {
	u.run(func(conn Conn) error {
		chunk, err := q.Get()
		if err != nil {
			return err
		}
		if err := conn.Send(chunk); err != nil {
			monitoring.Logf("uploader: dropped %d byte chunk: %v", len(chunk), err)
			return err
		}
		return nil
	})
}

// run is the shared dial-send-redial loop. sendOne returns
// queue.ErrShutdown to end the loop, any other error to force a
// reconnect, nil to continue on the same socket.
func (u *SocketUploader) run(sendOne func(Conn) error) {
	for {
		if u.Stop != nil && u.Stop.IsSet() {
			return
		}
		conn, err := u.Dialer.Dial()
		if err != nil {
			monitoring.Logf("uploader: %v", err)
			u.Panel.SetConnectivity(led.ConnectivityConnecting)
			u.Clock.Sleep(ReconnectDelay)
			continue
		}
		u.Panel.SetConnectivity(led.ConnectivityConnected)
		monitoring.Logf("uploader: connected")

		for {
			err := sendOne(conn)
			if err == nil {
				continue
			}
			conn.Close()
			if errors.Is(err, queue.ErrShutdown) {
				return
			}
			monitoring.Logf("uploader: socket lost: %v", err)
			u.Panel.SetConnectivity(led.ConnectivityConnecting)
			u.Clock.Sleep(ReconnectDelay)
			break
		}
	}
}
