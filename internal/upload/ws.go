package upload

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ReconnectDelay is the pause before redialling after a dropped or
// refused socket.
const ReconnectDelay = 5 * time.Second

// SocketTimeout bounds both the websocket handshake and each send.
const SocketTimeout = 10 * time.Second

// Conn is a one-way binary upload socket.
type Conn interface {
	// Send writes one binary message. A non-nil error means the
	// connection is dead and must be discarded.
	Send(data []byte) error
	Close() error
}

// Dialer opens upload sockets.
type Dialer interface {
	Dial() (Conn, error)
}

// WSURL converts the configured collector URL to its websocket upload
// endpoint.
func WSURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("upload: parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("upload: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/audio/"
	return u.String(), nil
}

// WSDialer dials real websocket connections.
type WSDialer struct {
	URL string
}

// Dial opens a websocket to the collector.
func (d *WSDialer) Dial() (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: SocketTimeout}
	c, _, err := dialer.Dial(d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("upload: dial %s: %w", d.URL, err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(data []byte) error {
	if err := w.c.SetWriteDeadline(time.Now().Add(SocketTimeout)); err != nil {
		return err
	}
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
