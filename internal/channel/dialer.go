package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// defaultReadLimit bounds a single inbound message. Translation lines are
// small; anything larger is a misbehaving peer.
const defaultReadLimit = 64 << 10

// Transport is one established bidirectional message stream. Read is only
// called from a single goroutine; Write may be called concurrently with Read.
type Transport interface {
	// Read blocks until the next message arrives.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text message.
	Write(ctx context.Context, data []byte) error

	// Close tears the transport down. It is safe to call more than once.
	Close() error
}

// Dialer establishes transports. It is an interface so tests can count and
// script connection attempts without a network.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebSocketDialer dials the remote translation service over WebSocket.
type WebSocketDialer struct {
	// Header is sent with the opening handshake (e.g. Authorization).
	Header http.Header

	// HTTPClient overrides the client used for the handshake.
	HTTPClient *http.Client
}

var _ Dialer = (*WebSocketDialer)(nil)

// Dial opens a WebSocket connection to url.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)
	return &wsTransport{conn: conn}, nil
}

// wsTransport adapts *websocket.Conn to [Transport].
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client closed")
}
