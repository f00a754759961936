package internal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// readLimit bounds a single frame; chat-history pages exceed the library default.
const readLimit = 1 << 20

// Conn wraps websocket.Conn with timeouts and a fixed frame type.
type Conn struct {
	ws           *websocket.Conn
	msgType      websocket.MessageType
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Dial opens a websocket to url, passing token as a bearer credential.
func Dial(ctx context.Context, url, token string, msgType websocket.MessageType, readTimeout, writeTimeout time.Duration) (*Conn, error) {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, msgType, readTimeout, writeTimeout), nil
}

func NewConn(ws *websocket.Conn, msgType websocket.MessageType, readTimeout, writeTimeout time.Duration) *Conn {
	ws.SetReadLimit(readLimit)
	return &Conn{ws: ws, msgType: msgType, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, c.msgType, data)
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client close")
}

// IsNormalClosure reports errors that end a read loop without indicating a fault.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
