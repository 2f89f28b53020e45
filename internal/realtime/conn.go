package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn adapts a websocket connection to Sender. Writes are serialized;
// control frames go through WriteControl, which gorilla allows concurrently.
type Conn struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	closeOne sync.Once
	done     chan struct{}
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, done: make(chan struct{})}
}

// Send writes msg as one text frame. The context deadline becomes the
// write deadline.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Ping sends a ping control frame.
func (c *Conn) Ping(timeout time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close sends a close frame and closes the socket once.
func (c *Conn) Close() error {
	var err error
	c.closeOne.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }
