package chat

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
)

// Client is one live connection. User is fixed at handshake.
type Client struct {
	ID   string
	User auth.Identity
	Conn ConnLike
	Send chan []byte

	done chan struct{}
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

func NewClient(user auth.Identity, conn ConnLike, buffer int) *Client {
	if buffer <= 0 {
		buffer = 16
	}
	return &Client{ID: uuid.NewString(), User: user, Conn: conn, Send: make(chan []byte, buffer), done: make(chan struct{})}
}

// ReadPump feeds inbound frames to the router until the connection fails.
func (c *Client) ReadPump(ctx context.Context, r *Router) {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		r.Dispatch(ctx, c, data)
	}
}

// WritePump drains Send until the manager closes it. After a failed write
// the rest of the queue is discarded.
func (c *Client) WritePump() {
	defer close(c.done)
	broken := false
	for data := range c.Send {
		if broken {
			continue
		}
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			broken = true
			_ = c.Conn.Close()
		}
	}
}

// Done is closed once WritePump has returned and the connection is no
// longer written to.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
