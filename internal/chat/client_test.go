package chat

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowConn struct {
	in    chan []byte
	delay time.Duration

	mu      sync.Mutex
	written int
	closed  bool
}

func newSlowConn(delay time.Duration) *slowConn {
	return &slowConn{in: make(chan []byte), delay: delay}
}

func (f *slowConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (f *slowConn) WriteMessage(int, []byte) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	f.written++
	return nil
}

func (f *slowConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *slowConn) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func TestServeWaitsForWriter(t *testing.T) {
	h := newHarness(t)
	conn := newSlowConn(10 * time.Millisecond)
	c := NewClient(identity("bob"), conn, 32)

	served := make(chan struct{})
	go func() {
		h.router.Serve(h.ctx, c)
		close(served)
	}()
	require.Eventually(t, func() bool { return h.mgr.Online("bob") }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		h.mgr.EmitUser("bob", encode(EventTyping, map[string]any{"chatId": "c1", "isTyping": true}))
	}
	close(conn.in)

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Serve returned while the writer was still running")
	}
	assert.Equal(t, 5, conn.writes())
	assert.False(t, h.mgr.Online("bob"))
}

func TestWritePumpStopsWritingAfterFailure(t *testing.T) {
	conn := newSlowConn(0)
	_ = conn.Close()
	c := NewClient(identity("bob"), conn, 4)
	c.Send <- []byte("a")
	c.Send <- []byte("b")
	close(c.Send)

	c.WritePump()
	<-c.Done()
	assert.Zero(t, conn.writes())
}
