package room

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWsConn is a minimal wsConnection double: reads come from an
// inbound queue, writes land in an outbound log, and Close shuts both
// down — enough to drive readPump/writePump without a real socket.
type fakeWsConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	closed   bool
	closeErr error
}

func newFakeWsConn() *fakeWsConn {
	return &fakeWsConn{inbound: make(chan []byte, 10)}
}

func (f *fakeWsConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, msg, nil
}

func (f *fakeWsConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed connection")
	}
	cp := append([]byte(nil), data...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeWsConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return f.closeErr
}

func (f *fakeWsConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWsConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeWsConn) SetPongHandler(func(string) error) {}

func (f *fakeWsConn) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestConnectionReadPumpForwardsDecodedCommandsToRoom(t *testing.T) {
	queue := newTestQueue(false)
	defer queue.Close()

	r := NewRoom("room-1", domain.RoomConfig{Name: "room-1"}, queue, func(domain.RoomIDType) {})
	fake := newFakeWsConn()
	send := make(chan outbound, 10)
	c := &Connection{conn: fake, room: r, connID: "conn-1", user: testUser("u1", "Alice"), send: send}

	r.AddConnection(c.connID, c.user, c.send)
	for i := 0; i < 4; i++ {
		<-send
	}

	fake.inbound <- []byte(`{"t":"SendChatMessage","c":{"content":"hi"}}`)

	done := make(chan struct{})
	go func() {
		c.readPump()
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case frame := <-send:
			return strings.Contains(string(frame), "hi")
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	fake.Close()
	<-done

	r.Stop()
	<-r.Stopped()
}

func TestConnectionWritePumpDrainsOutboundAndClosesOnChannelClose(t *testing.T) {
	fake := newFakeWsConn()
	send := make(chan outbound, 10)
	c := &Connection{conn: fake, send: send}

	send <- []byte("frame-1")
	send <- []byte("frame-2")
	close(send)

	c.writePump()

	assert.True(t, fake.writtenCount() >= 2)
	assert.True(t, fake.closed)
}

