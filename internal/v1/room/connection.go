package room

import (
	"context"
	"net/http"
	"time"

	"github.com/giilbert/radix/internal/v1/codec"
	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/giilbert/radix/internal/v1/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// messageLimiter is the one method Connection needs from
// *ratelimit.RateLimiter, kept local to avoid this package importing
// ratelimit's gin-flavored dependency surface just for one check.
type messageLimiter interface {
	CheckMessage(ctx context.Context, userID string) bool
}

// outboundBuffer bounds how many unsent frames queue up for one
// connection before the room actor starts blocking on it.
const outboundBuffer = 100

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsConnection is the subset of *websocket.Conn the connection endpoint
// depends on, so tests can exercise readPump/writePump against a fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Upgrader builds the gorilla/websocket upgrader used to accept a room
// connection, checking the request's Origin header against an allow list.
func Upgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// Connection bridges one upgraded WebSocket to a room actor: readPump
// decodes inbound frames and forwards them as commands, writePump
// drains the actor's outbound channel onto the socket.
type Connection struct {
	conn    wsConnection
	room    *Room
	connID  domain.ConnectionIDType
	user    domain.User
	send    chan outbound
	limiter messageLimiter
}

// Serve upgrades the request, registers a new connection with room, and
// blocks running the connection's read/write pumps until the socket
// closes or the room removes it. onExit runs once both pumps have
// stopped (releasing the user from the registry's membership map is
// the caller's job per the connection endpoint's exit-path contract).
// limiter may be nil to skip per-message rate limiting.
// The calling HTTP handler stays blocked in Serve for the connection's
// lifetime.
func Serve(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader, rm *Room, user domain.User, limiter messageLimiter, onExit func()) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Connection{
		conn:    conn,
		room:    rm,
		connID:  NewConnectionID(),
		user:    user,
		send:    make(chan outbound, outboundBuffer),
		limiter: limiter,
	}

	rm.AddConnection(c.connID, c.user, c.send)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	<-done

	if onExit != nil {
		onExit()
	}
	return nil
}

// readPump continuously decodes inbound text frames and forwards them
// to the room. Exits (and removes the connection) on any read error,
// including the deliberate close the writePump issues once send closes.
func (c *Connection) readPump() {
	defer func() {
		c.room.RemoveConnection(c.connID)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := codec.DecodeClientCommand(data)
		if err != nil {
			logging.Warn(context.Background(), "dropping malformed client frame", zap.Error(err), zap.String("connection_id", string(c.connID)))
			continue
		}

		if cmd.Tag == codec.ClientSendChatMessage && c.limiter != nil {
			if !c.limiter.CheckMessage(context.Background(), string(c.user.ID)) {
				continue
			}
		}

		c.room.ClientSent(c.connID, cmd)
	}
}

// writePump drains the connection's outbound channel onto the socket,
// interleaving periodic pings so idle clients don't time out a
// middlebox's connection tracking.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
