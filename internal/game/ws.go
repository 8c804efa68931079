package game

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 25 * time.Second
	maxFrameSize = 64 << 10
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientConn is the outbound side of one socket: envelopes are queued on
// send and written by the writer loop.
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClientConn(ws *websocket.Conn, log *slog.Logger) *ClientConn {
	if log == nil {
		log = slog.Default()
	}
	return &ClientConn{ws: ws, send: make(chan []byte, sendBuffer), log: log}
}

// Send queues env. When the queue is full the client is not reading: the
// socket is closed and the reader loop tears the session down.
func (c *ClientConn) Send(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Error("marshal envelope", "message_type", env.MessageType, "err", err)
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- b:
		c.mu.Unlock()
		return
	default:
	}
	c.closed = true
	c.mu.Unlock()

	c.log.Warn("client not reading, closing connection", "message_type", env.MessageType, "queued", len(c.send))
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

func (c *ClientConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleWS runs one game session over a socket.
// Auth: "Authorization: Bearer <jwt>" or /ws?token=<jwt>.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxFrameSize)

	cc := newClientConn(ws, s.log)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		cc.writeLoop()
	}()

	sess := s.sessions.Open(r.Context(), Player{ID: claims.UserID, Name: claims.DisplayName}, cc)

	// reader loop
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.Malformed()
			continue
		}
		sess.Handle(env)
	}

	// disconnect
	s.sessions.Close(sess)
	cc.Close()
	<-writerDone
}
