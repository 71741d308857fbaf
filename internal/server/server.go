// Package server exposes the websocket endpoint clients connect to.
//
// A connection must authenticate with its first frame, then it joins the
// connection registry and receives broadcast events until it closes. The
// server accepts the opaque user ID it is handed; validating it is the
// identity provider's problem.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ripplehq/ripple/internal/registry"
)

// Defaults for the handshake and write deadlines.
const (
	DefaultAuthTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// authMessage is the required first client frame.
type authMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Server upgrades websocket connections and binds them into the
// registry.
type Server struct {
	registry     *registry.Registry
	upgrader     websocket.Upgrader
	authTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAuthTimeout sets how long a connection may take to send its
// authenticate frame.
func WithAuthTimeout(d time.Duration) Option {
	return func(s *Server) { s.authTimeout = d }
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// New creates a Server over the given registry.
func New(r *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry:     r,
		authTimeout:  DefaultAuthTimeout,
		writeTimeout: DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The HTTP surface in front of this engine handles origin
			// policy; the endpoint itself accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP mux serving the websocket endpoint at /ws.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	userID, ok := s.authenticate(ws)
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(s.writeTimeout))
		_ = ws.Close()
		return
	}

	c := &conn{
		ws:           ws,
		queue:        newOutQueue(),
		registry:     s.registry,
		writeTimeout: s.writeTimeout,
	}
	s.registry.Join(userID, c)
	slog.Info("client connected", "user", userID, "remote", r.RemoteAddr)

	go c.writeLoop()

	// Inbound frames beyond the handshake are ignored; the read loop
	// only exists to notice the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	s.registry.Leave(c)
	c.close()
	slog.Info("client disconnected", "user", userID)
}

// authenticate reads the first frame and requires an authenticate
// message with a non-empty user ID within the handshake deadline.
func (s *Server) authenticate(ws *websocket.Conn) (string, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(s.authTimeout))
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	var msg authMessage
	if err := ws.ReadJSON(&msg); err != nil {
		return "", false
	}
	if msg.Type != "authenticate" || msg.UserID == "" {
		return "", false
	}
	return msg.UserID, true
}

// conn is one client connection: a websocket plus its outbound queue.
// It implements registry.Channel.
type conn struct {
	ws           *websocket.Conn
	queue        *outQueue
	registry     *registry.Registry
	writeTimeout time.Duration
	once         sync.Once
}

// Enqueue implements registry.Channel.
func (c *conn) Enqueue(event string, payload []byte) bool {
	return c.queue.enqueue(outItem{event: event, payload: payload})
}

// close tears the connection down once, from whichever side notices
// first.
func (c *conn) close() {
	c.once.Do(func() {
		c.queue.close()
		_ = c.ws.Close()
	})
}

// writeLoop is the single writer goroutine: it drains the queue in FIFO
// order. A write failure removes the connection from the registry so
// fan-out stops feeding it.
func (c *conn) writeLoop() {
	for {
		item, ok := c.queue.tryDequeue()
		if ok {
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, item.payload); err != nil {
				slog.Debug("write failed, dropping connection", "event", item.event, "error", err)
				c.registry.Leave(c)
				c.close()
				return
			}
			continue
		}

		<-c.queue.wait()
		if c.queue.drained() {
			return
		}
	}
}
