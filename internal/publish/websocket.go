package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/posecast/internal/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
	// sendQueue bounds the events buffered per client. A client whose queue
	// is full when an event arrives is disconnected.
	sendQueue = 16
)

// WebSocket broadcasts each event as JSON to every client connected on /ws.
// A client that connects mid-session first receives the latest event.
// Publish never waits on a client; each one has its own writer goroutine.
type WebSocket struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*wsClient
	mu       sync.Mutex
	last     []byte
	server   *http.Server
	listener net.Listener
	log      *logrus.Entry
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}
// NewWebSocket listens on addr and starts serving. Use ":0" for a random port.
func NewWebSocket(addr string, log *logrus.Logger) (*WebSocket, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", addr, err)
	}

	ws := newWebSocket(log.WithField("sink", "websocket"))
	ws.listener = ln
	ws.server = &http.Server{
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.log.WithError(err).Error("websocket server stopped")
		}
	}()
	ws.log.WithField("addr", ln.Addr().String()).Info("websocket server listening")
	return ws, nil
}

func newWebSocket(log *logrus.Entry) *WebSocket {
	return &WebSocket{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*wsClient),
		log:     log,
	}
}

// Addr is the bound listen address.
func (s *WebSocket) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler serves /ws and /healthz.
func (s *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *WebSocket) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &wsClient{conn: conn, send: make(chan []byte, sendQueue)}
	s.mu.Lock()
	s.clients[conn] = c
	if s.last != nil {
		c.send <- s.last
	}
	s.mu.Unlock()

	go s.writePump(c)
	go func() {
		defer s.removeClient(conn)
		// Clients only listen; reading drives pong and close handling.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// writePump is the only writer on c.conn. It exits when the send queue is
// closed or a write fails, closing the connection either way.
func (s *WebSocket) writePump(c *wsClient) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocket) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "ws_clients": s.ClientCount()})
}

// Publish queues the event for every client without blocking. Clients that
// have fallen sendQueue events behind are dropped.
func (s *WebSocket) Publish(_ context.Context, event types.PoseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var slow []*websocket.Conn
	s.mu.Lock()
	s.last = payload
	for conn, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range slow {
		s.removeClient(conn)
	}
	if len(slow) > 0 {
		s.log.WithField("dropped_clients", len(slow)).Warn("dropped slow websocket clients")
	}
	return nil
}

// removeClient forgets conn and stops its writer. Safe to call twice.
func (s *WebSocket) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	c, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(c.send)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()
}

// ClientCount reports the connected clients.
func (s *WebSocket) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops the server and disconnects every client.
func (s *WebSocket) Close() error {
	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		s.removeClient(conn)
	}
	return err
}
