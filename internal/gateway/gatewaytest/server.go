// Package gatewaytest provides an in-process broadcast gateway for tests.
package gatewaytest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/duet/internal/gateway"
)

// Server is a websocket gateway that accepts a single bearer token, records every
// inbound frame, and lets tests push events or drop connections.
type Server struct {
	URL string

	srv      *httptest.Server
	token    string
	reject   atomic.Bool
	accepted atomic.Int32
	frames   chan gateway.Envelope

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	onFrame func(s *Server, env gateway.Envelope)
}

// NewServer starts a gateway that accepts token.
func NewServer(token string) *Server {
	s := &Server{
		token:  token,
		frames: make(chan gateway.Envelope, 256),
		conns:  make(map[*websocket.Conn]struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	s.URL = "ws" + strings.TrimPrefix(s.srv.URL, "http")
	return s
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Reject makes the server refuse every handshake with 401.
func (s *Server) Reject(v bool) { s.reject.Store(v) }

// Accepted returns the number of successful handshakes.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitConnections waits until exactly n connections are live.
func (s *Server) WaitConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Connections() == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Connections() == n
}

// Frames returns inbound frames in receipt order.
func (s *Server) Frames() <-chan gateway.Envelope { return s.frames }

// OnFrame registers a callback run for each inbound frame before it is recorded.
func (s *Server) OnFrame(fn func(s *Server, env gateway.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = fn
}

// Send pushes an event to every live connection.
func (s *Server) Send(event string, payload any) error {
	frame, err := gateway.Encode(event, payload)
	if err != nil {
		return err
	}
	return s.SendRaw(frame)
}

// SendRaw pushes a raw frame to every live connection.
func (s *Server) SendRaw(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range s.live() {
		if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
			return err
		}
	}
	return nil
}

// DropAll closes every live connection without a close handshake.
func (s *Server) DropAll() {
	for _, c := range s.live() {
		c.CloseNow()
	}
}

// Next waits up to timeout for the next inbound frame with the given event name,
// discarding others.
func (s *Server) Next(event string, timeout time.Duration) (gateway.Envelope, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-s.frames:
			if env.Event == event {
				return env, true
			}
		case <-deadline:
			return gateway.Envelope{}, false
		}
	}
}

func (s *Server) live() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() || r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.accepted.Add(1)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		env, err := gateway.Decode(data)
		if err != nil {
			continue
		}
		s.mu.Lock()
		fn := s.onFrame
		s.mu.Unlock()
		if fn != nil {
			fn(s, env)
		}
		select {
		case s.frames <- env:
		default:
		}
	}
}
