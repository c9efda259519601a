// Package ws streams readings to WebSocket clients as JSON events.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hx711-scale/pkg/device"
	"hx711-scale/pkg/output"
)

const DefaultPath = "/ws"

// Message is the event envelope; clients switch on Type.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// client wraps a connection with a write mutex; gorilla forbids
// concurrent writes on one Conn.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub broadcasts to the connected clients. Local single-user tool, so a
// simple in-memory set is enough; the payload is marshalled once and
// fanned out as raw bytes.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Broadcast sends msg to every client. Write failures are ignored; the
// per-connection read loop notices the dead connection and removes it.
func (h *Hub) Broadcast(msg Message) {
	b, _ := json.Marshal(msg)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// Server is the Output that serves the hub over HTTP.
type Server struct {
	hub  *Hub
	srv  *http.Server
	path string
}

var upgrader = websocket.Upgrader{
	// Local tool; readings are not sensitive and the UI may be served
	// from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer starts listening on addr and upgrades connections on path.
func NewServer(addr, path string) (output.Output, error) {
	if path == "" {
		path = DefaultPath
	}
	s := &Server{hub: NewHub(), path: path}

	mux := http.NewServeMux()
	mux.Handle(path, s.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ws listen %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: mux}
	go func() { _ = s.srv.Serve(ln) }()
	return s, nil
}

// Handler returns the upgrade handler, also usable under a caller-owned mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := s.hub.add(conn)
		// Read loop only to detect disconnects; inbound messages are
		// discarded.
		go func() {
			defer s.hub.remove(c)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

func (s *Server) Publish(r device.Reading) error {
	s.hub.Broadcast(Message{Type: "reading", Data: r})
	return nil
}

func (s *Server) Close() error {
	s.hub.closeAll()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return s.srv.Shutdown(ctx)
	}
	return nil
}
