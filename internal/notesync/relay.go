package notesync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/inkwell/inkwell/internal/record"
)

// RelayServer is the leaderless broadcast relay: every binary frame
// received from one peer is fanned out to every connected peer, the
// sender included. The relay never inspects payloads and holds no
// document state; echo suppression and idempotent merges on the
// receiving side make the at-least-once, echo-everything delivery safe.
type RelayServer struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex // per-conn write lock
}

// NewRelayServer creates a relay. It implements http.Handler.
func NewRelayServer(logger *slog.Logger) *RelayServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayServer{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// ServeHTTP upgrades the connection and relays frames until the peer
// disconnects.
func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = &sync.Mutex{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Info("relay peer connected", "remote", conn.RemoteAddr())
	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("relay peer disconnected", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		s.broadcast(frame)
	}
}

func (s *RelayServer) broadcast(frame []byte) {
	s.mu.Lock()
	peers := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, wl := range s.conns {
		peers[conn] = wl
	}
	s.mu.Unlock()

	for conn, wl := range peers {
		wl.Lock()
		err := conn.WriteMessage(websocket.BinaryMessage, frame)
		wl.Unlock()
		if err != nil {
			s.logger.Warn("relay write failed", "remote", conn.RemoteAddr(), "err", err)
		}
	}
}

// RelayClient connects a process to a RelayServer and implements
// Fabric over the connection.
type RelayClient struct {
	logger *slog.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	nextID int
	subs   map[int]func(record.UpdateRecord)
	closed bool
}

// DialRelay connects to a relay at url (ws://host:port/path).
func DialRelay(ctx context.Context, url string, logger *slog.Logger) (*RelayClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	c := &RelayClient{
		logger: logger,
		conn:   conn,
		subs:   make(map[int]func(record.UpdateRecord)),
	}
	go c.readLoop()
	return c, nil
}

// Publish implements Fabric.
func (c *RelayClient) Publish(ctx context.Context, rec record.UpdateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := record.MarshalWire(rec)
	if err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Subscribe implements Fabric.
func (c *RelayClient) Subscribe(fn func(record.UpdateRecord)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close tears the connection down.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *RelayClient) readLoop() {
	for {
		mt, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("relay connection lost", "err", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		rec, err := record.UnmarshalWire(frame)
		if err != nil {
			c.logger.Warn("dropping malformed relay frame", "err", err)
			continue
		}

		c.mu.Lock()
		fns := make([]func(record.UpdateRecord), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(rec)
		}
	}
}
