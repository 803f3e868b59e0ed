// Package notify broadcasts regeneration events to websocket clients.
//
// In watch mode the pipeline publishes one Message per handled change.
// Editors and browser tooling can subscribe on /events to reload generated
// files as soon as they are written.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
)

// Message types.
const (
	TypeReady  = "ready"
	TypeSchema = "schema"
	TypeInput  = "input"
)

// Path is the HTTP path clients connect to.
const Path = "/events"

const (
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 16
)

// Message announces that an entry was regenerated. Entry is -1 for
// messages that concern every entry.
type Message struct {
	Type      string    `json:"type"`
	Entry     int       `json:"entry"`
	Files     []string  `json:"files,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans messages out to them.
//
// clients is only touched by the run goroutine.
type Hub struct {
	logger         logging.Logger
	originPatterns []string

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	count      chan chan int

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// NewHub creates a hub and starts its run loop. originPatterns are passed to
// websocket.Accept; empty means same-origin only.
func NewHub(logger logging.Logger, originPatterns ...string) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:         logger.WithComponent("notify"),
		originPatterns: originPatterns,
		clients:        make(map[*client]struct{}),
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan []byte, 64),
		count:          make(chan chan int),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request to a websocket and subscribes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "Websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast queues msg for every connected client. It never blocks; when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(ctx, err, "Cannot encode notification")
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn(ctx, nil, "Notification queue full, dropping message", "type", msg.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	reply := make(chan int)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Serve listens on addr and serves the hub on Path until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return pigerrors.NewIOError("cannot listen for notifications", err).WithContext("addr", addr)
	}
	return h.ServeListener(ctx, ln)
}

// ServeListener serves the hub on ln until ctx is done.
func (h *Hub) ServeListener(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	h.logger.Info(ctx, "Serving notifications", "addr", ln.Addr().String(), "path", Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return pigerrors.NewIOError("notification server failed", err)
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug(h.ctx, "Client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.drop(c)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case <-h.ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Debug(h.ctx, "Client disconnected", "clients", len(h.clients))
}

// readPump discards client messages and returns when the connection closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.CloseNow()
	}()

	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				_ = c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = c.conn.CloseNow()
				return
			}
		}
	}
}
