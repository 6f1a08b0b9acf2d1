package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"x10-go-home/internal/adapter"
)

const (
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
	wsCmdTimeout   = 10 * time.Second
)

// WSHub fans adapter events out to WebSocket clients.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	logger  *slog.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan any

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWSHub creates a hub. Run must be called to start it.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan any, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("ws marshal", "err", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.drop(c)
					h.logger.Warn("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c; h.mu must be held.
func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
}

// Stop shuts the hub down. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg for every client, dropping it if the queue is full.
func (h *WSHub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws broadcast channel full, dropping message")
	}
}

// wsCommand is a property change sent by a client.
type wsCommand struct {
	DeviceID string `json:"device_id"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

type wsReply struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	// The snapshot is queued before registering so it precedes any event.
	devices := s.adapter.Devices()
	infos := make([]adapter.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	if data, err := json.Marshal(adapter.Event{Type: "snapshot", Data: infos}); err == nil {
		client.send <- data
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReadPump applies property commands sent by the client and replies on
// the same connection.
func (s *Server) wsReadPump(c *wsClient) {
	defer func() {
		select {
		case s.wsHub.unregister <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		reply := s.applyWSCommand(ctx, data)
		out, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		s.wsHub.mu.RLock()
		_, live := s.wsHub.clients[c]
		if live {
			select {
			case c.send <- out:
			default:
			}
		}
		s.wsHub.mu.RUnlock()
	}
}

func (s *Server) applyWSCommand(ctx context.Context, data []byte) wsReply {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return wsReply{Type: "error", Error: "invalid command"}
	}
	ctx, cancel := context.WithTimeout(ctx, wsCmdTimeout)
	defer cancel()
	applied, err := s.adapter.SetProperty(ctx, cmd.DeviceID, cmd.Property, cmd.Value)
	reply := wsReply{Type: "result", DeviceID: cmd.DeviceID, Property: cmd.Property, Value: applied}
	if err != nil {
		reply.Error = err.Error()
	}
	return reply
}
