package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/engine"
)

const (
	maxStreamConns = 16
	streamBuffer   = 1024
	writeWait      = 5 * time.Second
	pingPeriod     = 30 * time.Second
)

// StreamMessage is one websocket frame of the activity stream.
type StreamMessage struct {
	Type     string                 `json:"type"` // "activity" or "day"
	Activity *engine.ActivityRecord `json:"activity,omitempty"`
	Day      *engine.DayReport      `json:"day,omitempty"`
}

// Hub fans simulation output out to websocket clients. It implements
// engine.Observer; slow clients lose messages rather than stall the
// simulation.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	dropped atomic.Uint64
}

type client struct {
	agent agents.AgentID // 0 = every agent
	send  chan []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ObserveActivity forwards rec to clients watching its agent.
func (h *Hub) ObserveActivity(rec engine.ActivityRecord) {
	h.broadcast(rec.Agent, StreamMessage{Type: "activity", Activity: &rec})
}

// ObserveDay forwards rep to every client.
func (h *Hub) ObserveDay(rep engine.DayReport) {
	h.broadcast(0, StreamMessage{Type: "day", Day: &rep})
}

func (h *Hub) broadcast(agent agents.AgentID, m StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	for c := range h.clients {
		if agent != 0 && c.agent != 0 && c.agent != agent {
			continue
		}
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many messages slow clients missed.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(agent agents.AgentID) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= maxStreamConns {
		return nil
	}
	c := &client{agent: agent, send: make(chan []byte, streamBuffer)}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and streams activity records as
// they start, plus daily reports. ?agent=ID narrows the activities to one
// agent.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.StreamKey != "" && !hasBearer(r, s.StreamKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var agent agents.AgentID
	if v := r.URL.Query().Get("agent"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid agent id", http.StatusBadRequest)
			return
		}
		agent = agents.AgentID(id)
	}

	c := s.hub.add(agent)
	if c == nil {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.remove(c)
		return
	}
	slog.Info("stream client connected", "remote", r.RemoteAddr, "agent", agent)

	// Reader: only control frames are expected; an error means the
	// client went away.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		s.hub.remove(c)
		conn.Close()
		<-readDone
		slog.Info("stream client disconnected", "remote", r.RemoteAddr)
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
