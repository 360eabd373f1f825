package app

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rollcall/internal/remote"
	"rollcall/internal/roster"
)

const (
	liveSendBuffer = 16
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 30 * time.Second
)

// liveMessage is the frame pushed to websocket clients.
type liveMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type rosterFrame struct {
	Participants []roster.Participant `json:"participants"`
	Summary      roster.Summary       `json:"summary"`
	CurrentEvent string               `json:"currentEvent,omitempty"`
	EventDate    string               `json:"eventDate,omitempty"`
	Change       roster.ChangeKind    `json:"change,omitempty"`
}

type syncFrame struct {
	Op            string            `json:"op"`
	Kind          roster.ChangeKind `json:"kind"`
	ParticipantID int               `json:"participantId,omitempty"`
	Error         string            `json:"error"`
}

type liveClient struct {
	conn *websocket.Conn
	// wake is signalled when a newer roster frame is available.
	wake chan struct{}
	send chan liveMessage
	quit chan struct{}
	once sync.Once
}

func (c *liveClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

// Hub fans roster changes out to websocket clients. Clients always receive
// the latest roster; intermediate frames are skipped when a client lags.
type Hub struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	latest  *liveMessage
	closed  bool
}

var _ roster.Listener = (*Hub)(nil)

func NewHub(corsOrigin string, log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
			if corsOrigin == "" || corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == corsOrigin
		}},
		log:     log.With("component", "live"),
		clients: map[*liveClient]struct{}{},
	}
}

// RosterChanged publishes the roster as it stood after c.
func (h *Hub) RosterChanged(c roster.Change) {
	msg := liveMessage{Type: "roster", Data: newRosterFrame(c.Snapshot, c.Kind)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &msg
	for client := range h.clients {
		select {
		case client.wake <- struct{}{}:
		default:
		}
	}
}

// SyncFailed tells clients that a background push did not reach the remote
// store.
func (h *Hub) SyncFailed(res remote.Result) {
	msg := liveMessage{Type: "sync_error", Data: syncFrame{
		Op:            res.Op,
		Kind:          res.Kind,
		ParticipantID: res.ParticipantID,
		Error:         res.Err.Error(),
	}}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// Serve upgrades the request and streams roster frames, starting with
// current.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, current roster.Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &liveClient{
		conn: conn,
		wake: make(chan struct{}, 1),
		send: make(chan liveMessage, liveSendBuffer),
		quit: make(chan struct{}),
	}
	client.send <- liveMessage{Type: "roster", Data: newRosterFrame(current, "")}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("live client connected", "remote", r.RemoteAddr)

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*liveClient]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.stop()
	}
}

func (h *Hub) remove(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) latestFrame() *liveMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Hub) writeLoop(c *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	write := func(msg liveMessage) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.log.Debug("live write failed", "error", err)
			h.remove(c)
			return false
		}
		return true
	}
	for {
		select {
		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if !write(msg) {
				return
			}
		case <-c.wake:
			if msg := h.latestFrame(); msg != nil && !write(*msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client frames and notices disconnects.
func (h *Hub) readLoop(c *liveClient) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newRosterFrame(s roster.Snapshot, kind roster.ChangeKind) rosterFrame {
	participants := s.Participants
	if participants == nil {
		participants = []roster.Participant{}
	}
	return rosterFrame{
		Participants: participants,
		Summary:      roster.Summarize(participants),
		CurrentEvent: s.CurrentEvent,
		EventDate:    s.EventDate,
		Change:       kind,
	}
}
