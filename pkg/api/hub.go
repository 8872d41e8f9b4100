package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"churnrig/pkg/log"
	"churnrig/pkg/sequencer"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 64
)

// Message is what the live feed sends to every client.
type Message struct {
	Type    string    `json:"type"` // report, event, run
	Time    time.Time `json:"time"`
	Text    string    `json:"text,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Event   *EventMsg `json:"event,omitempty"`
}

// EventMsg is the wire form of a sequencer.Event.
type EventMsg struct {
	Kind    string `json:"kind"`
	Tick    int    `json:"tick"`
	From    string `json:"from,omitempty"`
	Stage   string `json:"stage"`
	Axis    string `json:"axis,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub fans reports and cycle events out to websocket clients. It is a
// telemetry Sink and RunObserver; sends never block the caller, and a
// client that falls behind loses messages.
type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*wsClient
	nextID  int64
	closed  bool
	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.GetLogger("api")
	}
	return &Hub{
		log:     logger,
		clients: make(map[int64]*wsClient),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Report(text string) {
	h.Broadcast(Message{Type: "report", Time: time.Now(), Text: text})
}

func (h *Hub) RunStarted(runID string, at time.Time) {
	h.Broadcast(Message{Type: "run", Time: at, RunID: runID, Outcome: "started"})
}

func (h *Hub) RunEnded(runID, outcome string, at time.Time) {
	h.Broadcast(Message{Type: "run", Time: at, RunID: runID, Outcome: outcome})
}

// Event forwards a cycle event; use it as the controller's listener.
func (h *Hub) Event(ev sequencer.Event) {
	msg := &EventMsg{
		Kind:    ev.Kind.String(),
		Tick:    ev.Tick,
		Stage:   ev.Stage.String(),
		Axis:    ev.Axis,
		Action:  ev.Action,
		Message: ev.Message,
	}
	if ev.Kind == sequencer.EventStage {
		msg.From = ev.From.String()
	}
	h.Broadcast(Message{Type: "event", Time: time.Now(), Event: msg})
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.send(msg) {
			h.dropped.Add(1)
		}
	}
}

// Clients counts connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages lost to full client queues.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP upgrades the request and serves the feed until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.nextID++
	c := &wsClient{
		id:     h.nextID,
		conn:   conn,
		hub:    h,
		sendCh: make(chan Message, sendQueue),
		done:   make(chan struct{}),
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	h.log.WithField("client", c.id).Debug("websocket client connected")
	go c.writePump()
	c.readPump()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.log.WithField("client", c.id).Debug("websocket client disconnected")
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan Message
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) send(msg Message) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards client input; it only keeps the read deadline fresh
// and notices disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Warn("websocket read failed")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
