package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DetectionEvent is published after the Query Pipeline completes a
// submission, one per non-escalated query (§4.7, §5 supplemented
// feature).
type DetectionEvent struct {
	QueryID    string  `json:"query_id"`
	DetectorID string  `json:"detector_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	IsOODD     bool    `json:"is_oodd"`
	OccurredAt string  `json:"occurred_at"`
}

// AlertFiredEvent is published after the Alert Engine records a
// dispatch attempt, regardless of channel outcome.
type AlertFiredEvent struct {
	ConfigID     string `json:"config_id"`
	QueryID      string `json:"query_id"`
	DetectorName string `json:"detector_name"`
	Message      string `json:"message"`
	DispatchedOK bool   `json:"dispatched_ok"`
	OccurredAt   string `json:"occurred_at"`
}

// CameraHealthEvent mirrors a recorded CameraHealth sample; defined
// here for clients that decode the feed, even though nothing in this
// process currently publishes it (see DESIGN.md).
type CameraHealthEvent struct {
	CameraID   string  `json:"camera_id"`
	Status     string  `json:"status"`
	FPS        float64 `json:"fps"`
	OccurredAt string  `json:"occurred_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard clients are same-origin in production deployments; the
	// route sits behind the bearer-token middleware and the feed is
	// read-only broadcast data, so the origin check is not a trust
	// boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// Hub fans published events out to every websocket client subscribed
// to a topic (e.g. "detector:<id>", "camera:<id>"), grounded on the
// teacher's internal/live real-time session registry generalized from
// one RTSP viewing session per connection to one JSON event feed per
// connection.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]struct{}
	log  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[string]map[*websocket.Conn]struct{}), log: logger}
}

// Publish fans an event out to every connection currently subscribed
// to topic. A slow or dead connection's write error unsubscribes it
// rather than blocking the rest of the fan-out.
func (h *Hub) Publish(topic string, event any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[topic]))
	for c := range h.subs[topic] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteJSON(event); err != nil {
			h.unsubscribe(topic, c)
			c.Close()
		}
	}
}

func (h *Hub) subscribe(topic string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*websocket.Conn]struct{})
	}
	h.subs[topic][c] = struct{}{}
}

func (h *Hub) unsubscribe(topic string, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[topic], c)
	if len(h.subs[topic]) == 0 {
		delete(h.subs, topic)
	}
}

// ServeWS upgrades GET /api/v1/events?topic=detector:{id} to a
// websocket and streams every event published on that topic until the
// client disconnects. It never reads application messages from the
// client; the connection is outbound-only.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing topic query param", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("event stream upgrade failed", "topic", topic, "error", err)
		return
	}
	h.subscribe(topic, conn)

	defer func() {
		h.unsubscribe(topic, conn)
		conn.Close()
	}()

	// Drain and discard client frames solely to detect close/error;
	// ReadMessage blocks until the peer disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
