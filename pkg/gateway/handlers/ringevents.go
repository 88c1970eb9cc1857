package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aqual-ai/aqual-gateway/pkg/gateway/mw"
)

const maxRingEventBytes = 32 << 10

// Ring is a bounded in-memory event feed. Companion tools on the same
// machine push events (page changes, reading position, alerts) and the
// extension polls them with a cursor; nothing persists across restarts.
type Ring struct {
	mu     sync.Mutex
	events []ringEvent
	cursor int64
	cap    int
}

type ringEvent struct {
	Cursor  int64           `json:"cursor"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{cap: capacity}
}

// Push appends one event and returns its cursor. The oldest events
// fall off once the ring is full.
func (g *Ring) Push(payload json.RawMessage) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cursor++
	g.events = append(g.events, ringEvent{Cursor: g.cursor, Time: time.Now().UTC(), Payload: payload})
	if len(g.events) > g.cap {
		g.events = g.events[len(g.events)-g.cap:]
	}
	return g.cursor
}

// After returns every buffered event with a cursor greater than the
// given one, plus the cursor to poll from next.
func (g *Ring) After(cursor int64) ([]ringEvent, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := 0
	for i < len(g.events) && g.events[i].Cursor <= cursor {
		i++
	}
	out := make([]ringEvent, len(g.events)-i)
	copy(out, g.events[i:])
	return out, g.cursor
}

func (g *Ring) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

// RingPushHandler serves POST /v1/ring-events/push.
type RingPushHandler struct {
	Ring *Ring
}

func (h RingPushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRingEventBytes)
	var payload json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	cursor := h.Ring.Push(payload)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]int64{"cursor": cursor})
}

// RingPollHandler serves GET /v1/ring-events/poll?cursor=N.
type RingPollHandler struct {
	Ring *Ring
}

func (h RingPollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	cursor := int64(0)
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			mw.WriteJSONError(w, http.StatusBadRequest, "bad_request", "cursor must be a non-negative integer")
			return
		}
		cursor = n
	}
	events, next := h.Ring.After(cursor)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Events []ringEvent `json:"events"`
		Cursor int64       `json:"cursor"`
	}{Events: events, Cursor: next})
}
