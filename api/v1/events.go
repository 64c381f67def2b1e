package v1

import (
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/manager"
	"github.com/tealfox/offliner/internal/requirements"
)

// EventMsg is one entry on the /v1/events stream.
type EventMsg struct {
	Type         string              `json:"type"`
	State        *data.DownloadState `json:"state,omitempty"`
	Requirements *requirementsView   `json:"requirements,omitempty"`
}

// EventHub fans manager events out to WebSocket subscribers. It is
// registered as a manager listener; broadcasts never block the
// coordinating goroutine, so a subscriber that falls behind loses events.
type EventHub struct {
	l *slog.Logger

	mu   sync.Mutex
	subs map[chan EventMsg]struct{}
}

func NewEventHub(l *slog.Logger) *EventHub {
	if l == nil {
		l = slog.Default()
	}
	return &EventHub{l: l, subs: make(map[chan EventMsg]struct{})}
}

var _ manager.Listener = (*EventHub)(nil)

func (h *EventHub) OnInitialized(m *manager.Manager) {
	h.broadcast(EventMsg{Type: "initialized"})
}

func (h *EventHub) OnDownloadStateChanged(m *manager.Manager, state *data.DownloadState) {
	h.broadcast(EventMsg{Type: "state", State: state})
}

func (h *EventHub) OnIdle(m *manager.Manager) {
	h.broadcast(EventMsg{Type: "idle"})
}

func (h *EventHub) OnRequirementsStateChanged(m *manager.Manager, reqs requirements.Requirements, notMet requirements.Flags) {
	h.broadcast(EventMsg{Type: "requirements", Requirements: &requirementsView{Required: reqs.Required, NotMet: notMet}})
}

func (h *EventHub) broadcast(e EventMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan EventMsg {
	ch := make(chan EventMsg, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan EventMsg) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Stream upgrades the request to a WebSocket and forwards events until the
// client goes away.
func (h *EventHub) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.l.Error("websocket accept", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				return
			}
		}
	}
}
