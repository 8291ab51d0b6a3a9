package views

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stable-action/models"
	"stable-action/services/transform"
	"stable-action/utils"
)

// OverlayMessage is one pose update as sent to overlay clients.
type OverlayMessage struct {
	Pose    models.Pose        `json:"pose"`
	Overlay transform.Overlay  `json:"overlay"`
	Corners [4]transform.Point `json:"corners"`
}

// OverlayHub fans the best-effort pose feed out to websocket clients. A slow
// client only ever misses intermediate poses.
type OverlayHub struct {
	c        transform.Constants
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan models.Pose]struct{}
	last    models.Pose
}

func NewOverlayHub(c transform.Constants) *OverlayHub {
	return &OverlayHub{
		c: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[chan models.Pose]struct{}),
	}
}

// Run forwards updates until ctx ends or the feed closes.
func (h *OverlayHub) Run(ctx context.Context, updates <-chan models.Pose) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(p)
		}
	}
}

// Broadcast offers p to every client, replacing an unsent pose.
func (h *OverlayHub) Broadcast(p models.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	for ch := range h.clients {
		offer(ch, p)
	}
}

func offer(ch chan models.Pose, p models.Pose) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

func (h *OverlayHub) subscribe() chan models.Pose {
	ch := make(chan models.Pose, 1)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	ch <- h.last
	h.mu.Unlock()
	return ch
}

func (h *OverlayHub) unsubscribe(ch chan models.Pose) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// Clients is the number of connected overlay clients.
func (h *OverlayHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Message computes the overlay for a viewW×viewH viewport.
func (h *OverlayHub) Message(p models.Pose, viewW, viewH float64) OverlayMessage {
	o := transform.OverlayGeometry(viewW, viewH, p, h.c)
	return OverlayMessage{Pose: p, Overlay: o, Corners: o.Corners()}
}

// ServeHTTP upgrades to a websocket. The viewport comes from ?w=&h=
// (default 360×480).
func (h *OverlayHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	viewW := queryFloat(req, "w", 360)
	viewH := queryFloat(req, "h", 480)

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		utils.L().Warn("overlay: upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// the reader only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case p := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(h.Message(p, viewW, viewH)); err != nil {
				utils.L().Debug("overlay: client gone: %v", err)
				return
			}
		}
	}
}

func queryFloat(req *http.Request, key string, def float64) float64 {
	v, err := strconv.ParseFloat(req.URL.Query().Get(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
