package api

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/subpay/backend/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second // must be < wsPongWait
)

// EventFeed streams engine change notifications to websocket subscribers.
// Each connection gets its own bus subscription; a lagging client drops
// events rather than backpressuring publishers.
type EventFeed struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// NewEventFeed builds the feed. In production (SUBPAY_ENV=production) only
// origins listed in SUBPAY_ALLOWED_ORIGINS are accepted.
func NewEventFeed(bus *events.Bus) *EventFeed {
	return &EventFeed{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(),
		},
	}
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("SUBPAY_ENV")
	allowedRaw := os.Getenv("SUBPAY_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Info("websocket origin rejected", "origin", origin)
			return false
		}
	}
	if env == "production" {
		slog.Warn("SUBPAY_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(*http.Request) bool { return true }
}

// Handle upgrades the connection and streams events until the client goes
// away.
func (f *EventFeed) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := f.bus.Subscribe() // all event types
	defer f.bus.Unsubscribe(sub)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader only drains control frames; its exit signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			payload, err := event.JSON()
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
