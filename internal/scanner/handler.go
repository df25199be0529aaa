package scanner

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nexus-ims/nexus/internal/auth/apikeys"
	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	// maxMessageSize caps inbound frames; scan messages are tiny.
	maxMessageSize = 4 << 10
)

// KeyVerifier authenticates scanner devices.
type KeyVerifier interface {
	Verify(ctx context.Context, presented string) (*apikeys.Key, error)
}

// Handler upgrades scanner connections and pumps messages through the service.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	keys     KeyVerifier
	upgrader websocket.Upgrader
}

// NewHandler constructs the scanner handler.
func NewHandler(logger *slog.Logger, service *Service, keys KeyVerifier) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		keys:    keys,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// MountRoutes registers the websocket endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/scan", h.handleScan)
}

// handleScan authenticates the device, upgrades the connection and serves the
// scan loop until the device disconnects. Scanner guns cannot set headers on a
// websocket dial, so the key arrives as a query parameter; the header forms
// are accepted too.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	presented := r.URL.Query().Get("api_key")
	if presented == "" {
		presented = keyFromHeaders(r)
	}
	key, err := h.keys.Verify(r.Context(), presented)
	if err != nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	identity := shared.Identity{TenantID: key.TenantID, ActorID: key.ActorID}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.logger.Info("scanner connected", "tenant_id", identity.TenantID, "key_id", key.ID)
	h.serve(r.Context(), conn, identity)
}

func keyFromHeaders(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.Header.Get("X-API-Key")
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, identity shared.Identity) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// One mutex per connection: the ping loop and the reply path must not
	// interleave writes on the same websocket.
	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, &writeMu, done)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("scanner connection dropped", "tenant_id", identity.TenantID, "error", err)
			}
			return
		}
		reply := h.service.Process(ctx, identity, msg)
		writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(reply)
		writeMu.Unlock()
		if err != nil {
			h.logger.Warn("scanner write failed", "tenant_id", identity.TenantID, "error", err)
			return
		}
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
