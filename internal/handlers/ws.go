package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/presence"
)

// Connect handles GET /ws?did=... and holds the socket open for event
// delivery until the peer disconnects.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	rawDID := r.URL.Query().Get("did")
	if !did.Valid(rawDID) {
		h.Error(w, http.StatusBadRequest, "invalid did")
		return
	}

	connID := uuid.NewString()
	normalized, wentOnline, err := h.presence.Connect(r.Context(), rawDID, connID)
	if err != nil {
		if errors.Is(err, presence.ErrTooManyConnections) {
			h.Error(w, http.StatusTooManyRequests, "connection limit reached")
			return
		}
		h.logger.Error().Err(err).Str("did", rawDID).Msg("presence connect failed")
		h.Error(w, http.StatusServiceUnavailable, "presence unavailable")
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		if _, _, derr := h.presence.Disconnect(r.Context(), connID); derr != nil {
			h.logger.Warn().Err(derr).Str("conn", connID).Msg("presence rollback failed")
		}
		return
	}

	conn := h.hub.Register(connID, normalized, ws)
	metrics.PresenceConnections.Inc()
	if wentOnline {
		h.broadcastStatus(r.Context(), normalized, true)
	}

	// The socket is push-only; block until the peer goes away.
	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			break
		}
	}

	h.hub.Unregister(conn)
	metrics.PresenceConnections.Dec()
	ws.Close(websocket.StatusNormalClosure, "")

	// The request context is gone once the socket drops.
	cleanup := context.Background()
	didStr, wentOffline, err := h.presence.Disconnect(cleanup, connID)
	if err != nil {
		h.logger.Warn().Err(err).Str("conn", connID).Msg("presence disconnect failed")
		return
	}
	if wentOffline {
		h.broadcastStatus(cleanup, didStr, false)
	}
}

// broadcastStatus pushes an online-status delta to every local connection.
func (h *Handler) broadcastStatus(ctx context.Context, didStr string, online bool) {
	ev := fanout.Event{
		Kind: fanout.EventOnlineStatus,
		From: didStr,
		Payload: fanout.Payload(map[string]interface{}{
			"did":    didStr,
			"online": online,
		}),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.hub.Broadcast(ctx, data)
	metrics.FanoutEvents.WithLabelValues(fanout.EventOnlineStatus).Inc()
}
