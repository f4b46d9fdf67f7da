package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/presence"
	"github.com/push-protocol/push-vnode-sub003/internal/protocol"
	"github.com/push-protocol/push-vnode-sub003/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc      *protocol.Service
	pg       store.DataStore
	redis    *store.RedisStore
	presence *presence.Tracker
	hub      *fanout.Hub
	logger   zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(svc *protocol.Service, pg store.DataStore, redis *store.RedisStore, tracker *presence.Tracker, hub *fanout.Hub, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, pg: pg, redis: redis, presence: tracker, hub: hub, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// errorBody is the wire form of a protocol failure.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// ProtocolError maps a typed protocol failure onto an HTTP status.
func (h *Handler) ProtocolError(w http.ResponseWriter, perr *protocol.Error) {
	status := http.StatusInternalServerError
	switch perr.Kind {
	case protocol.KindValidation:
		status = http.StatusBadRequest
	case protocol.KindAuthorization:
		status = http.StatusForbidden
	case protocol.KindConflict:
		status = http.StatusConflict
	case protocol.KindNotFound:
		status = http.StatusNotFound
	case protocol.KindDependency:
		status = http.StatusBadGateway
	}
	h.JSON(w, status, errorBody{Error: perr.Code, Message: perr.Message, Detail: perr.Detail})
}

// decode parses a JSON request body, rejecting unknown fields.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// msTime converts a millisecond epoch into a time.Time. Zero stays zero so
// the protocol layer can apply its own defaults.
func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
