package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/push-protocol/push-vnode-sub003/internal/protocol"
)

// registerProfileRequest is the wire form of a profile registration.
type registerProfileRequest struct {
	DID         string   `json:"did"`
	PublicKey   string   `json:"publicKey"`
	BlockedDIDs []string `json:"blockedDIDs"`
	Timestamp   int64    `json:"timestamp"` // ms epoch
	Proof       string   `json:"verificationProof"`
}

// RegisterProfile handles POST /v1/users.
func (h *Handler) RegisterProfile(w http.ResponseWriter, r *http.Request) {
	var req registerProfileRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, perr := h.svc.RegisterProfile(r.Context(), protocol.ProfileRequest{
		DID:         req.DID,
		PublicKey:   req.PublicKey,
		BlockedDIDs: req.BlockedDIDs,
		Timestamp:   msTime(req.Timestamp),
		Proof:       req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusCreated, p)
}

// GetProfile handles GET /v1/users/{did}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, perr := h.svc.GetProfile(r.Context(), chi.URLParam(r, "did"))
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, p)
}
