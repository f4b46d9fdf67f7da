package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/protocol"
)

// chatRequestBody is the wire form of a chat request (intent).
type chatRequestBody struct {
	FromDID   string `json:"fromDID"`
	ToDID     string `json:"toDID"`
	Type      string `json:"messageType"`
	Content   []byte `json:"messageContent"` // base64 on the wire
	Timestamp int64  `json:"timestamp"`      // ms epoch
	Proof     string `json:"verificationProof"`
}

// CreateChatRequest handles POST /v1/chat/request.
func (h *Handler) CreateChatRequest(w http.ResponseWriter, r *http.Request) {
	var req chatRequestBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, msg, perr := h.svc.CreateIntent(r.Context(), protocol.IntentRequest{
		FromDID:   req.FromDID,
		ToDID:     req.ToDID,
		Type:      models.MessageType(req.Type),
		Content:   req.Content,
		Timestamp: msTime(req.Timestamp),
		Proof:     req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusCreated, map[string]interface{}{
		"chat":    chat,
		"message": msg,
	})
}

// approvalBody is the wire form of an intent resolution.
type approvalBody struct {
	FromDID         string `json:"fromDID"`
	ToDID           string `json:"toDID"`
	ChatID          string `json:"chatId"`
	EncryptedSecret string `json:"encryptedSecret"`
	Proof           string `json:"verificationProof"`
}

func (b approvalBody) toRequest() protocol.ApprovalRequest {
	return protocol.ApprovalRequest{
		FromDID:         b.FromDID,
		ToDID:           b.ToDID,
		ChatID:          b.ChatID,
		EncryptedSecret: b.EncryptedSecret,
		Proof:           b.Proof,
	}
}

// ApproveChatRequest handles PUT /v1/chat/request/approve.
func (h *Handler) ApproveChatRequest(w http.ResponseWriter, r *http.Request) {
	var req approvalBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, perr := h.svc.ApproveIntent(r.Context(), req.toRequest())
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, chat)
}

// RejectChatRequest handles PUT /v1/chat/request/reject.
func (h *Handler) RejectChatRequest(w http.ResponseWriter, r *http.Request) {
	var req approvalBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if _, perr := h.svc.RejectIntent(r.Context(), req.toRequest()); perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "Rejected"})
}

// sendMessageBody is the wire form of a message into an established chat.
type sendMessageBody struct {
	ChatID    string `json:"chatId"`
	FromDID   string `json:"fromDID"`
	ToDID     string `json:"toDID"`
	Type      string `json:"messageType"`
	Content   []byte `json:"messageContent"`
	Timestamp int64  `json:"timestamp"`
	Proof     string `json:"verificationProof"`
}

// SendMessage handles POST /v1/chat/message.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, perr := h.svc.SendMessage(r.Context(), protocol.SendRequest{
		ChatID:    req.ChatID,
		FromDID:   req.FromDID,
		ToDID:     req.ToDID,
		Type:      models.MessageType(req.Type),
		Content:   req.Content,
		Timestamp: msTime(req.Timestamp),
		Proof:     req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// GetChatMessages handles GET /v1/chat/{chatId}/messages.
// Query: limit (default 30, max 100), before (ms epoch, exclusive).
func (h *Handler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	beforeMs, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	messages, perr := h.svc.ListMessages(r.Context(), chatID, limit, msTime(beforeMs))
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"chatId":   chatID,
		"messages": messages,
	})
}
