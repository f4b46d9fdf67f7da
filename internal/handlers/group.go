package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/protocol"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

// createGroupBody is the wire form of a group creation.
type createGroupBody struct {
	Creator     string         `json:"creator"`
	GroupName   string         `json:"groupName"`
	Description string         `json:"groupDescription"`
	Image       string         `json:"groupImage"`
	Members     []string       `json:"members"`
	Admins      []string       `json:"admins"`
	IsPublic    bool           `json:"isPublic"`
	GroupType   string         `json:"groupType"`
	Rules       *rules.RuleSet `json:"rules"`
	Meta        string         `json:"meta"`
	ScheduleAt  *time.Time     `json:"scheduleAt"`
	ScheduleEnd *time.Time     `json:"scheduleEnd"`
	Timestamp   int64          `json:"timestamp"`
	Proof       string         `json:"verificationProof"`
}

// CreateGroup handles POST /v1/chat/groups.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, perr := h.svc.CreateGroup(r.Context(), protocol.GroupCreateRequest{
		Creator:     req.Creator,
		GroupName:   req.GroupName,
		Description: req.Description,
		Image:       req.Image,
		Members:     req.Members,
		Admins:      req.Admins,
		IsPublic:    req.IsPublic,
		GroupType:   models.GroupType(req.GroupType),
		Rules:       req.Rules,
		Meta:        req.Meta,
		ScheduleAt:  req.ScheduleAt,
		ScheduleEnd: req.ScheduleEnd,
		Timestamp:   msTime(req.Timestamp),
		Proof:       req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusCreated, chat)
}

// GetGroup handles GET /v1/chat/groups/{chatId}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	chat, perr := h.svc.GetChat(r.Context(), chi.URLParam(r, "chatId"))
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, chat)
}

// groupProfileBody is the wire form of a group profile update.
type groupProfileBody struct {
	Signer      string         `json:"signer"`
	GroupName   string         `json:"groupName"`
	Description string         `json:"groupDescription"`
	Image       string         `json:"groupImage"`
	Rules       *rules.RuleSet `json:"rules"`
	Proof       string         `json:"verificationProof"`
}

// UpdateGroupProfile handles PUT /v1/chat/groups/{chatId}/profile.
func (h *Handler) UpdateGroupProfile(w http.ResponseWriter, r *http.Request) {
	var req groupProfileBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, perr := h.svc.UpdateGroupProfile(r.Context(), protocol.GroupProfileRequest{
		ChatID:      chi.URLParam(r, "chatId"),
		Signer:      req.Signer,
		GroupName:   req.GroupName,
		Description: req.Description,
		Image:       req.Image,
		Rules:       req.Rules,
		Proof:       req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, chat)
}

// groupConfigBody is the wire form of a group config update.
type groupConfigBody struct {
	Signer      string     `json:"signer"`
	Meta        *string    `json:"meta"`
	ScheduleAt  *time.Time `json:"scheduleAt"`
	ScheduleEnd *time.Time `json:"scheduleEnd"`
	Status      string     `json:"status"`
	Proof       string     `json:"verificationProof"`
}

// UpdateGroupConfig handles PUT /v1/chat/groups/{chatId}/config.
func (h *Handler) UpdateGroupConfig(w http.ResponseWriter, r *http.Request) {
	var req groupConfigBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, perr := h.svc.UpdateGroupConfig(r.Context(), protocol.GroupConfigRequest{
		ChatID:      chi.URLParam(r, "chatId"),
		Signer:      req.Signer,
		Meta:        req.Meta,
		ScheduleAt:  req.ScheduleAt,
		ScheduleEnd: req.ScheduleEnd,
		Status:      models.ChatStatus(req.Status),
		Proof:       req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, chat)
}

// memberDeltaBody is the wire form of a membership delta.
type memberDeltaBody struct {
	Signer          string   `json:"signer"`
	UpsertAdmins    []string `json:"upsertAdmins"`
	UpsertMembers   []string `json:"upsertMembers"`
	Remove          []string `json:"remove"`
	EncryptedSecret string   `json:"encryptedSecret"`
	Proof           string   `json:"verificationProof"`
}

// UpdateGroupMembers handles PUT /v1/chat/groups/{chatId}/members.
func (h *Handler) UpdateGroupMembers(w http.ResponseWriter, r *http.Request) {
	var req memberDeltaBody
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat, perr := h.svc.ApplyMemberDelta(r.Context(), protocol.MemberDelta{
		ChatID:          chi.URLParam(r, "chatId"),
		Signer:          req.Signer,
		UpsertAdmins:    req.UpsertAdmins,
		UpsertMembers:   req.UpsertMembers,
		Remove:          req.Remove,
		EncryptedSecret: req.EncryptedSecret,
		Proof:           req.Proof,
	})
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, chat)
}

// GroupAccess handles GET /v1/chat/groups/{chatId}/access/{did}.
func (h *Handler) GroupAccess(w http.ResponseWriter, r *http.Request) {
	access, perr := h.svc.GroupAccess(r.Context(), chi.URLParam(r, "chatId"), chi.URLParam(r, "did"))
	if perr != nil {
		h.ProtocolError(w, perr)
		return
	}
	h.JSON(w, http.StatusOK, access)
}
