package protocol

import (
	"context"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/store"
)

// SendRequest carries a message into an established chat.
type SendRequest struct {
	ChatID    string
	FromDID   string
	ToDID     string // counterpart for direct chats; chatId echoes for groups
	Type      models.MessageType
	Content   []byte
	Timestamp time.Time
	Proof     string
}

// SendMessage appends a message to an established chat. Direct chats require
// an approved intent; group sends require approved membership and, when chat
// rules are configured, a passing evaluation.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*models.Message, *Error) {
	if perr := validDIDs([]string{req.FromDID}); perr != nil {
		return nil, perr
	}
	if len(req.Content) == 0 {
		return nil, validationf("empty_content", "message content is required")
	}
	if len(req.Content) > s.limits.MaxMessageBytes {
		return nil, validationf("content_too_large", "message exceeds %d bytes", s.limits.MaxMessageBytes)
	}

	chat, err := s.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, internalError(s.log, err, "send_message")
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "chat %q not found", req.ChatID)
	}

	if chat.IsGroup {
		if perr := s.authorizeGroupSend(ctx, chat, req.FromDID); perr != nil {
			return nil, perr
		}
	} else {
		if perr := authorizeDirectSend(chat, req.FromDID); perr != nil {
			return nil, perr
		}
		if req.Type.GroupOnly() {
			return nil, validationf("bad_message_type", "%q messages are group-only", req.Type)
		}
	}

	payload := proof.MessagePayload{
		FromDID:   req.FromDID,
		ToDID:     req.ToDID,
		Type:      string(req.Type),
		Content:   req.Content,
		Timestamp: req.Timestamp,
	}
	parsed, perr := s.verifyMessageProof(ctx, req.Proof, payload, req.FromDID)
	if perr != nil {
		return nil, perr
	}

	canonical, err := payload.CanonicalBytes(proof.SchemeMsgV2)
	if err != nil {
		return nil, internalError(s.log, err, "send_message")
	}
	reference, err := store.Reference(canonical)
	if err != nil {
		return nil, internalError(s.log, err, "send_message")
	}

	unlock := s.locks.Lock(chat.ChatID)
	defer unlock()

	// Re-read so the thread link reflects the latest write.
	chat, err = s.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, internalError(s.log, err, "send_message")
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "chat %q not found", req.ChatID)
	}

	msg := &models.Message{
		Reference:  reference,
		ChatID:     chat.ChatID,
		FromDID:    req.FromDID,
		ToDID:      req.ToDID,
		Type:       req.Type,
		Content:    req.Content,
		Link:       chat.Threadhash,
		Proof:      req.Proof,
		SessionKey: chat.SessionKey,
		Timestamp:  req.Timestamp,
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return nil, internalError(s.log, err, "send_message")
	}
	chat.Threadhash = reference
	if err := s.store.UpdateChat(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "send_message")
	}

	s.persistSideEffects(ctx, msg, canonical)
	s.auditProof(ctx, chat.ChatID, req.FromDID, req.Proof, parsed.Scheme, payload)

	chatType := "direct"
	if chat.IsGroup {
		chatType = "group"
	}
	metrics.MessagesStored.WithLabelValues(chatType).Inc()

	recipients := make([]string, 0, 8)
	for _, r := range models.SplitCombined(chat.CombinedDID) {
		if r != req.FromDID {
			recipients = append(recipients, r)
		}
	}
	s.deliver(ctx, fanout.EventMessage, chat, req.FromDID, msg, recipients)
	return msg, nil
}

func authorizeDirectSend(chat *models.Chat, sender string) *Error {
	participant := false
	for _, d := range models.SplitCombined(chat.CombinedDID) {
		if d == sender {
			participant = true
		}
	}
	if !participant {
		return authorizationf("not_a_participant", "sender is not part of this chat")
	}
	// Both sides may write only once the counterpart approved.
	if len(models.SplitIntent(chat.Intent)) < 2 {
		return authorizationf("intent_pending", "the chat request has not been approved")
	}
	return nil
}

func (s *Service) authorizeGroupSend(ctx context.Context, chat *models.Chat, sender string) *Error {
	if !models.HasIntent(chat.Intent, sender) {
		return authorizationf("not_a_member", "sender is not an approved member")
	}
	if chat.GroupType == models.GroupTypeSpaces && chat.Status != models.StatusActive {
		return conflictf("space_not_live", "the space is not live")
	}
	if chat.Rules != nil && chat.Rules.Chat != nil {
		subject := s.subjectFor(ctx, sender, false, "")
		if !s.engine.Evaluate(ctx, chat.Rules.Chat, subject) {
			metrics.RuleEvaluations.WithLabelValues("deny").Inc()
			return authorizationf("chat_denied", "chat conditions not met")
		}
		metrics.RuleEvaluations.WithLabelValues("allow").Inc()
	}
	return nil
}

// ListMessages returns a chat's history newest first, reading through the
// cache when it is warm.
func (s *Service) ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, *Error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}

	if s.cache != nil {
		cached, err := s.cache.RecentMessages(ctx, chatID, limit, before)
		if err == nil && len(cached) >= limit {
			return cached, nil
		}
	}

	messages, err := s.store.ListMessages(ctx, chatID, limit, before)
	if err != nil {
		return nil, internalError(s.log, err, "list_messages")
	}
	return messages, nil
}

// GetChat returns a chat by id.
func (s *Service) GetChat(ctx context.Context, chatID string) (*models.Chat, *Error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, internalError(s.log, err, "get_chat")
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "chat %q not found", chatID)
	}
	return chat, nil
}
