package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/store"
)

// IntentRequest carries a first message from one identity to another.
type IntentRequest struct {
	FromDID   string
	ToDID     string
	Type      models.MessageType
	Content   []byte
	Timestamp time.Time
	Proof     string
}

// deriveChatID computes the stable chat id from the participant projection
// and a founding seed: the first message reference for direct chats, the
// group name for groups.
func deriveChatID(combined, seed string, ts time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", combined, seed, ts.UnixMilli()))
	return hex.EncodeToString(sum[:])
}

// CreateIntent opens a pending direct chat with its founding message.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (*models.Chat, *models.Message, *Error) {
	if perr := validDIDs([]string{req.FromDID, req.ToDID}); perr != nil {
		return nil, nil, perr
	}
	if req.FromDID == req.ToDID {
		return nil, nil, validationf("self_intent", "cannot open a chat with yourself")
	}
	if len(req.Content) == 0 {
		return nil, nil, validationf("empty_content", "message content is required")
	}
	if len(req.Content) > s.limits.MaxMessageBytes {
		return nil, nil, validationf("content_too_large", "message exceeds %d bytes", s.limits.MaxMessageBytes)
	}
	if req.Type.GroupOnly() {
		return nil, nil, validationf("bad_message_type", "%q messages are group-only", req.Type)
	}

	sender, err := s.store.GetProfile(ctx, req.FromDID)
	if err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}
	if sender == nil {
		return nil, nil, notFoundf("no_sender_profile", "sender has no registered profile")
	}
	recipient, err := s.store.GetProfile(ctx, req.ToDID)
	if err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}
	if recipient == nil {
		return nil, nil, notFoundf("no_recipient_profile", "recipient has no registered profile")
	}
	if sender.Blocks(req.ToDID) {
		return nil, nil, authorizationf("blocked", "sender has blocked the recipient")
	}
	if recipient.Blocks(req.FromDID) {
		return nil, nil, authorizationf("blocked", "recipient has blocked the sender")
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
		return nil, nil, perr
	}

	combined := models.CombineDIDs(req.FromDID, req.ToDID)
	existing, err := s.store.GetChatByCombinedDID(ctx, combined)
	if err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}
	if existing != nil {
		return nil, nil, conflictf("chat_exists", "a chat between these identities already exists")
	}

	canonical, err := payload.CanonicalBytes(proof.SchemeMsgV2)
	if err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}
	reference, err := store.Reference(canonical)
	if err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}

	chat := &models.Chat{
		ChatID:       deriveChatID(combined, reference, req.Timestamp),
		IsGroup:      false,
		GroupType:    models.GroupTypeDefault,
		CombinedDID:  combined,
		Intent:       req.FromDID,
		IntentSentBy: req.FromDID,
		Threadhash:   reference,
		IsPublic:     false,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}

	msg := &models.Message{
		Reference: reference,
		ChatID:    chat.ChatID,
		FromDID:   req.FromDID,
		ToDID:     req.ToDID,
		Type:      req.Type,
		Content:   req.Content,
		Proof:     req.Proof,
		Timestamp: req.Timestamp,
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return nil, nil, internalError(s.log, err, "create_intent")
	}
	s.persistSideEffects(ctx, msg, canonical)
	s.auditProof(ctx, chat.ChatID, req.FromDID, req.Proof, parsed.Scheme, payload)

	metrics.IntentsTotal.WithLabelValues("create").Inc()
	metrics.MessagesStored.WithLabelValues("direct").Inc()
	s.deliver(ctx, fanout.EventRequest, chat, req.FromDID, msg, []string{req.ToDID})
	return chat, msg, nil
}

// ApprovalRequest resolves a pending intent, for a direct chat or a group
// invite.
type ApprovalRequest struct {
	FromDID         string // the approver/rejecter
	ToDID           string // direct-chat counterpart, or empty with ChatID set
	ChatID          string // group chats
	EncryptedSecret string
	Proof           string
}

// ApproveIntent marks the caller's intent approved. For private keyed chats
// an encrypted secret rotates the session key in the same critical section.
func (s *Service) ApproveIntent(ctx context.Context, req ApprovalRequest) (*models.Chat, *Error) {
	return s.resolveIntent(ctx, req, true)
}

// RejectIntent declines a pending intent. A rejected direct chat is deleted
// outright; a rejected group invite drops the pending member row.
func (s *Service) RejectIntent(ctx context.Context, req ApprovalRequest) (*models.Chat, *Error) {
	return s.resolveIntent(ctx, req, false)
}

func (s *Service) resolveIntent(ctx context.Context, req ApprovalRequest, approve bool) (*models.Chat, *Error) {
	op := "reject_intent"
	status := "Rejected"
	if approve {
		op, status = "approve_intent", "Approved"
	}
	if perr := validDIDs([]string{req.FromDID}); perr != nil {
		return nil, perr
	}

	chat, perr := s.findIntentChat(ctx, req, op)
	if perr != nil {
		return nil, perr
	}

	unlock := s.locks.Lock(chat.ChatID)
	defer unlock()

	// Re-read under the lock; a concurrent resolution may have won.
	chat, err := s.store.GetChat(ctx, chat.ChatID)
	if err != nil {
		return nil, internalError(s.log, err, op)
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "no pending chat to resolve")
	}

	resolver, err := s.store.GetProfile(ctx, req.FromDID)
	if err != nil {
		return nil, internalError(s.log, err, op)
	}
	if resolver == nil {
		return nil, notFoundf("no_profile", "no registered profile for the resolver")
	}
	if !chat.IsGroup {
		peer, err := s.store.GetProfile(ctx, chat.IntentSentBy)
		if err != nil {
			return nil, internalError(s.log, err, op)
		}
		if peer == nil {
			return nil, notFoundf("no_peer_profile", "the initiator no longer has a profile")
		}
		if resolver.Blocks(chat.IntentSentBy) || peer.Blocks(req.FromDID) {
			return nil, authorizationf("blocked", "a block exists between these identities")
		}
	}

	payload := proof.ApprovalPayload{
		FromDID:         req.FromDID,
		ToDID:           req.ToDID,
		Status:          status,
		EncryptedSecret: req.EncryptedSecret,
	}
	parsed, perr := s.verifyGroupProof(ctx, req.Proof, payload, req.FromDID)
	if perr != nil {
		return nil, perr
	}

	if chat.IsGroup {
		chat, perr = s.resolveGroupIntent(ctx, chat, req, approve)
	} else {
		chat, perr = s.resolveDirectIntent(ctx, chat, req, approve)
	}
	if perr != nil {
		return nil, perr
	}

	if chat != nil {
		s.auditProof(ctx, chat.ChatID, req.FromDID, req.Proof, parsed.Scheme, payload)
	}
	if approve {
		metrics.IntentsTotal.WithLabelValues("approve").Inc()
	} else {
		metrics.IntentsTotal.WithLabelValues("reject").Inc()
	}
	return chat, nil
}

func (s *Service) findIntentChat(ctx context.Context, req ApprovalRequest, op string) (*models.Chat, *Error) {
	if req.ChatID != "" {
		chat, err := s.store.GetChat(ctx, req.ChatID)
		if err != nil {
			return nil, internalError(s.log, err, op)
		}
		if chat == nil {
			return nil, notFoundf("no_chat", "chat %q not found", req.ChatID)
		}
		return chat, nil
	}
	if perr := validDIDs([]string{req.ToDID}); perr != nil {
		return nil, perr
	}
	combined := models.CombineDIDs(req.FromDID, req.ToDID)
	chat, err := s.store.GetChatByCombinedDID(ctx, combined)
	if err != nil {
		return nil, internalError(s.log, err, op)
	}
	if chat == nil {
		return nil, notFoundf("no_chat", "no pending chat between these identities")
	}
	return chat, nil
}

func (s *Service) resolveDirectIntent(ctx context.Context, chat *models.Chat, req ApprovalRequest, approve bool) (*models.Chat, *Error) {
	if chat.IntentSentBy == req.FromDID {
		return nil, authorizationf("own_intent", "the initiator cannot resolve their own intent")
	}
	if models.HasIntent(chat.Intent, req.FromDID) {
		return nil, conflictf("already_resolved", "intent already approved")
	}

	if !approve {
		// Rejection returns the pair to the no-chat state.
		refs, err := s.store.DeleteChatMessages(ctx, chat.ChatID)
		if err != nil {
			return nil, internalError(s.log, err, "reject_intent")
		}
		if err := s.store.DeleteChat(ctx, chat.ChatID); err != nil {
			return nil, internalError(s.log, err, "reject_intent")
		}
		if s.blobs != nil {
			s.blobs.Unpin(refs)
		}
		if s.cache != nil {
			if err := s.cache.DropChat(ctx, chat.ChatID); err != nil {
				s.log.Debug().Err(err).Str("chat", chat.ChatID).Msg("cache drop failed")
			}
		}
		s.deliver(ctx, fanout.EventIntent, chat, req.FromDID, map[string]string{"status": "Rejected"}, []string{chat.IntentSentBy})
		return nil, nil
	}

	chat.Intent = models.JoinIntent(append(models.SplitIntent(chat.Intent), req.FromDID))
	if req.EncryptedSecret != "" {
		key := &models.SessionKey{
			Reference:       newSessionKeyRef(),
			ChatID:          chat.ChatID,
			EncryptedSecret: req.EncryptedSecret,
		}
		if err := s.store.PutSessionKey(ctx, key); err != nil {
			return nil, internalError(s.log, err, "approve_intent")
		}
		chat.SessionKey = key.Reference
	}
	if err := s.store.UpdateChat(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "approve_intent")
	}

	s.deliver(ctx, fanout.EventIntent, chat, req.FromDID, map[string]string{"status": "Approved"}, models.SplitCombined(chat.CombinedDID))
	return chat, nil
}

func (s *Service) resolveGroupIntent(ctx context.Context, chat *models.Chat, req ApprovalRequest, approve bool) (*models.Chat, *Error) {
	members, err := s.store.ListMembers(ctx, chat.ChatID)
	if err != nil {
		return nil, internalError(s.log, err, "resolve_intent")
	}
	var row *models.ChatMember
	for i := range members {
		if members[i].Address == req.FromDID {
			row = &members[i]
			break
		}
	}
	if row == nil {
		return nil, notFoundf("not_invited", "no pending invite for this identity")
	}
	if row.Intent {
		return nil, conflictf("already_resolved", "invite already approved")
	}

	if !approve {
		if err := s.store.RemoveMembers(ctx, chat.ChatID, []string{req.FromDID}); err != nil {
			return nil, internalError(s.log, err, "reject_intent")
		}
	} else {
		row.Intent = true
		if err := s.store.UpsertMembers(ctx, chat.ChatID, []models.ChatMember{*row}); err != nil {
			return nil, internalError(s.log, err, "approve_intent")
		}
		if req.EncryptedSecret != "" {
			key := &models.SessionKey{
				Reference:       newSessionKeyRef(),
				ChatID:          chat.ChatID,
				EncryptedSecret: req.EncryptedSecret,
			}
			if err := s.store.PutSessionKey(ctx, key); err != nil {
				return nil, internalError(s.log, err, "approve_intent")
			}
			chat.SessionKey = key.Reference
		}
	}

	if err := s.reconcile(ctx, chat); err != nil {
		return nil, internalError(s.log, err, "resolve_intent")
	}

	status := "Rejected"
	if approve {
		status = "Approved"
	}
	s.deliver(ctx, fanout.EventIntent, chat, req.FromDID, map[string]string{"status": status}, models.SplitCombined(chat.CombinedDID))
	if !approve {
		return nil, nil
	}
	return chat, nil
}

// verifyMessageProof checks a message-scheme proof and rejects foreign
// schemes before touching keys.
func (s *Service) verifyMessageProof(ctx context.Context, rawProof string, payload proof.Payload, signer string) (proof.Proof, *Error) {
	parsed, err := proof.ParseProof(rawProof)
	if err != nil {
		return proof.Proof{}, validationf("bad_proof", "malformed verification proof")
	}
	if parsed.Scheme != proof.SchemeMsg && parsed.Scheme != proof.SchemeMsgV2 {
		return proof.Proof{}, validationf("bad_proof_scheme", "scheme %q cannot sign messages", parsed.Scheme)
	}
	if !s.verifier.Verify(ctx, rawProof, payload, signer) {
		metrics.ProofFailures.Inc()
		return proof.Proof{}, authorizationf("proof_rejected", "verification proof rejected")
	}
	return parsed, nil
}

// verifyGroupProof checks a grpv2 proof.
func (s *Service) verifyGroupProof(ctx context.Context, rawProof string, payload proof.Payload, signer string) (proof.Proof, *Error) {
	parsed, err := proof.ParseProof(rawProof)
	if err != nil {
		return proof.Proof{}, validationf("bad_proof", "malformed verification proof")
	}
	if parsed.Scheme != proof.SchemeGroupV2 {
		return proof.Proof{}, validationf("bad_proof_scheme", "scheme %q cannot sign group operations", parsed.Scheme)
	}
	if !s.verifier.Verify(ctx, rawProof, payload, signer) {
		metrics.ProofFailures.Inc()
		return proof.Proof{}, authorizationf("proof_rejected", "verification proof rejected")
	}
	return parsed, nil
}

// persistSideEffects updates the message cache and kicks off blob
// replication. Both are best effort once the primary write landed.
func (s *Service) persistSideEffects(ctx context.Context, msg *models.Message, canonical []byte) {
	if s.cache != nil {
		if err := s.cache.CacheMessage(ctx, msg); err != nil {
			s.log.Debug().Err(err).Str("chat", msg.ChatID).Msg("message cache write failed")
		}
	}
	if s.blobs != nil {
		s.blobs.Replicate(msg.Reference, canonical)
	}
}
