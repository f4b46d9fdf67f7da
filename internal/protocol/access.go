package protocol

import (
	"context"

	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

// Access is the annotated rule introspection for one subject against one
// group.
type Access struct {
	ChatID     string           `json:"chatId"`
	DID        string           `json:"did"`
	EntryAllow bool             `json:"entryAllow"`
	ChatAllow  bool             `json:"chatAllow"`
	Entry      *rules.Annotated `json:"entry,omitempty"`
	Chat       *rules.Annotated `json:"chat,omitempty"`
}

// GroupAccess evaluates both condition trees for the subject in annotation
// mode, so every leaf's outcome is reported even where evaluation would have
// short-circuited.
func (s *Service) GroupAccess(ctx context.Context, chatID, rawDID string) (*Access, *Error) {
	if perr := validDIDs([]string{rawDID}); perr != nil {
		return nil, perr
	}
	chat, perr := s.loadGroup(ctx, chatID, "group_access")
	if perr != nil {
		return nil, perr
	}

	out := &Access{ChatID: chatID, DID: rawDID, EntryAllow: true, ChatAllow: true}
	if chat.Rules == nil {
		return out, nil
	}

	subject := s.subjectFor(ctx, rawDID, false, "")
	if chat.Rules.Entry != nil {
		out.Entry = s.engine.Annotate(ctx, chat.Rules.Entry, subject)
		out.EntryAllow = out.Entry.Access
	}
	if chat.Rules.Chat != nil {
		out.Chat = s.engine.Annotate(ctx, chat.Rules.Chat, subject)
		out.ChatAllow = out.Chat.Access
	}
	return out, nil
}
