// Package store persists profiles, chats, membership, messages, and audit
// records. Postgres is the source of truth; Redis carries counters and
// short-lived read caches.
package store

import (
	"context"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/models"
)

// ProfileStore persists identity records.
type ProfileStore interface {
	GetProfile(ctx context.Context, didStr string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p *models.Profile) error
}

// ChatStore persists chats and the authoritative member table. Lookups return
// (nil, nil) when the row does not exist.
type ChatStore interface {
	CreateChat(ctx context.Context, c *models.Chat) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	GetChatByCombinedDID(ctx context.Context, combined string) (*models.Chat, error)
	UpdateChat(ctx context.Context, c *models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error

	ListMembers(ctx context.Context, chatID string) ([]models.ChatMember, error)
	UpsertMembers(ctx context.Context, chatID string, members []models.ChatMember) error
	RemoveMembers(ctx context.Context, chatID string, addresses []string) error

	ListExpiredSpaces(ctx context.Context, cutoff time.Time) ([]models.Chat, error)
}

// MessageStore persists the opaque encrypted messages.
type MessageStore interface {
	PutMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, reference string) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, error)
	DeleteChatMessages(ctx context.Context, chatID string) ([]string, error)
}

// SessionKeyStore persists the immutable session-key rows.
type SessionKeyStore interface {
	PutSessionKey(ctx context.Context, k *models.SessionKey) error
	GetSessionKey(ctx context.Context, reference string) (*models.SessionKey, error)
}

// AuditStore appends proof and membership-delta audit rows.
type AuditStore interface {
	AppendProofAudit(ctx context.Context, a *models.ProofAudit) error
	AppendMemberDelta(ctx context.Context, a *models.MemberDeltaAudit) error
}

// DataStore is the full persistence surface the protocol layer depends on.
type DataStore interface {
	ProfileStore
	ChatStore
	MessageStore
	SessionKeyStore
	AuditStore

	Close()
	Ping(ctx context.Context) error
}
