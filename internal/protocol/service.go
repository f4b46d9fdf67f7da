package protocol

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/notify"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
	"github.com/push-protocol/push-vnode-sub003/internal/store"
)

// Limits are the documented protocol caps.
type Limits struct {
	MaxMessageBytes   int
	MaxMembersPublic  int
	MaxMembersPrivate int
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes:   1 << 20,
		MaxMembersPublic:  25000,
		MaxMembersPrivate: 5000,
	}
}

// OwnerResolver re-derives the delivery target of an NFT identity.
type OwnerResolver interface {
	OwnerDID(ctx context.Context, rawDID string) (string, error)
}

// Replicator is the async best-effort secondary blob store.
type Replicator interface {
	Replicate(reference string, data []byte)
	Unpin(references []string)
}

// Cache is the redis-backed message cache surface the service uses.
type Cache interface {
	CacheMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, error)
	DropChat(ctx context.Context, chatID string) error
}

// Service is the protocol engine. All mutating operations verify a proof,
// run under the chat's keyed mutex, reconcile the projection synchronously,
// and only then fan out.
type Service struct {
	store      store.DataStore
	cache      Cache
	blobs      Replicator
	verifier   *proof.Verifier
	engine     *rules.Engine
	owners     OwnerResolver
	dispatcher *fanout.Dispatcher
	notifier   *notify.Publisher
	limits     Limits
	locks      *chatLocks
	log        zerolog.Logger
}

func NewService(
	dataStore store.DataStore,
	cache Cache,
	blobs Replicator,
	verifier *proof.Verifier,
	engine *rules.Engine,
	owners OwnerResolver,
	dispatcher *fanout.Dispatcher,
	notifier *notify.Publisher,
	limits Limits,
	log zerolog.Logger,
) *Service {
	if limits.MaxMessageBytes == 0 {
		limits = DefaultLimits()
	}
	return &Service{
		store:      dataStore,
		cache:      cache,
		blobs:      blobs,
		verifier:   verifier,
		engine:     engine,
		owners:     owners,
		dispatcher: dispatcher,
		notifier:   notifier,
		limits:     limits,
		locks:      newChatLocks(),
		log:        log,
	}
}

// ProfileKeyResolver resolves messaging keys from the profile store for the
// proof verifier.
type ProfileKeyResolver struct {
	Profiles store.ProfileStore
}

func (r ProfileKeyResolver) MessagingKey(ctx context.Context, didStr string) (ed25519.PublicKey, error) {
	p, err := r.Profiles.GetProfile(ctx, didStr)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("profile not found")
	}
	key, err := base64.StdEncoding.DecodeString(p.PublicKey)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(key), nil
}

// auditProof appends the append-only proof record for an accepted mutation.
func (s *Service) auditProof(ctx context.Context, chatID, signer, rawProof string, scheme proof.Scheme, payload proof.Payload) {
	digest, err := proof.DigestHex(scheme, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("chat", chatID).Msg("audit digest failed")
		return
	}
	audit := &models.ProofAudit{
		ID:     ulid.Make().String(),
		ChatID: chatID,
		Signer: signer,
		Scheme: string(scheme),
		Proof:  rawProof,
		Digest: digest,
	}
	if err := s.store.AppendProofAudit(ctx, audit); err != nil {
		s.log.Warn().Err(err).Str("chat", chatID).Msg("proof audit append failed")
	}
}

// reconcile re-derives the denormalized projection from the authoritative
// member table. Must run inside the chat's critical section.
func (s *Service) reconcile(ctx context.Context, chat *models.Chat) error {
	members, err := s.store.ListMembers(ctx, chat.ChatID)
	if err != nil {
		return err
	}

	all := make([]string, 0, len(members))
	admins := make([]string, 0, 4)
	approved := make([]string, 0, len(members))
	for _, m := range members {
		all = append(all, m.Address)
		if m.Role == models.RoleAdmin {
			admins = append(admins, m.Address)
		}
		if m.Intent {
			approved = append(approved, m.Address)
		}
	}

	chat.CombinedDID = models.CombineDIDs(all...)
	chat.Admins = models.CombineDIDs(admins...)
	chat.Intent = models.JoinIntent(approved)
	return s.store.UpdateChat(ctx, chat)
}

// deliver fans out an event and publishes the matching notification.
func (s *Service) deliver(ctx context.Context, kind string, chat *models.Chat, from string, payload any, recipients []string) {
	targets := s.deliveryTargets(ctx, recipients)
	s.dispatcher.Deliver(ctx, targets, fanout.Event{
		Kind:    kind,
		ChatID:  chat.ChatID,
		From:    from,
		Payload: fanout.Payload(payload),
	})
	metrics.FanoutEvents.WithLabelValues(kind).Add(float64(len(targets)))
	if s.notifier != nil {
		s.notifier.Publish(ctx, kind, chat.ChatID, from, targets)
		metrics.NotificationsPublished.Add(float64(len(targets)))
	}
}

// deliveryTargets normalizes recipients for connection lookup, following NFT
// identities to their current owner.
func (s *Service) deliveryTargets(ctx context.Context, recipients []string) []string {
	targets := make([]string, 0, len(recipients))
	for _, r := range recipients {
		target := did.Normalize(r)
		if s.owners != nil && did.IsNFT(r) {
			owner, err := s.owners.OwnerDID(ctx, r)
			if err != nil {
				s.log.Debug().Err(err).Str("did", r).Msg("owner re-derivation failed")
			} else {
				target = did.Normalize(owner)
			}
		}
		targets = append(targets, target)
	}
	return targets
}

// subjectFor builds the rule-engine subject for an identity. Holdings are
// checked against the backing wallet; NFT identities evaluate as the token's
// current owner.
func (s *Service) subjectFor(ctx context.Context, rawDID string, autoJoin bool, inviterRole string) rules.Subject {
	addr, ok := did.WalletAddress(rawDID)
	if !ok && s.owners != nil {
		if owner, err := s.owners.OwnerDID(ctx, rawDID); err == nil {
			addr, _ = did.WalletAddress(owner)
		}
	}
	return rules.Subject{Address: addr, AutoJoin: autoJoin, InviterRole: inviterRole}
}

func (s *Service) memberCap(isPublic bool) int {
	if isPublic {
		return s.limits.MaxMembersPublic
	}
	return s.limits.MaxMembersPrivate
}

func validDIDs(dids []string) *Error {
	for _, d := range dids {
		if !did.Valid(d) {
			return validationf("bad_did", "invalid DID %q", d)
		}
	}
	return nil
}

// dedupeCheck verifies a list is duplicate-free and returns its set form.
func dedupeCheck(dids []string) (map[string]struct{}, *Error) {
	set := make(map[string]struct{}, len(dids))
	for _, d := range dids {
		if _, ok := set[d]; ok {
			return nil, validationf("duplicate_did", "duplicate DID %q", d)
		}
		set[d] = struct{}{}
	}
	return set, nil
}

func newSessionKeyRef() string {
	return fmt.Sprintf("sk:%s", ulid.Make().String())
}
