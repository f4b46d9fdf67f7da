package proof

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is anything a proof can authorize. CanonicalBytes must be
// deterministic: it is the shared contract between every producer and this
// verifier, so each implementation marshals an ordered struct whose field
// order is pinned by the scheme version, never an ad hoc map.
type Payload interface {
	CanonicalBytes(s Scheme) ([]byte, error)
}

// MessagePayload is the canonical subset for direct and group messages.
type MessagePayload struct {
	FromDID   string
	ToDID     string
	Type      string
	Content   []byte
	Timestamp time.Time
}

type messageCanonicalV2 struct {
	FromDID     string `json:"fromDID"`
	ToDID       string `json:"toDID"`
	MessageType string `json:"messageType"`
	Content     string `json:"messageContent"`
	Timestamp   int64  `json:"timestamp"`
}

func (p MessagePayload) CanonicalBytes(s Scheme) ([]byte, error) {
	switch s {
	case SchemeMsg:
		// Legacy clients sign the encrypted content field alone.
		return []byte(base64.StdEncoding.EncodeToString(p.Content)), nil
	case SchemeMsgV2:
		return json.Marshal(messageCanonicalV2{
			FromDID:     p.FromDID,
			ToDID:       p.ToDID,
			MessageType: p.Type,
			Content:     base64.StdEncoding.EncodeToString(p.Content),
			Timestamp:   p.Timestamp.UnixMilli(),
		})
	default:
		return nil, fmt.Errorf("%w: message payload cannot be signed with %q", ErrInvalidProofFormat, s)
	}
}

// ApprovalPayload is the canonical subset for intent approval and rejection.
type ApprovalPayload struct {
	FromDID         string
	ToDID           string
	Status          string // "Approved" or "Rejected"
	EncryptedSecret string // optional, present when approval rotates a secret
}

type approvalCanonicalV1 struct {
	FromDID         string `json:"fromDID"`
	ToDID           string `json:"toDID"`
	Status          string `json:"status"`
	EncryptedSecret string `json:"encryptedSecret,omitempty"`
}

func (p ApprovalPayload) CanonicalBytes(Scheme) ([]byte, error) {
	return json.Marshal(approvalCanonicalV1(p))
}

// GroupCreatePayload is the idempotent-create subset for groups and spaces.
type GroupCreatePayload struct {
	GroupName string
	Members   []string
	Admins    []string
	IsPublic  bool
	GroupType string
	Timestamp time.Time
}

type groupCreateCanonicalV2 struct {
	GroupName string   `json:"groupName"`
	Members   []string `json:"members"`
	Admins    []string `json:"admins"`
	IsPublic  bool     `json:"isPublic"`
	GroupType string   `json:"groupType"`
	Timestamp int64    `json:"timestamp"`
}

func (p GroupCreatePayload) CanonicalBytes(Scheme) ([]byte, error) {
	return json.Marshal(groupCreateCanonicalV2{
		GroupName: p.GroupName,
		Members:   emptyNotNil(p.Members),
		Admins:    emptyNotNil(p.Admins),
		IsPublic:  p.IsPublic,
		GroupType: p.GroupType,
		Timestamp: p.Timestamp.UnixMilli(),
	})
}

// GroupProfilePayload is the profile-update subset.
type GroupProfilePayload struct {
	ChatID           string
	GroupName        string
	GroupDescription string
	GroupImage       string
	Rules            json.RawMessage
}

type groupProfileCanonicalV2 struct {
	ChatID           string          `json:"chatId"`
	GroupName        string          `json:"groupName"`
	GroupDescription string          `json:"groupDescription"`
	GroupImage       string          `json:"groupImage"`
	Rules            json.RawMessage `json:"rules,omitempty"`
}

func (p GroupProfilePayload) CanonicalBytes(Scheme) ([]byte, error) {
	return json.Marshal(groupProfileCanonicalV2(p))
}

// GroupConfigPayload is the config-update subset (meta/schedule/status).
type GroupConfigPayload struct {
	ChatID      string
	Meta        string
	ScheduleAt  *time.Time
	ScheduleEnd *time.Time
	Status      string
}

type groupConfigCanonicalV2 struct {
	ChatID      string `json:"chatId"`
	Meta        string `json:"meta"`
	ScheduleAt  int64  `json:"scheduleAt,omitempty"`
	ScheduleEnd int64  `json:"scheduleEnd,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (p GroupConfigPayload) CanonicalBytes(Scheme) ([]byte, error) {
	c := groupConfigCanonicalV2{ChatID: p.ChatID, Meta: p.Meta, Status: p.Status}
	if p.ScheduleAt != nil {
		c.ScheduleAt = p.ScheduleAt.UnixMilli()
	}
	if p.ScheduleEnd != nil {
		c.ScheduleEnd = p.ScheduleEnd.UnixMilli()
	}
	return json.Marshal(c)
}

// MemberDeltaPayload is the incremental membership-delta subset.
type MemberDeltaPayload struct {
	ChatID          string
	UpsertAdmins    []string
	UpsertMembers   []string
	Remove          []string
	EncryptedSecret string
}

type memberDeltaCanonicalV2 struct {
	ChatID          string   `json:"chatId"`
	UpsertAdmins    []string `json:"upsertAdmins"`
	UpsertMembers   []string `json:"upsertMembers"`
	Remove          []string `json:"remove"`
	EncryptedSecret string   `json:"encryptedSecret,omitempty"`
}

func (p MemberDeltaPayload) CanonicalBytes(Scheme) ([]byte, error) {
	return json.Marshal(memberDeltaCanonicalV2{
		ChatID:          p.ChatID,
		UpsertAdmins:    emptyNotNil(p.UpsertAdmins),
		UpsertMembers:   emptyNotNil(p.UpsertMembers),
		Remove:          emptyNotNil(p.Remove),
		EncryptedSecret: p.EncryptedSecret,
	})
}

// WalletLinkPayload is the account-linking subset: a wallet attests to a
// messaging public key for its DID.
type WalletLinkPayload struct {
	DID       string
	PublicKey string // base64 ed25519 messaging key being linked
	Timestamp time.Time
}

type walletLinkCanonicalV1 struct {
	DID       string `json:"did"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
}

func (p WalletLinkPayload) CanonicalBytes(Scheme) ([]byte, error) {
	return json.Marshal(walletLinkCanonicalV1{
		DID:       p.DID,
		PublicKey: p.PublicKey,
		Timestamp: p.Timestamp.UnixMilli(),
	})
}

// emptyNotNil pins nil slices to [] so the canonical JSON never flips
// between null and [] depending on how the caller built the payload.
func emptyNotNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
