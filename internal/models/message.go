package models

import "time"

// MessageType is the client-declared kind of a message payload.
type MessageType string

const (
	MessageTypeText         MessageType = "Text"
	MessageTypeImage        MessageType = "Image"
	MessageTypeFile         MessageType = "File"
	MessageTypeMeta         MessageType = "Meta"         // group-only
	MessageTypeUserActivity MessageType = "UserActivity" // group-only
)

// GroupOnly reports whether the type may only appear inside groups, never as
// a direct-chat intent payload.
func (t MessageType) GroupOnly() bool {
	return t == MessageTypeMeta || t == MessageTypeUserActivity
}

// Message is one stored, opaque-encrypted chat message. Reference is the CID
// of the canonical message bytes; Link points at the previous reference in
// the same thread.
type Message struct {
	Reference   string      `json:"reference"` // content-derived id (CID)
	ChatID      string      `json:"chatId"`
	FromDID     string      `json:"fromDID"`
	ToDID       string      `json:"toDID"` // counterpart DID for direct chats, chatId for groups
	Type        MessageType `json:"messageType"`
	Content     []byte      `json:"messageContent"`       // opaque encrypted payload
	Link        string      `json:"link,omitempty"`       // previous thread reference, empty for the first message
	Proof       string      `json:"verificationProof"`    // raw verification proof as submitted
	SessionKey  string      `json:"sessionKey,omitempty"` // session-key reference the content was encrypted under
	Timestamp   time.Time   `json:"timestamp"`
	PersistedAt time.Time   `json:"persistedAt"`
}
