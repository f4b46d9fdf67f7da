// Package models holds the persisted record types shared by the stores and
// the protocol layer.
package models

import (
	"sort"
	"strings"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

// GroupType distinguishes regular groups from time-windowed live spaces.
type GroupType string

const (
	GroupTypeDefault GroupType = "default"
	GroupTypeSpaces  GroupType = "spaces"
)

// ChatStatus applies to groups and spaces only.
type ChatStatus string

const (
	StatusPending ChatStatus = "PENDING"
	StatusActive  ChatStatus = "ACTIVE"
	StatusEnded   ChatStatus = "ENDED"
)

// Chat is one conversation: a two-party direct chat or a group/space. The
// CombinedDID/Admins/Intent strings are a denormalized projection of the
// member table, re-derived synchronously after every membership mutation.
type Chat struct {
	ChatID       string         `json:"chatId"`
	IsGroup      bool           `json:"isGroup"`
	GroupType    GroupType      `json:"groupType"`
	CombinedDID  string         `json:"combinedDID"`  // sorted, deduplicated, "_"-joined participant DIDs
	Admins       string         `json:"admins"`       // "_"-joined subset of CombinedDID (groups)
	Intent       string         `json:"intent"`       // "+"-joined DIDs with approved intent
	IntentSentBy string         `json:"intentSentBy"` // chat initiator, implicit owner for groups
	SessionKey   string         `json:"sessionKey,omitempty"` // reference into session_keys, set once rotated
	Rules        *rules.RuleSet `json:"rules,omitempty"`
	Threadhash   string         `json:"threadhash,omitempty"` // latest message reference for direct chats

	// Group profile.
	GroupName        string `json:"groupName,omitempty"`
	GroupDescription string `json:"groupDescription,omitempty"`
	GroupImage       string `json:"groupImage,omitempty"`
	IsPublic         bool   `json:"isPublic"`
	Meta             string `json:"meta,omitempty"`

	// Spaces.
	Status      ChatStatus `json:"status,omitempty"`
	ScheduleAt  *time.Time `json:"scheduleAt,omitempty"`
	ScheduleEnd *time.Time `json:"scheduleEnd,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MemberRole is the per-member role inside a group.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// ChatMember is the authoritative membership row for groups: one row per
// (chatId, address).
type ChatMember struct {
	ChatID    string     `json:"chatId"`
	Address   string     `json:"address"`
	Role      MemberRole `json:"role"`
	Intent    bool       `json:"intent"` // approved vs pending
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CombineDIDs canonicalizes a participant set into the projection string:
// deduplicate, sort, join with underscores. CombineDIDs(a,b) == CombineDIDs(b,a).
func CombineDIDs(dids ...string) string {
	seen := make(map[string]struct{}, len(dids))
	out := make([]string, 0, len(dids))
	for _, d := range dids {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return strings.Join(out, "_")
}

// SplitCombined splits a projection string back into its member set.
func SplitCombined(combined string) []string {
	if combined == "" {
		return nil
	}
	return strings.Split(combined, "_")
}

// JoinIntent joins approved DIDs with the "+" separator used by the intent
// projection.
func JoinIntent(dids []string) string {
	sort.Strings(dids)
	return strings.Join(dids, "+")
}

// SplitIntent splits the intent projection.
func SplitIntent(intent string) []string {
	if intent == "" {
		return nil
	}
	return strings.Split(intent, "+")
}

// HasIntent reports whether did appears in the intent projection.
func HasIntent(intent, didStr string) bool {
	for _, d := range SplitIntent(intent) {
		if d == didStr {
			return true
		}
	}
	return false
}
