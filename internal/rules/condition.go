// Package rules models and evaluates the boolean condition trees that gate
// group entry and posting. A node is either a single leaf condition or an
// any/all combinator over child nodes; the polymorphic wire encoding is pinned
// here and rejected early when malformed.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedCondition = errors.New("malformed condition")

// Leaf categories.
const (
	CategoryERC20    = "ERC20"
	CategoryERC721   = "ERC721"
	CategoryGuild    = "GUILD"
	CategoryEndpoint = "CustomEndpoint"
	CategoryInvite   = "INVITE"
)

// Leaf types (coarse provider tag kept from the wire format).
const (
	TypeToken  = "TOKEN"
	TypeRole   = "ROLE"
	TypeHTTP   = "HTTP"
	TypeInvite = "INVITE"
)

// Inviter roles accepted by INVITE leaves.
const (
	InviterRoleAdmin = "ADMIN"
	InviterRoleOwner = "OWNER"
)

// LeafData carries the category-specific parameters of a leaf.
type LeafData struct {
	Contract     string   `json:"contract,omitempty"` // eip155:<chainId>:<address>
	Amount       float64  `json:"amount,omitempty"`
	Decimals     int      `json:"decimals,omitempty"`
	Comparison   string   `json:"comparison,omitempty"` // >,<,>=,<=,==,!= (default >=)
	URL          string   `json:"url,omitempty"`        // CustomEndpoint, {{address}} template
	GroupID      string   `json:"groupId,omitempty"`    // GUILD external group id
	RoleID       string   `json:"roleId,omitempty"`     // GUILD role, empty = any role
	InviterRoles []string `json:"inviterRoles,omitempty"`
}

// Leaf is a single evaluatable condition.
type Leaf struct {
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	Data        LeafData `json:"data"`
}

// Node is a tagged variant: exactly one of Any, All or Leaf is set.
type Node struct {
	Any  []*Node
	All  []*Node
	Leaf *Leaf
}

type nodeWire struct {
	Any  []*Node  `json:"any,omitempty"`
	All  []*Node  `json:"all,omitempty"`
	Type string   `json:"type,omitempty"`
	Cat  string   `json:"category,omitempty"`
	Sub  string   `json:"subcategory,omitempty"`
	Data LeafData `json:"data,omitempty"`
}

var allowedNodeKeys = map[string]struct{}{
	"any": {}, "all": {}, "type": {}, "category": {}, "subcategory": {}, "data": {},
}

// UnmarshalJSON decodes the one-of wire form, rejecting unknown keys and
// ambiguous nodes instead of duck-typing on key presence.
func (n *Node) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	for k := range keys {
		if _, ok := allowedNodeKeys[k]; !ok {
			return fmt.Errorf("%w: unknown key %q", ErrMalformedCondition, k)
		}
	}

	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}

	_, hasAny := keys["any"]
	_, hasAll := keys["all"]
	_, hasCat := keys["category"]

	set := 0
	if hasAny {
		set++
	}
	if hasAll {
		set++
	}
	if hasCat {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: node must be exactly one of any/all/leaf", ErrMalformedCondition)
	}

	switch {
	case hasAny:
		n.Any, n.All, n.Leaf = w.Any, nil, nil
	case hasAll:
		n.Any, n.All, n.Leaf = nil, w.All, nil
	default:
		n.Any, n.All = nil, nil
		n.Leaf = &Leaf{Type: w.Type, Category: w.Cat, Subcategory: w.Sub, Data: w.Data}
	}
	return nil
}

// MarshalJSON emits the same one-of wire form.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.Any != nil:
		return json.Marshal(nodeWire{Any: n.Any})
	case n.All != nil:
		return json.Marshal(nodeWire{All: n.All})
	case n.Leaf != nil:
		return json.Marshal(nodeWire{
			Type: n.Leaf.Type,
			Cat:  n.Leaf.Category,
			Sub:  n.Leaf.Subcategory,
			Data: n.Leaf.Data,
		})
	default:
		return nil, fmt.Errorf("%w: empty node", ErrMalformedCondition)
	}
}

// RuleSet pairs the two gates a chat can configure: entry rules gate joining,
// chat rules gate posting.
type RuleSet struct {
	Entry *Node `json:"entry,omitempty"`
	Chat  *Node `json:"chat,omitempty"`
}

// Annotated mirrors a Node with a per-node access flag, produced by
// annotation-mode evaluation for introspection responses.
type Annotated struct {
	Any    []*Annotated `json:"any,omitempty"`
	All    []*Annotated `json:"all,omitempty"`
	Leaf   *Leaf        `json:"condition,omitempty"`
	Access bool         `json:"access"`
}
