package models

import "time"

// Profile is the identity record behind a DID: the active messaging public
// key proofs are verified against, the owner's block list, and the session
// state reference used by encrypted chats.
type Profile struct {
	DID          string    `json:"did"`
	PublicKey    string    `json:"publicKey"`   // base64 ed25519 messaging key
	WalletProof  string    `json:"walletProof"` // proof that linked the messaging key to the wallet
	BlockedDIDs  []string  `json:"blockedDIDs,omitempty"`
	SessionState string    `json:"sessionState,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Blocks reports whether the profile owner has blocked the given DID.
func (p *Profile) Blocks(didStr string) bool {
	for _, b := range p.BlockedDIDs {
		if b == didStr {
			return true
		}
	}
	return false
}

// SessionKey maps a stable reference to a group's encrypted shared secret.
// Rows are immutable; rotation inserts a new reference.
type SessionKey struct {
	Reference       string    `json:"reference"`
	ChatID          string    `json:"chatId"`
	EncryptedSecret string    `json:"encryptedSecret"`
	CreatedAt       time.Time `json:"createdAt"`
}
