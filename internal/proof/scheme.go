// Package proof verifies the scheme:signature:signerDID proofs that authorize
// every mutating protocol operation. The scheme set is closed: unknown schemes
// are rejected at the parse boundary, and each scheme pins an explicit,
// versioned canonical encoding of the payload it signs. Nothing in here is
// allowed to leak a verification-library error to the caller; the outcome is
// pass or fail, with the reason kept to internal logs.
package proof

import (
	"errors"
	"strings"
)

// Scheme selects the canonical payload subset and the signature algorithm.
type Scheme string

const (
	// Ed25519 messaging-key schemes.
	SchemeMsg     Scheme = "msg"   // legacy: signs the raw content field only
	SchemeMsgV2   Scheme = "msgv2" // structured message signing
	SchemeGroupV2 Scheme = "grpv2" // group create/profile/config/delta updates

	// Wallet schemes (secp256k1 recovery), used for account linking.
	SchemeEIP191   Scheme = "eip191"
	SchemeEIP191V2 Scheme = "eip191v2" // smart-contract wallets
	SchemeEIP712   Scheme = "eip712"
)

var knownSchemes = map[Scheme]struct{}{
	SchemeMsg: {}, SchemeMsgV2: {}, SchemeGroupV2: {},
	SchemeEIP191: {}, SchemeEIP191V2: {}, SchemeEIP712: {},
}

var (
	ErrInvalidProofFormat = errors.New("invalid proof format")
	ErrSignerKeyNotFound  = errors.New("signer key not found")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// Proof is a parsed verification proof.
type Proof struct {
	Scheme    Scheme
	Signature string // base64 (messaging schemes) or 0x-hex (wallet schemes)
	Signer    string // optional signer DID embedded in the proof
}

// ParseProof splits a raw proof string. The signer DID may itself contain
// colons, so only the first two separators are structural.
func ParseProof(raw string) (Proof, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Proof{}, ErrInvalidProofFormat
	}
	scheme := Scheme(parts[0])
	if _, ok := knownSchemes[scheme]; !ok {
		return Proof{}, ErrInvalidProofFormat
	}
	p := Proof{Scheme: scheme, Signature: parts[1]}
	if len(parts) == 3 {
		p.Signer = parts[2]
	}
	return p, nil
}
