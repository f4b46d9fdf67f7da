package protocol

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/push-protocol/push-vnode-sub003/internal/metrics"
	"github.com/push-protocol/push-vnode-sub003/internal/models"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
)

// ProfileRequest links a messaging public key to a wallet identity.
type ProfileRequest struct {
	DID         string
	PublicKey   string // base64 ed25519 messaging key
	BlockedDIDs []string
	Timestamp   time.Time
	Proof       string // wallet-scheme proof over the link payload
}

// RegisterProfile verifies the wallet-link proof and upserts the identity
// record. Re-registration replaces the messaging key; existing chats keep
// their history but new proofs verify against the new key.
func (s *Service) RegisterProfile(ctx context.Context, req ProfileRequest) (*models.Profile, *Error) {
	if perr := validDIDs(append([]string{req.DID}, req.BlockedDIDs...)); perr != nil {
		return nil, perr
	}
	key, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, validationf("bad_public_key", "publicKey must be a base64 ed25519 key")
	}

	parsed, err := proof.ParseProof(req.Proof)
	if err != nil {
		return nil, validationf("bad_proof", "malformed verification proof")
	}
	switch parsed.Scheme {
	case proof.SchemeEIP191, proof.SchemeEIP191V2, proof.SchemeEIP712:
	default:
		return nil, validationf("bad_proof_scheme", "account linking requires a wallet scheme")
	}

	payload := proof.WalletLinkPayload{
		DID:       req.DID,
		PublicKey: req.PublicKey,
		Timestamp: req.Timestamp,
	}
	if !s.verifier.Verify(ctx, req.Proof, payload, req.DID) {
		metrics.ProofFailures.Inc()
		return nil, authorizationf("proof_rejected", "wallet-link proof rejected")
	}

	p := &models.Profile{
		DID:         req.DID,
		PublicKey:   req.PublicKey,
		WalletProof: req.Proof,
		BlockedDIDs: req.BlockedDIDs,
	}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, internalError(s.log, err, "register_profile")
	}
	return p, nil
}

// GetProfile returns the identity record for a DID.
func (s *Service) GetProfile(ctx context.Context, rawDID string) (*models.Profile, *Error) {
	p, err := s.store.GetProfile(ctx, rawDID)
	if err != nil {
		return nil, internalError(s.log, err, "get_profile")
	}
	if p == nil {
		return nil, notFoundf("no_profile", "no profile for %q", rawDID)
	}
	return p, nil
}
