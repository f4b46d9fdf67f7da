package proof

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
)

// KeyResolver returns the active messaging public key for a DID.
type KeyResolver interface {
	MessagingKey(ctx context.Context, didStr string) (ed25519.PublicKey, error)
}

// Verifier checks proofs against canonical payload digests. It is pure: no
// side effects, and the failure reason is never exposed to callers beyond
// the boolean outcome.
type Verifier struct {
	keys KeyResolver
	log  zerolog.Logger
}

func NewVerifier(keys KeyResolver, log zerolog.Logger) *Verifier {
	return &Verifier{keys: keys, log: log}
}

// Verify reports whether rawProof authorizes payload for signerDID. All
// failure paths collapse to false; the reason is logged at debug level only.
func (v *Verifier) Verify(ctx context.Context, rawProof string, payload Payload, signerDID string) bool {
	err := v.verify(ctx, rawProof, payload, signerDID)
	if err != nil {
		v.log.Debug().Err(err).Str("signer", signerDID).Msg("proof verification failed")
		return false
	}
	return true
}

func (v *Verifier) verify(ctx context.Context, rawProof string, payload Payload, signerDID string) (err error) {
	// Verification libraries may panic on malformed input; that is an
	// invalid signature, not a server fault.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidSignature, r)
		}
	}()

	p, err := ParseProof(rawProof)
	if err != nil {
		return err
	}
	if p.Signer != "" && p.Signer != signerDID {
		return fmt.Errorf("%w: embedded signer mismatch", ErrInvalidSignature)
	}

	canonical, err := payload.CanonicalBytes(p.Scheme)
	if err != nil {
		return err
	}

	switch p.Scheme {
	case SchemeMsg, SchemeMsgV2, SchemeGroupV2:
		return v.verifyMessagingKey(ctx, p, canonical, signerDID)
	case SchemeEIP191, SchemeEIP191V2, SchemeEIP712:
		return verifyWalletSignature(p, canonical, signerDID)
	default:
		return ErrInvalidProofFormat
	}
}

func (v *Verifier) verifyMessagingKey(ctx context.Context, p Proof, canonical []byte, signerDID string) error {
	key, err := v.keys.MessagingKey(ctx, signerDID)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return ErrSignerKeyNotFound
	}
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature not base64", ErrInvalidSignature)
	}
	digest := sha256.Sum256(canonical)
	if !ed25519.Verify(key, digest[:], sig) {
		return ErrInvalidSignature
	}
	return nil
}

func verifyWalletSignature(p Proof, canonical []byte, signerDID string) error {
	wantAddr, ok := did.WalletAddress(signerDID)
	if !ok {
		return ErrSignerKeyNotFound
	}

	digest, err := walletDigest(p.Scheme, canonical)
	if err != nil {
		return err
	}

	sig, err := hexutil.Decode(p.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: bad wallet signature encoding", ErrInvalidSignature)
	}
	// Wallets emit V as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: recovery failed", ErrInvalidSignature)
	}
	if crypto.PubkeyToAddress(*pub).Hex() != wantAddr {
		return ErrInvalidSignature
	}
	return nil
}

// walletDigest computes the signable digest for the wallet schemes. Each
// scheme's hashing path is pinned here; changing one means a new scheme name.
func walletDigest(s Scheme, canonical []byte) ([]byte, error) {
	switch s {
	case SchemeEIP191:
		return accounts.TextHash(canonical), nil
	case SchemeEIP191V2:
		// Contract wallets sign the hex digest of the canonical bytes.
		sum := sha256.Sum256(canonical)
		return accounts.TextHash([]byte(hex.EncodeToString(sum[:]))), nil
	case SchemeEIP712:
		digest, _, err := apitypes.TypedDataAndHash(linkTypedData(canonical))
		if err != nil {
			return nil, fmt.Errorf("%w: typed data hash", ErrInvalidSignature)
		}
		return digest, nil
	default:
		return nil, ErrInvalidProofFormat
	}
}

func linkTypedData(canonical []byte) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
			},
			"Link": {
				{Name: "data", Type: "string"},
			},
		},
		PrimaryType: "Link",
		Domain: apitypes.TypedDataDomain{
			Name:    "w2w-linking",
			Version: "1",
		},
		Message: apitypes.TypedDataMessage{"data": string(canonical)},
	}
}

// DigestHex returns the hex canonical-payload digest recorded in proof audit
// rows.
func DigestHex(s Scheme, payload Payload) (string, error) {
	canonical, err := payload.CanonicalBytes(s)
	if err != nil {
		return "", err
	}
	switch s {
	case SchemeEIP191, SchemeEIP191V2, SchemeEIP712:
		d, err := walletDigest(s, canonical)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(d), nil
	default:
		sum := sha256.Sum256(canonical)
		return hex.EncodeToString(sum[:]), nil
	}
}

// SignMessaging produces a messaging-scheme proof string for a payload. Used
// by the signing tool and tests; servers never sign.
func SignMessaging(s Scheme, key ed25519.PrivateKey, payload Payload, signerDID string) (string, error) {
	canonical, err := payload.CanonicalBytes(s)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	sig := ed25519.Sign(key, digest[:])
	return fmt.Sprintf("%s:%s:%s", s, base64.StdEncoding.EncodeToString(sig), signerDID), nil
}
