package proof

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

type staticKeys map[string]ed25519.PublicKey

func (k staticKeys) MessagingKey(_ context.Context, didStr string) (ed25519.PublicKey, error) {
	if key, ok := k[didStr]; ok {
		return key, nil
	}
	return nil, errors.New("no key")
}

func generateKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

const signerDID = "eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De"

func TestParseProof(t *testing.T) {
	p, err := ParseProof("msgv2:c2ln:" + signerDID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Scheme != SchemeMsgV2 || p.Signature != "c2ln" || p.Signer != signerDID {
		t.Fatalf("parsed wrong: %+v", p)
	}

	for _, raw := range []string{"", "msgv2", "msgv2:", ":sig", "pgp:sig:did", "unknown:sig"} {
		if _, err := ParseProof(raw); !errors.Is(err, ErrInvalidProofFormat) {
			t.Errorf("ParseProof(%q) = %v, want ErrInvalidProofFormat", raw, err)
		}
	}
}

func TestVerifyMessagingRoundTrip(t *testing.T) {
	priv, pub := generateKeypair(t)
	v := NewVerifier(staticKeys{signerDID: pub}, zerolog.Nop())

	payload := MessagePayload{
		FromDID:   signerDID,
		ToDID:     "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0",
		Type:      "Text",
		Content:   []byte("ciphertext"),
		Timestamp: time.UnixMilli(1700000000000),
	}
	raw, err := SignMessaging(SchemeMsgV2, priv, payload, signerDID)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Verify(context.Background(), raw, payload, signerDID) {
		t.Fatal("valid proof rejected")
	}
}

func TestVerifyRejectsTamper(t *testing.T) {
	priv, pub := generateKeypair(t)
	v := NewVerifier(staticKeys{signerDID: pub}, zerolog.Nop())

	payload := MessagePayload{
		FromDID:   signerDID,
		ToDID:     "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0",
		Type:      "Text",
		Content:   []byte("ciphertext"),
		Timestamp: time.UnixMilli(1700000000000),
	}
	raw, err := SignMessaging(SchemeMsgV2, priv, payload, signerDID)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating any hashed field must break the original proof.
	tampered := []MessagePayload{payload, payload, payload, payload}
	tampered[0].FromDID = "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0"
	tampered[1].Content = []byte("other")
	tampered[2].Type = "Image"
	tampered[3].Timestamp = payload.Timestamp.Add(time.Millisecond)
	for i, tp := range tampered {
		if v.Verify(context.Background(), raw, tp, signerDID) {
			t.Errorf("case %d: tampered payload accepted", i)
		}
	}
}

func TestVerifyUnknownSigner(t *testing.T) {
	priv, _ := generateKeypair(t)
	v := NewVerifier(staticKeys{}, zerolog.Nop())

	payload := ApprovalPayload{FromDID: signerDID, ToDID: "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0", Status: "Approved"}
	raw, _ := SignMessaging(SchemeGroupV2, priv, payload, signerDID)
	if v.Verify(context.Background(), raw, payload, signerDID) {
		t.Fatal("proof with unresolvable signer key accepted")
	}
}

func TestVerifyEmbeddedSignerMismatch(t *testing.T) {
	priv, pub := generateKeypair(t)
	other := "eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0"
	v := NewVerifier(staticKeys{signerDID: pub, other: pub}, zerolog.Nop())

	payload := ApprovalPayload{FromDID: signerDID, ToDID: other, Status: "Approved"}
	raw, _ := SignMessaging(SchemeGroupV2, priv, payload, signerDID)
	if v.Verify(context.Background(), raw, payload, other) {
		t.Fatal("proof bound to one DID accepted for another")
	}
}

func TestVerifyGarbageSignature(t *testing.T) {
	_, pub := generateKeypair(t)
	v := NewVerifier(staticKeys{signerDID: pub}, zerolog.Nop())

	payload := ApprovalPayload{FromDID: signerDID, ToDID: "x", Status: "Approved"}
	garbage := "grpv2:" + base64.StdEncoding.EncodeToString([]byte("short")) + ":" + signerDID
	if v.Verify(context.Background(), garbage, payload, signerDID) {
		t.Fatal("garbage signature accepted")
	}
	if v.Verify(context.Background(), "grpv2:!!notbase64!!:"+signerDID, payload, signerDID) {
		t.Fatal("non-base64 signature accepted")
	}
}

func TestVerifyEIP191(t *testing.T) {
	walletKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := crypto.PubkeyToAddress(walletKey.PublicKey)
	walletDID := "eip155:" + addr.Hex()
	v := NewVerifier(staticKeys{}, zerolog.Nop())

	payload := WalletLinkPayload{DID: walletDID, PublicKey: "bWtleQ==", Timestamp: time.UnixMilli(1700000000000)}
	canonical, err := payload.CanonicalBytes(SchemeEIP191)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(accounts.TextHash(canonical), walletKey)
	if err != nil {
		t.Fatal(err)
	}
	sig[crypto.RecoveryIDOffset] += 27 // wallet-style V

	raw := "eip191:" + hexutil.Encode(sig) + ":" + walletDID
	if !v.Verify(context.Background(), raw, payload, walletDID) {
		t.Fatal("valid eip191 proof rejected")
	}

	tampered := payload
	tampered.PublicKey = "b3RoZXI="
	if v.Verify(context.Background(), raw, tampered, walletDID) {
		t.Fatal("tampered eip191 payload accepted")
	}

	// Signature from a different wallet must not recover to the DID.
	otherKey, _ := crypto.GenerateKey()
	otherSig, _ := crypto.Sign(accounts.TextHash(canonical), otherKey)
	otherSig[crypto.RecoveryIDOffset] += 27
	if v.Verify(context.Background(), "eip191:"+hexutil.Encode(otherSig)+":"+walletDID, payload, walletDID) {
		t.Fatal("foreign wallet signature accepted")
	}
}

func TestCanonicalBytesStable(t *testing.T) {
	p := MemberDeltaPayload{ChatID: "chat1", UpsertMembers: []string{signerDID}}
	a, err := p.CanonicalBytes(SchemeGroupV2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.CanonicalBytes(SchemeGroupV2)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("canonical bytes not deterministic")
	}

	// nil and empty slices must canonicalize identically.
	q := MemberDeltaPayload{ChatID: "chat1", UpsertMembers: []string{signerDID}, Remove: []string{}}
	c, _ := q.CanonicalBytes(SchemeGroupV2)
	if string(a) != string(c) {
		t.Fatalf("nil/empty slice canonical mismatch: %s vs %s", a, c)
	}
}

func TestDigestHex(t *testing.T) {
	p := ApprovalPayload{FromDID: signerDID, ToDID: "x", Status: "Approved"}
	d1, err := DigestHex(SchemeGroupV2, p)
	if err != nil {
		t.Fatal(err)
	}
	d2, _ := DigestHex(SchemeGroupV2, p)
	if d1 != d2 || len(d1) != 64 {
		t.Fatalf("digest unstable or wrong length: %q %q", d1, d2)
	}
}
