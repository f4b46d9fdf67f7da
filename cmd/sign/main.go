// Command sign produces verification proofs for manual testing: messaging
// proofs (msg/msgv2/grpv2) from a base64 ed25519 key, or wallet-link proofs
// (eip191/eip191v2) from a hex secp256k1 key.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/push-protocol/push-vnode-sub003/internal/proof"
)

func main() {
	op := flag.String("op", "message", "Payload kind: message, approval, group, profile, config, delta, link")
	schemeStr := flag.String("scheme", "", "Proof scheme (msg, msgv2, grpv2, eip191, eip191v2)")
	signer := flag.String("signer", "", "Signer DID")
	keyB64 := flag.String("key", "", "Base64 ed25519 private key (messaging schemes)")
	walletKeyHex := flag.String("wallet-key", "", "Hex secp256k1 private key (wallet schemes)")
	payloadFile := flag.String("payload", "", "File containing payload JSON (or use stdin)")
	flag.Parse()

	if *schemeStr == "" || *signer == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -op <kind> -scheme <scheme> -signer <did> [-key <b64> | -wallet-key <hex>] [-payload <file>]")
		fmt.Fprintln(os.Stderr, "  Reads payload JSON from stdin if -payload not specified")
		os.Exit(1)
	}

	var raw []byte
	var err error
	if *payloadFile != "" {
		raw, err = os.ReadFile(*payloadFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fatal("failed to read payload: %v", err)
	}

	payload, err := buildPayload(*op, raw)
	if err != nil {
		fatal("bad payload: %v", err)
	}

	scheme := proof.Scheme(*schemeStr)
	switch scheme {
	case proof.SchemeMsg, proof.SchemeMsgV2, proof.SchemeGroupV2:
		keyBytes, err := base64.StdEncoding.DecodeString(*keyB64)
		if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
			fatal("-key must be a base64 ed25519 private key")
		}
		out, err := proof.SignMessaging(scheme, ed25519.PrivateKey(keyBytes), payload, *signer)
		if err != nil {
			fatal("signing failed: %v", err)
		}
		fmt.Println(out)
	case proof.SchemeEIP191, proof.SchemeEIP191V2:
		key, err := crypto.HexToECDSA(*walletKeyHex)
		if err != nil {
			fatal("-wallet-key must be a hex secp256k1 private key")
		}
		canonical, err := payload.CanonicalBytes(scheme)
		if err != nil {
			fatal("canonicalization failed: %v", err)
		}
		sig, err := crypto.Sign(accounts.TextHash(canonical), key)
		if err != nil {
			fatal("signing failed: %v", err)
		}
		sig[crypto.RecoveryIDOffset] += 27 // wallet-style V
		fmt.Printf("%s:%s:%s\n", scheme, hexutil.Encode(sig), *signer)
	default:
		fatal("unsupported scheme %q", *schemeStr)
	}
}

// buildPayload decodes the wire JSON into the typed canonical payload.
func buildPayload(op string, raw []byte) (proof.Payload, error) {
	switch op {
	case "message":
		var in struct {
			FromDID   string `json:"fromDID"`
			ToDID     string `json:"toDID"`
			Type      string `json:"messageType"`
			Content   []byte `json:"messageContent"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return proof.MessagePayload{
			FromDID:   in.FromDID,
			ToDID:     in.ToDID,
			Type:      in.Type,
			Content:   in.Content,
			Timestamp: time.UnixMilli(in.Timestamp),
		}, nil
	case "approval":
		var in proof.ApprovalPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case "group":
		var in struct {
			GroupName string   `json:"groupName"`
			Members   []string `json:"members"`
			Admins    []string `json:"admins"`
			IsPublic  bool     `json:"isPublic"`
			GroupType string   `json:"groupType"`
			Timestamp int64    `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return proof.GroupCreatePayload{
			GroupName: in.GroupName,
			Members:   in.Members,
			Admins:    in.Admins,
			IsPublic:  in.IsPublic,
			GroupType: in.GroupType,
			Timestamp: time.UnixMilli(in.Timestamp),
		}, nil
	case "profile":
		var in proof.GroupProfilePayload
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case "config":
		var in proof.GroupConfigPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case "delta":
		var in proof.MemberDeltaPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return in, nil
	case "link":
		var in struct {
			DID       string `json:"did"`
			PublicKey string `json:"publicKey"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, err
		}
		return proof.WalletLinkPayload{
			DID:       in.DID,
			PublicKey: in.PublicKey,
			Timestamp: time.UnixMilli(in.Timestamp),
		}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
