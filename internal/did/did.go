// Package did parses and validates the wallet-identity address families used
// across the protocol. Identities stay opaque strings everywhere else; this is
// the only place that knows their internal structure.
package did

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidDID = errors.New("invalid DID")

// Family identifies which address family a DID belongs to.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyWallet         // eip155:<addr>
	FamilySCW            // scw:eip155:<chainId>:<addr>
	FamilyNFTV1          // nft:eip155:<chainId>:<contract>:<tokenId>:<epoch>
	FamilyNFTV2          // nft:eip155:<chainId>:<contract>:<tokenId>
)

func (f Family) String() string {
	switch f {
	case FamilyWallet:
		return "wallet"
	case FamilySCW:
		return "scw"
	case FamilyNFTV1:
		return "nftv1"
	case FamilyNFTV2:
		return "nftv2"
	default:
		return "unknown"
	}
}

// DID is a parsed decentralized identifier.
type DID struct {
	Raw      string
	Family   Family
	ChainID  int64
	Address  string // checksummed hex account or contract-wallet address
	Contract string // NFT families only
	TokenID  string // NFT families only
	Epoch    string // NFT v1 only
}

// Parse splits a raw identity string into its family and components.
func Parse(raw string) (DID, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")

	switch {
	case len(parts) == 2 && parts[0] == "eip155":
		if !common.IsHexAddress(parts[1]) {
			return DID{}, fmt.Errorf("%w: bad account address %q", ErrInvalidDID, parts[1])
		}
		return DID{Raw: raw, Family: FamilyWallet, Address: common.HexToAddress(parts[1]).Hex()}, nil

	case len(parts) == 4 && parts[0] == "scw" && parts[1] == "eip155":
		chainID, err := parseChainID(parts[2])
		if err != nil {
			return DID{}, err
		}
		if !common.IsHexAddress(parts[3]) {
			return DID{}, fmt.Errorf("%w: bad contract-wallet address %q", ErrInvalidDID, parts[3])
		}
		return DID{Raw: raw, Family: FamilySCW, ChainID: chainID, Address: common.HexToAddress(parts[3]).Hex()}, nil

	case (len(parts) == 5 || len(parts) == 6) && parts[0] == "nft" && parts[1] == "eip155":
		chainID, err := parseChainID(parts[2])
		if err != nil {
			return DID{}, err
		}
		if !common.IsHexAddress(parts[3]) {
			return DID{}, fmt.Errorf("%w: bad NFT contract %q", ErrInvalidDID, parts[3])
		}
		if _, err := strconv.ParseUint(parts[4], 10, 64); err != nil {
			return DID{}, fmt.Errorf("%w: bad token id %q", ErrInvalidDID, parts[4])
		}
		d := DID{
			Raw:      raw,
			Family:   FamilyNFTV2,
			ChainID:  chainID,
			Contract: common.HexToAddress(parts[3]).Hex(),
			TokenID:  parts[4],
		}
		if len(parts) == 6 {
			if parts[5] == "" {
				return DID{}, fmt.Errorf("%w: empty epoch", ErrInvalidDID)
			}
			d.Family = FamilyNFTV1
			d.Epoch = parts[5]
		}
		return d, nil
	}

	return DID{}, fmt.Errorf("%w: unrecognized form %q", ErrInvalidDID, raw)
}

func parseChainID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad chain id %q", ErrInvalidDID, s)
	}
	return id, nil
}

// Valid reports whether raw is a structurally valid identity in any family.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// IsNFT reports whether raw is an NFT-bound identity.
func IsNFT(raw string) bool {
	d, err := Parse(raw)
	return err == nil && (d.Family == FamilyNFTV1 || d.Family == FamilyNFTV2)
}

// Normalize returns the owner-stable form of an identity. NFT v1 identities
// drop their trailing epoch, since presence is registered under the epochless
// form. Every other family normalizes to its parsed (checksummed) rendering;
// unparseable input is returned unchanged.
func Normalize(raw string) string {
	d, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch d.Family {
	case FamilyWallet:
		return "eip155:" + d.Address
	case FamilySCW:
		return fmt.Sprintf("scw:eip155:%d:%s", d.ChainID, d.Address)
	case FamilyNFTV1, FamilyNFTV2:
		return fmt.Sprintf("nft:eip155:%d:%s:%s", d.ChainID, d.Contract, d.TokenID)
	default:
		return raw
	}
}

// WalletAddress extracts the plain account address backing the identity, if
// the family carries one directly (wallet and contract-wallet families).
func WalletAddress(raw string) (string, bool) {
	d, err := Parse(raw)
	if err != nil {
		return "", false
	}
	switch d.Family {
	case FamilyWallet, FamilySCW:
		return d.Address, true
	default:
		return "", false
	}
}
