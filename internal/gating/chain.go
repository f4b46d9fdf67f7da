// Package gating implements the external lookup capabilities consumed by the
// rules engine and the delivery layer: on-chain holdings, third-party role
// membership, and custom HTTP endpoint checks.
package gating

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

var (
	ErrChainNotConfigured = errors.New("no RPC endpoint for chain")
	ErrEmptyChainResponse = errors.New("empty chain response")
)

// ERC-165-agnostic selectors shared by ERC-20 and ERC-721.
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorOwnerOf   = []byte{0x63, 0x52, 0x21, 0x1e} // ownerOf(uint256)
)

// ChainClient answers balance and ownership queries over configured per-chain
// RPC endpoints.
type ChainClient struct {
	clients map[int64]*ethclient.Client
	log     zerolog.Logger
}

// NewChainClient dials one client per configured chain. A chain that fails to
// dial is skipped with a warning; its rules will deny until it is fixed.
func NewChainClient(endpoints map[int64]string, log zerolog.Logger) *ChainClient {
	clients := make(map[int64]*ethclient.Client, len(endpoints))
	for chainID, url := range endpoints {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().Err(err).Int64("chain", chainID).Msg("rpc endpoint unavailable")
			continue
		}
		clients[chainID] = client
	}
	return &ChainClient{clients: clients, log: log}
}

// Close releases all RPC connections.
func (c *ChainClient) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

// BalanceOf returns the token balance of holder on the given contract.
// Works for both ERC-20 and ERC-721 (token count).
func (c *ChainClient) BalanceOf(ctx context.Context, chainID int64, contract, holder string) (*big.Int, error) {
	client, ok := c.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrChainNotConfigured, chainID)
	}

	to := common.HexToAddress(contract)
	data := make([]byte, 0, 36)
	data = append(data, selectorBalanceOf...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyChainResponse
	}
	return new(big.Int).SetBytes(out), nil
}

// OwnerOf returns the current owner address of an ERC-721 token.
func (c *ChainClient) OwnerOf(ctx context.Context, chainID int64, contract, tokenID string) (string, error) {
	client, ok := c.clients[chainID]
	if !ok {
		return "", fmt.Errorf("%w %d", ErrChainNotConfigured, chainID)
	}

	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return "", fmt.Errorf("bad token id %q", tokenID)
	}

	to := common.HexToAddress(contract)
	data := make([]byte, 0, 36)
	data = append(data, selectorOwnerOf...)
	data = append(data, common.LeftPadBytes(id.Bytes(), 32)...)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return "", err
	}
	if len(out) < 32 {
		return "", ErrEmptyChainResponse
	}
	return common.BytesToAddress(out[12:32]).Hex(), nil
}
