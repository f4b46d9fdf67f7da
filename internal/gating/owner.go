package gating

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
)

const ownerCacheTTL = 5 * time.Minute

// OwnerResolver maps NFT identities to the wallet that currently holds the
// token, so delivery can follow ownership transfers. Lookups are cached
// briefly; a transfer shows up after at most the cache TTL.
type OwnerResolver struct {
	chain *ChainClient
	cache *redis.Client
	log   zerolog.Logger
}

func NewOwnerResolver(chain *ChainClient, cache *redis.Client, log zerolog.Logger) *OwnerResolver {
	return &OwnerResolver{chain: chain, cache: cache, log: log}
}

// OwnerDID resolves an NFT DID to the wallet DID of the token's current
// owner. Non-NFT DIDs pass through unchanged.
func (r *OwnerResolver) OwnerDID(ctx context.Context, rawDID string) (string, error) {
	d, err := did.Parse(rawDID)
	if err != nil {
		return "", err
	}
	if d.Family != did.FamilyNFTV1 && d.Family != did.FamilyNFTV2 {
		return rawDID, nil
	}

	cacheKey := "nftowner:" + did.Normalize(rawDID)
	if r.cache != nil {
		if owner, err := r.cache.Get(ctx, cacheKey).Result(); err == nil && owner != "" {
			return owner, nil
		}
	}

	owner, err := r.chain.OwnerOf(ctx, d.ChainID, d.Contract, d.TokenID)
	if err != nil {
		return "", err
	}
	ownerDID := "eip155:" + owner

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, ownerDID, ownerCacheTTL).Err(); err != nil {
			r.log.Debug().Err(err).Str("did", rawDID).Msg("owner cache write failed")
		}
	}
	return ownerDID, nil
}
