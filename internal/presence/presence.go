// Package presence tracks which DIDs currently hold live connections. State
// lives in Redis so every node sees the same view; keys carry a TTL safety
// net in case a node dies without cleaning up its connections.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/did"
)

const presenceTTL = 12 * time.Hour

var ErrTooManyConnections = errors.New("connection limit reached")

// Tracker registers and resolves presence.
type Tracker struct {
	client  *redis.Client
	maxConn int
	log     zerolog.Logger
}

func NewTracker(client *redis.Client, maxConn int, log zerolog.Logger) *Tracker {
	if maxConn <= 0 {
		maxConn = 10
	}
	return &Tracker{client: client, maxConn: maxConn, log: log}
}

func didKey(didStr string) string {
	return fmt.Sprintf("presence:did:%s", didStr)
}

func connKey(connID string) string {
	return fmt.Sprintf("presence:conn:%s", connID)
}

// Connect registers a connection under the identity's owner-stable form and
// reports whether the DID just came online. The per-DID connection cap is
// enforced here, before the socket is accepted into the hub.
func (t *Tracker) Connect(ctx context.Context, rawDID, connID string) (string, bool, error) {
	didStr := did.Normalize(rawDID)
	key := didKey(didStr)

	count, err := t.client.SCard(ctx, key).Result()
	if err != nil {
		return "", false, err
	}
	if int(count) >= t.maxConn {
		return "", false, ErrTooManyConnections
	}

	pipe := t.client.Pipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, presenceTTL)
	pipe.Set(ctx, connKey(connID), didStr, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", false, err
	}
	return didStr, count == 0, nil
}

// Disconnect drops a connection and reports whether its DID went offline.
func (t *Tracker) Disconnect(ctx context.Context, connID string) (string, bool, error) {
	didStr, err := t.client.Get(ctx, connKey(connID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	pipe := t.client.Pipeline()
	rem := pipe.SRem(ctx, didKey(didStr), connID)
	pipe.Del(ctx, connKey(connID))
	remaining := pipe.SCard(ctx, didKey(didStr))
	if _, err := pipe.Exec(ctx); err != nil {
		return didStr, false, err
	}
	_ = rem
	return didStr, remaining.Val() == 0, nil
}

// IsOnline reports whether the identity holds at least one live connection.
// NFT identities are checked under their owner-stable form.
func (t *Tracker) IsOnline(ctx context.Context, rawDID string) (bool, error) {
	count, err := t.client.SCard(ctx, didKey(did.Normalize(rawDID))).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// OnlineOf filters a candidate set down to the identities currently online.
func (t *Tracker) OnlineOf(ctx context.Context, rawDIDs []string) ([]string, error) {
	online := make([]string, 0, len(rawDIDs))
	for _, raw := range rawDIDs {
		ok, err := t.IsOnline(ctx, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			online = append(online, raw)
		}
	}
	return online, nil
}
