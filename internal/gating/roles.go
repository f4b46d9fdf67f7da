package gating

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/rules"
)

const roleCacheTTL = 10 * time.Minute

// RoleClient resolves a member's roles in an external community via the role
// service. Responses are cached in redis so a burst of access checks against
// the same group does not hammer the upstream.
type RoleClient struct {
	baseURL string
	http    *http.Client
	cache   *redis.Client
	log     zerolog.Logger
}

func NewRoleClient(baseURL string, cache *redis.Client, log zerolog.Logger) *RoleClient {
	return &RoleClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		log:     log,
	}
}

type roleResponse struct {
	Roles []struct {
		RoleID string `json:"roleId"`
		Access bool   `json:"access"`
	} `json:"roles"`
}

// RolesOf returns the roles held by address in the external group.
func (c *RoleClient) RolesOf(ctx context.Context, groupID, address string) ([]rules.Role, error) {
	cacheKey := "roles:" + groupID + ":" + address

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var roles []rules.Role
			if json.Unmarshal(cached, &roles) == nil {
				return roles, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/v1/guild/%s/member/%s",
		c.baseURL, url.PathEscape(groupID), url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("role service returned %d", resp.StatusCode)
	}

	var body roleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	roles := make([]rules.Role, 0, len(body.Roles))
	for _, r := range body.Roles {
		roles = append(roles, rules.Role{ID: r.RoleID, Access: r.Access})
	}

	if c.cache != nil {
		if encoded, err := json.Marshal(roles); err == nil {
			if err := c.cache.Set(ctx, cacheKey, encoded, roleCacheTTL).Err(); err != nil {
				c.log.Debug().Err(err).Str("group", groupID).Msg("role cache write failed")
			}
		}
	}
	return roles, nil
}
