package redis

import (
	"context"
	"strings"
	"time"

	"mpesa-portal/internal/portal"
)

var _ portal.CredentialStore = (*TokenStore)(nil)

// TokenStore keeps the saved bearer token in Redis so several operators of
// one dashboard deployment share it. Per the credential store contract it
// degrades to "no stored token" when Redis is unreachable: Load returns ""
// and Save/Clear swallow errors.
type TokenStore struct {
	client  RedisClient
	key     string
	timeout time.Duration
}

func NewTokenStore(client RedisClient) *TokenStore {
	return &TokenStore{
		client:  client,
		key:     "portal:oauth_access_token",
		timeout: 2 * time.Second,
	}
}

func (s *TokenStore) Load() string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	v, err := s.client.Get(ctx, s.key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func (s *TokenStore) Save(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.client.Set(ctx, s.key, strings.TrimSpace(token), 0)
}

func (s *TokenStore) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.client.Del(ctx, s.key)
}
