// Package redis stores delegated tokens in Redis so every replica shares the
// same cache. Values are sealed with AES-GCM bound to their key and expire
// with the token.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
	"github.com/assistant0/assistant0/runtime/auth/sealer"
)

const (
	defaultPrefix = "assistant0:token:"
	// Tokens without a known expiry are kept briefly; they are never valid.
	minTTL = time.Second
)

type (
	// Options configures the cache.
	Options struct {
		// Redis is the connection. Required.
		Redis redis.UniversalClient
		// Sealer encrypts values. Required.
		Sealer sealer.Sealer
		// Prefix namespaces keys. Defaults to "assistant0:token:".
		Prefix string
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Cache implements credential.Cache on Redis.
	Cache struct {
		rdb    redis.UniversalClient
		sealer sealer.Sealer
		prefix string
		now    func() time.Time
	}

	record struct {
		Subject     string    `json:"sub"`
		Connection  string    `json:"conn"`
		AccessToken string    `json:"at"`
		TokenType   string    `json:"typ,omitempty"`
		Scopes      []string  `json:"scp,omitempty"`
		ExpiresAt   time.Time `json:"exp"`
	}
)

// New returns a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Sealer == nil {
		return nil, errors.New("sealer is required")
	}
	c := &Cache{rdb: opts.Redis, sealer: opts.Sealer, prefix: opts.Prefix, now: opts.Now}
	if c.prefix == "" {
		c.prefix = defaultPrefix
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Get implements credential.Cache.
func (c *Cache) Get(ctx context.Context, key credential.Key) (credential.Token, bool, error) {
	k := c.key(key)
	sealed, err := c.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return credential.Token{}, false, nil
	}
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("redis get token: %w", err)
	}
	plain, err := c.sealer.Open(sealed, k)
	if err != nil {
		return credential.Token{}, false, fmt.Errorf("open token: %w", err)
	}
	var rec record
	if err := json.Unmarshal(plain, &rec); err != nil {
		return credential.Token{}, false, fmt.Errorf("decode token: %w", err)
	}
	clear(plain)
	// A record written for another key is never returned.
	if rec.Subject != key.Subject || rec.Connection != key.Connection {
		return credential.Token{}, false, nil
	}
	return credential.Token{
		Subject:     rec.Subject,
		Connection:  rec.Connection,
		AccessToken: auth.NewSecret(rec.AccessToken),
		TokenType:   rec.TokenType,
		Scopes:      rec.Scopes,
		ExpiresAt:   rec.ExpiresAt,
	}, true, nil
}

// Put implements credential.Cache. The entry expires with the token.
func (c *Cache) Put(ctx context.Context, key credential.Key, tok credential.Token) error {
	k := c.key(key)
	plain, err := json.Marshal(record{
		Subject:     key.Subject,
		Connection:  key.Connection,
		AccessToken: tok.AccessToken.Reveal(),
		TokenType:   tok.TokenType,
		Scopes:      tok.Scopes,
		ExpiresAt:   tok.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	sealed, err := c.sealer.Seal(plain, k)
	clear(plain)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	ttl := minTTL
	if !tok.ExpiresAt.IsZero() {
		ttl = max(tok.ExpiresAt.Sub(c.now()), minTTL)
	}
	if err := c.rdb.Set(ctx, k, sealed, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

// Delete implements credential.Cache.
func (c *Cache) Delete(ctx context.Context, key credential.Key) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	return nil
}

// Name implements health.Pinger.
func (c *Cache) Name() string { return "token-cache-redis" }

// Ping implements health.Pinger.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Cache) key(k credential.Key) string {
	return c.prefix + k.Subject + "|" + k.Connection
}

var _ credential.Cache = (*Cache)(nil)
