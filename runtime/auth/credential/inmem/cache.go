// Package inmem provides a process-local credential cache.
package inmem

import (
	"context"
	"sync"

	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// Cache is an in-memory credential.Cache. Tokens are copied on the way in
// and out so evictions can zeroize them without affecting callers.
type Cache struct {
	mu     sync.RWMutex
	tokens map[credential.Key]credential.Token
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{tokens: make(map[credential.Key]credential.Token)}
}

// Get implements credential.Cache.
func (c *Cache) Get(_ context.Context, key credential.Key) (credential.Token, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[key]
	if !ok {
		return credential.Token{}, false, nil
	}
	return tok.Clone(), true, nil
}

// Put implements credential.Cache.
func (c *Cache) Put(_ context.Context, key credential.Key, tok credential.Token) error {
	stored := tok.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.tokens[key]; ok {
		old.AccessToken.Clear()
	}
	c.tokens[key] = stored
	return nil
}

// Delete implements credential.Cache.
func (c *Cache) Delete(_ context.Context, key credential.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.tokens[key]; ok {
		old.AccessToken.Clear()
		delete(c.tokens, key)
	}
	return nil
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}
