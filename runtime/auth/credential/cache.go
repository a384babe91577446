package credential

import "context"

// Cache stores delegated tokens. Implementations must return tokens that do
// not alias their internal storage and must treat Put as a whole-value
// replacement.
type Cache interface {
	// Get returns the cached token for key. The boolean is false when no
	// token is stored.
	Get(ctx context.Context, key Key) (Token, bool, error)
	// Put stores tok under key.
	Put(ctx context.Context, key Key, tok Token) error
	// Delete evicts the token stored under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key Key) error
}
