// Package session owns the process-wide mapping from bearer tokens to live
// authenticated platform clients, plus the optional settings vault used to
// resume sessions across restarts.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"instabridge/internal/platform"
)

// ErrUsernameRequired is returned when attempting to register a session
// without an account name.
var ErrUsernameRequired = errors.New("username is required")

// Store defines the persistence contract for registry entries. Entries have
// no TTL; they live until an explicit Delete or process termination.
type Store interface {
	Save(ctx context.Context, token string, client platform.Client) error
	Get(ctx context.Context, token string) (platform.Client, bool, error)
	Delete(ctx context.Context, token string) error
	Count(ctx context.Context) (int, error)
}

// Option configures a Registry instance.
type Option func(*Registry)

// WithStore injects a custom Store implementation.
func WithStore(store Store) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithOpaqueTokens switches token issuance from the username+timestamp scheme
// to random hex strings of the given byte length.
func WithOpaqueTokens(length int) Option {
	return func(r *Registry) {
		r.opaque = true
		if length > 0 {
			r.tokenLength = length
		}
	}
}

// Registry coordinates token issuance and lookup against a backing store.
type Registry struct {
	store       Store
	opaque      bool
	tokenLength int

	mu        sync.Mutex
	lastStamp int64
}

// NewRegistry constructs a Registry, defaulting to an in-memory store.
func NewRegistry(opts ...Option) *Registry {
	registry := &Registry{tokenLength: 32}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	if registry.store == nil {
		registry.store = NewMemoryStore()
	}
	return registry
}

// Create issues a token for the provided account and records the client
// handle under it. Tokens are unique for the process lifetime: the timestamp
// component is observed monotonically even if the wall clock retreats.
func (r *Registry) Create(ctx context.Context, username string, client platform.Client) (string, error) {
	if username == "" {
		return "", ErrUsernameRequired
	}
	token, err := r.newToken(username)
	if err != nil {
		return "", err
	}
	if err := r.store.Save(ctx, token, client); err != nil {
		return "", err
	}
	return token, nil
}

func (r *Registry) newToken(username string) (string, error) {
	if r.opaque {
		return generateToken(r.tokenLength)
	}
	r.mu.Lock()
	stamp := time.Now().UnixNano()
	if stamp <= r.lastStamp {
		stamp = r.lastStamp + 1
	}
	r.lastStamp = stamp
	r.mu.Unlock()
	return fmt.Sprintf("%s_%d", username, stamp), nil
}

// Lookup retrieves the client handle for an exact token match.
func (r *Registry) Lookup(ctx context.Context, token string) (platform.Client, bool, error) {
	if token == "" {
		return nil, false, nil
	}
	return r.store.Get(ctx, token)
}

// Remove deletes the token's entry. Removing an absent token is a no-op.
func (r *Registry) Remove(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return r.store.Delete(ctx, token)
}

// Count reports the number of live sessions for the health endpoint.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Ping verifies the backing store is reachable when it exposes a ping method.
func (r *Registry) Ping(ctx context.Context) error {
	if r == nil || r.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := r.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
