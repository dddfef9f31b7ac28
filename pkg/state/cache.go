package state

import (
	"context"
	"fmt"

	"github.com/wycats/bootsync/pkg/hostenv"
)

// SessionCache caches expensive probe output for the current boot.
// Entries written under a previous boot read as misses, so a reboot
// invalidates everything without bookkeeping.
type SessionCache struct {
	store *Store
	env   hostenv.Environment
}

// NewSessionCache binds the cache to the current host environment.
func NewSessionCache(store *Store, env hostenv.Environment) *SessionCache {
	return &SessionCache{store: store, env: env}
}

// Get returns the cached value for key, with ok=false on a miss or when
// the entry belongs to an earlier boot.
func (c *SessionCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	bootID, err := c.env.BootID()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read boot id: %w", err)
	}

	value, storedBoot, ok, err := c.store.getCacheEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok || storedBoot != bootID {
		return nil, false, nil
	}

	return value, true, nil
}

// Put stores value under key for the current boot.
func (c *SessionCache) Put(ctx context.Context, key string, value []byte) error {
	bootID, err := c.env.BootID()
	if err != nil {
		return fmt.Errorf("failed to read boot id: %w", err)
	}

	return c.store.putCacheEntry(ctx, key, bootID, value)
}

// Purge drops entries left over from earlier boots.
func (c *SessionCache) Purge(ctx context.Context) (int64, error) {
	bootID, err := c.env.BootID()
	if err != nil {
		return 0, fmt.Errorf("failed to read boot id: %w", err)
	}

	return c.store.PurgeStaleSessions(ctx, bootID)
}
