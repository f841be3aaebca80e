// Package enrich resolves foreign-key references (sender id to profile)
// against the store, batching lookups and caching results for the lifetime of
// a topic subscription.
package enrich

import (
	"context"
	"sync"

	"github.com/cyb3rh3ad/auradesk/internal/transport"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Resolver batches profile lookups and caches them per topic lifetime.
//
// The cache is TTL-free: entries live as long as the resolver. Ids the store
// does not know resolve to the Unknown sentinel and are cached too, so a
// deleted user costs one lookup, not one per event.
type Resolver struct {
	store transport.Store

	mu    sync.RWMutex
	cache map[string]wire.Profile
}

// NewResolver creates a Resolver over store.
func NewResolver(store transport.Store) *Resolver {
	return &Resolver{store: store, cache: make(map[string]wire.Profile)}
}

// Resolve returns a profile for every requested id. All uncached ids from the
// batch go to the store in a single call. A failed lookup returns a
// FetchError and leaves the cache untouched; already-cached entries are
// unaffected and the call is retryable.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]wire.Profile, error) {
	out := make(map[string]wire.Profile, len(ids))

	var missing []string
	r.mu.RLock()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if p, ok := r.cache[id]; ok {
			out[id] = p
		} else if !contains(missing, id) {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	found, err := r.store.LookupProfiles(ctx, missing)
	if err != nil {
		return out, transport.NewFetchError("profiles", err)
	}

	r.mu.Lock()
	for _, id := range missing {
		p, ok := found[id]
		if !ok {
			p = wire.UnknownProfile(id)
		}
		r.cache[id] = p
		out[id] = p
	}
	r.mu.Unlock()

	return out, nil
}

// Cached returns the cached profile for id, if any. Never blocks.
func (r *Resolver) Cached(id string) (wire.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[id]
	return p, ok
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
