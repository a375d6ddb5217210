package client

import (
	"context"
	"sync"
	"time"
)

// defaultDirectoryCacheTTL bounds how long a listing may be served without a
// fresh platform call.
const defaultDirectoryCacheTTL = 2 * time.Second

// ListFunc fetches one directory listing.
type ListFunc func(ctx context.Context, token, path string) ([]FileEntry, error)

// DirectoryCache caches directory listings keyed by (token, path) with a
// short TTL and in-flight deduplication: concurrent lists of the same key
// share one fetch.
type DirectoryCache struct {
	list ListFunc
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

type cacheKey struct {
	token string
	path  string
}

type cacheEntry struct {
	ready     chan struct{}
	expiresAt time.Time
	entries   []FileEntry
	err       error
}

// DirectoryCacheOption configures a DirectoryCache.
type DirectoryCacheOption func(*DirectoryCache)

// WithDirectoryCacheTTL overrides the entry TTL.
func WithDirectoryCacheTTL(ttl time.Duration) DirectoryCacheOption {
	return func(d *DirectoryCache) {
		d.ttl = ttl
	}
}

// WithDirectoryCacheClock overrides the time source, for tests.
func WithDirectoryCacheClock(now func() time.Time) DirectoryCacheOption {
	return func(d *DirectoryCache) {
		d.now = now
	}
}

// NewDirectoryCache creates a cache over the given list function.
func NewDirectoryCache(list ListFunc, opts ...DirectoryCacheOption) *DirectoryCache {
	d := &DirectoryCache{
		list:    list,
		ttl:     defaultDirectoryCacheTTL,
		now:     time.Now,
		entries: make(map[cacheKey]*cacheEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// List returns the listing for (token, path), serving a cached unexpired
// entry unless force is set.
func (d *DirectoryCache) List(ctx context.Context, token, path string, force bool) ([]FileEntry, error) {
	key := cacheKey{token: token, path: path}

	d.mu.Lock()
	entry := d.entries[key]
	if entry != nil {
		select {
		case <-entry.ready:
			// Resolved entry; serve it unless expired or forced.
			if !force && entry.err == nil && d.now().Before(entry.expiresAt) {
				d.mu.Unlock()
				return entry.entries, entry.err
			}
		default:
			// In flight; share it even when forced, so a burst of forced
			// lists still issues a single fetch.
			d.mu.Unlock()
			select {
			case <-entry.ready:
				return entry.entries, entry.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	entry = &cacheEntry{ready: make(chan struct{})}
	d.entries[key] = entry
	d.mu.Unlock()

	entries, err := d.list(ctx, token, path)

	d.mu.Lock()
	entry.entries = entries
	entry.err = err
	entry.expiresAt = d.now().Add(d.ttl)
	close(entry.ready)
	if err != nil {
		// Do not cache failures past the waiters that shared this fetch.
		if d.entries[key] == entry {
			delete(d.entries, key)
		}
	}
	d.mu.Unlock()

	return entries, err
}

// InvalidateToken drops every entry for the given token. Called after any
// write, mkdir or delete.
func (d *DirectoryCache) InvalidateToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.entries {
		if key.token == token {
			delete(d.entries, key)
		}
	}
}

// Reset drops all entries.
func (d *DirectoryCache) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[cacheKey]*cacheEntry)
}
