package respcache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalCache is an in-process response cache backed by patrickmn/go-cache.
type LocalCache struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
}

// NewLocalCache creates a local cache with the given default TTL. Expired
// entries are purged every minute.
func NewLocalCache(defaultTTL time.Duration) *LocalCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LocalCache{
		cache:      gocache.New(defaultTTL, time.Minute),
		defaultTTL: defaultTTL,
	}
}

func (l *LocalCache) Get(_ context.Context, key string) (*Entry, bool) {
	value, found := l.cache.Get(key)
	if !found {
		return nil, false
	}
	entry, ok := value.(*Entry)
	return entry, ok
}

func (l *LocalCache) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	l.cache.Set(key, entry, ttl)
	return nil
}

func (l *LocalCache) InvalidatePrefix(_ context.Context, prefix string) error {
	for key := range l.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			l.cache.Delete(key)
		}
	}
	return nil
}

func (l *LocalCache) Close() error {
	l.cache.Flush()
	return nil
}
