package signature

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/cpe-emitter/internal/observability"
)

// DefaultCertificateTTL is how long an extracted key pair stays cached
const DefaultCertificateTTL = time.Hour

// Loader extracts a key pair from the container at path
type Loader func(path, passphrase string) (*KeyPair, error)

// CertificateCache caches extracted key pairs by container path.
// Reads share a lock; loads run outside it and are coalesced per path.
type CertificateCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
	load    Loader
	group   singleflight.Group
	metrics *observability.Metrics
}

type cacheEntry struct {
	pair        *KeyPair
	fingerprint [sha256.Size]byte
	expiresAt   time.Time
}

// CacheOption configures a CertificateCache
type CacheOption func(*CertificateCache)

// WithCacheTTL sets the entry lifetime
func WithCacheTTL(d time.Duration) CacheOption {
	return func(c *CertificateCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithCacheClock sets the clock used for expiry
func WithCacheClock(clock clockwork.Clock) CacheOption {
	return func(c *CertificateCache) {
		c.clock = clock
	}
}

// WithLoader replaces the PKCS#12 file loader
func WithLoader(l Loader) CacheOption {
	return func(c *CertificateCache) {
		c.load = l
	}
}

// WithCacheMetrics records lookups on m
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *CertificateCache) {
		c.metrics = m
	}
}

// NewCertificateCache creates an empty cache
func NewCertificateCache(opts ...CacheOption) *CertificateCache {
	c := &CertificateCache{
		entries: make(map[string]*cacheEntry),
		ttl:     DefaultCertificateTTL,
		clock:   clockwork.NewRealClock(),
		load:    LoadPKCS12,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached pair for path, loading it when absent or expired.
// An entry cached under a different passphrase is reloaded.
func (c *CertificateCache) Get(path, passphrase string) (*KeyPair, error) {
	fp := sha256.Sum256([]byte(passphrase))

	c.mu.RLock()
	entry, found := c.entries[path]
	c.mu.RUnlock()

	result := observability.CacheMiss
	if found && entry.fingerprint == fp {
		if c.clock.Now().Before(entry.expiresAt) {
			c.metrics.CertificateCache(observability.CacheHit)
			return entry.pair, nil
		}
		result = observability.CacheExpired
	}

	v, err, _ := c.group.Do(path+"\x00"+string(fp[:]), func() (interface{}, error) {
		pair, err := c.load(path, passphrase)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[path] = &cacheEntry{
			pair:        pair,
			fingerprint: fp,
			expiresAt:   c.clock.Now().Add(c.ttl),
		}
		c.mu.Unlock()
		return pair, nil
	})
	if err != nil {
		c.metrics.CertificateCache(observability.CacheError)
		return nil, err
	}
	c.metrics.CertificateCache(result)
	return v.(*KeyPair), nil
}

// Invalidate drops the entry of path
func (c *CertificateCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Purge removes all cached entries
func (c *CertificateCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Size returns the number of cached entries
func (c *CertificateCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
