package keycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/crawlgate/internal/clock"
	"github.com/JakeFAU/crawlgate/internal/hash/sha256"
	"github.com/JakeFAU/crawlgate/internal/metrics"
	"github.com/JakeFAU/crawlgate/internal/registry"
)

// ErrUnavailable is returned when the registry failed and no cached verdict may be used.
var ErrUnavailable = errors.New("key validation unavailable")

// FailPolicy decides what a registry failure means for a key with a stale cached record.
type FailPolicy int

const (
	// FailClosed treats the key as invalid; the stale record is never trusted.
	FailClosed FailPolicy = iota
	// FailSoft answers with the stale record's verdict.
	FailSoft
)

// ParseFailPolicy maps the configuration string onto a FailPolicy.
func ParseFailPolicy(s string) (FailPolicy, error) {
	switch s {
	case "", "closed":
		return FailClosed, nil
	case "soft":
		return FailSoft, nil
	default:
		return FailClosed, fmt.Errorf("unknown fail policy %q", s)
	}
}

func (p FailPolicy) String() string {
	if p == FailSoft {
		return "soft"
	}
	return "closed"
}

const (
	shardCount        = 16
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 4096
	defaultLookupWait = 5 * time.Second
)

// Config controls cache behavior.
type Config struct {
	// TTL bounds how long a valid verdict is trusted.
	TTL time.Duration
	// NegativeTTL bounds how long an invalid verdict is trusted; zero disables caching them.
	NegativeTTL time.Duration
	// MaxEntries caps the total number of cached keys across shards.
	MaxEntries int
	FailPolicy FailPolicy
	// LookupTimeout bounds the detached leader lookup, including the shared tier.
	LookupTimeout time.Duration
	// Shared is an optional cross-replica tier consulted before the registry.
	Shared SharedStore
	Clock  clock.Clock
}

type entry struct {
	record    registry.Record
	expiresAt time.Time
}

type shard struct {
	entries *lru.Cache[string, entry]
	flight  singleflight.Group
}

// Cache validates keys with TTL caching and single-flight de-duplication.
type Cache struct {
	client registry.Client
	cfg    Config
	shards [shardCount]*shard
	logger *zap.Logger
}

// New builds a Cache in front of client.
func New(client registry.Client, cfg Config, logger *zap.Logger) (*Cache, error) {
	if client == nil {
		return nil, errors.New("registry client is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.NegativeTTL < 0 {
		cfg.NegativeTTL = 0
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupWait
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	perShard := max(cfg.MaxEntries/shardCount, 1)
	c := &Cache{client: client, cfg: cfg, logger: logger}
	for i := range c.shards {
		entries, err := lru.New[string, entry](perShard)
		if err != nil {
			return nil, fmt.Errorf("init shard %d: %w", i, err)
		}
		c.shards[i] = &shard{entries: entries}
	}
	return c, nil
}

// Validate reports whether key is currently valid.
// It fails only when no usable cached record exists and the registry call failed,
// or when ctx ends while waiting on another caller's lookup.
func (c *Cache) Validate(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	sh := c.shardFor(key)
	if e, ok := sh.entries.Get(key); ok && c.fresh(e) {
		metrics.ObserveKeyCache(metrics.CacheHit)
		return e.record.Valid, nil
	}

	lookupCtx := context.WithoutCancel(ctx)
	ch := sh.flight.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(lookupCtx, c.cfg.LookupTimeout)
		defer cancel()
		return c.refresh(ctx, sh, key)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.ObserveKeyCache(metrics.CacheCoalesced)
		}
		if res.Err != nil {
			return false, res.Err
		}
		valid, _ := res.Val.(bool)
		return valid, nil
	case <-ctx.Done():
		return false, fmt.Errorf("await key validation: %w", ctx.Err())
	}
}

// Invalidate drops any cached verdict for key.
func (c *Cache) Invalidate(key string) {
	c.shardFor(key).entries.Remove(key)
}

// Len reports the number of cached keys, expired ones included.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		n += sh.entries.Len()
	}
	return n
}

// refresh runs once per in-flight key, on the leader's detached context.
func (c *Cache) refresh(ctx context.Context, sh *shard, key string) (bool, error) {
	prev, hasPrev := sh.entries.Peek(key)
	// A flight that finished between our miss and DoChan already stored a fresh entry.
	if hasPrev && c.fresh(prev) {
		metrics.ObserveKeyCache(metrics.CacheHit)
		return prev.record.Valid, nil
	}

	fingerprint := sha256.Fingerprint(key)
	logger := c.logger.With(zap.String("key_fp", fingerprint[:12]))

	if c.cfg.Shared != nil {
		valid, ttl, found, err := c.cfg.Shared.Get(ctx, fingerprint)
		switch {
		case err != nil:
			logger.Warn("shared key cache read failed", zap.Error(err))
		case found:
			now := c.cfg.Clock.Now()
			c.store(sh, registry.Record{Key: key, Valid: valid, CheckedAt: now}, ttl)
			metrics.ObserveKeyCache(metrics.CacheShared)
			return valid, nil
		}
	}

	rec, err := c.client.Lookup(ctx, key)
	if err != nil {
		if hasPrev && c.cfg.FailPolicy == FailSoft {
			metrics.ObserveKeyCache(metrics.CacheStale)
			logger.Warn("registry lookup failed; serving stale verdict",
				zap.Bool("valid", prev.record.Valid),
				zap.Time("checked_at", prev.record.CheckedAt),
				zap.Error(err),
			)
			return prev.record.Valid, nil
		}
		if hasPrev {
			// Fail closed: the stale record is kept but treated as invalid, and nothing is cached.
			metrics.ObserveKeyCache(metrics.CacheStale)
			logger.Warn("registry lookup failed; treating stale key as invalid",
				zap.Time("checked_at", prev.record.CheckedAt),
				zap.Error(err),
			)
			return false, nil
		}
		metrics.ObserveKeyCache(metrics.CacheError)
		logger.Warn("registry lookup failed", zap.Stringer("fail_policy", c.cfg.FailPolicy), zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	metrics.ObserveKeyCache(metrics.CacheMiss)
	ttl := c.ttlFor(rec.Valid)
	c.store(sh, rec, ttl)
	if c.cfg.Shared != nil && ttl > 0 {
		if err := c.cfg.Shared.Set(ctx, fingerprint, rec.Valid, ttl); err != nil {
			logger.Warn("shared key cache write failed", zap.Error(err))
		}
	}
	logger.Debug("key validated against registry", zap.Bool("valid", rec.Valid))
	return rec.Valid, nil
}

func (c *Cache) store(sh *shard, rec registry.Record, ttl time.Duration) {
	if ttl <= 0 {
		sh.entries.Remove(rec.Key)
		return
	}
	sh.entries.Add(rec.Key, entry{record: rec, expiresAt: c.cfg.Clock.Now().Add(ttl)})
}

func (c *Cache) ttlFor(valid bool) time.Duration {
	if valid {
		return c.cfg.TTL
	}
	return c.cfg.NegativeTTL
}

func (c *Cache) fresh(e entry) bool {
	return c.cfg.Clock.Now().Before(e.expiresAt)
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}
