package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pricepath/internal/metrics"
)

// Namespace separates cache keys by the component that owns them, so
// two components can never collide on a key or on the shape of the
// value stored under it.
type Namespace string

const (
	NamespacePairs    Namespace = "pairs"
	NamespaceGraph    Namespace = "graph"
	NamespaceReserves Namespace = "reserves"
	NamespaceMetadata Namespace = "metadata"
	NamespacePrices   Namespace = "prices"
)

// Publisher receives successfully computed values for a secondary
// tier (e.g. a shared store). Publishes are best-effort: a failure is
// logged and never surfaces to the caller that computed the value.
type Publisher interface {
	Publish(ctx context.Context, ns Namespace, key string, value any) error
}

// entry is one keyed slot in the table. done is closed exactly once,
// when the compute finishes; until then the entry is pending and every
// caller for the same key waits on it instead of computing again.
type entry struct {
	done      chan struct{}
	value     any
	err       error
	expiresAt time.Time
}

func (e *entry) fresh(now time.Time) bool {
	return e.err == nil && now.Before(e.expiresAt)
}

// Config tunes a Cache instance.
type Config struct {
	// ComputeTimeout bounds every compute function invocation so a
	// stuck upstream call cannot wedge a key in the pending state.
	ComputeTimeout time.Duration
	// SweepInterval controls how often expired entries are evicted in
	// the background. Zero disables the sweeper.
	SweepInterval time.Duration
	// PublishTimeout bounds the best-effort secondary publish.
	PublishTimeout time.Duration
}

// DefaultConfig provides conservative cache timings.
var DefaultConfig = Config{
	ComputeTimeout: 10 * time.Second,
	SweepInterval:  time.Minute,
	PublishTimeout: 2 * time.Second,
}

// Cache is a keyed memoization table with TTLs and an anti-stampede
// guarantee: for any key at most one compute is in flight at a time,
// no matter how many callers ask for it concurrently. The table mutex
// only guards map access; waiting happens per entry, so lookups for
// different keys never serialize behind one another.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	cfg       Config
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.CacheMetrics

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. publisher may be nil when no secondary tier is
// configured.
func New(cfg Config, publisher Publisher, logger *slog.Logger) *Cache {
	if cfg.ComputeTimeout == 0 {
		cfg.ComputeTimeout = DefaultConfig.ComputeTimeout
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = DefaultConfig.PublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		entries:   make(map[string]*entry),
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics.Cache(),
		stop:      make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		go c.sweep(cfg.SweepInterval)
	}
	return c
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// GetOrSet returns the value stored under (ns, key) if a fresh entry
// exists, joins the in-flight compute if one is pending, and otherwise
// invokes fn exactly once and caches the result for ttl. A failed or
// timed out compute is never cached: the key reverts to empty, the
// error fans out to every waiter, and the next call retries from
// scratch. A ttl of zero means the value is always recomputed.
func GetOrSet[T any](ctx context.Context, c *Cache, ns Namespace, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	k := string(ns) + "/" + key

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		select {
		case <-e.done:
			if e.fresh(time.Now()) {
				c.mu.Unlock()
				c.metrics.Hits.WithLabelValues(string(ns)).Inc()
				return assert[T](e.value, k)
			}
			// Expired or failed entry: fall through and recompute.
		default:
			c.mu.Unlock()
			c.metrics.Waits.WithLabelValues(string(ns)).Inc()
			return await[T](ctx, e, k)
		}
	}

	e := &entry{done: make(chan struct{})}
	c.entries[k] = e
	c.mu.Unlock()
	c.metrics.Misses.WithLabelValues(string(ns)).Inc()

	go c.compute(ns, key, k, e, ttl, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	return await[T](ctx, e, k)
}

// Invalidate removes the entry for (ns, key). A pending compute is
// left to finish; its result simply lands in an entry that is no
// longer reachable from the table.
func (c *Cache) Invalidate(ns Namespace, key string) {
	k := string(ns) + "/" + key
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// compute runs fn under the configured timeout and settles the entry.
// It runs detached from the requesting context so one caller bailing
// out does not fail the compute for everyone else waiting on it.
// tableKey addresses the entries map; the publisher sees the raw key.
func (c *Cache) compute(ns Namespace, key, tableKey string, e *entry, ttl time.Duration, fn func(context.Context) (any, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ComputeTimeout)
	defer cancel()

	value, err := fn(ctx)

	c.mu.Lock()
	if err != nil {
		e.err = err
		if c.entries[tableKey] == e {
			delete(c.entries, tableKey)
		}
	} else {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Unlock()
	close(e.done)

	if err != nil {
		c.metrics.Failures.WithLabelValues(string(ns)).Inc()
		return
	}
	if c.publisher != nil {
		go c.publish(ns, key, value)
	}
}

func (c *Cache) publish(ns Namespace, key string, value any) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
	defer cancel()

	if err := c.publisher.Publish(ctx, ns, key, value); err != nil {
		c.logger.Warn("secondary cache publish failed",
			"namespace", string(ns), "key", key, "err", err)
	}
}

// sweep evicts expired settled entries so the table does not grow
// without bound between lookups.
func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				select {
				case <-e.done:
					if !e.fresh(now) {
						delete(c.entries, k)
					}
				default:
				}
			}
			c.mu.Unlock()
		}
	}
}

func await[T any](ctx context.Context, e *entry, key string) (T, error) {
	var zero T
	select {
	case <-e.done:
		if e.err != nil {
			return zero, e.err
		}
		return assert[T](e.value, key)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func assert[T any](value any, key string) (T, error) {
	v, ok := value.(T)
	if !ok {
		var zero T
		return zero, errors.Errorf("cache: unexpected value type %T for key %s", value, key)
	}
	return v, nil
}
