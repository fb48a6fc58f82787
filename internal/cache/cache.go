// Package cache implements the ordered, byte-budgeted cache engine: LRU
// eviction under a hard byte ceiling, lazy per-entry and global expiration,
// and operation counters.
package cache

import (
	derrors "github.com/y3owk1n/kioku/internal/errors"
	"github.com/y3owk1n/kioku/internal/infra/clock"
	"go.uber.org/zap"
)

const (
	// DefaultKeyMaxlen is the memcached-standard key length limit in bytes.
	DefaultKeyMaxlen = 250

	// DefaultValueMaxlen is the default value length limit in bytes (1 MiB).
	DefaultValueMaxlen = 1 << 20
)

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Bytes        uint64
	GetHits      uint64
	GetMisses    uint64
	DeleteHits   uint64
	DeleteMisses uint64
	TotalItems   uint64
	Evictions    uint64
	Reclaimed    uint64
}

// Cache is the engine. It is not safe for concurrent use; the server
// serialises all access behind a single driver goroutine.
type Cache struct {
	capacity      uint64
	itemLifetime  float64
	keyMaxlen     uint64
	valueMaxlen   uint64
	globalExptime float64
	bytesUsed     uint64
	store         *Store
	stats         Stats
	clock         clock.Clock
	logger        *zap.Logger
}

// New creates an engine with the given byte capacity and the default
// key/value length limits, unlimited item lifetime, and no flush horizon.
func New(capacity uint64, clk clock.Clock, logger *zap.Logger) *Cache {
	return &Cache{
		capacity:      capacity,
		itemLifetime:  Unset,
		keyMaxlen:     DefaultKeyMaxlen,
		valueMaxlen:   DefaultValueMaxlen,
		globalExptime: Unset,
		store:         NewStore(),
		clock:         clk,
		logger:        logger,
	}
}

// WithItemLifetime sets the idle lifetime in seconds; negative means
// unlimited.
func (c *Cache) WithItemLifetime(secs float64) *Cache {
	c.itemLifetime = secs

	return c
}

// WithKeyMaxlen overrides the key length limit in bytes.
func (c *Cache) WithKeyMaxlen(maxlen uint64) *Cache {
	c.keyMaxlen = maxlen

	return c
}

// WithValueMaxlen overrides the value length limit in bytes.
func (c *Cache) WithValueMaxlen(maxlen uint64) *Cache {
	c.valueMaxlen = maxlen

	return c
}

// Capacity returns the byte budget ceiling.
func (c *Cache) Capacity() uint64 {
	return c.capacity
}

// Len returns the number of physically present entries, dead ones included.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Stats returns a counter snapshot with Bytes set to the current usage.
func (c *Cache) Stats() Stats {
	stats := c.stats
	stats.Bytes = c.bytesUsed

	return stats
}

func (c *Cache) checkKeyLen(key string) bool {
	return uint64(len(key)) <= c.keyMaxlen
}

// isAlive implements the liveness predicate. The clause order is
// load-bearing: the global flush horizon trumps a per-entry expiry that was
// set before the flush.
func (c *Cache) isAlive(v *Value, now float64) bool {
	if c.globalExptime >= 0 && v.atime < c.globalExptime {
		return false
	}

	if v.exptime >= 0 {
		if c.globalExptime >= 0 && v.exptime < c.globalExptime {
			return false
		}

		return v.exptime >= now
	}

	if c.itemLifetime < 0 {
		return true
	}

	return v.atime+c.itemLifetime > now
}

func entrySize(key string, v *Value) uint64 {
	return uint64(len(key) + v.Len())
}

// Get looks up key. A hit refreshes the access time and moves the entry to
// the front of the order; a dead entry is dropped and reported as a miss.
func (c *Cache) Get(key string) (*Value, error) {
	if !c.checkKeyLen(key) {
		return nil, derrors.Newf(derrors.CodeKeyTooLong, "key is %d bytes", len(key))
	}

	v, found := c.store.Remove(key)
	if !found {
		c.stats.GetMisses++

		return nil, derrors.New(derrors.CodeKeyNotFound, "key is not present")
	}

	size := entrySize(key, v)
	c.bytesUsed -= size

	now := c.clock.Now()
	if !c.isAlive(v, now) {
		c.stats.GetMisses++

		return nil, derrors.New(derrors.CodeKeyNotFound, "key is not present")
	}

	v.Touch(now)
	c.store.PushFront(key, v)
	c.bytesUsed += size
	c.stats.GetHits++

	return v, nil
}

// Contains reports presence of a live entry. It is a get that discards the
// value, so it counts as a get hit or miss and refreshes recency.
func (c *Cache) Contains(key string) (bool, error) {
	_, err := c.Get(key)
	if err != nil {
		if derrors.IsCode(err, derrors.CodeKeyNotFound) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Set stores a record under key, overwriting any existing record and
// evicting from the back of the order until the new entry fits. Counts
// toward TotalItems.
func (c *Cache) Set(key string, v *Value) error {
	if !c.checkKeyLen(key) {
		return derrors.Newf(derrors.CodeKeyTooLong, "key is %d bytes", len(key))
	}

	if uint64(v.Len()) > c.valueMaxlen {
		return derrors.Newf(derrors.CodeValueTooLong, "value is %d bytes", v.Len())
	}

	err := c.insert(key, v, true)
	if err != nil {
		return err
	}

	c.stats.TotalItems++

	return nil
}

// Reinsert puts back a record previously obtained from Remove, after the
// caller mutated it. Unlike Set it does not count toward TotalItems, so
// incr/decr/touch write-backs leave the set-family counter untouched.
func (c *Cache) Reinsert(key string, v *Value) error {
	return c.insert(key, v, false)
}

func (c *Cache) insert(key string, v *Value, reclaim bool) error {
	need := entrySize(key, v)
	if need > c.capacity {
		return derrors.Newf(
			derrors.CodeCapacityExceeded,
			"entry of %d bytes exceeds capacity of %d bytes",
			need,
			c.capacity,
		)
	}

	if old, found := c.store.Remove(key); found {
		c.bytesUsed -= entrySize(key, old)
	}

	for c.bytesUsed+need > c.capacity {
		victimKey, victim, found := c.store.PopBack()
		if !found {
			// Unreachable while the accounting invariant holds
			return derrors.New(derrors.CodeEvictionFailed, "no entries left to evict")
		}

		c.bytesUsed -= entrySize(victimKey, victim)
		c.stats.Evictions++

		if reclaim {
			c.stats.Reclaimed++
		}

		c.logger.Debug("evicted entry",
			zap.String("key", victimKey),
			zap.Uint64("bytes_used", c.bytesUsed))
	}

	v.Touch(c.clock.Now())
	c.store.PushFront(key, v)
	c.bytesUsed += need

	return nil
}

// Remove deletes key and returns its record, transferring ownership to the
// caller. A physically present but dead entry is dropped and reported as
// not found.
func (c *Cache) Remove(key string) (*Value, error) {
	if !c.checkKeyLen(key) {
		return nil, derrors.Newf(derrors.CodeKeyTooLong, "key is %d bytes", len(key))
	}

	v, found := c.store.Remove(key)
	if !found {
		c.stats.DeleteMisses++

		return nil, derrors.New(derrors.CodeKeyNotFound, "key is not present")
	}

	c.bytesUsed -= entrySize(key, v)

	if !c.isAlive(v, c.clock.Now()) {
		c.stats.DeleteMisses++

		return nil, derrors.New(derrors.CodeKeyNotFound, "key is not present")
	}

	c.stats.DeleteHits++

	return v, nil
}

// FlushAll publishes a horizon; entries whose access time precedes it die
// lazily when next touched. O(1), no scan.
func (c *Cache) FlushAll(horizon float64) {
	c.globalExptime = horizon

	c.logger.Debug("flush horizon set", zap.Float64("horizon", horizon))
}
