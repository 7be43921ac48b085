// Package cache is the persistent client-side cache tier. Entries live in a
// local pebble database with a per-entry TTL plus a wider "stale-usable"
// bound that callers may opt into when the live path is rate limited.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"pagestore/pkg/logger"
	"pagestore/pkg/telemetry"
)

const keyPrefix = "cache:"

// evictFraction is the share of entries dropped (oldest first) when the
// store grows past MaxEntries.
const evictFraction = 0.2

// entry is the stored envelope around a cached value.
type entry struct {
	Value    json.RawMessage `json:"v"`
	CachedAt int64           `json:"at"` // unix nanos
	TTLMs    int64           `json:"ttl_ms"`
}

// Options configures a cache store.
type Options struct {
	Path string
	// MaxEntries bounds the entry count; 0 means 4096.
	MaxEntries int
	// StaleTTL is the outer bound for stale-usable reads; 0 means 24h.
	StaleTTL time.Duration
	// MaxValueBytes skips caching of values larger than this; 0 disables
	// the bound.
	MaxValueBytes int64
}

// Store is a pebble-backed key/value cache with TTL semantics.
type Store struct {
	db       *pebble.DB
	max      int
	maxValue int64
	staleTTL time.Duration

	mu    sync.Mutex
	count int

	now func() time.Time
}

// Open opens (or creates) the cache database at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 4096
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = 24 * time.Hour
	}
	logger.Info("opening_cache_db", "path", opts.Path)
	db, err := pebble.Open(opts.Path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", opts.Path, "error", err)
		return nil, err
	}
	s := &Store{db: db, max: opts.MaxEntries, maxValue: opts.MaxValueBytes, staleTTL: opts.StaleTTL, now: time.Now}
	n, err := s.countEntries()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.count = n
	logger.Info("cache_opened", "path", opts.Path, "entries", n)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Get returns the cached value for key. With allowStale false the value is
// returned only while fresher than its TTL; with allowStale true the wider
// staleTTL bound applies instead. allowStale is only meant to be set when
// the live fetch path failed with a rate-limited classification.
func (s *Store) Get(key string, allowStale bool) ([]byte, bool) {
	if s.db == nil {
		return nil, false
	}
	v, closer, err := s.db.Get([]byte(keyPrefix + key))
	if err != nil {
		telemetry.ObserveCacheRead("miss")
		return nil, false
	}
	raw := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		_ = s.Invalidate(key)
		telemetry.ObserveCacheRead("miss")
		return nil, false
	}
	age := s.now().Sub(time.Unix(0, e.CachedAt))
	switch {
	case age < time.Duration(e.TTLMs)*time.Millisecond:
		telemetry.ObserveCacheRead("fresh")
		return e.Value, true
	case allowStale && age < s.staleTTL:
		telemetry.ObserveCacheRead("stale")
		logger.Debug("cache_stale_hit", "key", key, "age", age.String())
		return e.Value, true
	default:
		telemetry.ObserveCacheRead("miss")
		return nil, false
	}
}

// GetJSON is Get plus unmarshaling into out.
func (s *Store) GetJSON(key string, allowStale bool, out any) bool {
	raw, ok := s.Get(key, allowStale)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warn("cache_value_unmarshal_failed", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores val under key with the given ttl. Exceeding the configured
// entry bound evicts the oldest entries by cache time.
func (s *Store) Set(key string, val any, ttl time.Duration) error {
	if s.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if s.maxValue > 0 && int64(len(raw)) > s.maxValue {
		logger.Debug("cache_value_too_large", "key", key, "size", len(raw))
		return nil
	}
	e := entry{Value: raw, CachedAt: s.now().UnixNano(), TTLMs: ttl.Milliseconds()}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	k := []byte(keyPrefix + key)
	// existence check and count bump stay under one lock so two first
	// writers of the same key cannot both count it as new
	s.mu.Lock()
	_, closer, getErr := s.db.Get(k)
	if getErr == nil {
		_ = closer.Close()
	}
	if err := s.db.Set(k, b, pebble.Sync); err != nil {
		s.mu.Unlock()
		logger.Error("cache_set_failed", "key", key, "error", err)
		return err
	}
	if getErr != nil { // new key
		s.count++
	}
	over := s.count > s.max
	s.mu.Unlock()
	if over {
		if err := s.evictOldest(); err != nil {
			logger.Warn("cache_evict_failed", "error", err)
		}
	}
	return nil
}

// Invalidate removes a single entry.
func (s *Store) Invalidate(key string) error {
	if s.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	k := []byte(keyPrefix + key)
	s.mu.Lock()
	_, closer, getErr := s.db.Get(k)
	if getErr != nil {
		s.mu.Unlock()
		return nil
	}
	_ = closer.Close()
	if err := s.db.Delete(k, pebble.Sync); err != nil {
		s.mu.Unlock()
		return err
	}
	s.count--
	s.mu.Unlock()
	logger.Debug("cache_invalidated", "key", key)
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix. Used
// by thread writes, which must clear all cached pages for the thread.
func (s *Store) InvalidatePrefix(prefix string) error {
	if s.db == nil {
		return fmt.Errorf("cache not opened; call cache.Open first")
	}
	keys, err := s.keysWithPrefix(keyPrefix + prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.db.Delete([]byte(k), pebble.Sync); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.count -= len(keys)
	s.mu.Unlock()
	logger.Debug("cache_prefix_invalidated", "prefix", prefix, "removed", len(keys))
	return nil
}

// Sweep drops every entry older than the stale bound. Run periodically so
// abandoned entries do not accumulate forever.
func (s *Store) Sweep() (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("cache not opened; call cache.Open first")
	}
	cutoff := s.now().Add(-s.staleTTL).UnixNano()
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var doomed []string
	pfx := []byte(keyPrefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		var e entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil || e.CachedAt < cutoff {
			doomed = append(doomed, string(iter.Key()))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range doomed {
		if err := s.db.Delete([]byte(k), pebble.Sync); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	s.count -= len(doomed)
	s.mu.Unlock()
	if len(doomed) > 0 {
		logger.Info("cache_sweep_done", "removed", len(doomed))
	}
	return len(doomed), nil
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// evictOldest removes the oldest ~20% of entries by cache time. Plain
// age-based eviction, not access frequency.
func (s *Store) evictOldest() error {
	type aged struct {
		key string
		at  int64
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	var all []aged
	pfx := []byte(keyPrefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		var e entry
		at := int64(0)
		if err := json.Unmarshal(iter.Value(), &e); err == nil {
			at = e.CachedAt
		}
		all = append(all, aged{key: string(iter.Key()), at: at})
	}
	if err := iter.Close(); err != nil {
		return err
	}
	n := int(float64(len(all)) * evictFraction)
	if n < 1 {
		n = 1
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	if n > len(all) {
		n = len(all)
	}
	for _, a := range all[:n] {
		if err := s.db.Delete([]byte(a.key), pebble.Sync); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.count -= n
	s.mu.Unlock()
	logger.Info("cache_evicted", "removed", n, "remaining", len(all)-n)
	return nil
}

func (s *Store) countEntries() (int, error) {
	keys, err := s.keysWithPrefix(keyPrefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) keysWithPrefix(prefix string) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	var out []string
	for iter.SeekGE([]byte(prefix)); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, prefix) {
			break
		}
		out = append(out, k)
	}
	return out, iter.Close()
}
