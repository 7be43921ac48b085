// Package records implements the get-or-create protocol for named singleton
// records. It composes the persistent cache, the in-flight coordinator and
// the remote client so that N concurrent callers on a cold cache still
// produce exactly one record per (namespace, key).
package records

import (
	"context"
	"fmt"
	"time"

	"pagestore/pkg/cache"
	"pagestore/pkg/inflight"
	"pagestore/pkg/logger"
	"pagestore/pkg/models"
	"pagestore/pkg/remote"
)

// RemoteAPI is the slice of the remote client the manager needs.
type RemoteAPI interface {
	ListRecords(ctx context.Context, namespace string, labels []string) ([]models.Record, error)
	CreateRecord(ctx context.Context, namespace, title, body string, labels []string, lock bool) (models.Record, error)
	UpdateRecordBody(ctx context.Context, number int64, body string) (models.Record, error)
	LockRecord(ctx context.Context, number int64) error
}

// Factory builds the initial spec for a record that does not exist yet. It
// is only invoked after the remote query came back empty.
type Factory func() (models.RecordSpec, error)

// Config tunes the manager. Zero fields get defaults.
type Config struct {
	// TrustedWriters lists remote logins whose records are accepted when
	// found by query. Empty means any creator is accepted.
	TrustedWriters []string
	// DefaultTTL is the cache TTL for records without a class override
	// (list-type records; default 60s).
	DefaultTTL time.Duration
	// TTLByPrefix maps a key prefix to a cache TTL, longest match wins
	// (e.g. "page:" -> 5m for per-page records).
	TTLByPrefix map[string]time.Duration
}

// Manager is the singleton record manager.
type Manager struct {
	api   RemoteAPI
	cache *cache.Store
	coord *inflight.Coordinator
	cfg   Config
}

// New creates a manager. cache and coord are process-wide singletons owned
// by the caller.
func New(api RemoteAPI, c *cache.Store, coord *inflight.Coordinator, cfg Config) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 60 * time.Second
	}
	return &Manager{api: api, cache: c, coord: coord, cfg: cfg}
}

// CacheKey returns the persistent-cache key for a record identity.
func CacheKey(namespace, key string) string {
	return "rec:" + namespace + ":" + key
}

// keyLabel is the label that selects a record by its logical key.
func keyLabel(key string) string { return "key:" + key }

// GetOrCreate returns the open record for (namespace, key), creating it
// from factory when absent. Concurrent callers in this process are
// deduplicated; at most one underlying create is issued.
func (m *Manager) GetOrCreate(ctx context.Context, namespace, key string, factory Factory) (models.Record, error) {
	ck := CacheKey(namespace, key)

	var rec models.Record
	if m.cache.GetJSON(ck, false, &rec) {
		return rec, nil
	}

	return m.coord.Do(ctx, ck, factory != nil, func() (models.Record, error) {
		rec, err := m.fetchOrCreate(ctx, namespace, key, factory)
		if err != nil {
			// failures are never cached; rate-limited reads may fall back
			// to a stale entry instead of failing outright
			if remote.IsRateLimited(err) {
				var stale models.Record
				if m.cache.GetJSON(ck, true, &stale) {
					logger.Warn("record_stale_fallback", "ns", namespace, "key", key)
					return stale, nil
				}
			}
			return models.Record{}, err
		}
		if cerr := m.cache.Set(ck, rec, m.ttlFor(key)); cerr != nil {
			logger.Warn("record_cache_write_failed", "key", ck, "error", cerr)
		}
		return rec, nil
	})
}

// Lookup is the read-only path: it returns the record when one exists and a
// NotFound classification otherwise, never creating. Thread page reads use
// this so owning records stay lazy until the first write.
func (m *Manager) Lookup(ctx context.Context, namespace, key string) (models.Record, error) {
	return m.GetOrCreate(ctx, namespace, key, nil)
}

// Update re-reads the current record, applies mutate to its body and writes
// the result back, then invalidates the cache entry so the next read is
// forced fresh. A mutate error fails closed: nothing is written.
func (m *Manager) Update(ctx context.Context, namespace, key string, mutate func(body string) (string, error)) (models.Record, error) {
	rec, err := m.Lookup(ctx, namespace, key)
	if err != nil {
		return models.Record{}, err
	}
	newBody, err := mutate(rec.Body)
	if err != nil {
		return models.Record{}, fmt.Errorf("mutate record %s/%s: %w", namespace, key, err)
	}
	updated, err := m.api.UpdateRecordBody(ctx, rec.Number, newBody)
	if err != nil {
		return models.Record{}, err
	}
	ck := CacheKey(namespace, key)
	if cerr := m.cache.Invalidate(ck); cerr != nil {
		logger.Warn("record_invalidate_failed", "key", ck, "error", cerr)
	}
	m.coord.Forget(ck)
	logger.Info("record_updated", "ns", namespace, "key", key, "number", rec.Number)
	return updated, nil
}

// Invalidate drops the cached entry and any grace-held in-flight result for
// a record identity. Writers that bypass Update call this.
func (m *Manager) Invalidate(namespace, key string) {
	ck := CacheKey(namespace, key)
	_ = m.cache.Invalidate(ck)
	m.coord.Forget(ck)
}

func (m *Manager) fetchOrCreate(ctx context.Context, namespace, key string, factory Factory) (models.Record, error) {
	found, err := m.query(ctx, namespace, key)
	if err == nil {
		return found, nil
	}
	if !remote.IsNotFound(err) {
		return models.Record{}, err
	}
	if factory == nil {
		return models.Record{}, err
	}

	spec, ferr := factory()
	if ferr != nil {
		return models.Record{}, fmt.Errorf("record factory %s/%s: %w", namespace, key, ferr)
	}
	labels := append([]string{keyLabel(key)}, spec.Labels...)
	created, cerr := m.api.CreateRecord(ctx, namespace, spec.Title, spec.Body, labels, spec.Lock)
	if cerr != nil {
		if remote.IsAlreadyExists(cerr) {
			// lost a cross-process creation race: the record exists now,
			// so the read path is the success path
			logger.Info("record_create_lost_race", "ns", namespace, "key", key)
			return m.query(ctx, namespace, key)
		}
		return models.Record{}, cerr
	}
	if spec.Lock && !created.Locked {
		// some deployments ignore the create-time lock flag; lock explicitly
		if lerr := m.api.LockRecord(ctx, created.Number); lerr != nil {
			logger.Warn("record_lock_failed", "ns", namespace, "key", key, "number", created.Number, "error", lerr)
		} else {
			created.Locked = true
		}
	}
	created.Key = key
	created.Namespace = namespace
	logger.Info("record_created", "ns", namespace, "key", key, "number", created.Number, "locked", created.Locked)
	return created, nil
}

// query returns the open record matching key's label set, verifying it was
// produced by a trusted writer. Spoofed records fail the call rather than
// being silently accepted.
func (m *Manager) query(ctx context.Context, namespace, key string) (models.Record, error) {
	recs, err := m.api.ListRecords(ctx, namespace, []string{keyLabel(key)})
	if err != nil {
		return models.Record{}, err
	}
	if len(recs) == 0 {
		return models.Record{}, &remote.Error{Kind: remote.KindNotFound, Op: "query_record",
			Msg: fmt.Sprintf("no open record for %s/%s", namespace, key)}
	}
	rec := recs[0]
	if !m.trusted(rec.Creator) {
		logger.Warn("record_untrusted_creator", "ns", namespace, "key", key, "creator", rec.Creator)
		return models.Record{}, &remote.Error{Kind: remote.KindUnverified, Op: "query_record",
			Msg: fmt.Sprintf("record for %s/%s created by untrusted %q", namespace, key, rec.Creator)}
	}
	rec.Key = key
	rec.Namespace = namespace
	return rec, nil
}

func (m *Manager) trusted(creator string) bool {
	if len(m.cfg.TrustedWriters) == 0 {
		return true
	}
	for _, w := range m.cfg.TrustedWriters {
		if w == creator {
			return true
		}
	}
	return false
}

func (m *Manager) ttlFor(key string) time.Duration {
	best := m.cfg.DefaultTTL
	bestLen := -1
	for pfx, ttl := range m.cfg.TTLByPrefix {
		if len(pfx) > bestLen && len(key) >= len(pfx) && key[:len(pfx)] == pfx {
			best, bestLen = ttl, len(pfx)
		}
	}
	return best
}
