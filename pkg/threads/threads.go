// Package threads provides paginated, append-only comment threads scoped to
// a page. A thread's owning record is materialized lazily on the first
// write; reads against a thread with no record simply see an empty page.
// Threads are append-only by design: the owning record can be closed by an
// operator but never destroyed through this store.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pagestore/pkg/cache"
	"pagestore/pkg/logger"
	"pagestore/pkg/models"
	"pagestore/pkg/ratelimit"
	"pagestore/pkg/records"
	"pagestore/pkg/remote"
)

// CategoryComment is the rate-limit category consumed by Append.
const CategoryComment = "comment"

// RemoteAPI is the slice of the remote client the thread store needs.
type RemoteAPI interface {
	ListComments(ctx context.Context, number int64, page, pageSize int) ([]models.Comment, error)
	CreateComment(ctx context.Context, number int64, authorID, authorLogin, body string) (models.Comment, error)
	GetComment(ctx context.Context, commentID string) (models.Comment, error)
	UpdateComment(ctx context.Context, commentID, body string) (models.Comment, error)
}

// Page is one page of a thread.
type Page struct {
	Comments []models.Comment `json:"comments"`
	// HasMore is inferred from the returned count alone; the store never
	// spends a second round trip on an exact total. A full final page
	// costs the consumer one empty "load more" in exchange.
	HasMore bool `json:"has_more"`
}

// Config tunes the thread store. Zero fields get defaults.
type Config struct {
	PageSize int           // default 30
	PageTTL  time.Duration // cache TTL per listed page, default 60s
}

// Store is the thread store.
type Store struct {
	api     RemoteAPI
	records *records.Manager
	cache   *cache.Store
	limiter *ratelimit.Limiter
	cfg     Config
}

// New creates a thread store on top of the record manager.
func New(api RemoteAPI, rm *records.Manager, c *cache.Store, l *ratelimit.Limiter, cfg Config) *Store {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 30
	}
	if cfg.PageTTL <= 0 {
		cfg.PageTTL = 60 * time.Second
	}
	return &Store{api: api, records: rm, cache: c, limiter: l, cfg: cfg}
}

// RecordKey returns the owning record's key for a thread identity.
func RecordKey(sectionID, pageID string) string {
	return "thread:" + sectionID + "/" + pageID
}

func (s *Store) pageCacheKey(namespace, sectionID, pageID string, page int) string {
	return s.threadCachePrefix(namespace, sectionID, pageID) + "p" + strconv.Itoa(page)
}

func (s *Store) threadCachePrefix(namespace, sectionID, pageID string) string {
	return "thr:" + namespace + ":" + sectionID + "/" + pageID + ":"
}

// ListPage returns one page (1-based) of a thread's comments in creation
// order. A thread whose owning record does not exist yet reads as an empty
// page. Rate-limited live fetches fall back to a stale cached page.
func (s *Store) ListPage(ctx context.Context, namespace, sectionID, pageID string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	ck := s.pageCacheKey(namespace, sectionID, pageID, page)

	var cached Page
	if s.cache.GetJSON(ck, false, &cached) {
		return cached, nil
	}

	rec, err := s.records.Lookup(ctx, namespace, RecordKey(sectionID, pageID))
	if err != nil {
		if remote.IsNotFound(err) {
			return Page{Comments: []models.Comment{}}, nil
		}
		return s.staleOr(ck, err)
	}

	comments, err := s.api.ListComments(ctx, rec.Number, page, s.cfg.PageSize)
	if err != nil {
		return s.staleOr(ck, err)
	}
	out := Page{Comments: comments, HasMore: len(comments) == s.cfg.PageSize}
	if cerr := s.cache.Set(ck, out, s.cfg.PageTTL); cerr != nil {
		logger.Warn("thread_page_cache_write_failed", "key", ck, "error", cerr)
	}
	return out, nil
}

// Append adds a comment to the thread, materializing the owning record on
// first write. Every cached page for the thread is invalidated afterwards:
// the remote store cannot say which page the new comment landed on without
// a fresh count, so surgical per-page invalidation is not possible.
func (s *Store) Append(ctx context.Context, namespace, sectionID, pageID, authorID, authorLogin, body string) (models.Comment, error) {
	if body == "" {
		return models.Comment{}, &remote.Error{Kind: remote.KindValidation, Op: "append_comment", Msg: "empty comment body"}
	}
	if d := s.limiter.Check(CategoryComment); !d.Allowed {
		logger.Warn("comment_rate_limited", "reason", d.Reason, "retry_after", d.RetryAfter.String())
		return models.Comment{}, &remote.Error{Kind: remote.KindRateLimited, Op: "append_comment",
			Msg: "comment rate limit: " + d.Reason, RetryAfter: d.RetryAfter}
	}

	rec, err := s.records.GetOrCreate(ctx, namespace, RecordKey(sectionID, pageID),
		threadRecordFactory(namespace, sectionID, pageID))
	if err != nil {
		return models.Comment{}, err
	}

	c, err := s.api.CreateComment(ctx, rec.Number, authorID, authorLogin, body)
	if err != nil {
		return models.Comment{}, err
	}
	if ierr := s.cache.InvalidatePrefix(s.threadCachePrefix(namespace, sectionID, pageID)); ierr != nil {
		logger.Warn("thread_invalidate_failed", "section", sectionID, "page", pageID, "error", ierr)
	}
	logger.Info("comment_appended", "ns", namespace, "section", sectionID, "page", pageID, "comment", c.ID)
	return c, nil
}

// Edit replaces a comment's body in place. Authorship is re-validated
// against the authoritative comment before anything is written.
func (s *Store) Edit(ctx context.Context, namespace, sectionID, pageID, commentID, authorLogin, body string) (models.Comment, error) {
	if body == "" {
		return models.Comment{}, &remote.Error{Kind: remote.KindValidation, Op: "edit_comment", Msg: "empty comment body"}
	}
	current, err := s.api.GetComment(ctx, commentID)
	if err != nil {
		return models.Comment{}, err
	}
	if current.AuthorLogin != authorLogin {
		logger.Warn("comment_edit_denied", "comment", commentID, "author", current.AuthorLogin, "caller", authorLogin)
		return models.Comment{}, &remote.Error{Kind: remote.KindPermissionDenied, Op: "edit_comment",
			Msg: fmt.Sprintf("comment %s belongs to %q", commentID, current.AuthorLogin)}
	}
	updated, err := s.api.UpdateComment(ctx, commentID, body)
	if err != nil {
		return models.Comment{}, err
	}
	if ierr := s.cache.InvalidatePrefix(s.threadCachePrefix(namespace, sectionID, pageID)); ierr != nil {
		logger.Warn("thread_invalidate_failed", "section", sectionID, "page", pageID, "error", ierr)
	}
	logger.Info("comment_edited", "comment", commentID, "author", authorLogin)
	return updated, nil
}

// staleOr serves a stale cached page when err is a rate-limit, otherwise
// propagates err unchanged.
func (s *Store) staleOr(ck string, err error) (Page, error) {
	if remote.IsRateLimited(err) {
		var stale Page
		if s.cache.GetJSON(ck, true, &stale) {
			logger.Warn("thread_page_stale_fallback", "key", ck)
			return stale, nil
		}
	}
	return Page{}, err
}

func threadRecordFactory(namespace, sectionID, pageID string) records.Factory {
	return func() (models.RecordSpec, error) {
		body, err := json.Marshal(map[string]string{
			"section":   sectionID,
			"page":      pageID,
			"namespace": namespace,
		})
		if err != nil {
			return models.RecordSpec{}, err
		}
		return models.RecordSpec{
			Title:  "Comments: " + sectionID + "/" + pageID,
			Body:   string(body),
			Labels: []string{"thread"},
		}, nil
	}
}
