package threads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pagestore/pkg/cache"
	"pagestore/pkg/inflight"
	"pagestore/pkg/models"
	"pagestore/pkg/ratelimit"
	"pagestore/pkg/records"
	"pagestore/pkg/remote"
)

// fakeRemote backs both the record manager and the thread store in tests.
type fakeRemote struct {
	mu         sync.Mutex
	records    map[string]models.Record // key label -> record
	comments   map[int64][]models.Comment
	byID       map[string]models.Comment
	nextNumber int64
	nextID     int
	listErr    error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  map[string]models.Record{},
		comments: map[int64][]models.Comment{},
		byID:     map[string]models.Comment{},
	}
}

func (f *fakeRemote) ListRecords(_ context.Context, _ string, labels []string) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range labels {
		if rec, ok := f.records[l]; ok {
			return []models.Record{rec}, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) CreateRecord(_ context.Context, _ string, title, body string, labels []string, lock bool) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextNumber++
	rec := models.Record{Number: f.nextNumber, Title: title, Body: body, Labels: labels, Locked: lock, State: "open"}
	for _, l := range labels {
		if strings.HasPrefix(l, "key:") {
			f.records[l] = rec
		}
	}
	return rec, nil
}

func (f *fakeRemote) UpdateRecordBody(_ context.Context, number int64, body string) (models.Record, error) {
	return models.Record{}, &remote.Error{Kind: remote.KindNotFound, Op: "update_record"}
}

func (f *fakeRemote) LockRecord(_ context.Context, number int64) error { return nil }

func (f *fakeRemote) ListComments(_ context.Context, number int64, page, pageSize int) ([]models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := f.comments[number]
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []models.Comment{}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Comment(nil), all[start:end]...), nil
}

func (f *fakeRemote) CreateComment(_ context.Context, number int64, authorID, authorLogin, body string) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := models.Comment{
		ID: fmt.Sprintf("c%d", f.nextID), Record: number,
		AuthorID: authorID, AuthorLogin: authorLogin, Body: body,
	}
	f.comments[number] = append(f.comments[number], c)
	f.byID[c.ID] = c
	return c, nil
}

func (f *fakeRemote) GetComment(_ context.Context, commentID string) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[commentID]
	if !ok {
		return models.Comment{}, &remote.Error{Kind: remote.KindNotFound, Op: "get_comment"}
	}
	return c, nil
}

func (f *fakeRemote) UpdateComment(_ context.Context, commentID, body string) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[commentID]
	if !ok {
		return models.Comment{}, &remote.Error{Kind: remote.KindNotFound, Op: "update_comment"}
	}
	c.Body = body
	f.byID[commentID] = c
	for i, cc := range f.comments[c.Record] {
		if cc.ID == commentID {
			f.comments[c.Record][i] = c
		}
	}
	return c, nil
}

func testStore(t *testing.T, f *fakeRemote, cfg Config, cats map[string]ratelimit.Category) (*Store, *cache.Store) {
	t.Helper()
	c, err := cache.Open(cache.Options{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	rm := records.New(f, c, inflight.New(time.Minute), records.Config{})
	return New(f, rm, c, ratelimit.New(cats), cfg), c
}

func TestListPageEmptyWhenThreadHasNoRecord(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, nil)

	pg, err := s.ListPage(context.Background(), "main", "forum", "general", 1)
	if err != nil {
		t.Fatalf("list page of absent thread: %v", err)
	}
	if len(pg.Comments) != 0 || pg.HasMore {
		t.Fatalf("absent thread page = %+v, want empty", pg)
	}
	if len(f.records) != 0 {
		t.Fatal("a read materialized the thread record")
	}
}

func TestAppendMaterializesRecordOnce(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, nil)

	for i := 0; i < 3; i++ {
		if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if len(f.records) != 1 {
		t.Fatalf("thread owns %d records, want 1", len(f.records))
	}

	pg, err := s.ListPage(context.Background(), "main", "forum", "general", 1)
	if err != nil {
		t.Fatalf("list after append: %v", err)
	}
	if len(pg.Comments) != 3 {
		t.Fatalf("page has %d comments, want 3", len(pg.Comments))
	}
	if pg.Comments[0].Body != "msg 0" {
		t.Fatalf("comments out of creation order: first = %q", pg.Comments[0].Body)
	}
}

func TestAppendAfterEmptyListMaterializesRecord(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, nil)

	// a reader sees the thread before anyone has written to it
	pg, err := s.ListPage(context.Background(), "main", "forum", "general", 1)
	if err != nil {
		t.Fatalf("list of absent thread: %v", err)
	}
	if len(pg.Comments) != 0 {
		t.Fatalf("absent thread served %d comments", len(pg.Comments))
	}

	// the first append right after that read must still create the record
	c, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "first!")
	if err != nil {
		t.Fatalf("append after empty list: %v", err)
	}
	if len(f.records) != 1 {
		t.Fatalf("append created %d records, want 1", len(f.records))
	}
	if c.Body != "first!" {
		t.Fatalf("comment body = %q", c.Body)
	}
}

func TestPaginationAndHasMore(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{PageSize: 2}, nil)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var got []models.Comment
	for page := 1; ; page++ {
		pg, err := s.ListPage(context.Background(), "main", "forum", "general", page)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		got = append(got, pg.Comments...)
		if page <= 2 && !pg.HasMore {
			t.Fatalf("page %d: has_more = false with comments remaining", page)
		}
		if !pg.HasMore {
			break
		}
	}
	if len(got) != 5 {
		t.Fatalf("pagination returned %d comments, want 5", len(got))
	}
}

func TestAppendInvalidatesCachedPages(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, nil)

	if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "first"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ListPage(context.Background(), "main", "forum", "general", 1); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "second"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	pg, err := s.ListPage(context.Background(), "main", "forum", "general", 1)
	if err != nil {
		t.Fatalf("list after second append: %v", err)
	}
	if len(pg.Comments) != 2 {
		t.Fatalf("page served %d comments from a stale cache, want 2", len(pg.Comments))
	}
}

func TestAppendRateLimited(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, map[string]ratelimit.Category{
		CategoryComment: {Cooldown: time.Minute},
	})

	if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "hello"); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "again")
	if !remote.IsRateLimited(err) {
		t.Fatalf("back-to-back append: err = %v, want RateLimited", err)
	}
	if remote.RetryAfterOf(err) <= 0 {
		t.Fatal("rate-limited append carries no retry hint")
	}
	if n := len(f.comments[1]); n != 1 {
		t.Fatalf("remote saw %d comments, want 1", n)
	}
}

func TestEditRequiresAuthorship(t *testing.T) {
	f := newFakeRemote()
	s, _ := testStore(t, f, Config{}, nil)

	c, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "original")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.Edit(context.Background(), "main", "forum", "general", c.ID, "mallory", "hijacked"); !remote.IsPermissionDenied(err) {
		t.Fatalf("edit by non-author: err = %v, want PermissionDenied", err)
	}
	if f.byID[c.ID].Body != "original" {
		t.Fatal("denied edit still mutated the comment")
	}

	updated, err := s.Edit(context.Background(), "main", "forum", "general", c.ID, "alice", "fixed")
	if err != nil {
		t.Fatalf("edit by author: %v", err)
	}
	if updated.Body != "fixed" {
		t.Fatalf("edited body = %q, want fixed", updated.Body)
	}
}

func TestListPageStaleFallbackOnRateLimit(t *testing.T) {
	f := newFakeRemote()
	s, c := testStore(t, f, Config{PageTTL: time.Minute}, nil)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return base })
	if _, err := s.Append(context.Background(), "main", "forum", "general", "u1", "alice", "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.ListPage(context.Background(), "main", "forum", "general", 1); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	c.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
	f.mu.Lock()
	f.listErr = &remote.Error{Kind: remote.KindRateLimited, Op: "list_comments"}
	f.mu.Unlock()

	pg, err := s.ListPage(context.Background(), "main", "forum", "general", 1)
	if err != nil {
		t.Fatalf("rate-limited list should serve stale page, got %v", err)
	}
	if len(pg.Comments) != 1 {
		t.Fatalf("stale page has %d comments, want 1", len(pg.Comments))
	}
}
