package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"pagestore/pkg/auth"
	"pagestore/pkg/cache"
	"pagestore/pkg/inflight"
	"pagestore/pkg/models"
	"pagestore/pkg/ratelimit"
	"pagestore/pkg/reactions"
	"pagestore/pkg/records"
	"pagestore/pkg/remote"
	"pagestore/pkg/threads"
)

// fakeRemote implements the record, thread and reaction remote slices with
// an in-memory namespace.
type fakeRemote struct {
	mu sync.Mutex

	byLabel    map[string]models.Record
	nextNumber int64
	creates    int
	updates    int

	comments  map[int64][]models.Comment
	byID      map[string]models.Comment
	nextCmtID int

	sets      map[string][]models.Reaction
	nextRxnID int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		byLabel:  make(map[string]models.Record),
		comments: make(map[int64][]models.Comment),
		byID:     make(map[string]models.Comment),
		sets:     make(map[string][]models.Reaction),
	}
}

func (f *fakeRemote) ListRecords(_ context.Context, namespace string, labels []string) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byLabel[labels[0]]; ok {
		return []models.Record{rec}, nil
	}
	return nil, nil
}

func (f *fakeRemote) CreateRecord(_ context.Context, namespace, title, body string, labels []string, lock bool) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.nextNumber++
	rec := models.Record{
		Number: f.nextNumber, Namespace: namespace, Title: title, Body: body,
		Labels: labels, Locked: lock, Creator: "service-bot", State: "open",
	}
	f.byLabel[labels[0]] = rec
	return rec, nil
}

func (f *fakeRemote) UpdateRecordBody(_ context.Context, number int64, body string) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	for label, rec := range f.byLabel {
		if rec.Number == number {
			rec.Body = body
			f.byLabel[label] = rec
			return rec, nil
		}
	}
	return models.Record{}, &remote.Error{Kind: remote.KindNotFound, Op: "update_record"}
}

func (f *fakeRemote) LockRecord(_ context.Context, number int64) error { return nil }

func (f *fakeRemote) ListComments(_ context.Context, number int64, page, pageSize int) ([]models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.comments[number]
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
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
	f.nextCmtID++
	c := models.Comment{
		ID: fmt.Sprintf("c%d", f.nextCmtID), Record: number,
		AuthorID: authorID, AuthorLogin: authorLogin, Body: body,
		CreatedTS: time.Now().Unix(),
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
	c.UpdatedTS = time.Now().Unix()
	f.byID[commentID] = c
	all := f.comments[c.Record]
	for i := range all {
		if all[i].ID == commentID {
			all[i] = c
		}
	}
	return c, nil
}

func (f *fakeRemote) ListReactions(_ context.Context, commentID string) ([]models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Reaction(nil), f.sets[commentID]...), nil
}

func (f *fakeRemote) CreateReaction(_ context.Context, commentID, typ, authorLogin string) (models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRxnID++
	rx := models.Reaction{ID: fmt.Sprintf("r%d", f.nextRxnID), Type: typ, AuthorLogin: authorLogin}
	f.sets[commentID] = append(f.sets[commentID], rx)
	return rx, nil
}

func (f *fakeRemote) DeleteReaction(_ context.Context, commentID, reactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.sets[commentID]
	for i, rx := range set {
		if rx.ID == reactionID {
			f.sets[commentID] = append(set[:i], set[i+1:]...)
			return nil
		}
	}
	return &remote.Error{Kind: remote.KindNotFound, Op: "delete_reaction"}
}

// newTestRouter wires the full v1 surface over a fake remote with an
// unrestricted domain limiter.
func newTestRouter(t *testing.T) (*mux.Router, *fakeRemote) {
	t.Helper()
	f := newFakeRemote()
	c, err := cache.Open(cache.Options{Path: filepath.Join(t.TempDir(), "cache")})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	lim := ratelimit.New(nil)
	rm := records.New(f, c, inflight.New(time.Minute), records.Config{})
	ts := threads.New(f, rm, c, lim, threads.Config{PageSize: 30})
	rx := reactions.New(f, lim, reactions.Config{SwitchDelay: time.Millisecond})

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	RegisterRecords(v1, rm, records.DefaultRegistry(), "main")
	RegisterThreads(v1, ts, "main")
	RegisterReactions(v1, rx)
	return r, f
}

func doJSON(h http.Handler, method, target string, body any, role auth.Role, actor string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	ctx := auth.WithRole(req.Context(), role)
	if actor != "" {
		ctx = auth.WithActor(ctx, actor)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func TestListWellKnownKeys(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/records", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var out map[string][]string
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.Contains(t, out["keys"], "donators")
	assert.Contains(t, out["keys"], "admin-list")
}

func TestGetWellKnownRecordCreatesOnFirstRead(t *testing.T) {
	r, f := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/records/donators", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var rec models.Record
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "donators", rec.Key)
	assert.Equal(t, 1, f.creates)

	// second read is served from cache, no further create
	rr = doJSON(r, http.MethodGet, "/v1/records/donators", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.creates)
}

func TestGetPerPageTopContributorCreates(t *testing.T) {
	r, f := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/records/top-contributor.home", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	var rec models.Record
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "top-contributor.home", rec.Key)
	assert.Contains(t, rec.Title, "home")
	assert.Equal(t, 1, f.creates)
}

func TestGetUnknownRecordIsNotFound(t *testing.T) {
	r, f := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/records/no-such-key", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 0, f.creates)
}

func TestGetRecordRejectsBadKey(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/records/bad%20key", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPutRecordRoleGate(t *testing.T) {
	r, f := newTestRouter(t)

	// materialize the record first
	rr := doJSON(r, http.MethodGet, "/v1/records/donators", nil, auth.RoleBackend, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	body := map[string]string{"body": "- alice\n- bob"}
	rr = doJSON(r, http.MethodPut, "/v1/records/donators", body, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 0, f.updates)

	rr = doJSON(r, http.MethodPut, "/v1/records/donators", body, auth.RoleBackend, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.updates)

	var rec models.Record
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	assert.Equal(t, "- alice\n- bob", rec.Body)
}

func TestPutRecordRejectsEmptyBody(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodPut, "/v1/records/donators", map[string]string{"body": "   "}, auth.RoleBackend, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostCommentRequiresActor(t *testing.T) {
	r, _ := newTestRouter(t)
	body := map[string]string{"body": "hello"}
	rr := doJSON(r, http.MethodPost, "/v1/threads/forum/general/comments", body, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCommentLifecycle(t *testing.T) {
	r, f := newTestRouter(t)

	// empty thread lists as an empty page, no record created
	rr := doJSON(r, http.MethodGet, "/v1/threads/forum/general/comments", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, f.creates)

	rr = doJSON(r, http.MethodPost, "/v1/threads/forum/general/comments",
		map[string]string{"body": "first!"}, auth.RoleFrontend, "alice")
	assert.Equal(t, http.StatusCreated, rr.Code)
	var c models.Comment
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&c))
	assert.Equal(t, "alice", c.AuthorLogin)
	assert.Equal(t, 1, f.creates, "append should materialize the owning record once")

	rr = doJSON(r, http.MethodGet, "/v1/threads/forum/general/comments", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	var pg threads.Page
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&pg))
	assert.Len(t, pg.Comments, 1)
	assert.Equal(t, "first!", pg.Comments[0].Body)

	// only the author may edit
	edit := map[string]string{"body": "first! (edited)"}
	rr = doJSON(r, http.MethodPatch, "/v1/threads/forum/general/comments/"+c.ID, edit, auth.RoleFrontend, "mallory")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(r, http.MethodPatch, "/v1/threads/forum/general/comments/"+c.ID, edit, auth.RoleFrontend, "alice")
	assert.Equal(t, http.StatusOK, rr.Code)
	var edited models.Comment
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&edited))
	assert.Equal(t, "first! (edited)", edited.Body)
}

func TestListCommentsRejectsBadPage(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodGet, "/v1/threads/forum/general/comments?page=0", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(r, http.MethodGet, "/v1/threads/forum/general/comments?page=zero", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReactionToggleRoundTrip(t *testing.T) {
	r, f := newTestRouter(t)
	f.sets["c1"] = nil

	rr := doJSON(r, http.MethodPost, "/v1/comments/c1/reactions/toggle",
		map[string]string{"type": "up"}, auth.RoleFrontend, "alice")
	assert.Equal(t, http.StatusOK, rr.Code)
	var out map[string][]models.Reaction
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.Len(t, out["reactions"], 1)
	assert.Equal(t, "up", out["reactions"][0].Type)

	// toggling the held type removes it
	rr = doJSON(r, http.MethodPost, "/v1/comments/c1/reactions/toggle",
		map[string]string{"type": "up"}, auth.RoleFrontend, "alice")
	assert.Equal(t, http.StatusOK, rr.Code)
	out = nil
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.Empty(t, out["reactions"])

	rr = doJSON(r, http.MethodGet, "/v1/comments/c1/reactions", nil, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReactionToggleRejectsUnknownType(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodPost, "/v1/comments/c1/reactions/toggle",
		map[string]string{"type": "heart"}, auth.RoleFrontend, "alice")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReactionToggleRequiresActor(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := doJSON(r, http.MethodPost, "/v1/comments/c1/reactions/toggle",
		map[string]string{"type": "up"}, auth.RoleFrontend, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
