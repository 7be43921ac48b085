// Package reactions reconciles togglable, mutually exclusive reaction pairs
// on comments against the remote store. Updates are applied optimistically
// to an in-memory view and rolled back by re-fetching the authoritative set
// when the remote call fails.
package reactions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagestore/pkg/logger"
	"pagestore/pkg/models"
	"pagestore/pkg/ratelimit"
	"pagestore/pkg/remote"
)

// CategoryReaction is the rate-limit category consumed by Toggle.
const CategoryReaction = "reaction"

// RemoteAPI is the slice of the remote client the reconciler needs.
type RemoteAPI interface {
	ListReactions(ctx context.Context, commentID string) ([]models.Reaction, error)
	CreateReaction(ctx context.Context, commentID, typ, authorLogin string) (models.Reaction, error)
	DeleteReaction(ctx context.Context, commentID, reactionID string) error
}

// Config tunes the reconciler.
type Config struct {
	// SwitchDelay is the pause between the delete and the add when a
	// toggle switches types. The remote store has been observed to reject
	// an add immediately following a delete on the same resource; the
	// value is empirical, not a documented guarantee. Default 300ms.
	SwitchDelay time.Duration
}

// Reconciler drives the optimistic toggle protocol.
type Reconciler struct {
	api     RemoteAPI
	limiter *ratelimit.Limiter
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	view map[string][]models.Reaction // last known set per comment
}

// New creates a reconciler.
func New(api RemoteAPI, l *ratelimit.Limiter, cfg Config) *Reconciler {
	delay := cfg.SwitchDelay
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Reconciler{
		api:     api,
		limiter: l,
		delay:   delay,
		sleep:   sleepCtx,
		view:    make(map[string][]models.Reaction),
	}
}

// Toggle flips authorLogin's reaction of the given type on a comment and
// returns the resulting reaction set. Holding the type already means
// removal; holding the opposite type means switch (delete, pause, add);
// holding neither means add. After Toggle settles, the author holds at most
// one of {up, down} on the comment.
func (r *Reconciler) Toggle(ctx context.Context, commentID, authorLogin, typ string) ([]models.Reaction, error) {
	if typ != models.ReactionUp && typ != models.ReactionDown {
		return nil, &remote.Error{Kind: remote.KindValidation, Op: "toggle_reaction",
			Msg: "unsupported reaction type " + typ}
	}

	set, err := r.currentSet(ctx, commentID)
	if err != nil {
		return nil, err
	}
	held, holdsSame := models.HasReaction(set, authorLogin, typ)
	opposite, holdsOpposite := models.HasReaction(set, authorLogin, other(typ))

	// a switch is a correction, not new activity, so it only pays the
	// window caps
	var d ratelimit.Decision
	if holdsOpposite {
		d = r.limiter.CheckSwitch(CategoryReaction)
	} else {
		d = r.limiter.Check(CategoryReaction)
	}
	if !d.Allowed {
		return set, &remote.Error{Kind: remote.KindRateLimited, Op: "toggle_reaction",
			Msg: "reaction rate limit: " + d.Reason, RetryAfter: d.RetryAfter}
	}

	switch {
	case holdsSame:
		return r.remove(ctx, commentID, held)
	case holdsOpposite:
		return r.switchType(ctx, commentID, authorLogin, typ, opposite)
	default:
		return r.add(ctx, commentID, authorLogin, typ)
	}
}

// Set returns the reconciler's current view of a comment's reactions,
// fetching when the comment has not been seen yet.
func (r *Reconciler) Set(ctx context.Context, commentID string) ([]models.Reaction, error) {
	return r.currentSet(ctx, commentID)
}

// SetSleep overrides the inter-call pause. Intended for tests.
func (r *Reconciler) SetSleep(fn func(ctx context.Context, d time.Duration) error) { r.sleep = fn }

func (r *Reconciler) remove(ctx context.Context, commentID string, rx models.Reaction) ([]models.Reaction, error) {
	r.applyRemove(commentID, rx.ID)
	if err := r.api.DeleteReaction(ctx, commentID, rx.ID); err != nil {
		return r.rollback(ctx, commentID, err)
	}
	return r.snapshot(commentID), nil
}

func (r *Reconciler) switchType(ctx context.Context, commentID, authorLogin, typ string, opposite models.Reaction) ([]models.Reaction, error) {
	r.applyRemove(commentID, opposite.ID)
	if err := r.api.DeleteReaction(ctx, commentID, opposite.ID); err != nil {
		return r.rollback(ctx, commentID, err)
	}
	if err := r.sleep(ctx, r.delay); err != nil {
		return r.rollback(ctx, commentID, err)
	}
	return r.add(ctx, commentID, authorLogin, typ)
}

func (r *Reconciler) add(ctx context.Context, commentID, authorLogin, typ string) ([]models.Reaction, error) {
	placeholder := models.Reaction{ID: "pending-" + uuid.NewString(), Type: typ, AuthorLogin: authorLogin}
	r.applyAdd(commentID, placeholder)
	created, err := r.api.CreateReaction(ctx, commentID, typ, authorLogin)
	if err != nil {
		return r.rollback(ctx, commentID, err)
	}
	r.applyReplace(commentID, placeholder.ID, created)
	return r.snapshot(commentID), nil
}

// rollback discards the optimistic view and re-fetches the authoritative
// set so the visible state matches either "before" or a confirmed "after".
func (r *Reconciler) rollback(ctx context.Context, commentID string, cause error) ([]models.Reaction, error) {
	logger.Warn("reaction_rollback", "comment", commentID, "error", cause)
	r.mu.Lock()
	delete(r.view, commentID)
	r.mu.Unlock()
	authoritative, err := r.api.ListReactions(ctx, commentID)
	if err != nil {
		logger.Error("reaction_rollback_refetch_failed", "comment", commentID, "error", err)
		return nil, cause
	}
	r.mu.Lock()
	r.view[commentID] = authoritative
	cp := append([]models.Reaction(nil), authoritative...)
	r.mu.Unlock()
	return cp, cause
}

// currentSet returns a detached copy of the comment's reaction set; the
// view's backing arrays are mutated in place and must never escape.
func (r *Reconciler) currentSet(ctx context.Context, commentID string) ([]models.Reaction, error) {
	r.mu.Lock()
	set, ok := r.view[commentID]
	if ok {
		cp := append([]models.Reaction(nil), set...)
		r.mu.Unlock()
		return cp, nil
	}
	r.mu.Unlock()
	fetched, err := r.api.ListReactions(ctx, commentID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.view[commentID] = fetched
	cp := append([]models.Reaction(nil), fetched...)
	r.mu.Unlock()
	return cp, nil
}

func (r *Reconciler) snapshot(commentID string) []models.Reaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Reaction(nil), r.view[commentID]...)
}

func (r *Reconciler) applyAdd(commentID string, rx models.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view[commentID] = append(r.view[commentID], rx)
}

func (r *Reconciler) applyRemove(commentID, reactionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.view[commentID]
	out := make([]models.Reaction, 0, len(set))
	for _, rx := range set {
		if rx.ID != reactionID {
			out = append(out, rx)
		}
	}
	r.view[commentID] = out
}

func (r *Reconciler) applyReplace(commentID, placeholderID string, rx models.Reaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.view[commentID]
	for i := range set {
		if set[i].ID == placeholderID {
			set[i] = rx
			return
		}
	}
	set = append(set, rx)
	r.view[commentID] = set
}

func other(typ string) string {
	if typ == models.ReactionUp {
		return models.ReactionDown
	}
	return models.ReactionUp
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
