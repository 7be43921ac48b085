package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"pagestore/internal/sweep"
	"pagestore/pkg/cache"
	"pagestore/pkg/config"
	"pagestore/pkg/inflight"
	"pagestore/pkg/ratelimit"
	"pagestore/pkg/reactions"
	"pagestore/pkg/records"
	"pagestore/pkg/remote"
	"pagestore/pkg/threads"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	cache     *cache.Store
	remote    *remote.Client
	records   *records.Manager
	registry  *records.Registry
	threads   *threads.Store
	reactions *reactions.Reconciler

	srv *http.Server
}

// New initializes resources that do not require a running context (cache
// database, remote client, stores). It does not start the sweep scheduler
// or the HTTP server; call Run to start those and block until shutdown.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config

	c, err := cache.Open(cache.Options{
		Path:          eff.DBPath,
		MaxEntries:    cfg.Cache.MaxEntries,
		MaxValueBytes: int64(cfg.Cache.MaxValueBytes),
		StaleTTL:      time.Duration(cfg.Cache.StaleTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", eff.DBPath, err)
	}

	rc := remote.New(remote.Options{
		BaseURL:  cfg.Remote.BaseURL,
		Token:    cfg.Remote.Token,
		Timeout:  time.Duration(cfg.Remote.Timeout),
		Attempts: cfg.Remote.RetryAttempts,
	})

	coord := inflight.New(time.Duration(cfg.Store.InflightGrace))
	limiter := ratelimit.New(limitCategories(cfg.RateLimit))

	mgr := records.New(rc, c, coord, records.Config{
		TrustedWriters: cfg.Store.TrustedWriters,
		DefaultTTL:     time.Duration(cfg.Store.RecordTTL.List),
		TTLByPrefix: map[string]time.Duration{
			// per-page record classes get the page TTL; thread records
			// change with every append and top-contributor records churn
			// with page edits
			"thread:":          time.Duration(cfg.Store.RecordTTL.Page),
			"top-contributor.": time.Duration(cfg.Store.RecordTTL.Page),
		},
	})

	th := threads.New(rc, mgr, c, limiter, threads.Config{
		PageSize: cfg.Store.PageSize,
		PageTTL:  time.Duration(cfg.Store.RecordTTL.Page),
	})

	rec := reactions.New(rc, limiter, reactions.Config{
		SwitchDelay: time.Duration(cfg.Reactions.SwitchDelay),
	})

	return &App{
		eff: eff, version: version, commit: commit, buildDate: buildDate,
		cache: c, remote: rc, records: mgr, registry: records.DefaultRegistry(),
		threads: th, reactions: rec,
	}, nil
}

// Run starts the sweep scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	sweepCancel, err := sweep.Start(ctx, a.cache, a.eff.Config.Cache.SweepCron)
	if err != nil {
		return err
	}
	defer sweepCancel()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.stop()
		return nil
	case err := <-errCh:
		a.stop()
		return err
	}
}

func (a *App) stop() {
	if a.srv != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shCtx)
	}
	_ = a.cache.Close()
}

// limitCategories converts the config shape into the limiter's.
func limitCategories(rl config.RateLimitConfig) map[string]ratelimit.Category {
	out := make(map[string]ratelimit.Category, len(rl))
	for name, cat := range rl {
		c := ratelimit.Category{Cooldown: time.Duration(cat.Cooldown)}
		for _, w := range cat.Windows {
			c.Windows = append(c.Windows, ratelimit.Window{Span: time.Duration(w.Span), Max: w.Max})
		}
		out[name] = c
	}
	return out
}
