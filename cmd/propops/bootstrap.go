package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/custodia-labs/propops/internal/adapters/driven/auth"
	"github.com/custodia-labs/propops/internal/adapters/driven/clock"
	"github.com/custodia-labs/propops/internal/adapters/driven/config/file"
	"github.com/custodia-labs/propops/internal/adapters/driven/feed/fswatch"
	feedmemory "github.com/custodia-labs/propops/internal/adapters/driven/feed/memory"
	"github.com/custodia-labs/propops/internal/adapters/driven/feed/websocket"
	"github.com/custodia-labs/propops/internal/adapters/driven/provider"
	"github.com/custodia-labs/propops/internal/adapters/driven/remote"
	"github.com/custodia-labs/propops/internal/adapters/driven/schema"
	"github.com/custodia-labs/propops/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/propops/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/propops/internal/adapters/driving/cli"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/services"
	"github.com/custodia-labs/propops/internal/logger"
)

// closer collects teardown steps and runs them in reverse order.
type closer []func() error

func (c *closer) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closer) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bootstrap wires the driven adapters into a session and hands the
// resulting services to the CLI.
func bootstrap(ctx context.Context, opts cli.Options) (rt *cli.Runtime, err error) {
	var teardown closer
	defer func() {
		if err != nil {
			_ = teardown.close()
		}
	}()

	configs, cfg, err := configStore(opts)
	if err != nil {
		return nil, err
	}
	if !opts.Verbose {
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(level)
	}

	kv, schedStore, err := stores(opts, cfg, &teardown)
	if err != nil {
		return nil, err
	}

	creds := auth.NewCredentialStore(kv)
	client, err := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std(),
		remote.WithTokenSource(auth.NewTokenSource(context.WithoutCancel(ctx), creds)))
	if err != nil {
		return nil, err
	}

	deps := services.SessionDeps{
		Config: cfg,
		Store:  kv,
		Remote: client,
		Clock:  clock.New(),
		OnDeadLetter: func(d domain.DeadLetter) {
			logger.Warn("mutation %s (%s) dead-lettered: %s", d.Mutation.ID, d.Mutation.EntityKey(), d.Reason)
		},
		OnAuthRequired: func(err error) {
			logger.Warn("session expired, run 'propops auth login': %v", err)
		},
	}

	if cfg.Auth.TokenURL != "" {
		refresher, err := auth.NewOAuthRefresher(creds, cfg.Auth)
		if err != nil {
			return nil, err
		}
		deps.Refresher = refresher
	}

	if cfg.Sync.ProviderURL != "" {
		limiter := provider.NewRateLimiter(provider.RateLimitConfig{
			RequestsPerSecond: cfg.Sync.RequestsPerSecond,
			Burst:             cfg.Sync.Burst,
		})
		p, err := provider.NewClient(cfg.Sync.ProviderURL, cfg.Sync.APIKey, limiter)
		if err != nil {
			return nil, err
		}
		deps.Provider = p
		deps.Sink = client
	}

	link := &connectivity{}
	deps.Feed, err = changeFeed(cfg, creds, link, &teardown)
	if err != nil {
		return nil, err
	}

	if cfg.Queue.SchemaDir != "" {
		v, err := schema.NewValidator(cfg.Queue.SchemaDir)
		if err != nil {
			return nil, err
		}
		deps.Validator = v
	}

	cred, err := creds.Load(ctx)
	switch {
	case err == nil:
		deps.Credential = &cred
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	session, err := services.NewSession(ctx, deps)
	if err != nil {
		return nil, err
	}
	teardown.add(func() error {
		session.Dispose()
		return nil
	})
	link.attach(session)

	rt = &cli.Runtime{
		Config:      cfg,
		ConfigPath:  configs.Path(),
		SaveConfig:  configs.Save,
		Cache:       session.Profiles,
		Queue:       session.Queue,
		Changes:     session.Changes,
		Writer:      session,
		Credentials: creds,
		Close:       teardown.close,
	}
	if session.Tokens != nil {
		rt.Tokens = session.Tokens
	}
	if session.Sync != nil {
		rt.Sync = session.Sync
	}
	rt.Scheduler = services.NewScheduler(cfg, schedStore, session.Queue, rt.Sync, clock.New())
	return rt, nil
}

// configStore loads the effective configuration. Ephemeral runs read the
// file and environment as usual but never write back.
func configStore(opts cli.Options) (driven.ConfigStore, domain.Config, error) {
	fileStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, domain.Config{}, err
	}
	cfg, err := fileStore.Load()
	if err != nil {
		return nil, domain.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if opts.Ephemeral {
		return memory.NewConfigStore(cfg), cfg, nil
	}
	return fileStore, cfg, nil
}

// stores opens the durable stores, or in-memory ones for ephemeral runs.
func stores(opts cli.Options, cfg domain.Config, teardown *closer) (driven.KVStore, driven.SchedulerStore, error) {
	if opts.Ephemeral {
		return memory.NewKVStore(), memory.NewSchedulerStore(), nil
	}
	db, err := sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	teardown.add(db.Close)
	return db.KVStore(), db.SchedulerStore(), nil
}

// changeFeed picks the configured change feed. The websocket feed wins
// over the directory watcher; without either, notifications come only from
// inside the process.
func changeFeed(cfg domain.Config, creds *auth.CredentialStore, link *connectivity, teardown *closer) (driven.ChangeFeed, error) {
	switch {
	case cfg.Changes.FeedURL != "":
		f, err := websocket.New(cfg.Changes.FeedURL,
			websocket.WithHeader(bearerHeader(creds)),
			websocket.WithConnectionHandler(link.report))
		if err != nil {
			return nil, err
		}
		teardown.add(f.Close)
		return f, nil
	case cfg.Changes.WatchDir != "":
		f, err := fswatch.New(cfg.Changes.WatchDir)
		if err != nil {
			return nil, err
		}
		teardown.add(f.Close)
		return f, nil
	default:
		return feedmemory.New(), nil
	}
}

// onlineSetter receives connectivity changes.
type onlineSetter interface {
	SetOnline(online bool)
}

// connectivity relays feed connection state to the session. The feed can
// report before the session exists; the last report is applied on attach.
type connectivity struct {
	mu       sync.Mutex
	target   onlineSetter
	reported bool
	online   bool
}

func (c *connectivity) report(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = true
	c.online = online
	if c.target != nil {
		logger.Debug("change feed connected: %t", online)
		c.target.SetOnline(online)
	}
}

func (c *connectivity) attach(target onlineSetter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
	if c.reported {
		target.SetOnline(c.online)
	}
}

// bearerHeader authenticates the feed handshake with the stored access
// token. A missing credential connects anonymously.
func bearerHeader(creds *auth.CredentialStore) func(context.Context) (http.Header, error) {
	return func(ctx context.Context) (http.Header, error) {
		h := http.Header{}
		cred, err := creds.Load(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return h, nil
		}
		if err != nil {
			return nil, err
		}
		if cred.AccessToken != "" {
			h.Set("Authorization", "Bearer "+cred.AccessToken)
		}
		return h, nil
	}
}
