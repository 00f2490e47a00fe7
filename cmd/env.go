package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/escalation"
	"github.com/sells-group/client-linker/internal/events"
	"github.com/sells-group/client-linker/internal/resolver"
	"github.com/sells-group/client-linker/internal/store"
	"github.com/sells-group/client-linker/pkg/recorder"
	"github.com/sells-group/client-linker/pkg/telegram"
)

// linkerEnv holds the wired pipeline components. Callers defer env.Close().
type linkerEnv struct {
	Store     store.Store
	Recorder  recorder.Client
	Resolver  *resolver.Resolver
	Channel   *escalation.Channel
	Publisher events.Publisher
}

func (e *linkerEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	var pool *store.PoolConfig
	if cfg.Store.Pool.MaxConns > 0 || cfg.Store.Pool.MinConns > 0 {
		pool = &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		}
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, pool)
}

// initEnv sets up the store, API clients, and the resolution pipeline.
func initEnv(ctx context.Context) (*linkerEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules, err := resolver.LoadRules(cfg.Matching.RulesPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rec := recorder.NewClient(cfg.Recorder.Key, cfg.Recorder.BaseURL,
		recorder.WithTimeout(time.Duration(cfg.Recorder.TimeoutSecs)*time.Second))

	ai, err := resolver.NewAIMatcher(cfg.Anthropic, rules)
	if err != nil {
		if !eris.Is(err, resolver.ErrModelNotConfigured) {
			_ = st.Close()
			return nil, err
		}
		zap.L().Warn("LINKER_ANTHROPIC_KEY not set, resolution fails for transcripts that do not match by email until a key is configured")
		ai = nil
	}

	var ch *escalation.Channel
	var notifier resolver.Notifier
	if cfg.Telegram.Token != "" {
		bot := telegram.NewClient(cfg.Telegram.Token,
			telegram.WithBaseURL(cfg.Telegram.BaseURL),
			telegram.WithTimeout(time.Duration(cfg.Telegram.TimeoutSecs)*time.Second))
		ch = escalation.NewChannel(bot, cfg.Telegram.ChatID, st,
			cfg.Dashboard.BaseURL, cfg.Resolution.PreviewChars, cfg.Resolution.OwnerDomain)
		notifier = ch
	} else {
		zap.L().Warn("telegram not configured, escalations are recorded but nobody is notified")
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.Events.URL != "" {
		pub, err = events.NewAMQP(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			zap.L().Warn("event publisher init failed, outcomes will not be published", zap.Error(err))
			pub = events.NopPublisher{}
		}
	}

	res := resolver.New(st, ai, notifier, pub, rules, cfg.Resolution.OwnerDomain)
	if ch != nil {
		ch.Bind(res)
	}

	return &linkerEnv{
		Store:     st,
		Recorder:  rec,
		Resolver:  res,
		Channel:   ch,
		Publisher: pub,
	}, nil
}
