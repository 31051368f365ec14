package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/line"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"github.com/suPer8Hu/chat-relay/internal/session"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
)

// app holds the collaborators shared by serve and worker.
type app struct {
	cfg     config.Config
	store   session.Store
	claims  relay.Claimer
	repo    *chat.Repo
	journal relay.Journal
	line    *line.Client
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, journal: relay.NopJournal{}}

	switch cfg.SessionBackend {
	case "redis":
		rdb := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, rdb.Close)
		rs := redisstore.New(rdb, redisstore.WithIdleTTL(cfg.SessionIdleTTL))
		if err := rs.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		a.store = rs
		a.claims = redisstore.NewClaims(rdb, "")
	default:
		a.store = session.NewMemoryStore(session.WithMaxSessions(cfg.MaxSessions))
		a.claims = relay.NewMemoryClaims()
	}

	if cfg.DBDSN != "" {
		gdb, err := db.Connect(cfg.DBDSN, chat.Models()...)
		if err != nil {
			a.Close()
			return nil, err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		a.repo = chat.NewRepo(gdb)
		a.journal = chat.NewRecorder(a.repo)
	}

	a.line = line.NewClient(cfg.LineAPIBaseURL, cfg.ChannelAccessToken)
	slog.Info("relay configured",
		"session_backend", cfg.SessionBackend,
		"queue_backend", cfg.QueueBackend,
		"journal", cfg.DBDSN != "",
		"ai_provider", cfg.AIProvider,
	)
	return a, nil
}

// pipeline builds the worker-side processing chain.
func (a *app) pipeline(ctx context.Context) (*relay.Pipeline, error) {
	provider, err := newRegistry(a.cfg).Get(ctx, a.cfg.AIProvider, a.cfg.AIModel)
	if err != nil {
		return nil, err
	}

	opts := relay.Options{
		Limit:        a.cfg.DailyRequestLimit,
		ContextTurns: a.cfg.ContextTurns,
		Preamble: session.Preamble{
			Instruction: a.cfg.PreambleInstruction,
			Ack:         a.cfg.PreambleAck,
		},
		WelcomeText:  a.cfg.WelcomeMessage,
		LimitText:    a.cfg.LimitMessage,
		ApologyText:  a.cfg.ApologyMessage,
		FallbackName: a.cfg.FallbackDisplayName,
		Location:     a.cfg.Location,
		AITimeout:    a.cfg.AITimeout,
	}
	dispatcher := relay.NewDispatcher(a.line, a.claims)
	return relay.NewPipeline(a.store, provider, dispatcher, opts,
		relay.WithProfiles(a.line),
		relay.WithJournal(a.journal),
	), nil
}

// startSweeper schedules idle-session eviction until ctx is done.
func (a *app) startSweeper(ctx context.Context) error {
	return session.NewSweeper(a.store, a.cfg.SessionIdleTTL, a.cfg.EvictionSchedule).Start(ctx)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}
