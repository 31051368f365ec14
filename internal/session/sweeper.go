package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultIdleTTL          = 48 * time.Hour
	DefaultEvictionSchedule = "@every 10m"
)

// Sweeper periodically evicts sessions that have been idle longer than the TTL.
// It never resets sessions; the daily reset stays lazy.
type Sweeper struct {
	store Store
	idle  time.Duration
	spec  string
	cron  *cron.Cron
}

func NewSweeper(store Store, idle time.Duration, spec string) *Sweeper {
	if idle <= 0 {
		idle = DefaultIdleTTL
	}
	if spec == "" {
		spec = DefaultEvictionSchedule
	}
	return &Sweeper{store: store, idle: idle, spec: spec}
}

// Start schedules the sweep. The schedule stops when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("eviction schedule %q: %w", s.spec, err)
	}
	s.cron = c
	c.Start()
	slog.Info("session sweeper started", "schedule", s.spec, "idle_ttl", s.idle)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one eviction pass and returns the number of sessions removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	start := time.Now()
	removed, err := s.store.EvictIdle(ctx, s.idle)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		slog.Info("evicted idle sessions", "removed", removed, "cost", time.Since(start))
	}
	return removed
}
