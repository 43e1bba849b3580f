package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically purges expired sessions using a start/stop/wait
// lifecycle built on robfig/cron.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewSweeper creates a sweeper that runs on the given cron schedule
// (e.g. "@every 5m").
func NewSweeper(store Store, schedule string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		logger:   logger,
		schedule: schedule,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("oauth session sweeper started", "schedule", s.schedule)

	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		s.logger.Error("failed to schedule oauth session sweep", "error", err)
		return err
	}
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-s.stopCh
		s.cron.Stop()
	}()

	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping oauth session sweeper...")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("oauth session sweeper stopped")
}

func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) runSweep(ctx context.Context) {
	start := time.Now()
	n, err := s.store.SweepExpired(ctx, start)
	if err != nil {
		s.logger.Error("oauth session sweep failed", "error", err)
		return
	}
	s.logger.Info("oauth session sweep completed",
		"deleted", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
