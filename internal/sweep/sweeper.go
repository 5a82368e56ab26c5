// Package sweep runs the periodic expiry pass over verification sessions.
// Expiry is otherwise lazy; the sweeper bounds how long an abandoned session
// stays active with no reads against it.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/service"
)

// Sweeper periodically expires overdue verification sessions.
type Sweeper struct {
	svc      *service.Service
	interval time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper with the given interval.
func NewSweeper(svc *service.Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		svc:      svc,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()

	slog.Info("session sweeper started", "interval", s.interval)
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.svc.SweepExpired(s.ctx); n > 0 {
				slog.Info("expired verification sessions", "count", n)
			}
		}
	}
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()

	slog.Info("session sweeper stopped")
}
