package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically removes expired entries from a Store.
type Sweeper struct {
	store    Store
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

// NewSweeper creates a sweeper; interval defaults to 30s when non-positive.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{store: store, interval: interval}
}

// Start launches the background sweep loop. Safe to call once.
func (s *Sweeper) Start(ctx context.Context) {
	s.once.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.SweepExpired(ctx)
			if err != nil {
				slog.Warn("checkpoint sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("checkpoint sweep removed expired entries", "count", n)
			}
		}
	}
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
