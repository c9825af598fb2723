package credits

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer runs one expiry pass.
type Expirer interface {
	ExpireSweep(ctx context.Context) (*SweepResult, error)
}

// Sweeper runs ExpireSweep every interval and on demand. At most one sweep
// runs at a time; triggers that arrive during a sweep are coalesced.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(expirer Expirer, interval time.Duration) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
			s.sweep(ctx)
		case <-tick:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	res, err := s.expirer.ExpireSweep(ctx)
	if err != nil {
		slog.Error("credit expiry sweep", "error", err)
	}
	if res != nil && res.Entries > 0 {
		slog.Debug("credit expiry sweep expired entries", "users", res.Users, "entries", res.Entries)
	}
}
