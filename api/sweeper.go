/*
sweeper.go - Background notification delivery sweeper

PURPOSE:
  Periodically drains the delivery queue: undelivered notifications
  whose schedule has arrived are handed to a delivery function (push
  gateway, SMS bridge) and stamped delivered_at. The dispatcher itself
  never delivers; this sweeper is the only consumer of the queue.

DESIGN:
  - Background goroutine with a configurable poll interval
  - ledger.ShouldDeliver is the readiness check; the store query
    pre-filters, the sweeper re-checks before handing off
  - Delivery failures leave delivered_at unset, so the next sweep
    retries automatically

USAGE:
  sweeper := NewSweeper(store, deliverFn, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - ledger/dispatch.go: ShouldDeliver
  - store/sqlite/notifications.go: PendingDelivery, MarkDelivered
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vsla/health-engine/ledger"
)

// DeliverFunc pushes one notification to the external channel. Returning
// an error leaves the notification queued for the next sweep.
type DeliverFunc func(ctx context.Context, n ledger.Notification) error

// Sweeper drains the notification delivery queue on a timer.
type Sweeper struct {
	Store        ledger.NotificationStore
	Deliver      DeliverFunc
	PollInterval time.Duration
	BatchSize    int
	Log          *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with a 30 second poll interval.
func NewSweeper(store ledger.NotificationStore, deliver DeliverFunc, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		Store:        store,
		Deliver:      deliver,
		PollInterval: 30 * time.Second,
		BatchSize:    100,
		Log:          log,
		stop:         make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.PollInterval)
	s.wg.Add(1)
	go s.run()

	s.Log.Info("delivery sweeper started",
		zap.Duration("poll_interval", s.PollInterval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.Log.Info("delivery sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Sweep immediately on start
	s.Sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// Sweep performs one pass over the queue. Exported so tests and manual
// triggers can run it without the timer.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	pending, err := s.Store.PendingDelivery(ctx, now, s.BatchSize)
	if err != nil {
		s.Log.Warn("sweep query failed", zap.Error(err))
		return
	}

	delivered := 0
	for _, n := range pending {
		if !ledger.ShouldDeliver(n, now) {
			continue
		}
		if s.Deliver != nil {
			if err := s.Deliver(ctx, n); err != nil {
				s.Log.Warn("delivery failed, will retry",
					zap.String("notification_id", n.ID), zap.Error(err))
				continue
			}
		}
		if err := s.Store.MarkDelivered(ctx, n.ID, now); err != nil {
			s.Log.Warn("failed to stamp delivery",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered > 0 {
		s.Log.Info("sweep complete",
			zap.Int("pending", len(pending)), zap.Int("delivered", delivered))
	}
}
