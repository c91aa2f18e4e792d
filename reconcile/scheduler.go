/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically sweeps every active order and runs Recalculate on it, so
  a remaining quantity that drifted from its delivery history gets
  repaired without waiting for someone to hit the on-demand endpoint.

DESIGN:
  - Runs a background goroutine with a configurable sweep interval
  - Each order is one Recalculate call, i.e. one transaction; a failing
    order is logged and skipped, the sweep carries on
  - Consistent orders produce no corrections and no audit entries, so
    repeated sweeps are idempotent

CONFIGURATION:
  - Interval: how often to sweep (default: 1 hour)
  - Enabled:  whether the scheduler is active (default: true)

USAGE:
  scheduler := reconcile.NewScheduler(store, service)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - service.go: the Recalculate path the sweep drives
  - cmd/server/main.go: start/stop wiring
*/
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/fulfillment-ledger/ledger"
)

// Scheduler runs periodic reconciliation sweeps over all active orders.
type Scheduler struct {
	Store    ledger.TxStore
	Service  *Service
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler with the default sweep interval.
func NewScheduler(store ledger.TxStore, service *Service) *Scheduler {
	return &Scheduler{
		Store:    store,
		Service:  service,
		Interval: 1 * time.Hour,
		Enabled:  true,
		stop:     make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with sweep interval: %v", s.Interval)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.sweep(context.Background())
		case <-s.stop:
			return
		}
	}
}

// sweep runs Recalculate over every active order and reports totals.
// Returns the number of corrections made, for tests and RunNow callers.
func (s *Scheduler) sweep(ctx context.Context) int {
	ids, err := s.Store.OrderIDs(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing orders: %v", err)
		return 0
	}

	corrected := 0
	failed := 0
	for _, id := range ids {
		report, err := s.Service.Recalculate(ctx, id)
		if err != nil {
			log.Printf("[Scheduler] Error reconciling order %s: %v", id, err)
			failed++
			continue
		}
		for _, c := range report.Corrections {
			log.Printf("[Scheduler] Corrected line %s on order %s: %d -> %d (delivered %d)",
				c.OrderLineID, id, c.Before, c.After, c.Delivered)
		}
		corrected += len(report.Corrections)
	}

	if corrected > 0 || failed > 0 {
		log.Printf("[Scheduler] Sweep completed: %d orders, %d corrections, %d failed",
			len(ids), corrected, failed)
	}
	return corrected
}

// RunNow triggers an immediate sweep (for tests/admin) and returns the
// number of corrections it made.
func (s *Scheduler) RunNow(ctx context.Context) int {
	return s.sweep(ctx)
}
