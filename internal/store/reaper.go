package store

import (
	"context"
	"log"
	"sync"
	"time"
)

// Reaper periodically force-clears expired lock rows. It is best-effort
// cleanup: acquire and renew already treat expired locks as free, so the
// sweep only exists to stop stale "locked by" indicators from lingering
// after a holder disappears without releasing.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewReaper creates a reaper sweeping at the given interval.
func NewReaper(s *Store, interval time.Duration, logger *log.Logger) *Reaper {
	return &Reaper{
		store:    s,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches the sweep loop in the background.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := r.store.ReapExpiredLocks(ctx)
	if err != nil {
		r.logger.Printf("lock reaper sweep failed: %v", err)
		return
	}
	if n > 0 {
		r.logger.Printf("lock reaper cleared %d expired lock(s)", n)
	}
}
