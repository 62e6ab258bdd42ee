/*
sweeper.go - Background expiration sweeper

PURPOSE:
  Periodically flips lapsed active credits to expired status so history
  views and dashboards show the right state without waiting for a read.

DESIGN:
  - Background goroutine on a configurable ticker
  - Advisory only: balance reads filter lapsed credits regardless, so a
    stopped or lagging sweeper never produces a wrong balance
  - Idempotent and safe to run concurrently with any other operation

USAGE:
  sweeper := NewSweeper(store, log)
  sweeper.Start()
  // ... later
  sweeper.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clubpoints/loyalty-engine/ledger"
)

// Sweeper runs the expiration sweep on an interval.
type Sweeper struct {
	Store    ledger.Store
	Log      logrus.FieldLogger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper with the default hourly interval.
func NewSweeper(store ledger.Store, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{
		Store:    store,
		Log:      log,
		Interval: 1 * time.Hour,
		Enabled:  true,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("expiration sweeper disabled")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.Log.WithField("interval", s.Interval).Info("expiration sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info("expiration sweeper stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Sweep immediately on start.
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	flipped, err := ledger.Sweep(context.Background(), s.Store, time.Now())
	if err != nil {
		s.Log.WithError(err).Error("expiration sweep failed")
		return
	}
	if flipped > 0 {
		s.Log.WithField("entries", flipped).Info("expired lapsed credits")
	}
}

// RunNow triggers an immediate sweep (for admin and tests).
func (s *Sweeper) RunNow() {
	s.sweep()
}
