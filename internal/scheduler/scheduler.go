// Package scheduler ends games whose betting window elapsed and drives their
// settlement until the pots are merged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"overunder/internal/domain"
	"overunder/internal/engine"
	"overunder/internal/inflight"
	"overunder/internal/observability"
	"overunder/internal/storage"
)

// Settler is the part of the engine the scheduler drives.
type Settler interface {
	Settle(ctx context.Context, gameID int64) (engine.SettleOutcome, error)
	Ends(g *domain.Game) time.Time
}

// Options for creating a Scheduler.
type Options struct {
	Store   storage.Store
	Settler Settler

	// Tick is the sweep interval. Default 1s.
	Tick time.Duration
	// ReleaseDelay keeps a game claimed for a moment after its settle
	// returns. Default 100ms.
	ReleaseDelay time.Duration

	Logger *log.Logger
	Now    func() time.Time
}

// Scheduler sweeps active games past their window and games whose merge is
// still pending.
type Scheduler struct {
	store        storage.Store
	settler      Settler
	tick         time.Duration
	releaseDelay time.Duration
	logger       *log.Logger
	now          func() time.Time

	inflight *inflight.Set
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Settler == nil {
		return nil, errors.New("scheduler: store and settler are required")
	}

	tick := opts.Tick
	if tick <= 0 {
		tick = time.Second
	}
	releaseDelay := opts.ReleaseDelay
	if releaseDelay <= 0 {
		releaseDelay = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		store:        opts.Store,
		settler:      opts.Settler,
		tick:         tick,
		releaseDelay: releaseDelay,
		logger:       logger,
		now:          now,
		inflight:     inflight.NewSet(),
	}, nil
}

// Run sweeps every tick until ctx is done, then waits for running settles.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Printf("started, tick %v", s.tick)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Println("stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Printf("sweep: %v", err)
			}
		}
	}
}

// Sweep starts a settle for every due game not already being settled and
// returns the IDs it started. Settles run in the background.
func (s *Scheduler) Sweep(ctx context.Context) ([]int64, error) {
	due, err := s.due(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordSweep(len(due))

	var started []int64
	for _, id := range due {
		key := strconv.FormatInt(id, 10)
		if !s.inflight.TryAdd(key) {
			continue
		}
		started = append(started, id)

		s.wg.Add(1)
		go func(id int64) {
			defer s.wg.Done()
			s.settle(ctx, id)
			// Hold the claim briefly so the next tick does not pick up a
			// game whose row is still being committed.
			select {
			case <-time.After(s.releaseDelay):
			case <-ctx.Done():
			}
			s.inflight.Remove(key)
		}(id)
	}
	return started, nil
}

// Wait blocks until every settle started by Sweep has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// InFlight reports how many games are claimed.
func (s *Scheduler) InFlight() int {
	return s.inflight.Len()
}

func (s *Scheduler) settle(ctx context.Context, id int64) {
	outcome, err := s.settler.Settle(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Printf("settle game %d: %v", id, err)
		}
		return
	}
	switch outcome {
	case engine.SettleMerged, engine.SettleNoBuys:
		s.logger.Printf("game %d settled: %s", id, outcome)
	}
}

// due returns active games past their window followed by ended games whose
// merge is pending, without duplicates.
func (s *Scheduler) due(ctx context.Context) ([]int64, error) {
	active, err := s.store.Games().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active games: %w", err)
	}
	pending, err := s.store.Games().ListPendingMerge(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending merge games: %w", err)
	}

	now := s.now()
	seen := make(map[int64]bool, len(active)+len(pending))
	var ids []int64
	add := func(g *domain.Game) {
		if !seen[g.ID] {
			seen[g.ID] = true
			ids = append(ids, g.ID)
		}
	}
	for _, g := range active {
		if !now.Before(s.settler.Ends(g)) {
			add(g)
		}
	}
	for _, g := range pending {
		add(g)
	}
	return ids, nil
}
