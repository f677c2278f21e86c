package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overunder/internal/domain"
	"overunder/internal/engine"
	"overunder/internal/storage/memory"
)

type fakeSettler struct {
	duration time.Duration
	block    chan struct{}
	err      error

	mu    sync.Mutex
	calls map[int64]int
	live  int
	peak  int
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{duration: time.Hour, calls: make(map[int64]int)}
}

func (f *fakeSettler) Settle(_ context.Context, id int64) (engine.SettleOutcome, error) {
	f.mu.Lock()
	f.calls[id]++
	f.live++
	if f.live > f.peak {
		f.peak = f.live
	}
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.live--
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return engine.SettleMerged, nil
}

func (f *fakeSettler) Ends(g *domain.Game) time.Time {
	return g.TimeStarted.Add(f.duration)
}

func (f *fakeSettler) count(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

var t0 = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, started time.Time, ended, merged bool) *domain.Game {
	t.Helper()
	g := &domain.Game{
		ContractAddress: fmt.Sprintf("contract-%d", started.UnixNano()),
		TimeStarted:     started,
	}
	if ended {
		end := started.Add(time.Hour)
		g.TimeEnded = &end
	}
	if merged {
		m := started.Add(time.Hour)
		g.MergedAt = &m
	}
	require.NoError(t, store.Games().Create(context.Background(), g))
	return g
}

func newScheduler(t *testing.T, store *memory.Store, settler *fakeSettler, now time.Time) *Scheduler {
	t.Helper()
	s, err := New(Options{
		Store:        store,
		Settler:      settler,
		ReleaseDelay: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
		Now:          func() time.Time { return now },
	})
	require.NoError(t, err)
	return s
}

func TestSweep_PicksOverdueAndPendingMerge(t *testing.T) {
	store := memory.NewStore()
	settler := newFakeSettler()
	now := t0.Add(2 * time.Hour)

	overdue := seed(t, store, t0, false, false)
	running := seed(t, store, now.Add(-10*time.Minute), false, false)
	pending := seed(t, store, t0.Add(-time.Hour), true, false)
	done := seed(t, store, t0.Add(-2*time.Hour), true, true)

	s := newScheduler(t, store, settler, now)
	started, err := s.Sweep(context.Background())
	require.NoError(t, err)
	s.Wait()

	assert.ElementsMatch(t, []int64{overdue.ID, pending.ID}, started)
	assert.Equal(t, 1, settler.count(overdue.ID))
	assert.Equal(t, 1, settler.count(pending.ID))
	assert.Zero(t, settler.count(running.ID))
	assert.Zero(t, settler.count(done.ID))
	assert.Zero(t, s.InFlight())
}

func TestSweep_ExactlyAtWindowEndIsDue(t *testing.T) {
	store := memory.NewStore()
	settler := newFakeSettler()
	g := seed(t, store, t0, false, false)

	s := newScheduler(t, store, settler, t0.Add(time.Hour))
	started, err := s.Sweep(context.Background())
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, []int64{g.ID}, started)
}

func TestSweep_DoesNotReenterRunningSettle(t *testing.T) {
	store := memory.NewStore()
	settler := newFakeSettler()
	settler.block = make(chan struct{})
	g := seed(t, store, t0, false, false)

	s := newScheduler(t, store, settler, t0.Add(2*time.Hour))
	ctx := context.Background()

	first, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{g.ID}, first)

	for i := 0; i < 5; i++ {
		again, err := s.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)
	}
	assert.Equal(t, 1, s.InFlight())

	close(settler.block)
	s.Wait()

	assert.Equal(t, 1, settler.count(g.ID))
	assert.Equal(t, 1, settler.peak)
	assert.Zero(t, s.InFlight())
}

func TestSweep_FailedSettleIsRetriedNextSweep(t *testing.T) {
	store := memory.NewStore()
	settler := newFakeSettler()
	settler.err = errors.New("rpc down")
	g := seed(t, store, t0.Add(-time.Hour), true, false)

	s := newScheduler(t, store, settler, t0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Sweep(ctx)
		require.NoError(t, err)
		s.Wait()
	}
	assert.Equal(t, 3, settler.count(g.ID))
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	settler := newFakeSettler()
	g := seed(t, store, t0, false, false)

	s, err := New(Options{
		Store:        store,
		Settler:      settler,
		Tick:         5 * time.Millisecond,
		ReleaseDelay: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
		Now:          func() time.Time { return t0.Add(2 * time.Hour) },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return settler.count(g.ID) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
