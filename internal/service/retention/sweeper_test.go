package retention

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrace struct {
	project uuid.UUID
	created time.Time
	spans   int64
}

// fakeStore keeps traces in memory and mimics the storage contract.
type fakeStore struct {
	mu       sync.Mutex
	plans    map[string][]uuid.UUID
	traces   []fakeTrace
	calls    int
	failNext []error
	cutoffs  []time.Time
}

func (f *fakeStore) FetchProjectsWithPlan(_ context.Context, plan string, cursor *uuid.UUID, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := slices.Clone(f.plans[plan])
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	var out []uuid.UUID
	for _, id := range ids {
		if cursor != nil && bytes.Compare(id[:], cursor[:]) <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTracesBeforeCutoff(_ context.Context, cutoff time.Time, projectIDs []uuid.UUID, maxTraces int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		return 0, 0, err
	}

	slices.SortFunc(f.traces, func(a, b fakeTrace) int { return a.created.Compare(b.created) })
	var traces, spans int64
	kept := f.traces[:0]
	for _, tr := range f.traces {
		if int(traces) < maxTraces && tr.created.Before(cutoff) && slices.Contains(projectIDs, tr.project) {
			traces++
			spans += tr.spans
			continue
		}
		kept = append(kept, tr)
	}
	f.traces = kept
	return traces, spans, nil
}

func (f *fakeStore) remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.traces)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func seed(store *fakeStore, plan string, projects, tracesPerProject int, created time.Time) []uuid.UUID {
	if store.plans == nil {
		store.plans = make(map[string][]uuid.UUID)
	}
	ids := make([]uuid.UUID, projects)
	for i := range ids {
		ids[i] = uuid.New()
		for j := range tracesPerProject {
			store.traces = append(store.traces, fakeTrace{
				project: ids[i],
				created: created.Add(time.Duration(j) * time.Minute),
				spans:   3,
			})
		}
	}
	store.plans[plan] = append(store.plans[plan], ids...)
	return ids
}

func TestSweepDrainsEveryPage(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	seed(store, "hobby", 5, 4, now.Add(-48*time.Hour))
	seed(store, "hobby", 1, 2, now) // fresh, survives

	s := New(store, testLogger(), 3, 2)
	s.now = func() time.Time { return now }

	st, err := s.Sweep(context.Background(), Plan{Name: "hobby", TTL: 24 * time.Hour})
	require.NoError(t, err)

	assert.Equal(t, "hobby", st.Plan)
	assert.Equal(t, now.Add(-24*time.Hour), st.Cutoff)
	assert.Equal(t, 6, st.Projects)
	assert.Equal(t, int64(20), st.Traces)
	assert.Equal(t, int64(60), st.Spans)
	assert.Equal(t, 2, store.remaining())
}

func TestSweepUsesFixedCutoff(t *testing.T) {
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	seed(store, "pro", 2, 5, cutoff.Add(-time.Hour))

	s := New(store, testLogger(), 2, 10)
	_, err := s.Sweep(context.Background(), Plan{Name: "pro", Cutoff: cutoff})
	require.NoError(t, err)

	require.NotEmpty(t, store.cutoffs)
	for _, c := range store.cutoffs {
		assert.Equal(t, cutoff, c)
	}
	assert.Zero(t, store.remaining())
}

func TestSweepIgnoresOtherPlans(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{}
	seed(store, "hobby", 1, 2, now.Add(-48*time.Hour))
	seed(store, "enterprise", 1, 2, now.Add(-48*time.Hour))

	s := New(store, testLogger(), 10, 10)
	st, err := s.Sweep(context.Background(), Plan{Name: "hobby", TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Traces)
	assert.Equal(t, 2, store.remaining())
}

func TestSweepRetriesTransientErrors(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{failNext: []error{&pgconn.PgError{Code: "40P01"}}}
	seed(store, "hobby", 1, 1, now.Add(-48*time.Hour))

	s := New(store, testLogger(), 10, 10)
	st, err := s.Sweep(context.Background(), Plan{Name: "hobby", TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Traces)
}

func TestSweepReturnsPermanentErrors(t *testing.T) {
	now := time.Now().UTC()
	boom := errors.New("boom")
	store := &fakeStore{failNext: []error{boom}}
	seed(store, "hobby", 1, 1, now.Add(-48*time.Hour))

	s := New(store, testLogger(), 10, 10)
	_, err := s.Sweep(context.Background(), Plan{Name: "hobby", TTL: time.Hour})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.remaining())
}

func TestSweepStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	seed(store, "hobby", 1, 1, time.Now().Add(-48*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(store, testLogger(), 10, 10)
	_, err := s.Sweep(ctx, Plan{Name: "hobby", TTL: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls)
}

func TestRunSweepsPlansConcurrently(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	seed(store, "hobby", 3, 2, now.Add(-10*24*time.Hour))
	seed(store, "pro", 3, 2, now.Add(-10*24*time.Hour))

	s := New(store, testLogger(), 1, 2)
	s.now = func() time.Time { return now }

	stats, err := s.Run(context.Background(), []Plan{
		{Name: "hobby", TTL: 7 * 24 * time.Hour},
		{Name: "pro", TTL: 30 * 24 * time.Hour},
	})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, int64(6), stats[0].Traces)
	assert.Equal(t, int64(0), stats[1].Traces)
	assert.Equal(t, 6, store.remaining())
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	s := New(&fakeStore{}, testLogger(), 0, 0)
	_, err := s.Run(context.Background(), []Plan{{Name: "hobby"}})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestNewDefaults(t *testing.T) {
	s := New(&fakeStore{}, testLogger(), 0, -1)
	assert.Equal(t, DefaultMaxTraces, s.maxTraces)
	assert.Equal(t, DefaultPageSize, s.pageSize)
}

func TestPlanCutoffAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-time.Hour), Plan{TTL: time.Hour}.CutoffAt(now))
	fixed := now.Add(-72 * time.Hour)
	assert.Equal(t, fixed, Plan{TTL: time.Hour, Cutoff: fixed}.CutoffAt(now))
}
