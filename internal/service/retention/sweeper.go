// Package retention evicts traces older than each billing plan's TTL.
//
// A sweep pages through the plan's projects and, for every page, calls the
// storage layer's trace-atomic delete until it reports nothing left. Each
// delete call is bounded by MaxTraces, so a sweep can be cancelled between
// calls without leaving a trace half deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

const (
	DefaultMaxTraces = 1000
	DefaultPageSize  = 100

	retryAttempts = 3
	retryDelay    = 100 * time.Millisecond
)

// ErrInvalidPlan is returned for a plan with no name or no cutoff.
var ErrInvalidPlan = errors.New("retention: plan needs a name and a ttl or cutoff")

// Store is the slice of the storage layer a sweep needs.
type Store interface {
	FetchProjectsWithPlan(ctx context.Context, plan string, cursor *uuid.UUID, limit int) ([]uuid.UUID, error)
	DeleteTracesBeforeCutoff(ctx context.Context, cutoff time.Time, projectIDs []uuid.UUID, maxTraces int) (int64, int64, error)
}

// Plan names a billing plan and how long its traces are kept. Cutoff, when
// set, overrides TTL.
type Plan struct {
	Name   string
	TTL    time.Duration
	Cutoff time.Time
}

// CutoffAt returns the creation time before which the plan's traces expire.
func (p Plan) CutoffAt(now time.Time) time.Time {
	if !p.Cutoff.IsZero() {
		return p.Cutoff
	}
	return now.Add(-p.TTL)
}

func (p Plan) validate() error {
	if p.Name == "" || (p.TTL <= 0 && p.Cutoff.IsZero()) {
		return fmt.Errorf("%w: %q", ErrInvalidPlan, p.Name)
	}
	return nil
}

// Stats summarizes one plan's sweep.
type Stats struct {
	Plan     string
	Cutoff   time.Time
	Projects int
	Traces   int64
	Spans    int64
}

// Sweeper runs retention sweeps against a Store.
type Sweeper struct {
	store     Store
	logger    *slog.Logger
	maxTraces int
	pageSize  int
	now       func() time.Time

	tracesDeleted metric.Int64Counter
	spansDeleted  metric.Int64Counter
}

// New creates a Sweeper. Non-positive maxTraces or pageSize fall back to
// DefaultMaxTraces and DefaultPageSize.
func New(store Store, logger *slog.Logger, maxTraces, pageSize int) *Sweeper {
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	meter := telemetry.Meter("tsuiseki/retention")
	traces, _ := meter.Int64Counter("tsuiseki.retention.traces_deleted",
		metric.WithDescription("Traces evicted by retention sweeps"),
	)
	spans, _ := meter.Int64Counter("tsuiseki.retention.spans_deleted",
		metric.WithDescription("Span rows evicted by retention sweeps"),
	)
	return &Sweeper{
		store:         store,
		logger:        logger,
		maxTraces:     maxTraces,
		pageSize:      pageSize,
		now:           func() time.Time { return time.Now().UTC() },
		tracesDeleted: traces,
		spansDeleted:  spans,
	}
}

// Run sweeps every plan concurrently and returns their stats in plan order.
// The first failing plan cancels the others.
func (s *Sweeper) Run(ctx context.Context, plans []Plan) ([]Stats, error) {
	for _, p := range plans {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}

	stats := make([]Stats, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range plans {
		g.Go(func() error {
			st, err := s.Sweep(gctx, p)
			stats[i] = st
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Sweep evicts every expired trace of one plan. The cutoff is fixed when the
// sweep starts, so traces ingested meanwhile are never selected.
func (s *Sweeper) Sweep(ctx context.Context, plan Plan) (Stats, error) {
	if err := plan.validate(); err != nil {
		return Stats{}, err
	}
	st := Stats{Plan: plan.Name, Cutoff: plan.CutoffAt(s.now())}
	started := time.Now()

	var cursor *uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		var page []uuid.UUID
		err := storage.WithRetry(ctx, retryAttempts, retryDelay, func() error {
			var err error
			page, err = s.store.FetchProjectsWithPlan(ctx, plan.Name, cursor, s.pageSize)
			return err
		})
		if err != nil {
			return st, fmt.Errorf("retention: plan %s: fetch projects: %w", plan.Name, err)
		}
		if len(page) == 0 {
			break
		}
		st.Projects += len(page)

		if err := s.drain(ctx, plan.Name, st.Cutoff, page, &st); err != nil {
			return st, err
		}

		last := page[len(page)-1]
		cursor = &last
		if len(page) < s.pageSize {
			break
		}
	}

	s.logger.Info("retention: plan swept",
		"plan", plan.Name,
		"cutoff", st.Cutoff,
		"projects", st.Projects,
		"traces", st.Traces,
		"spans", st.Spans,
		"duration_ms", time.Since(started).Milliseconds())
	return st, nil
}

// drain deletes from one page of projects until the store reports (0, 0).
func (s *Sweeper) drain(ctx context.Context, plan string, cutoff time.Time, projects []uuid.UUID, st *Stats) error {
	attrs := metric.WithAttributes(attribute.String("plan", plan))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var traces, spans int64
		err := storage.WithRetry(ctx, retryAttempts, retryDelay, func() error {
			var err error
			traces, spans, err = s.store.DeleteTracesBeforeCutoff(ctx, cutoff, projects, s.maxTraces)
			return err
		})
		if err != nil {
			return fmt.Errorf("retention: plan %s: delete traces: %w", plan, err)
		}
		if traces == 0 && spans == 0 {
			return nil
		}

		st.Traces += traces
		st.Spans += spans
		s.tracesDeleted.Add(ctx, traces, attrs)
		s.spansDeleted.Add(ctx, spans, attrs)
		s.logger.Debug("retention: batch deleted",
			"plan", plan, "traces", traces, "spans", spans)
	}
}

// Loop sweeps plans every interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (s *Sweeper) Loop(ctx context.Context, plans []Plan, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, plans); err != nil && ctx.Err() == nil {
				s.logger.Warn("retention sweep failed", "error", err)
			}
		}
	}
}
