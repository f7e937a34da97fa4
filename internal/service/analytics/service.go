// Package analytics serves time-bucketed trace analytics. Results are cached
// per query for the cache's TTL, and concurrent misses for the same query
// share one database round trip.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/tsuiseki/internal/cache"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/storage"
)

const (
	// MaxBuckets caps how many buckets one query may span.
	MaxBuckets = 10_000
	// MaxInterval is the widest bucket in minutes: one leap year.
	MaxInterval = 366 * 24 * 60
)

// ErrInvalidQuery is returned for a window or interval that cannot be bucketed.
var ErrInvalidQuery = errors.New("analytics: invalid query")

// Store runs the aggregation query.
type Store interface {
	QueryAnalytics(ctx context.Context, projectID uuid.UUID, from, to time.Time, interval int) (total, errs []model.AnalyticsRow, err error)
}

// Query selects one project's roots started in [From, To), bucketed by
// Interval minutes. With Fill set, empty buckets are included.
type Query struct {
	ProjectID uuid.UUID
	From      time.Time
	To        time.Time
	Interval  int
	Fill      bool
}

func (q Query) key() string {
	return fmt.Sprintf("%s|%d|%d|%d|%t",
		q.ProjectID, q.From.UnixMicro(), q.To.UnixMicro(), q.Interval, q.Fill)
}

func (q Query) validate() error {
	switch {
	case q.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidQuery)
	case !q.From.Before(q.To):
		return fmt.Errorf("%w: from must precede to", ErrInvalidQuery)
	case q.Interval > MaxInterval:
		return fmt.Errorf("%w: interval exceeds %d minutes", ErrInvalidQuery, MaxInterval)
	case int64(q.To.Sub(q.From)/time.Minute)/int64(q.Interval) > MaxBuckets:
		return fmt.Errorf("%w: more than %d buckets", ErrInvalidQuery, MaxBuckets)
	}
	return nil
}

// Service answers analytics queries.
type Service struct {
	store  Store
	cache  *cache.Cache[string, []model.Bucket]
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Service. A nil cache disables caching.
func New(store Store, c *cache.Cache[string, []model.Bucket], logger *slog.Logger) *Service {
	return &Service{store: store, cache: c, logger: logger}
}

// Buckets returns the merged total and error series for q.
func (s *Service) Buckets(ctx context.Context, q Query) ([]model.Bucket, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	q.From = q.From.UTC()
	q.To = q.To.UTC()
	key := q.key()

	if s.cache != nil {
		if buckets, ok := s.cache.Get(key); ok {
			return buckets, nil
		}
	}

	// The query runs detached from the first caller's cancellation because
	// every waiter shares its result.
	result, err, shared := s.group.Do(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		total, errs, err := s.store.QueryAnalytics(qctx, q.ProjectID, q.From, q.To, q.Interval)
		if err != nil {
			return nil, err
		}
		var axis []time.Time
		if q.Fill {
			axis = storage.BucketAxis(q.From, q.To, q.Interval)
		}
		buckets := storage.ComputeBuckets(total, errs, q.Interval, axis)
		if s.cache != nil {
			s.cache.Set(key, buckets)
		}
		return buckets, nil
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	if shared {
		s.logger.Debug("analytics: shared in-flight query", "project_id", q.ProjectID)
	}
	return result.([]model.Bucket), nil
}
