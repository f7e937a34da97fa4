package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// QueryAnalytics aggregates the live root spans of projectID that started in
// [from, to) into buckets of interval minutes aligned to from. It returns two
// series: every bucket with at least one trace, and the subset of buckets
// holding traces whose root ended in error.
func (db *DB) QueryAnalytics(ctx context.Context, projectID uuid.UUID, from, to time.Time, interval int) (total, errs []model.AnalyticsRow, err error) {
	if interval <= 0 {
		return nil, nil, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidArgument, interval)
	}
	if !from.Before(to) {
		return nil, nil, fmt.Errorf("%w: from must precede to", ErrInvalidArgument)
	}

	rows, err := db.pool.Query(ctx,
		`WITH roots AS (
		     SELECT date_bin(make_interval(mins => $4), start_time, $2) AS bucket,
		            status_code = 'STATUS_CODE_ERROR' AS failed,
		            extract(epoch FROM end_time - start_time) * 1000 AS duration,
		            coalesce((attributes #>> '{ag,metrics,acc,costs,total}')::float8, 0) AS costs,
		            coalesce((attributes #>> '{ag,metrics,acc,tokens,total}')::float8, 0) AS tokens
		     FROM spans
		     WHERE project_id = $1
		       AND parent_id IS NULL
		       AND deleted_at IS NULL
		       AND start_time >= $2
		       AND start_time < $3
		 )
		 SELECT bucket,
		        count(*),
		        coalesce(sum(duration), 0)::float8,
		        coalesce(sum(costs), 0)::float8,
		        coalesce(sum(tokens), 0)::float8,
		        count(*) FILTER (WHERE failed),
		        coalesce(sum(duration) FILTER (WHERE failed), 0)::float8,
		        coalesce(sum(costs) FILTER (WHERE failed), 0)::float8,
		        coalesce(sum(tokens) FILTER (WHERE failed), 0)::float8
		 FROM roots
		 GROUP BY bucket
		 ORDER BY bucket`,
		projectID, from, to, interval,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: query analytics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t, e model.AnalyticsRow
		if err := rows.Scan(&t.Timestamp,
			&t.Count, &t.Duration, &t.Costs, &t.Tokens,
			&e.Count, &e.Duration, &e.Costs, &e.Tokens,
		); err != nil {
			return nil, nil, fmt.Errorf("storage: scan analytics row: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		total = append(total, t)
		if e.Count > 0 {
			e.Timestamp = t.Timestamp
			errs = append(errs, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("storage: iterate analytics: %w", err)
	}
	return total, errs, nil
}

// ComputeBuckets merges a total series and an error series into one bucket
// per timestamp. The axis is timestamps when given, otherwise the sorted union
// of both series. A timestamp absent from a series gets a zero Analytics;
// rows sharing a timestamp within one series are summed.
func ComputeBuckets(total, errs []model.AnalyticsRow, interval int, timestamps []time.Time) []model.Bucket {
	totals := indexRows(total)
	failures := indexRows(errs)

	var axis []time.Time
	if len(timestamps) > 0 {
		axis = timestamps
	} else {
		seen := make(map[int64]bool, len(totals)+len(failures))
		for _, series := range [][]model.AnalyticsRow{total, errs} {
			for _, r := range series {
				k := r.Timestamp.UnixMicro()
				if !seen[k] {
					seen[k] = true
					axis = append(axis, r.Timestamp)
				}
			}
		}
		slices.SortFunc(axis, func(a, b time.Time) int { return a.Compare(b) })
	}

	buckets := make([]model.Bucket, 0, len(axis))
	for _, ts := range axis {
		k := ts.UnixMicro()
		buckets = append(buckets, model.Bucket{
			Timestamp: ts,
			Interval:  interval,
			Total:     totals[k],
			Errors:    failures[k],
		})
	}
	return buckets
}

// BucketAxis returns every bucket start in [from, to) stepping by interval
// minutes, for callers that want a gap-free series.
func BucketAxis(from, to time.Time, interval int) []time.Time {
	if interval <= 0 || !from.Before(to) {
		return nil
	}
	step := time.Duration(interval) * time.Minute
	var axis []time.Time
	for t := from; t.Before(to); t = t.Add(step) {
		axis = append(axis, t)
	}
	return axis
}

func indexRows(rows []model.AnalyticsRow) map[int64]model.Analytics {
	out := make(map[int64]model.Analytics, len(rows))
	for _, r := range rows {
		k := r.Timestamp.UnixMicro()
		out[k] = out[k].Add(r.Analytics)
	}
	return out
}
