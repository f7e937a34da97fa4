package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FetchProjectsWithPlan returns up to limit project ids whose organization is
// subscribed to plan, in ascending id order, starting strictly after cursor.
// A nil cursor starts from the beginning. An empty page ends the scan.
func (db *DB) FetchProjectsWithPlan(ctx context.Context, plan string, cursor *uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT p.id
		 FROM projects p
		 JOIN subscriptions s ON s.organization_id = p.organization_id
		 WHERE s.plan = $1
		   AND ($2::uuid IS NULL OR p.id > $2::uuid)
		 ORDER BY p.id
		 LIMIT $3`,
		plan, cursor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch projects with plan %q: %w", plan, err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate projects: %w", err)
	}
	return ids, nil
}

// DeleteTracesBeforeCutoff evicts up to maxTraces whole traces from the given
// projects whose live root span was created before cutoff, oldest first.
//
// Selection and deletion run as one statement, so a trace is removed with all
// of its rows (retired versions included) or not at all, and concurrent sweeps
// over the same projects cannot split a trace. It returns how many traces were
// selected and how many span rows were deleted; (0, 0) means nothing is left
// to evict and the caller can stop polling.
func (db *DB) DeleteTracesBeforeCutoff(ctx context.Context, cutoff time.Time, projectIDs []uuid.UUID, maxTraces int) (tracesSelected, spansDeleted int64, err error) {
	if maxTraces <= 0 {
		return 0, 0, fmt.Errorf("%w: max traces must be positive, got %d", ErrInvalidArgument, maxTraces)
	}
	if len(projectIDs) == 0 {
		return 0, 0, nil
	}

	err = db.pool.QueryRow(ctx,
		`WITH candidates AS (
		     SELECT project_id, trace_id
		     FROM spans
		     WHERE project_id = ANY($1)
		       AND parent_id IS NULL
		       AND deleted_at IS NULL
		       AND created_at < $2
		     GROUP BY project_id, trace_id
		     ORDER BY min(created_at), project_id, trace_id
		     LIMIT $3
		 ),
		 deleted AS (
		     DELETE FROM spans s
		     USING candidates c
		     WHERE s.project_id = c.project_id
		       AND s.trace_id = c.trace_id
		     RETURNING 1
		 )
		 SELECT (SELECT count(*) FROM candidates), (SELECT count(*) FROM deleted)`,
		projectIDs, cutoff, maxTraces,
	).Scan(&tracesSelected, &spansDeleted)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: delete traces before cutoff: %w", err)
	}
	return tracesSelected, spansDeleted, nil
}
