package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

var spanCopyColumns = []string{
	"project_id", "trace_id", "span_id", "parent_id",
	"trace_type", "span_type", "span_kind", "span_name",
	"start_time", "end_time", "status_code", "status_message",
	"attributes", "references", "links", "hashes", "events",
	"created_at", "created_by_id",
}

const spanSelectColumns = `project_id, trace_id, span_id, parent_id,
	trace_type, span_type, span_kind, span_name,
	start_time, end_time, status_code, status_message,
	attributes, "references", links, hashes, events,
	created_at, updated_at, deleted_at, created_by_id, updated_by_id, deleted_by_id`

// WriteSpans persists one ingested batch in a single transaction: resources
// are inserted if new, any live row with the same (project, trace, span)
// identity is soft-deleted, and the new rows are copied in. Rows are never
// updated in place, so re-ingesting a batch appends.
//
// If a span identity repeats within spans, the last occurrence is kept.
func (db *DB) WriteSpans(ctx context.Context, projectID uuid.UUID, resources []model.Resource, spans []model.Span) error {
	spans = lastPerIdentity(spans)
	if len(spans) == 0 && len(resources) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin write spans tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range resources {
		if _, err := tx.Exec(ctx,
			`INSERT INTO resources (project_id, resource_id, attributes, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (project_id, resource_id) DO NOTHING`,
			projectID, r.ResourceID, r.Attributes, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert resource %s: %w", r.ResourceID, err)
		}
	}

	if len(spans) > 0 {
		if err := retireLiveSpans(ctx, tx, projectID, spans); err != nil {
			return err
		}

		rows := make([][]any, len(spans))
		for i, s := range spans {
			rows[i] = []any{
				projectID, s.TraceID, s.SpanID, s.ParentID,
				s.TraceType, s.SpanType, string(s.SpanKind), s.SpanName,
				s.StartTime, s.EndTime, string(s.StatusCode), nullString(s.StatusMessage),
				s.Attributes, s.References, s.Links, s.Hashes, s.Events,
				s.CreatedAt, s.CreatedByID,
			}
		}

		// Dedicated COPY timeout so a hung Postgres cannot hold the request
		// open indefinitely.
		copyCtx, copyCancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := tx.CopyFrom(copyCtx, pgx.Identifier{"spans"}, spanCopyColumns, pgx.CopyFromRows(rows))
		copyCancel()
		if err != nil {
			return fmt.Errorf("storage: copy spans: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit write spans tx: %w", err)
	}
	return nil
}

// retireLiveSpans soft-deletes the live rows the batch is about to replace.
func retireLiveSpans(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, spans []model.Span) error {
	traceIDs := make([]string, len(spans))
	spanIDs := make([]string, len(spans))
	for i, s := range spans {
		traceIDs[i] = s.TraceID
		spanIDs[i] = s.SpanID
	}
	now := spans[0].CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	actor := spans[0].CreatedByID

	if _, err := tx.Exec(ctx,
		`UPDATE spans s
		 SET deleted_at = $2, deleted_by_id = $3, updated_at = $2, updated_by_id = $3
		 FROM unnest($4::text[], $5::text[]) AS b(trace_id, span_id)
		 WHERE s.project_id = $1
		   AND s.deleted_at IS NULL
		   AND s.trace_id = b.trace_id
		   AND s.span_id = b.span_id`,
		projectID, now, actor, traceIDs, spanIDs,
	); err != nil {
		return fmt.Errorf("storage: retire replaced spans: %w", err)
	}
	return nil
}

// GetTraceSpans returns the live spans of one trace ordered by start time.
// Returns ErrNotFound if the trace has none.
func (db *DB) GetTraceSpans(ctx context.Context, projectID uuid.UUID, traceID string) ([]model.Span, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+spanSelectColumns+`
		 FROM spans
		 WHERE project_id = $1 AND trace_id = $2 AND deleted_at IS NULL
		 ORDER BY start_time, span_id`,
		projectID, traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: query trace spans: %w", err)
	}
	defer rows.Close()

	var spans []model.Span
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate trace spans: %w", err)
	}
	if len(spans) == 0 {
		return nil, ErrNotFound
	}
	return spans, nil
}

// CountSpanVersions returns the number of rows, live or retired, stored for
// one span identity.
func (db *DB) CountSpanVersions(ctx context.Context, projectID uuid.UUID, traceID, spanID string) (total, live int, err error) {
	err = db.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE deleted_at IS NULL)
		 FROM spans WHERE project_id = $1 AND trace_id = $2 AND span_id = $3`,
		projectID, traceID, spanID,
	).Scan(&total, &live)
	if err != nil {
		return 0, 0, fmt.Errorf("storage: count span versions: %w", err)
	}
	return total, live, nil
}

func scanSpan(row pgx.Row) (model.Span, error) {
	var (
		s             model.Span
		kind, status  string
		statusMessage *string
	)
	err := row.Scan(
		&s.ProjectID, &s.TraceID, &s.SpanID, &s.ParentID,
		&s.TraceType, &s.SpanType, &kind, &s.SpanName,
		&s.StartTime, &s.EndTime, &status, &statusMessage,
		&s.Attributes, &s.References, &s.Links, &s.Hashes, &s.Events,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt, &s.CreatedByID, &s.UpdatedByID, &s.DeletedByID,
	)
	if err != nil {
		return model.Span{}, err
	}
	s.SpanKind = model.SpanKind(kind)
	s.StatusCode = model.StatusCode(status)
	if statusMessage != nil {
		s.StatusMessage = *statusMessage
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func lastPerIdentity(spans []model.Span) []model.Span {
	type key struct{ trace, span string }
	last := make(map[key]int, len(spans))
	for i, s := range spans {
		last[key{s.TraceID, s.SpanID}] = i
	}
	if len(last) == len(spans) {
		return spans
	}
	out := make([]model.Span, 0, len(last))
	for i, s := range spans {
		if last[key{s.TraceID, s.SpanID}] == i {
			out = append(out, s)
		}
	}
	return out
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
