package storage

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tsuiseki/internal/telemetry"
)

// RegisterPoolMetrics exposes pgxpool statistics as observable gauges. Call it
// after telemetry is initialized; before that the meter is a no-op.
func (db *DB) RegisterPoolMetrics() {
	meter := telemetry.Meter("tsuiseki/storage")

	total, err1 := meter.Int64ObservableGauge("tsuiseki.db.pool.total_conns",
		metric.WithDescription("Connections currently held by the pool"))
	idle, err2 := meter.Int64ObservableGauge("tsuiseki.db.pool.idle_conns",
		metric.WithDescription("Idle connections in the pool"))
	acquired, err3 := meter.Int64ObservableGauge("tsuiseki.db.pool.acquired_conns",
		metric.WithDescription("Connections checked out of the pool"))
	waits, err4 := meter.Int64ObservableCounter("tsuiseki.db.pool.empty_acquires",
		metric.WithDescription("Acquires that had to wait for a connection"))
	for _, err := range []error{err1, err2, err3, err4} {
		if err != nil {
			db.logger.Warn("storage: pool metrics unavailable", "error", err)
			return
		}
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := db.pool.Stat()
		o.ObserveInt64(total, int64(st.TotalConns()))
		o.ObserveInt64(idle, int64(st.IdleConns()))
		o.ObserveInt64(acquired, int64(st.AcquiredConns()))
		o.ObserveInt64(waits, st.EmptyAcquireCount())
		return nil
	}, total, idle, acquired, waits)
	if err != nil {
		db.logger.Warn("storage: register pool metrics callback", "error", err)
	}
}
