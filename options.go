package tsuiseki

import (
	"io/fs"
	"log/slog"
	"net/http"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// Middleware wraps the root HTTP handler. It runs before routing and
// identity checks, so it sees every request including /health.
type Middleware func(http.Handler) http.Handler

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	middlewares     []Middleware
	extraMigrations []fs.FS
	plans           []retentionPlan
}

type retentionPlan struct {
	name string
	ttl  time.Duration
}

// WithPort overrides the TCP port from config (TSUISEKI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMiddleware registers an outermost HTTP middleware.
// Applied in registration order: the first-registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the
// embedded migrations. Filesystems are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}

// WithRetentionPlan adds or replaces one plan's TTL on top of
// TSUISEKI_RETENTION_PLANS.
func WithRetentionPlan(name string, ttl time.Duration) Option {
	return func(o *resolvedOptions) { o.plans = append(o.plans, retentionPlan{name: name, ttl: ttl}) }
}
