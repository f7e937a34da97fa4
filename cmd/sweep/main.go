// Command sweep runs one retention pass and exits. It is meant for cron or a
// Kubernetes CronJob when the server's in-process loop is disabled.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ashita-ai/tsuiseki/internal/config"
	"github.com/ashita-ai/tsuiseki/internal/service/retention"
	"github.com/ashita-ai/tsuiseki/internal/storage"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	flagPlan        = "plan"
	flagTTL         = "ttl"
	flagCutoff      = "cutoff"
	flagMaxTraces   = "max-traces"
	flagPageSize    = "page-size"
	flagDatabaseURL = "database-url"
	flagDryRun      = "dry-run"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func newApp(logger *slog.Logger) *cli.App {
	return &cli.App{
		Name:    "sweep",
		Usage:   "Delete traces older than each plan's retention window",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    flagPlan,
				Usage:   "Plan to sweep, as name or name:ttl (e.g. hobby:720h). Repeatable.",
				EnvVars: []string{"TSUISEKI_RETENTION_PLANS"},
			},
			&cli.DurationFlag{
				Name:    flagTTL,
				Usage:   "TTL for plans given without one",
				EnvVars: []string{"TSUISEKI_RETENTION_TTL"},
			},
			&cli.StringFlag{
				Name:    flagCutoff,
				Usage:   "Absolute RFC3339 cutoff applied to every plan; overrides any ttl",
				EnvVars: []string{"TSUISEKI_RETENTION_CUTOFF"},
			},
			&cli.IntFlag{
				Name:    flagMaxTraces,
				Value:   retention.DefaultMaxTraces,
				Usage:   "Upper bound on traces deleted per statement",
				EnvVars: []string{"TSUISEKI_RETENTION_MAX_TRACES"},
			},
			&cli.IntFlag{
				Name:    flagPageSize,
				Value:   retention.DefaultPageSize,
				Usage:   "Projects fetched per page",
				EnvVars: []string{"TSUISEKI_RETENTION_PAGE_SIZE"},
			},
			&cli.StringFlag{
				Name:     flagDatabaseURL,
				Usage:    "PostgreSQL connection string",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:  flagDryRun,
				Usage: "Print the resolved plans and cutoffs without deleting",
			},
		},
		Action: func(c *cli.Context) error {
			plans, err := buildPlans(c.StringSlice(flagPlan), c.Duration(flagTTL), c.String(flagCutoff))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if c.Bool(flagDryRun) {
				now := time.Now().UTC()
				for _, p := range plans {
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", p.Name, p.CutoffAt(now).Format(time.RFC3339))
				}
				return nil
			}

			db, err := storage.New(c.Context, c.String(flagDatabaseURL), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sweeper := retention.New(db, logger, c.Int(flagMaxTraces), c.Int(flagPageSize))
			stats, err := sweeper.Run(c.Context, plans)
			for _, st := range stats {
				if st.Plan == "" {
					continue
				}
				logger.Info("sweep: plan done",
					"plan", st.Plan,
					"cutoff", st.Cutoff,
					"projects", st.Projects,
					"traces", st.Traces,
					"spans", st.Spans)
			}
			return err
		},
	}
}

// buildPlans resolves --plan entries. Entries carrying their own ttl keep it;
// bare names take defaultTTL. A cutoff, when given, applies to all of them.
func buildPlans(entries []string, defaultTTL time.Duration, cutoff string) ([]retention.Plan, error) {
	var at time.Time
	if cutoff != "" {
		var err error
		if at, err = time.Parse(time.RFC3339, cutoff); err != nil {
			return nil, fmt.Errorf("--%s: %w", flagCutoff, err)
		}
		at = at.UTC()
	}

	var plans []retention.Plan
	seen := make(map[string]bool)
	for _, e := range entries {
		for _, part := range strings.Split(e, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			p := retention.Plan{Name: part, TTL: defaultTTL, Cutoff: at}
			if strings.Contains(part, ":") {
				parsed, err := config.ParseRetentionPlans(part)
				if err != nil {
					return nil, err
				}
				p.Name, p.TTL = parsed[0].Name, parsed[0].TTL
			}
			if seen[p.Name] {
				return nil, fmt.Errorf("plan %q listed twice", p.Name)
			}
			if p.TTL <= 0 && p.Cutoff.IsZero() {
				return nil, fmt.Errorf("plan %q needs a ttl or --%s", p.Name, flagCutoff)
			}
			seen[p.Name] = true
			plans = append(plans, p)
		}
	}
	if len(plans) == 0 {
		return nil, errors.New("at least one --plan is required")
	}
	return plans, nil
}
