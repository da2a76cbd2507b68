package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/naka-gawa/eng-metrics/internal/config"
	"github.com/naka-gawa/eng-metrics/internal/domain"
	"github.com/naka-gawa/eng-metrics/internal/gateway"
	"github.com/naka-gawa/eng-metrics/internal/report"
	"github.com/naka-gawa/eng-metrics/internal/usecase"
)

// errReported marks errors whose message was already written to stderr.
var errReported = errors.New("aggregation failed")

// Accepted layouts for --from and --to.
var inputDateLayouts = []string{"2006/01/02", domain.DateLayout}

// metricsOptions are the resolved inputs of one run.
type metricsOptions struct {
	token       string
	org         string
	users       string
	from        string
	to          string
	format      string
	table       string
	maxItems    int
	concurrency int
	perPage     int
	lookback    time.Duration
	now         time.Time
}

// fetcherFactory builds the GitHub gateway; tests replace it.
type fetcherFactory func(token string, perPage int, logger *zap.Logger) (gateway.Fetcher, error)

func newGitHubFetcher(token string, perPage int, logger *zap.Logger) (gateway.Fetcher, error) {
	return gateway.NewGitHubGateway(token, perPage, logger)
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Aggregates PR and review activity for a list of users",
	Long: `Aggregates pull requests created and merged, lines added and deleted, and
reviews submitted for each user in a GitHub organization over an inclusive
date range. The token is read from GITHUB_TOKEN.`,
	Example: `  eng-metrics metrics --org acme --users alice,bob --from 2024/01/01 --to 2024/01/31
  eng-metrics metrics -o acme -u alice -f csv --table pr_list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// The verbose flag is defined on rootCmd.
		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		logger, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		opts := metricsOptions{
			token:       cfg.GitHubToken,
			org:         cfg.DefaultOrg,
			maxItems:    cfg.MaxItemsPerQuery,
			concurrency: cfg.Concurrency,
			perPage:     cfg.PerPage,
			lookback:    cfg.Lookback,
			now:         time.Now(),
		}
		flags := cmd.Flags()
		if flags.Changed("org") {
			opts.org, _ = flags.GetString("org")
		}
		if flags.Changed("max-items") {
			opts.maxItems, _ = flags.GetInt("max-items")
		}
		if flags.Changed("concurrency") {
			opts.concurrency, _ = flags.GetInt("concurrency")
		}
		opts.users, _ = flags.GetString("users")
		opts.from, _ = flags.GetString("from")
		opts.to, _ = flags.GetString("to")
		opts.format, _ = flags.GetString("format")
		opts.table, _ = flags.GetString("table")

		return runMetrics(ctx, opts, newGitHubFetcher, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.Flags().StringP("org", "o", "", "Target GitHub organization login (default $GH_DASH_DEFAULT_ORG)")
	metricsCmd.Flags().StringP("users", "u", "", "Comma-separated GitHub usernames (required)")
	metricsCmd.Flags().String("from", "", "Start date, inclusive (YYYY/MM/DD; default: --to minus $GH_DASH_LOOKBACK)")
	metricsCmd.Flags().String("to", "", "End date, inclusive (YYYY/MM/DD; default: today)")
	metricsCmd.Flags().StringP("format", "f", report.FormatJSON, "Output format: json, csv, markdown or html")
	metricsCmd.Flags().String("table", report.TableMetrics, "Table written by --format csv: metrics, pr_events, review_events, pr_list or review_list")
	metricsCmd.Flags().Int("max-items", config.DefaultMaxItemsPerQuery, "Pull requests inspected per review search pass")
	metricsCmd.Flags().Int("concurrency", config.DefaultConcurrency, "Users fetched at the same time")
	metricsCmd.MarkFlagRequired("users")
}

// resolveInputs validates everything a run needs before any query is issued.
func resolveInputs(opts metricsOptions) (string, []string, domain.DateRange, error) {
	if opts.token == "" {
		return "", nil, domain.DateRange{}, errors.New("GITHUB_TOKEN environment variable is not set")
	}
	if opts.org == "" {
		return "", nil, domain.DateRange{}, errors.New("organization is required: pass --org or set GH_DASH_DEFAULT_ORG")
	}
	users := domain.ParseUsernames(opts.users)
	if len(users) == 0 {
		return "", nil, domain.DateRange{}, domain.ErrNoUsernames
	}
	if opts.maxItems < 1 {
		return "", nil, domain.DateRange{}, fmt.Errorf("--max-items must be positive, got %d", opts.maxItems)
	}

	end := localDate(opts.now)
	if opts.to != "" {
		t, err := parseInputDate(opts.to)
		if err != nil {
			return "", nil, domain.DateRange{}, fmt.Errorf("invalid --to date: %w", err)
		}
		end = t
	}
	start := end.Add(-opts.lookback)
	if opts.from != "" {
		t, err := parseInputDate(opts.from)
		if err != nil {
			return "", nil, domain.DateRange{}, fmt.Errorf("invalid --from date: %w", err)
		}
		start = t
	}
	r, err := domain.NewDateRange(start, end)
	if err != nil {
		return "", nil, domain.DateRange{}, err
	}
	return opts.org, users, r, nil
}

// localDate keeps the calendar date of t in its own location, so "today"
// is the user's today rather than UTC's.
func localDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseInputDate(s string) (time.Time, error) {
	for _, layout := range inputDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not in YYYY/MM/DD or YYYY-MM-DD format", s)
}

func runMetrics(ctx context.Context, opts metricsOptions, newFetcher fetcherFactory, logger *zap.Logger, stdout, stderr io.Writer) error {
	org, users, r, err := resolveInputs(opts)
	if err != nil {
		return err
	}
	if err := report.Validate(opts.format, opts.table); err != nil {
		return err
	}
	renderer := report.Renderer{Org: org, Range: r, Table: opts.table}

	fetcher, err := newFetcher(opts.token, opts.perPage, logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	aggregator := usecase.NewAggregator(fetcher, usecase.Options{
		MaxItemsPerQuery: opts.maxItems,
		Concurrency:      opts.concurrency,
		Progress: func(p usecase.Progress) {
			if !p.Done {
				fmt.Fprintf(stderr, "Fetching data for %s (%d/%d)\n", p.Username, p.Index+1, p.Total)
			}
		},
	}, logger)

	results, aggErr := aggregator.Aggregate(ctx, org, users, r)
	if aggErr != nil {
		fmt.Fprintln(stderr, gateway.ErrorMessage(aggErr))
		aggErr = fmt.Errorf("%w: %w", errReported, aggErr)
		if len(results.Metrics) == 0 {
			return aggErr
		}
		fmt.Fprintf(stderr, "Showing partial results for %d of %d users.\n", len(results.Metrics), len(users))
	}

	if err := renderer.Render(stdout, opts.format, results); err != nil {
		return err
	}

	summary := report.Summarize(results)
	switch {
	case summary.Empty:
		fmt.Fprintln(stderr, "No data found for the provided parameters. "+
			"If you are querying private repos, ensure the token has `repo` scope. "+
			"Also confirm the usernames and date range.")
	case summary.AllZero:
		fmt.Fprintln(stderr, "All metrics are zero. Double-check PAT scopes (`repo`, `read:org`), "+
			"org login, usernames, and date range. Private repos require `repo`.")
	}
	if summary.UsersWithDroppedData > 0 {
		fmt.Fprintf(stderr, "Some pull requests could not be fetched for %d user(s); see diagnostics.\n", summary.UsersWithDroppedData)
	}
	return aggErr
}
