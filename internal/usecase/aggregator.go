// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/eng-metrics/internal/domain"
	"github.com/naka-gawa/eng-metrics/internal/gateway"
)

// Progress is reported before and after each user is fetched.
type Progress struct {
	Index    int // zero-based position in the input list
	Total    int
	Username string
	Done     bool
}

// ProgressFunc receives progress events. It must be safe for concurrent use
// when the aggregator runs with a concurrency above one.
type ProgressFunc func(Progress)

// Options tunes an Aggregator.
type Options struct {
	// MaxItemsPerQuery caps the pull requests inspected per review search pass.
	MaxItemsPerQuery int

	// Concurrency is the number of users fetched at once. Values below one mean one.
	Concurrency int
	Progress    ProgressFunc
}

// Aggregator is the use case for aggregating GitHub stats.
// It orchestrates the fetching and combining of data.
type Aggregator struct {
	prs         *PRQuery
	reviews     *ReviewQuery
	concurrency int
	progress    ProgressFunc
	logger      *zap.Logger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, opts Options, logger *zap.Logger) *Aggregator {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(Progress) {}
	}
	return &Aggregator{
		prs:         NewPRQuery(fetcher, logger),
		reviews:     NewReviewQuery(fetcher, opts.MaxItemsPerQuery, logger),
		concurrency: concurrency,
		progress:    progress,
		logger:      logger,
	}
}

type userResult struct {
	prs     *domain.PRSummary
	reviews *domain.ReviewSummary
}

// Aggregate runs the PR and review queries for every user and assembles the
// report tables. Rows follow the input order and duplicates are kept.
//
// If a user's queries fail, the returned report still holds every user that
// completed, alongside the error.
func (a *Aggregator) Aggregate(ctx context.Context, org string, users []string, r domain.DateRange) (*domain.Report, error) {
	a.logger.Info("starting aggregation",
		zap.String("org", org),
		zap.Int("users", len(users)),
		zap.String("range", r.Query()),
	)

	results := make([]*userResult, len(users))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency)
	for i, user := range users {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			a.progress(Progress{Index: i, Total: len(users), Username: user})
			res, err := a.fetchUser(egCtx, org, user, r)
			if err != nil {
				return fmt.Errorf("failed to fetch activity for %s: %w", user, err)
			}
			results[i] = res
			a.progress(Progress{Index: i, Total: len(users), Username: user, Done: true})
			return nil
		})
	}
	err := eg.Wait()

	report := domain.NewReport()
	for i, res := range results {
		if res == nil {
			continue
		}
		report.Add(users[i], res.prs, res.reviews)
	}
	if err != nil {
		a.logger.Warn("aggregation stopped early", zap.Int("completed", len(report.Metrics)), zap.Error(err))
		return report, err
	}

	a.logger.Info("aggregation complete", zap.Int("rows", len(report.Metrics)))
	return report, nil
}

func (a *Aggregator) fetchUser(ctx context.Context, org, user string, r domain.DateRange) (*userResult, error) {
	prs, err := a.prs.Run(ctx, org, user, r)
	if err != nil {
		return nil, err
	}
	reviews, err := a.reviews.Run(ctx, org, user, r)
	if err != nil {
		return nil, err
	}
	return &userResult{prs: prs, reviews: reviews}, nil
}
