package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/naka-gawa/eng-metrics/internal/domain"
	"github.com/naka-gawa/eng-metrics/internal/gateway"
)

// PRQuery summarises the pull requests a user created in a date range.
type PRQuery struct {
	fetcher gateway.Fetcher
	logger  *zap.Logger
}

// NewPRQuery creates a new PRQuery instance.
func NewPRQuery(fetcher gateway.Fetcher, logger *zap.Logger) *PRQuery {
	return &PRQuery{fetcher: fetcher, logger: logger}
}

// Run counts every search hit as created, then resolves each pull request
// for merge state and diff stats. A hit that cannot be resolved is counted
// in Dropped and contributes nothing else. Only a failed search is an error.
func (q *PRQuery) Run(ctx context.Context, org, user string, r domain.DateRange) (*domain.PRSummary, error) {
	refs, err := q.fetcher.SearchCreatedPRs(ctx, org, user, r)
	if err != nil {
		return nil, err
	}

	summary := &domain.PRSummary{
		CreatedDates: []time.Time{},
		MergedDates:  []time.Time{},
		Details:      []domain.PRDetail{},
	}
	for _, ref := range refs {
		summary.Created++
		if !ref.CreatedAt.IsZero() {
			summary.CreatedDates = append(summary.CreatedDates, domain.Day(ref.CreatedAt))
		}

		pr, err := q.fetcher.GetPullRequest(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			summary.Dropped++
			q.logger.Warn("skipping pull request",
				zap.String("user", user),
				zap.String("url", ref.URL),
				zap.Error(err),
			)
			continue
		}

		if pr.Merged {
			summary.Merged++
			if pr.MergedAt != nil {
				summary.MergedDates = append(summary.MergedDates, domain.Day(*pr.MergedAt))
			}
		}
		summary.Additions += pr.Additions
		summary.Deletions += pr.Deletions
		summary.Details = append(summary.Details, domain.PRDetail{
			Username:  user,
			Title:     pr.Title,
			URL:       pr.URL,
			CreatedAt: pr.CreatedAt,
			MergedAt:  pr.MergedAt,
			State:     pr.State,
		})
	}

	q.logger.Debug("pull request query complete",
		zap.String("user", user),
		zap.Int("created", summary.Created),
		zap.Int("merged", summary.Merged),
		zap.Int("dropped", summary.Dropped),
	)
	return summary, nil
}
