package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/naka-gawa/eng-metrics/internal/domain"
	"github.com/naka-gawa/eng-metrics/internal/gateway"
)

// DefaultMaxItemsPerQuery bounds how many pull requests each review search
// pass inspects. Pull requests beyond it are never seen.
const DefaultMaxItemsPerQuery = 200

// ReviewQuery counts the reviews a user submitted in a date range.
type ReviewQuery struct {
	fetcher  gateway.Fetcher
	maxItems int
	logger   *zap.Logger
}

// NewReviewQuery creates a new ReviewQuery. A non-positive maxItems selects
// DefaultMaxItemsPerQuery.
func NewReviewQuery(fetcher gateway.Fetcher, maxItems int, logger *zap.Logger) *ReviewQuery {
	if maxItems <= 0 {
		maxItems = DefaultMaxItemsPerQuery
	}
	return &ReviewQuery{fetcher: fetcher, maxItems: maxItems, logger: logger}
}

// Run searches pull requests the user reviewed and keeps the user's own
// reviews submitted inside the range. When that finds nothing, it falls back
// to scanning every pull request in the org updated inside the range.
//
// Search and listing failures are logged and absorbed; the returned error is
// non-nil only when ctx is done.
func (q *ReviewQuery) Run(ctx context.Context, org, user string, r domain.DateRange) (*domain.ReviewSummary, error) {
	summary := newReviewSummary()

	refs, err := q.fetcher.SearchReviewedPRs(ctx, org, user, r, q.maxItems)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.logger.Warn("reviewer search failed, falling back", zap.String("user", user), zap.Error(err))
	} else if err := q.scan(ctx, refs, user, r, summary); err != nil {
		return nil, err
	}

	if summary.Count > 0 {
		return summary, nil
	}

	// Nothing counted, including a failed primary search: start over.
	dropped := summary.Dropped
	summary = newReviewSummary()
	summary.Dropped = dropped
	summary.UsedFallback = true
	refs, err = q.fetcher.SearchUpdatedPRs(ctx, org, r, q.maxItems)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.logger.Warn("fallback review search failed", zap.String("user", user), zap.Error(err))
		return summary, nil
	}
	if err := q.scan(ctx, refs, user, r, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (q *ReviewQuery) scan(ctx context.Context, refs []domain.PRRef, user string, r domain.DateRange, summary *domain.ReviewSummary) error {
	// Search pagination stops at the cap, so a full result cannot tell
	// whether anything was left out.
	if len(refs) >= q.maxItems {
		summary.ReachedCap = true
		refs = refs[:q.maxItems]
	}
	for _, ref := range refs {
		reviews, err := q.fetcher.ListReviews(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.Dropped++
			q.logger.Warn("skipping reviews of pull request",
				zap.String("user", user),
				zap.String("url", ref.URL),
				zap.Error(err),
			)
			continue
		}
		for _, review := range reviews {
			if !strings.EqualFold(review.Author, user) {
				continue
			}
			if review.SubmittedAt == nil || !r.Contains(*review.SubmittedAt) {
				continue
			}
			summary.Count++
			summary.SubmittedDates = append(summary.SubmittedDates, domain.Day(*review.SubmittedAt))
			summary.Details = append(summary.Details, domain.ReviewDetail{
				Username:    user,
				PRTitle:     ref.Title,
				PRURL:       ref.URL,
				SubmittedAt: *review.SubmittedAt,
				State:       review.State,
			})
		}
	}
	q.logger.Debug("review scan complete",
		zap.String("user", user),
		zap.Int("pull_requests", len(refs)),
		zap.Int("reviews", summary.Count),
		zap.Bool("fallback", summary.UsedFallback),
	)
	return nil
}

func newReviewSummary() *domain.ReviewSummary {
	return &domain.ReviewSummary{
		SubmittedDates: []time.Time{},
		Details:        []domain.ReviewDetail{},
	}
}
