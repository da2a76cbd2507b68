// Package report turns aggregated tables into KPIs, daily series and
// rendered output.
package report

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/eng-metrics/internal/domain"
)

// Summary holds the headline numbers shown above the tables.
type Summary struct {
	TotalPRsCreated      int     `json:"total_prs_created"`
	TotalPRsMerged       int     `json:"total_prs_merged"`
	TotalReviews         int     `json:"total_reviews"`
	MeanMergeRatio       float64 `json:"mean_merge_ratio_%"`
	MedianMergeRatio     float64 `json:"median_merge_ratio_%"`
	MeanReviewsPerUser   float64 `json:"mean_reviews_per_user"`
	MedianHoursToMerge   float64 `json:"median_hours_to_merge"`
	UsersWithDroppedData int     `json:"users_with_dropped_data"`

	// Empty is set when the report has no rows at all.
	Empty bool `json:"empty"`

	// AllZero is set when rows exist but nobody created a PR or left a review.
	AllZero bool `json:"all_zero"`
}

// DailyCount is the number of events of one kind a user had on one day.
type DailyCount struct {
	Date     time.Time `json:"date"`
	Username string    `json:"username"`
	Event    string    `json:"event,omitempty"`
	Count    int       `json:"count"`
}

// Summarize computes the KPIs of a report.
func Summarize(r *domain.Report) Summary {
	s := Summary{Empty: len(r.Metrics) == 0}
	if s.Empty {
		return s
	}

	ratios := make(stats.Float64Data, 0, len(r.Metrics))
	reviews := make(stats.Float64Data, 0, len(r.Metrics))
	for _, row := range r.Metrics {
		s.TotalPRsCreated += row.PRsCreated
		s.TotalPRsMerged += row.PRsMerged
		s.TotalReviews += row.Reviews
		if row.PRsCreated > 0 {
			ratios = append(ratios, row.MergeRatio)
		}
		reviews = append(reviews, float64(row.Reviews))
	}
	s.AllZero = s.TotalPRsCreated == 0 && s.TotalReviews == 0

	s.MeanMergeRatio = round(ratios.Mean())
	s.MedianMergeRatio = round(ratios.Median())
	s.MeanReviewsPerUser = round(reviews.Mean())

	hours := stats.Float64Data{}
	for _, pr := range r.PRList {
		if pr.MergedAt != nil {
			hours = append(hours, pr.MergedAt.Sub(pr.CreatedAt).Hours())
		}
	}
	s.MedianHoursToMerge = round(hours.Median())

	for _, d := range r.Diagnostics {
		if d.DroppedPRs > 0 || d.DroppedReviews > 0 {
			s.UsersWithDroppedData++
		}
	}
	return s
}

// round keeps one decimal and maps the error of an empty input to zero.
func round(v float64, err error) float64 {
	if err != nil {
		return 0
	}
	rounded, err := stats.Round(v, 1)
	if err != nil {
		return 0
	}
	return rounded
}

// DailyPRCounts groups PR events by date, user and event kind.
func DailyPRCounts(events []domain.PREvent) []DailyCount {
	type key struct {
		date  time.Time
		user  string
		event string
	}
	counts := map[key]int{}
	for _, e := range events {
		counts[key{domain.Day(e.Date), e.Username, e.Event}]++
	}
	out := make([]DailyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, DailyCount{Date: k.date, Username: k.user, Event: k.event, Count: n})
	}
	sortDaily(out)
	return out
}

// DailyReviewCounts groups review events by date and user.
func DailyReviewCounts(events []domain.ReviewEvent) []DailyCount {
	type key struct {
		date time.Time
		user string
	}
	counts := map[key]int{}
	for _, e := range events {
		counts[key{domain.Day(e.Date), e.Username}]++
	}
	out := make([]DailyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, DailyCount{Date: k.date, Username: k.user, Count: n})
	}
	sortDaily(out)
	return out
}

func sortDaily(counts []DailyCount) {
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.Event < b.Event
	})
}
