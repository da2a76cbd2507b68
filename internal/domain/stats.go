// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"strconv"
	"time"
)

// Event kinds recorded in the PR timeline.
const (
	EventCreated = "created"
	EventMerged  = "merged"
)

// MetricsRow is the per-user summary line of a report.
// It is the core domain entity of this application.
type MetricsRow struct {
	Username   string  `json:"username"`
	PRsCreated int     `json:"prs_created"`
	PRsMerged  int     `json:"prs_merged"`
	MergeRatio float64 `json:"merge_ratio_%"`
	Reviews    int     `json:"reviews"`
	Additions  int     `json:"additions"`
	Deletions  int     `json:"deletions"`
}

// PRDetail is a single pull request authored by a user in the range.
type PRDetail struct {
	Username  string     `json:"username"`
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	MergedAt  *time.Time `json:"merged_at"`
	State     string     `json:"state"`
}

// ReviewDetail is a single review submitted by a user in the range.
type ReviewDetail struct {
	Username    string    `json:"username"`
	PRTitle     string    `json:"pr_title"`
	PRURL       string    `json:"pr_url"`
	SubmittedAt time.Time `json:"submitted_at"`
	State       string    `json:"state"`
}

// PREvent is one creation or merge of a pull request on a given day.
type PREvent struct {
	Username string    `json:"username"`
	Date     time.Time `json:"date"`
	Event    string    `json:"event"`
}

// ReviewEvent is one submitted review on a given day.
type ReviewEvent struct {
	Username string    `json:"username"`
	Date     time.Time `json:"date"`
}

// PRSummary is the result of the PR query for one user.
// Dropped counts search hits whose detail could not be resolved; those hits
// are still included in Created.
type PRSummary struct {
	Created      int
	Merged       int
	Additions    int
	Deletions    int
	CreatedDates []time.Time
	MergedDates  []time.Time
	Details      []PRDetail
	Dropped      int
}

// ReviewSummary is the result of the review query for one user.
type ReviewSummary struct {
	Count          int
	SubmittedDates []time.Time
	Details        []ReviewDetail
	Dropped        int
	UsedFallback   bool

	// ReachedCap is set when a search pass returned as many pull requests as
	// the cap allows. Further matches may or may not exist.
	ReachedCap bool
}

// Diagnostic records how complete the data gathered for one user is.
type Diagnostic struct {
	Username       string `json:"username"`
	DroppedPRs     int    `json:"dropped_prs"`
	DroppedReviews int    `json:"dropped_reviews"`
	UsedFallback   bool   `json:"used_fallback"`
	ReachedCap     bool   `json:"reached_cap"`
}

// Report holds every table produced by one aggregation run.
type Report struct {
	Metrics      []MetricsRow   `json:"metrics"`
	PREvents     []PREvent      `json:"pr_events"`
	ReviewEvents []ReviewEvent  `json:"review_events"`
	PRList       []PRDetail     `json:"pr_list"`
	ReviewList   []ReviewDetail `json:"review_list"`
	Diagnostics  []Diagnostic   `json:"diagnostics"`
}

// NewReport returns a report whose tables are empty rather than nil,
// so that they encode as [] instead of null.
func NewReport() *Report {
	return &Report{
		Metrics:      []MetricsRow{},
		PREvents:     []PREvent{},
		ReviewEvents: []ReviewEvent{},
		PRList:       []PRDetail{},
		ReviewList:   []ReviewDetail{},
		Diagnostics:  []Diagnostic{},
	}
}

// Add appends the results of one user to every table of the report.
func (r *Report) Add(username string, prs *PRSummary, reviews *ReviewSummary) {
	r.Metrics = append(r.Metrics, MetricsRow{
		Username:   username,
		PRsCreated: prs.Created,
		PRsMerged:  prs.Merged,
		MergeRatio: MergeRatio(prs.Created, prs.Merged),
		Reviews:    reviews.Count,
		Additions:  prs.Additions,
		Deletions:  prs.Deletions,
	})
	for _, d := range prs.CreatedDates {
		r.PREvents = append(r.PREvents, PREvent{Username: username, Date: d, Event: EventCreated})
	}
	for _, d := range prs.MergedDates {
		r.PREvents = append(r.PREvents, PREvent{Username: username, Date: d, Event: EventMerged})
	}
	for _, d := range reviews.SubmittedDates {
		r.ReviewEvents = append(r.ReviewEvents, ReviewEvent{Username: username, Date: d})
	}
	r.PRList = append(r.PRList, prs.Details...)
	r.ReviewList = append(r.ReviewList, reviews.Details...)
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Username:       username,
		DroppedPRs:     prs.Dropped,
		DroppedReviews: reviews.Dropped,
		UsedFallback:   reviews.UsedFallback,
		ReachedCap:     reviews.ReachedCap,
	})
}

// MergeRatio returns merged/created as a percentage rounded to one decimal.
// It is zero when nothing was created. Exact ties round half to even.
func MergeRatio(created, merged int) float64 {
	if created == 0 {
		return 0
	}
	s := strconv.FormatFloat(100*float64(merged)/float64(created), 'f', 1, 64)
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return ratio
}
