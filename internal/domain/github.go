package domain

import "time"

// PRRef identifies a pull request returned by a search.
type PRRef struct {
	Owner     string
	Repo      string
	Number    int
	Title     string
	URL       string
	CreatedAt time.Time
}

// PullRequest is the resolved detail of a single pull request.
type PullRequest struct {
	Title     string
	URL       string
	State     string
	CreatedAt time.Time
	Merged    bool
	MergedAt  *time.Time
	Additions int
	Deletions int
}

// Review is a single review left on a pull request.
// SubmittedAt is nil for pending reviews.
type Review struct {
	Author      string
	State       string
	SubmittedAt *time.Time
}
