package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date format understood by the GitHub search grammar.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidDateRange is returned when the start date falls after the end date.
	ErrInvalidDateRange = errors.New("start date must be on or before end date")
	// ErrNoUsernames is returned when a username list is empty after trimming.
	ErrNoUsernames = errors.New("no valid usernames provided")
)

// DateRange is an inclusive range of calendar dates, both ends at midnight UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates start and end to their calendar dates and rejects
// ranges that end before they begin.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	if r.Start.After(r.End) {
		return DateRange{}, fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return r, nil
}

// Contains reports whether the UTC calendar date of t lies inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Query renders the range in the search grammar, e.g. 2024-01-01..2024-01-31.
func (r DateRange) Query() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// Day returns the UTC calendar date of t at midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseUsernames splits a comma-separated list, trimming whitespace and
// dropping empty entries. Order and duplicates are preserved.
func ParseUsernames(raw string) []string {
	users := []string{}
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}
