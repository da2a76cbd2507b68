package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/eng-metrics/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func sampleReport() *domain.Report {
	merged := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	r := domain.NewReport()
	r.Add("alice",
		&domain.PRSummary{
			Created:      3,
			Merged:       2,
			Additions:    150,
			Deletions:    30,
			CreatedDates: []time.Time{day(2), day(2), day(4)},
			MergedDates:  []time.Time{day(3), day(3)},
			Details: []domain.PRDetail{
				{Username: "alice", Title: "Fix | pipe", URL: "https://github.com/acme/api/pull/1", CreatedAt: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), MergedAt: &merged, State: "closed"},
				{Username: "alice", Title: "<script>alert(1)</script>", URL: "https://github.com/acme/api/pull/2", CreatedAt: time.Date(2024, 1, 2, 22, 0, 0, 0, time.UTC), State: "open"},
			},
		},
		&domain.ReviewSummary{
			Count:          1,
			SubmittedDates: []time.Time{day(5)},
			Details: []domain.ReviewDetail{
				{Username: "alice", PRTitle: "Other", PRURL: "https://github.com/acme/web/pull/9", SubmittedAt: time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC), State: "APPROVED"},
			},
		},
	)
	r.Add("bob",
		&domain.PRSummary{Created: 1, Merged: 0, CreatedDates: []time.Time{day(2)}, Dropped: 1},
		&domain.ReviewSummary{Count: 3, SubmittedDates: []time.Time{day(5), day(5), day(6)}},
	)
	return r
}

func testRenderer() Renderer {
	return Renderer{Org: "acme", Range: domain.DateRange{Start: day(1), End: day(31)}}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleReport())

	assert.Equal(t, 4, s.TotalPRsCreated)
	assert.Equal(t, 2, s.TotalPRsMerged)
	assert.Equal(t, 4, s.TotalReviews)
	// Ratios 66.7 and 0.
	assert.Equal(t, 33.4, s.MeanMergeRatio)
	assert.Equal(t, 33.4, s.MedianMergeRatio)
	assert.Equal(t, 2.0, s.MeanReviewsPerUser)
	assert.Equal(t, 24.0, s.MedianHoursToMerge)
	assert.Equal(t, 1, s.UsersWithDroppedData)
	assert.False(t, s.Empty)
	assert.False(t, s.AllZero)
}

func TestSummarize_EmptyAndZero(t *testing.T) {
	empty := Summarize(domain.NewReport())
	assert.True(t, empty.Empty)
	assert.False(t, empty.AllZero)

	r := domain.NewReport()
	r.Add("alice", &domain.PRSummary{}, &domain.ReviewSummary{})
	zero := Summarize(r)
	assert.False(t, zero.Empty)
	assert.True(t, zero.AllZero)
	assert.Equal(t, 0.0, zero.MeanMergeRatio)
	assert.Equal(t, 0.0, zero.MedianHoursToMerge)
}

func TestDailyPRCounts(t *testing.T) {
	counts := DailyPRCounts(sampleReport().PREvents)

	assert.Equal(t, []DailyCount{
		{Date: day(2), Username: "alice", Event: domain.EventCreated, Count: 2},
		{Date: day(2), Username: "bob", Event: domain.EventCreated, Count: 1},
		{Date: day(3), Username: "alice", Event: domain.EventMerged, Count: 2},
		{Date: day(4), Username: "alice", Event: domain.EventCreated, Count: 1},
	}, counts)
}

func TestDailyReviewCounts(t *testing.T) {
	counts := DailyReviewCounts(sampleReport().ReviewEvents)

	assert.Equal(t, []DailyCount{
		{Date: day(5), Username: "alice", Count: 1},
		{Date: day(5), Username: "bob", Count: 2},
		{Date: day(6), Username: "bob", Count: 1},
	}, counts)
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testRenderer().Render(&buf, FormatJSON, sampleReport()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "acme", doc["org"])
	assert.Equal(t, "2024-01-01", doc["from"])
	assert.Equal(t, "2024-01-31", doc["to"])

	tables := doc["tables"].(map[string]any)
	metrics := tables["metrics"].([]any)
	require.Len(t, metrics, 2)
	first := metrics[0].(map[string]any)
	assert.Equal(t, "alice", first["username"])
	assert.Equal(t, 66.7, first["merge_ratio_%"])
	for _, key := range []string{"pr_events", "review_events", "pr_list", "review_list", "diagnostics"} {
		assert.Contains(t, tables, key)
	}
}

func TestRender_JSONEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testRenderer().Render(&buf, FormatJSON, domain.NewReport()))
	assert.Contains(t, buf.String(), `"metrics": []`)
	assert.NotContains(t, buf.String(), "null")
}

func TestRender_CSV(t *testing.T) {
	testCases := []struct {
		table          string
		expectedHeader []string
		expectedRows   int
	}{
		{table: "", expectedHeader: []string{"username", "prs_created", "prs_merged", "merge_ratio_%", "reviews", "additions", "deletions"}, expectedRows: 2},
		{table: TablePREvents, expectedHeader: []string{"username", "date", "event"}, expectedRows: 6},
		{table: TableReviewEvents, expectedHeader: []string{"username", "date"}, expectedRows: 4},
		{table: TablePRList, expectedHeader: []string{"username", "title", "url", "created_at", "merged_at", "state"}, expectedRows: 2},
		{table: TableReviewList, expectedHeader: []string{"username", "pr_title", "pr_url", "submitted_at", "state"}, expectedRows: 1},
	}
	for _, tc := range testCases {
		t.Run("table "+tc.table, func(t *testing.T) {
			rd := testRenderer()
			rd.Table = tc.table
			var buf bytes.Buffer
			require.NoError(t, rd.Render(&buf, FormatCSV, sampleReport()))

			records, err := csv.NewReader(&buf).ReadAll()
			require.NoError(t, err)
			require.Len(t, records, tc.expectedRows+1)
			assert.Equal(t, tc.expectedHeader, records[0])
		})
	}
}

func TestRender_CSVMetricsValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testRenderer().Render(&buf, FormatCSV, sampleReport()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "3", "2", "66.7", "1", "150", "30"}, records[1])
	assert.Equal(t, []string{"bob", "1", "0", "0.0", "3", "0", "0"}, records[2])
}

func TestRender_PRListTimes(t *testing.T) {
	_, rows, err := Table(sampleReport(), TablePRList)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03T10:00:00Z", rows[0][4])
	assert.Equal(t, "", rows[1][4])
}

func TestRender_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, testRenderer().Render(&buf, "yaml", sampleReport()))

	rd := testRenderer()
	rd.Table = "nope"
	assert.Error(t, rd.Render(&buf, FormatCSV, sampleReport()))
}

func TestRender_Markdown(t *testing.T) {
	md := testRenderer().Markdown(sampleReport())

	assert.Contains(t, md, "# Engineering Metrics: acme")
	assert.Contains(t, md, "2024-01-01 to 2024-01-31")
	assert.Contains(t, md, "| Total PRs Created | 4 |")
	assert.Contains(t, md, "| alice | 3 | 2 | 66.7 | 1 | 150 | 30 |")
	assert.Contains(t, md, `Fix \| pipe`)
	assert.Contains(t, md, "## PRs Over Time (Created vs Merged)")
	assert.Contains(t, md, "| 2024-01-05 | bob | 2 |")
	assert.Contains(t, md, "## Reviews (raw)")
}

func TestEscapeCell(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "Add feature", expected: "Add feature"},
		{name: "pipe", input: "a|b", expected: `a\|b`},
		{name: "backslash before pipe", input: `a\|b`, expected: `a\\\|b`},
		{name: "trailing backslash", input: `path\`, expected: `path\\`},
		{name: "newline", input: "line one\nline two", expected: "line one line two"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, escapeCell(tc.input))
		})
	}
}

func TestRender_MarkdownBackslashPipeKeepsColumns(t *testing.T) {
	r := domain.NewReport()
	r.Add("alice",
		&domain.PRSummary{
			Created: 1,
			Details: []domain.PRDetail{{Username: "alice", Title: `a\|b`, URL: "https://github.com/acme/api/pull/9", CreatedAt: day(2), State: "open"}},
		},
		&domain.ReviewSummary{},
	)

	md := testRenderer().Markdown(r)

	assert.Contains(t, md, `| alice | a\\\|b | https://github.com/acme/api/pull/9 |`)
}

func TestRender_MarkdownEmpty(t *testing.T) {
	md := testRenderer().Markdown(domain.NewReport())
	assert.Contains(t, md, "No data found")
	assert.NotContains(t, md, "## Summary")
}

func TestRender_HTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testRenderer().Render(&buf, FormatHTML, sampleReport()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>alice</td>")
	assert.NotContains(t, out, "<script>")
}
