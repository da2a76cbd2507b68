package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/naka-gawa/eng-metrics/internal/domain"
)

// Output formats accepted by Render.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Table names accepted by the CSV format.
const (
	TableMetrics      = "metrics"
	TablePREvents     = "pr_events"
	TableReviewEvents = "review_events"
	TablePRList       = "pr_list"
	TableReviewList   = "review_list"
)

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	htmlSanitizer = bluemonday.UGCPolicy()
}

// Document is the JSON shape of a rendered report.
type Document struct {
	Org               string         `json:"org"`
	From              string         `json:"from"`
	To                string         `json:"to"`
	Summary           Summary        `json:"summary"`
	DailyPRCounts     []DailyCount   `json:"daily_pr_counts"`
	DailyReviewCounts []DailyCount   `json:"daily_review_counts"`
	Report            *domain.Report `json:"tables"`
}

// Renderer writes a report for one organization and date range.
type Renderer struct {
	Org   string
	Range domain.DateRange
	// Table selects the table written by the CSV format.
	Table string
}

// Validate rejects an unknown format, or an unknown table for the CSV format.
func Validate(format, table string) error {
	switch format {
	case FormatJSON, FormatMarkdown, FormatHTML, "":
		return nil
	case FormatCSV:
		_, _, err := Table(domain.NewReport(), table)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Render writes r to w in the given format.
func (rd Renderer) Render(w io.Writer, format string, r *domain.Report) error {
	switch format {
	case FormatJSON, "":
		return rd.renderJSON(w, r)
	case FormatCSV:
		return rd.renderCSV(w, r)
	case FormatMarkdown:
		_, err := io.WriteString(w, rd.Markdown(r))
		return err
	case FormatHTML:
		return rd.renderHTML(w, r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (rd Renderer) renderJSON(w io.Writer, r *domain.Report) error {
	doc := Document{
		Org:               rd.Org,
		From:              rd.Range.Start.Format(domain.DateLayout),
		To:                rd.Range.End.Format(domain.DateLayout),
		Summary:           Summarize(r),
		DailyPRCounts:     DailyPRCounts(r.PREvents),
		DailyReviewCounts: DailyReviewCounts(r.ReviewEvents),
		Report:            r,
	}
	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func (rd Renderer) renderCSV(w io.Writer, r *domain.Report) error {
	header, rows, err := Table(r, rd.Table)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// Table flattens one named table of the report into a header and string rows.
// An empty name selects the metrics table.
func Table(r *domain.Report, name string) ([]string, [][]string, error) {
	rows := [][]string{}
	switch name {
	case TableMetrics, "":
		for _, m := range r.Metrics {
			rows = append(rows, []string{
				m.Username,
				strconv.Itoa(m.PRsCreated),
				strconv.Itoa(m.PRsMerged),
				strconv.FormatFloat(m.MergeRatio, 'f', 1, 64),
				strconv.Itoa(m.Reviews),
				strconv.Itoa(m.Additions),
				strconv.Itoa(m.Deletions),
			})
		}
		return []string{"username", "prs_created", "prs_merged", "merge_ratio_%", "reviews", "additions", "deletions"}, rows, nil
	case TablePREvents:
		for _, e := range r.PREvents {
			rows = append(rows, []string{e.Username, formatDate(e.Date), e.Event})
		}
		return []string{"username", "date", "event"}, rows, nil
	case TableReviewEvents:
		for _, e := range r.ReviewEvents {
			rows = append(rows, []string{e.Username, formatDate(e.Date)})
		}
		return []string{"username", "date"}, rows, nil
	case TablePRList:
		for _, pr := range r.PRList {
			rows = append(rows, []string{pr.Username, pr.Title, pr.URL, formatTime(&pr.CreatedAt), formatTime(pr.MergedAt), pr.State})
		}
		return []string{"username", "title", "url", "created_at", "merged_at", "state"}, rows, nil
	case TableReviewList:
		for _, rv := range r.ReviewList {
			rows = append(rows, []string{rv.Username, rv.PRTitle, rv.PRURL, formatTime(&rv.SubmittedAt), rv.State})
		}
		return []string{"username", "pr_title", "pr_url", "submitted_at", "state"}, rows, nil
	default:
		return nil, nil, fmt.Errorf("unknown table %q", name)
	}
}

// Markdown renders the whole report as a GitHub-flavoured markdown document.
func (rd Renderer) Markdown(r *domain.Report) string {
	var b strings.Builder
	s := Summarize(r)

	fmt.Fprintf(&b, "# Engineering Metrics: %s\n\n", escapeCell(rd.Org))
	fmt.Fprintf(&b, "%s to %s\n\n", formatDate(rd.Range.Start), formatDate(rd.Range.End))
	if s.Empty {
		b.WriteString("No data found for the provided parameters.\n")
		return b.String()
	}

	b.WriteString("## Summary\n\n")
	writeTable(&b, []string{"Metric", "Value"}, [][]string{
		{"Total PRs Created", strconv.Itoa(s.TotalPRsCreated)},
		{"Total PRs Merged", strconv.Itoa(s.TotalPRsMerged)},
		{"Total Reviews", strconv.Itoa(s.TotalReviews)},
		{"Mean merge ratio %", strconv.FormatFloat(s.MeanMergeRatio, 'f', 1, 64)},
		{"Median merge ratio %", strconv.FormatFloat(s.MedianMergeRatio, 'f', 1, 64)},
		{"Mean reviews per user", strconv.FormatFloat(s.MeanReviewsPerUser, 'f', 1, 64)},
		{"Median hours to merge", strconv.FormatFloat(s.MedianHoursToMerge, 'f', 1, 64)},
	})

	sections := []struct {
		title string
		table string
	}{
		{"Detailed Metrics", TableMetrics},
		{"PRs Created (raw)", TablePRList},
		{"Reviews (raw)", TableReviewList},
	}
	for i, sec := range sections {
		header, rows, _ := Table(r, sec.table)
		if i > 0 && len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sec.title)
		writeTable(&b, header, rows)
		if i == 0 {
			rd.writeDaily(&b, r)
		}
	}
	return b.String()
}

func (rd Renderer) writeDaily(b *strings.Builder, r *domain.Report) {
	if prs := DailyPRCounts(r.PREvents); len(prs) > 0 {
		rows := make([][]string, 0, len(prs))
		for _, c := range prs {
			rows = append(rows, []string{formatDate(c.Date), c.Username, c.Event, strconv.Itoa(c.Count)})
		}
		b.WriteString("## PRs Over Time (Created vs Merged)\n\n")
		writeTable(b, []string{"date", "username", "event", "count"}, rows)
	}
	if reviews := DailyReviewCounts(r.ReviewEvents); len(reviews) > 0 {
		rows := make([][]string, 0, len(reviews))
		for _, c := range reviews {
			rows = append(rows, []string{formatDate(c.Date), c.Username, strconv.Itoa(c.Count)})
		}
		b.WriteString("## Reviews Over Time\n\n")
		writeTable(b, []string{"date", "username", "count"}, rows)
	}
}

func (rd Renderer) renderHTML(w io.Writer, r *domain.Report) error {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(rd.Markdown(r)), &buf); err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Engineering Metrics</title></head>\n<body>\n%s</body>\n</html>\n",
		htmlSanitizer.Sanitize(buf.String()))
	return err
}

func writeTable(b *strings.Builder, header []string, rows [][]string) {
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = escapeCell(c)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	b.WriteString("\n")
}

// escapeCell keeps user content such as PR titles from breaking table rows.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

func formatDate(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
