// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"github.com/gregjones/httpcache"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/naka-gawa/eng-metrics/internal/domain"
)

// DefaultPerPage is the search page size used when none is configured.
const DefaultPerPage = 50

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	// SearchCreatedPRs returns every pull request authored by user in org and
	// created inside the range, oldest first.
	SearchCreatedPRs(ctx context.Context, org, user string, r domain.DateRange) ([]domain.PRRef, error)
	// SearchReviewedPRs returns at most limit pull requests in org reviewed by
	// user and updated inside the range, most recently updated first.
	SearchReviewedPRs(ctx context.Context, org, user string, r domain.DateRange, limit int) ([]domain.PRRef, error)
	// SearchUpdatedPRs returns at most limit pull requests in org updated
	// inside the range, most recently updated first.
	SearchUpdatedPRs(ctx context.Context, org string, r domain.DateRange, limit int) ([]domain.PRRef, error)
	GetPullRequest(ctx context.Context, ref domain.PRRef) (*domain.PullRequest, error)
	ListReviews(ctx context.Context, ref domain.PRRef) ([]domain.Review, error)
}

// Compile-time interface satisfaction check.
var _ Fetcher = (*GitHubGateway)(nil)

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	perPage       int
	logger        *zap.Logger
}

// prSearchQuery pages through pull request search results.
type prSearchQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename    string `graphql:"__typename"`
				PullRequest struct {
					Number     int
					Title      string
					URL        string
					CreatedAt  githubv4.DateTime
					Repository struct {
						Name  string
						Owner struct {
							Login string
						}
					}
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: $first, after: $cursor)"`
}

// NewGitHubGateway creates a gateway with the following transport stack:
//  1. httpcache (in-memory ETag caching for the lifetime of the process)
//  2. go-github-ratelimit (sleeps on secondary rate limits)
//  3. oauth2 (passes the token through as a bearer credential)
func NewGitHubGateway(token string, perPage int, logger *zap.Logger) (*GitHubGateway, error) {
	if token == "" {
		return nil, errors.New("github token is empty")
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitClient.Transport,
			Source: ts,
		},
		Timeout: 60 * time.Second,
	}
	return &GitHubGateway{
		restClient:    github.NewClient(httpClient),
		graphqlClient: githubv4.NewClient(httpClient),
		perPage:       perPage,
		logger:        logger,
	}, nil
}

// CreatedPRsQuery builds the search used for pull requests authored in the range.
func CreatedPRsQuery(org, user string, r domain.DateRange) string {
	return fmt.Sprintf("org:%s author:%s is:pr created:%s", org, user, r.Query())
}

// ReviewedPRsQuery builds the search for pull requests reviewed by user.
// The updated qualifier stands in for the review date, which search cannot filter on.
func ReviewedPRsQuery(org, user string, r domain.DateRange) string {
	return fmt.Sprintf("org:%s is:pr reviewed-by:%s updated:%s", org, user, r.Query())
}

// UpdatedPRsQuery builds the search for every pull request updated in the range.
func UpdatedPRsQuery(org string, r domain.DateRange) string {
	return fmt.Sprintf("org:%s is:pr updated:%s", org, r.Query())
}

func (g *GitHubGateway) SearchCreatedPRs(ctx context.Context, org, user string, r domain.DateRange) ([]domain.PRRef, error) {
	query := CreatedPRsQuery(org, user, r)
	g.logger.Debug("searching created pull requests", zap.String("query", query))
	opts := &github.SearchOptions{
		Sort:        "created",
		Order:       "asc",
		ListOptions: github.ListOptions{PerPage: g.perPage},
	}
	refs := []domain.PRRef{}
	for {
		result, resp, err := g.restClient.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to search pull requests with REST API: %w", err)
		}
		logRateLimit(g.logger, resp, "search/issues", opts.Page, len(result.Issues))
		for _, issue := range result.Issues {
			owner, repo, err := repoFromURL(issue.GetRepositoryURL())
			if err != nil {
				g.logger.Warn("skipping search hit without repository", zap.String("url", issue.GetHTMLURL()), zap.Error(err))
				continue
			}
			refs = append(refs, domain.PRRef{
				Owner:     owner,
				Repo:      repo,
				Number:    issue.GetNumber(),
				Title:     issue.GetTitle(),
				URL:       issue.GetHTMLURL(),
				CreatedAt: issue.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		g.logger.Debug("fetching next page of created pull requests", zap.Int("page", opts.Page))
	}
	g.logger.Debug("completed created pull request search", zap.String("query", query), zap.Int("count", len(refs)))
	return refs, nil
}

func (g *GitHubGateway) SearchReviewedPRs(ctx context.Context, org, user string, r domain.DateRange, limit int) ([]domain.PRRef, error) {
	return g.searchPRs(ctx, ReviewedPRsQuery(org, user, r), limit)
}

func (g *GitHubGateway) SearchUpdatedPRs(ctx context.Context, org string, r domain.DateRange, limit int) ([]domain.PRRef, error) {
	return g.searchPRs(ctx, UpdatedPRsQuery(org, r), limit)
}

// searchPRs runs a GraphQL search sorted by update time, newest first, and
// stops once limit pull requests have been collected.
func (g *GitHubGateway) searchPRs(ctx context.Context, query string, limit int) ([]domain.PRRef, error) {
	g.logger.Debug("searching pull requests", zap.String("query", query), zap.Int("limit", limit))
	variables := map[string]interface{}{
		"query":  githubv4.String(query + " sort:updated-desc"),
		"first":  githubv4.Int(min(g.perPage, limit)),
		"cursor": (*githubv4.String)(nil),
	}
	refs := []domain.PRRef{}
	for len(refs) < limit {
		var q prSearchQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, fmt.Errorf("failed to execute GraphQL search query: %w", err)
		}
		for _, edge := range q.Search.Edges {
			if edge.Node.Typename != "PullRequest" {
				continue
			}
			pr := edge.Node.PullRequest
			refs = append(refs, domain.PRRef{
				Owner:     pr.Repository.Owner.Login,
				Repo:      pr.Repository.Name,
				Number:    pr.Number,
				Title:     pr.Title,
				URL:       pr.URL,
				CreatedAt: pr.CreatedAt.Time,
			})
			if len(refs) == limit {
				break
			}
		}
		if !q.Search.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		variables["first"] = githubv4.Int(min(g.perPage, limit-len(refs)))
		g.logger.Debug("fetching next page of pull requests", zap.Int("collected", len(refs)))
	}
	g.logger.Debug("completed pull request search", zap.String("query", query), zap.Int("count", len(refs)))
	return refs, nil
}

func (g *GitHubGateway) GetPullRequest(ctx context.Context, ref domain.PRRef) (*domain.PullRequest, error) {
	pr, _, err := g.restClient.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
	}
	return mapPullRequest(pr), nil
}

func (g *GitHubGateway) ListReviews(ctx context.Context, ref domain.PRRef) ([]domain.Review, error) {
	opts := &github.ListOptions{PerPage: 100}
	reviews := []domain.Review{}
	for {
		page, resp, err := g.restClient.PullRequests.ListReviews(ctx, ref.Owner, ref.Repo, ref.Number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews for %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
		}
		for _, r := range page {
			reviews = append(reviews, mapReview(r))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return reviews, nil
}

func mapPullRequest(pr *github.PullRequest) *domain.PullRequest {
	out := &domain.PullRequest{
		Title:     pr.GetTitle(),
		URL:       pr.GetHTMLURL(),
		State:     pr.GetState(),
		CreatedAt: pr.GetCreatedAt().Time,
		Merged:    pr.GetMerged(),
		Additions: pr.GetAdditions(),
		Deletions: pr.GetDeletions(),
	}
	if pr.MergedAt != nil {
		mergedAt := pr.MergedAt.Time
		out.MergedAt = &mergedAt
	}
	return out
}

func mapReview(r *github.PullRequestReview) domain.Review {
	out := domain.Review{
		Author: r.GetUser().GetLogin(),
		State:  r.GetState(),
	}
	if r.SubmittedAt != nil {
		submittedAt := r.SubmittedAt.Time
		out.SubmittedAt = &submittedAt
	}
	return out
}

// repoFromURL extracts owner and name from an API repository URL such as
// https://api.github.com/repos/octo-org/hello-world.
func repoFromURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url %q: %w", raw, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "repos" {
		return "", "", fmt.Errorf("invalid repository url %q: expected .../repos/owner/repo", raw)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

func logRateLimit(logger *zap.Logger, resp *github.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	logger.Debug("github api call",
		zap.String("endpoint", endpoint),
		zap.Int("page", page),
		zap.Int("count", count),
		zap.Int("rate_remaining", resp.Rate.Remaining),
		zap.Int("rate_limit", resp.Rate.Limit),
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 5 {
		logger.Warn("github search rate limit low",
			zap.Int("remaining", resp.Rate.Remaining),
			zap.Duration("reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second)),
		)
	}
}

// ErrorMessage renders an error for the user, distinguishing errors reported
// by the GitHub API from everything else.
func ErrorMessage(err error) string {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		msg := ghErr.Message
		if msg == "" {
			msg = ghErr.Error()
		}
		return "GitHub error: " + msg
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return "GitHub error: " + rateErr.Message
	}
	return "Unexpected error: " + err.Error()
}
