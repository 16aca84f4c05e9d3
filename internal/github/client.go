// Package github implements the source-of-record client against the GitHub API.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"
	"golang.org/x/time/rate"

	"github.com/sevigo/repo-pulse/internal/core"
)

// gitHubClient wraps the official go-github client behind core.SourceClient.
// A token-bucket limiter spaces requests out below the secondary rate limits;
// hard failures are the circuit breaker's job, not this client's.
type gitHubClient struct {
	client  *github.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient wraps a configured go-github client. requestsPerSecond bounds the
// client-side request rate; zero or negative disables the limiter.
func NewClient(client *github.Client, requestsPerSecond float64, logger *slog.Logger) core.SourceClient {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &gitHubClient{client: client, limiter: limiter, logger: logger}
}

func (g *gitHubClient) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func splitFullName(fullName string) (string, string, error) {
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid repository full name %q, want owner/name", fullName)
	}
	return owner, repo, nil
}

// GetRepositoryDetails fetches the current descriptor of a repository.
func (g *gitHubClient) GetRepositoryDetails(ctx context.Context, fullName string) (*core.RemoteRepository, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		g.logger.Error("failed to get repository", "repo", fullName, "error", err)
		return nil, err
	}
	return &core.RemoteRepository{
		RemoteID:      r.GetID(),
		FullName:      r.GetFullName(),
		Name:          r.GetName(),
		Private:       r.GetPrivate(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
	}, nil
}

// GetCommits lists commits on the default branch committed at or after since.
// It handles pagination automatically; GitHub returns at most 100 per page.
func (g *gitHubClient) GetCommits(ctx context.Context, fullName string, since time.Time) ([]*core.RemoteCommit, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		Since:       since,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*core.RemoteCommit
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := g.client.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			g.logger.Error("failed to list commits", "repo", fullName, "error", err)
			return nil, err
		}
		for _, c := range commits {
			all = append(all, convertCommit(c))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetCommitDetails fetches a single commit including its change stats, which
// the list endpoint omits.
func (g *gitHubClient) GetCommitDetails(ctx context.Context, fullName, sha string) (*core.RemoteCommit, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	c, _, err := g.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		g.logger.Error("failed to get commit", "repo", fullName, "sha", sha, "error", err)
		return nil, err
	}
	return convertCommit(c), nil
}

// GetPullRequests lists pull requests in all states, most recently updated
// first so callers can stop consuming once they pass their sync window.
func (g *gitHubClient) GetPullRequests(ctx context.Context, fullName string) ([]*core.RemotePullRequest, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*core.RemotePullRequest
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		prs, resp, err := g.client.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			g.logger.Error("failed to list pull requests", "repo", fullName, "error", err)
			return nil, err
		}
		for _, pr := range prs {
			all = append(all, convertPullRequest(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// GetPullRequestDetails fetches one pull request including diff stats.
func (g *gitHubClient) GetPullRequestDetails(ctx context.Context, fullName string, number int) (*core.RemotePullRequest, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get pull request", "repo", fullName, "pr", number, "error", err)
		return nil, err
	}
	return convertPullRequest(pr), nil
}

// GetIssues lists issues in all states, excluding pull requests, which the
// GitHub issues endpoint interleaves into the stream.
func (g *gitHubClient) GetIssues(ctx context.Context, fullName string) ([]*core.RemoteIssue, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*core.RemoteIssue
	for {
		if err := g.wait(ctx); err != nil {
			return nil, err
		}
		issues, resp, err := g.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			g.logger.Error("failed to list issues", "repo", fullName, "error", err)
			return nil, err
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			all = append(all, convertIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		// IssueListByRepoOptions embeds both ListOptions and
		// ListCursorOptions; the page-number field must be addressed
		// explicitly.
		opts.ListOptions.Page = resp.NextPage
	}
	return all, nil
}

// GetIssueDetails fetches one issue. Pull requests are rejected so processors
// never mirror a PR into the issues table.
func (g *gitHubClient) GetIssueDetails(ctx context.Context, fullName string, number int) (*core.RemoteIssue, error) {
	owner, repo, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	issue, _, err := g.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		g.logger.Error("failed to get issue", "repo", fullName, "issue", number, "error", err)
		return nil, err
	}
	if issue.IsPullRequest() {
		return nil, fmt.Errorf("issue #%d in %s is a pull request", number, fullName)
	}
	return convertIssue(issue), nil
}

// GetRateLimitStatus reports the remaining core API budget.
func (g *gitHubClient) GetRateLimitStatus(ctx context.Context) (*core.RateLimitStatus, error) {
	limits, _, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, err
	}
	c := limits.GetCore()
	return &core.RateLimitStatus{
		Limit:     c.Limit,
		Remaining: c.Remaining,
		ResetAt:   c.Reset.Time,
	}, nil
}

func convertCommit(c *github.RepositoryCommit) *core.RemoteCommit {
	out := &core.RemoteCommit{
		SHA:         c.GetSHA(),
		AuthorLogin: c.GetAuthor().GetLogin(),
	}
	if commit := c.GetCommit(); commit != nil {
		out.Message = commit.GetMessage()
		if author := commit.GetAuthor(); author != nil {
			out.AuthorEmail = author.GetEmail()
			out.CommittedAt = author.GetDate().Time
			if out.AuthorLogin == "" {
				out.AuthorLogin = author.GetName()
			}
		}
	}
	if stats := c.GetStats(); stats != nil {
		out.Additions = stats.GetAdditions()
		out.Deletions = stats.GetDeletions()
	}
	return out
}

func convertPullRequest(pr *github.PullRequest) *core.RemotePullRequest {
	out := &core.RemotePullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		AuthorLogin:  pr.GetUser().GetLogin(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		out.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := pr.GetClosedAt().Time
		out.ClosedAt = &t
	}
	return out
}

func convertIssue(issue *github.Issue) *core.RemoteIssue {
	out := &core.RemoteIssue{
		Number:       issue.GetNumber(),
		Title:        issue.GetTitle(),
		State:        issue.GetState(),
		AuthorLogin:  issue.GetUser().GetLogin(),
		CommentCount: issue.GetComments(),
		CreatedAt:    issue.GetCreatedAt().Time,
		UpdatedAt:    issue.GetUpdatedAt().Time,
	}
	if issue.ClosedAt != nil {
		t := issue.GetClosedAt().Time
		out.ClosedAt = &t
	}
	return out
}
