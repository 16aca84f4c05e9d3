package core

import (
	"context"
	"time"
)

// Dependency name used for circuit breaking every call to the source host API.
const SourceAPIDependency = "external-source-api"

// RemoteRepository is the descriptor of a repository as reported by the
// source-of-record host.
type RemoteRepository struct {
	RemoteID      int64
	FullName      string
	Name          string
	Private       bool
	DefaultBranch string
	Language      string
}

// RemoteCommit is a single commit from the remote activity stream. Commits are
// immutable, so the SHA fully identifies the content.
type RemoteCommit struct {
	SHA         string
	AuthorLogin string
	AuthorEmail string
	Message     string
	Additions   int
	Deletions   int
	CommittedAt time.Time
}

// RemotePullRequest is a pull request from the remote host. Unlike commits,
// pull requests mutate over time (state, merge status), so mirrored rows are
// updated on every sync.
type RemotePullRequest struct {
	Number       int
	Title        string
	State        string
	AuthorLogin  string
	Additions    int
	Deletions    int
	ChangedFiles int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MergedAt     *time.Time
	ClosedAt     *time.Time
}

// RemoteIssue is an issue from the remote host, with pull requests already
// excluded from the stream.
type RemoteIssue struct {
	Number       int
	Title        string
	State        string
	AuthorLogin  string
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// RateLimitStatus reports the remaining request budget against the remote API.
type RateLimitStatus struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// SourceClient is the thin adapter to the remote repository host API. Every
// call a sync processor makes through this interface must be wrapped by the
// circuit breaker for SourceAPIDependency.
type SourceClient interface {
	GetRepositoryDetails(ctx context.Context, fullName string) (*RemoteRepository, error)
	// GetCommits returns commits on the default branch committed at or after
	// since. A zero since fetches the host's default window.
	GetCommits(ctx context.Context, fullName string, since time.Time) ([]*RemoteCommit, error)
	GetCommitDetails(ctx context.Context, fullName, sha string) (*RemoteCommit, error)
	GetPullRequests(ctx context.Context, fullName string) ([]*RemotePullRequest, error)
	GetPullRequestDetails(ctx context.Context, fullName string, number int) (*RemotePullRequest, error)
	GetIssues(ctx context.Context, fullName string) ([]*RemoteIssue, error)
	GetIssueDetails(ctx context.Context, fullName string, number int) (*RemoteIssue, error)
	GetRateLimitStatus(ctx context.Context) (*RateLimitStatus, error)
}
