// Package storage implements Postgres-backed persistence for the job queue and
// the mirrored repository data.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the local mirror of a remote repository.
type Repository struct {
	ID            int64      `db:"id"`
	OwnerID       string     `db:"owner_id"`
	RemoteID      int64      `db:"remote_id"`
	FullName      string     `db:"full_name"`
	Name          string     `db:"name"`
	Private       bool       `db:"private"`
	DefaultBranch string     `db:"default_branch"`
	Language      string     `db:"language"`
	SyncEnabled   bool       `db:"sync_enabled"`
	LastSyncedAt  *time.Time `db:"last_synced_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Commit is a mirrored commit row, uniquely keyed by (repository_id, sha).
type Commit struct {
	ID           int64     `db:"id"`
	RepositoryID int64     `db:"repository_id"`
	SHA          string    `db:"sha"`
	AuthorLogin  string    `db:"author_login"`
	AuthorEmail  string    `db:"author_email"`
	Message      string    `db:"message"`
	Additions    int       `db:"additions"`
	Deletions    int       `db:"deletions"`
	CommittedAt  time.Time `db:"committed_at"`
}

// PullRequest is a mirrored pull request row, uniquely keyed by
// (repository_id, number).
type PullRequest struct {
	ID              int64      `db:"id"`
	RepositoryID    int64      `db:"repository_id"`
	Number          int        `db:"number"`
	Title           string     `db:"title"`
	State           string     `db:"state"`
	AuthorLogin     string     `db:"author_login"`
	Additions       int        `db:"additions"`
	Deletions       int        `db:"deletions"`
	ChangedFiles    int        `db:"changed_files"`
	CreatedAtRemote time.Time  `db:"created_at_remote"`
	UpdatedAtRemote time.Time  `db:"updated_at_remote"`
	MergedAt        *time.Time `db:"merged_at"`
	ClosedAt        *time.Time `db:"closed_at"`
}

// Issue is a mirrored issue row, uniquely keyed by (repository_id, number).
// Pull requests are excluded from the issue stream before rows reach here.
type Issue struct {
	ID              int64      `db:"id"`
	RepositoryID    int64      `db:"repository_id"`
	Number          int        `db:"number"`
	Title           string     `db:"title"`
	State           string     `db:"state"`
	AuthorLogin     string     `db:"author_login"`
	CommentCount    int        `db:"comment_count"`
	CreatedAtRemote time.Time  `db:"created_at_remote"`
	UpdatedAtRemote time.Time  `db:"updated_at_remote"`
	ClosedAt        *time.Time `db:"closed_at"`
}

// RepoMetrics is one computed aggregate window for a repository.
type RepoMetrics struct {
	ID               int64     `db:"id"`
	RepositoryID     int64     `db:"repository_id"`
	PeriodStart      time.Time `db:"period_start"`
	PeriodEnd        time.Time `db:"period_end"`
	CommitCount      int       `db:"commit_count"`
	PRCount          int       `db:"pr_count"`
	MergedPRCount    int       `db:"merged_pr_count"`
	IssueCount       int       `db:"issue_count"`
	ClosedIssueCount int       `db:"closed_issue_count"`
	ActiveAuthors    int       `db:"active_authors"`
	ComputedAt       time.Time `db:"computed_at"`
}
