package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MirrorStore persists the local mirror of remote repositories and their
// activity entities. All upserts key on the natural key scoped to the
// repository: sha for commits, number for pull requests and issues.
type MirrorStore interface {
	GetRepositoryByFullName(ctx context.Context, ownerID, fullName string) (*Repository, error)
	// UpsertRepository inserts or refreshes a repository keyed by
	// (owner_id, remote_id) and returns the stored row.
	UpsertRepository(ctx context.Context, repo *Repository) (*Repository, error)
	ListSyncEnabledRepositories(ctx context.Context, ownerID string) ([]*Repository, error)
	ListSyncEnabledOwners(ctx context.Context) ([]string, error)
	SetLastSyncedAt(ctx context.Context, repoID int64, t time.Time) error

	ListCommitSHAsSince(ctx context.Context, repoID int64, since time.Time) ([]string, error)
	// InsertCommitIfAbsent creates the commit row unless the SHA is already
	// mirrored. Commits are immutable, existing rows are left untouched.
	InsertCommitIfAbsent(ctx context.Context, commit *Commit) (bool, error)
	DeleteCommitsBySHA(ctx context.Context, repoID int64, shas []string) (int64, error)

	ListPullRequestNumbersUpdatedSince(ctx context.Context, repoID int64, since time.Time) ([]int, error)
	UpsertPullRequest(ctx context.Context, pr *PullRequest) error
	DeletePullRequestsByNumber(ctx context.Context, repoID int64, numbers []int) (int64, error)

	ListIssueNumbersUpdatedSince(ctx context.Context, repoID int64, since time.Time) ([]int, error)
	UpsertIssue(ctx context.Context, issue *Issue) error
	DeleteIssuesByNumber(ctx context.Context, repoID int64, numbers []int) (int64, error)

	CountEntities(ctx context.Context, repoID int64) (commits, prs, issues int64, err error)
	ActivitySummary(ctx context.Context, repoID int64, from, to time.Time) (*RepoMetrics, error)
	UpsertRepoMetrics(ctx context.Context, m *RepoMetrics) error
}

type postgresMirrorStore struct {
	db *sqlx.DB
}

// NewMirrorStore creates a Postgres-backed MirrorStore.
func NewMirrorStore(db *sqlx.DB) MirrorStore {
	return &postgresMirrorStore{db: db}
}

func (s *postgresMirrorStore) GetRepositoryByFullName(ctx context.Context, ownerID, fullName string) (*Repository, error) {
	var repo Repository
	err := s.db.GetContext(ctx, &repo, `
		SELECT * FROM repositories WHERE owner_id = $1 AND full_name = $2`,
		ownerID, fullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", fullName, err)
	}
	return &repo, nil
}

func (s *postgresMirrorStore) UpsertRepository(ctx context.Context, repo *Repository) (*Repository, error) {
	var stored Repository
	err := s.db.GetContext(ctx, &stored, `
		INSERT INTO repositories (owner_id, remote_id, full_name, name, private,
		                          default_branch, language, sync_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, remote_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    name = EXCLUDED.name,
		    private = EXCLUDED.private,
		    default_branch = EXCLUDED.default_branch,
		    language = EXCLUDED.language,
		    updated_at = now()
		RETURNING *`,
		repo.OwnerID, repo.RemoteID, repo.FullName, repo.Name, repo.Private,
		repo.DefaultBranch, repo.Language, repo.SyncEnabled)
	if err != nil {
		return nil, fmt.Errorf("upsert repository %s: %w", repo.FullName, err)
	}
	return &stored, nil
}

func (s *postgresMirrorStore) ListSyncEnabledRepositories(ctx context.Context, ownerID string) ([]*Repository, error) {
	var repos []*Repository
	err := s.db.SelectContext(ctx, &repos, `
		SELECT * FROM repositories
		WHERE owner_id = $1 AND sync_enabled ORDER BY full_name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list repositories for %s: %w", ownerID, err)
	}
	return repos, nil
}

func (s *postgresMirrorStore) ListSyncEnabledOwners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.SelectContext(ctx, &owners, `
		SELECT DISTINCT owner_id FROM repositories WHERE sync_enabled ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list sync-enabled owners: %w", err)
	}
	return owners, nil
}

func (s *postgresMirrorStore) SetLastSyncedAt(ctx context.Context, repoID int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET last_synced_at = $2, updated_at = now() WHERE id = $1`,
		repoID, t)
	return err
}

func (s *postgresMirrorStore) ListCommitSHAsSince(ctx context.Context, repoID int64, since time.Time) ([]string, error) {
	var shas []string
	err := s.db.SelectContext(ctx, &shas, `
		SELECT sha FROM commits WHERE repository_id = $1 AND committed_at >= $2`,
		repoID, since)
	if err != nil {
		return nil, fmt.Errorf("list commit shas: %w", err)
	}
	return shas, nil
}

func (s *postgresMirrorStore) InsertCommitIfAbsent(ctx context.Context, commit *Commit) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (repository_id, sha, author_login, author_email,
		                     message, additions, deletions, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repository_id, sha) DO NOTHING`,
		commit.RepositoryID, commit.SHA, commit.AuthorLogin, commit.AuthorEmail,
		commit.Message, commit.Additions, commit.Deletions, commit.CommittedAt)
	if err != nil {
		return false, fmt.Errorf("insert commit %s: %w", commit.SHA, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *postgresMirrorStore) DeleteCommitsBySHA(ctx context.Context, repoID int64, shas []string) (int64, error) {
	if len(shas) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM commits WHERE repository_id = $1 AND sha = ANY($2)`,
		repoID, pq.Array(shas))
	if err != nil {
		return 0, fmt.Errorf("delete commits: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresMirrorStore) ListPullRequestNumbersUpdatedSince(ctx context.Context, repoID int64, since time.Time) ([]int, error) {
	var numbers []int
	err := s.db.SelectContext(ctx, &numbers, `
		SELECT number FROM pull_requests
		WHERE repository_id = $1 AND updated_at_remote >= $2`, repoID, since)
	if err != nil {
		return nil, fmt.Errorf("list pull request numbers: %w", err)
	}
	return numbers, nil
}

func (s *postgresMirrorStore) UpsertPullRequest(ctx context.Context, pr *PullRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pull_requests (repository_id, number, title, state, author_login,
		                           additions, deletions, changed_files,
		                           created_at_remote, updated_at_remote, merged_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (repository_id, number) DO UPDATE
		SET title = EXCLUDED.title,
		    state = EXCLUDED.state,
		    additions = EXCLUDED.additions,
		    deletions = EXCLUDED.deletions,
		    changed_files = EXCLUDED.changed_files,
		    updated_at_remote = EXCLUDED.updated_at_remote,
		    merged_at = EXCLUDED.merged_at,
		    closed_at = EXCLUDED.closed_at`,
		pr.RepositoryID, pr.Number, pr.Title, pr.State, pr.AuthorLogin,
		pr.Additions, pr.Deletions, pr.ChangedFiles,
		pr.CreatedAtRemote, pr.UpdatedAtRemote, pr.MergedAt, pr.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert pull request #%d: %w", pr.Number, err)
	}
	return nil
}

func (s *postgresMirrorStore) DeletePullRequestsByNumber(ctx context.Context, repoID int64, numbers []int) (int64, error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pull_requests WHERE repository_id = $1 AND number = ANY($2)`,
		repoID, pq.Array(numbers))
	if err != nil {
		return 0, fmt.Errorf("delete pull requests: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresMirrorStore) ListIssueNumbersUpdatedSince(ctx context.Context, repoID int64, since time.Time) ([]int, error) {
	var numbers []int
	err := s.db.SelectContext(ctx, &numbers, `
		SELECT number FROM issues
		WHERE repository_id = $1 AND updated_at_remote >= $2`, repoID, since)
	if err != nil {
		return nil, fmt.Errorf("list issue numbers: %w", err)
	}
	return numbers, nil
}

func (s *postgresMirrorStore) UpsertIssue(ctx context.Context, issue *Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (repository_id, number, title, state, author_login,
		                    comment_count, created_at_remote, updated_at_remote, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (repository_id, number) DO UPDATE
		SET title = EXCLUDED.title,
		    state = EXCLUDED.state,
		    comment_count = EXCLUDED.comment_count,
		    updated_at_remote = EXCLUDED.updated_at_remote,
		    closed_at = EXCLUDED.closed_at`,
		issue.RepositoryID, issue.Number, issue.Title, issue.State, issue.AuthorLogin,
		issue.CommentCount, issue.CreatedAtRemote, issue.UpdatedAtRemote, issue.ClosedAt)
	if err != nil {
		return fmt.Errorf("upsert issue #%d: %w", issue.Number, err)
	}
	return nil
}

func (s *postgresMirrorStore) DeleteIssuesByNumber(ctx context.Context, repoID int64, numbers []int) (int64, error) {
	if len(numbers) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM issues WHERE repository_id = $1 AND number = ANY($2)`,
		repoID, pq.Array(numbers))
	if err != nil {
		return 0, fmt.Errorf("delete issues: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresMirrorStore) CountEntities(ctx context.Context, repoID int64) (int64, int64, int64, error) {
	var counts struct {
		Commits int64 `db:"commits"`
		PRs     int64 `db:"prs"`
		Issues  int64 `db:"issues"`
	}
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			(SELECT count(*) FROM commits WHERE repository_id = $1) AS commits,
			(SELECT count(*) FROM pull_requests WHERE repository_id = $1) AS prs,
			(SELECT count(*) FROM issues WHERE repository_id = $1) AS issues`,
		repoID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count entities: %w", err)
	}
	return counts.Commits, counts.PRs, counts.Issues, nil
}

func (s *postgresMirrorStore) ActivitySummary(ctx context.Context, repoID int64, from, to time.Time) (*RepoMetrics, error) {
	m := &RepoMetrics{RepositoryID: repoID, PeriodStart: from, PeriodEnd: to}
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			(SELECT count(*) FROM commits
			  WHERE repository_id = $1 AND committed_at >= $2 AND committed_at < $3),
			(SELECT count(DISTINCT author_login) FROM commits
			  WHERE repository_id = $1 AND committed_at >= $2 AND committed_at < $3),
			(SELECT count(*) FROM pull_requests
			  WHERE repository_id = $1 AND created_at_remote >= $2 AND created_at_remote < $3),
			(SELECT count(*) FROM pull_requests
			  WHERE repository_id = $1 AND merged_at >= $2 AND merged_at < $3),
			(SELECT count(*) FROM issues
			  WHERE repository_id = $1 AND created_at_remote >= $2 AND created_at_remote < $3),
			(SELECT count(*) FROM issues
			  WHERE repository_id = $1 AND closed_at >= $2 AND closed_at < $3)`,
		repoID, from, to).Scan(
		&m.CommitCount, &m.ActiveAuthors, &m.PRCount, &m.MergedPRCount,
		&m.IssueCount, &m.ClosedIssueCount)
	if err != nil {
		return nil, fmt.Errorf("activity summary: %w", err)
	}
	return m, nil
}

func (s *postgresMirrorStore) UpsertRepoMetrics(ctx context.Context, m *RepoMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_metrics (repository_id, period_start, period_end,
		                          commit_count, pr_count, merged_pr_count,
		                          issue_count, closed_issue_count, active_authors, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (repository_id, period_start, period_end) DO UPDATE
		SET commit_count = EXCLUDED.commit_count,
		    pr_count = EXCLUDED.pr_count,
		    merged_pr_count = EXCLUDED.merged_pr_count,
		    issue_count = EXCLUDED.issue_count,
		    closed_issue_count = EXCLUDED.closed_issue_count,
		    active_authors = EXCLUDED.active_authors,
		    computed_at = now()`,
		m.RepositoryID, m.PeriodStart, m.PeriodEnd,
		m.CommitCount, m.PRCount, m.MergedPRCount,
		m.IssueCount, m.ClosedIssueCount, m.ActiveAuthors)
	if err != nil {
		return fmt.Errorf("upsert repo metrics: %w", err)
	}
	return nil
}
