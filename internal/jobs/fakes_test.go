package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sevigo/repo-pulse/internal/core"
	"github.com/sevigo/repo-pulse/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is an in-memory core.SourceClient. The slices model the remote
// state; per-entity errors simulate flaky detail fetches.
type fakeSource struct {
	repo    *core.RemoteRepository
	commits []*core.RemoteCommit
	prs     []*core.RemotePullRequest
	issues  []*core.RemoteIssue

	commitErr map[string]error
	prErr     map[int]error
	err       error

	rate    *core.RateLimitStatus
	rateErr error
}

var _ core.SourceClient = (*fakeSource)(nil)

func (f *fakeSource) GetRepositoryDetails(context.Context, string) (*core.RemoteRepository, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

func (f *fakeSource) GetCommits(_ context.Context, _ string, since time.Time) ([]*core.RemoteCommit, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*core.RemoteCommit
	for _, c := range f.commits {
		if !c.CommittedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) GetCommitDetails(_ context.Context, _ string, sha string) (*core.RemoteCommit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.commitErr[sha]; err != nil {
		return nil, err
	}
	for _, c := range f.commits {
		if c.SHA == sha {
			return c, nil
		}
	}
	return nil, fmt.Errorf("commit %s not found", sha)
}

func (f *fakeSource) GetPullRequests(context.Context, string) ([]*core.RemotePullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prs, nil
}

func (f *fakeSource) GetPullRequestDetails(_ context.Context, _ string, number int) (*core.RemotePullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.prErr[number]; err != nil {
		return nil, err
	}
	for _, pr := range f.prs {
		if pr.Number == number {
			return pr, nil
		}
	}
	return nil, fmt.Errorf("pull request %d not found", number)
}

func (f *fakeSource) GetIssues(context.Context, string) ([]*core.RemoteIssue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issues, nil
}

func (f *fakeSource) GetIssueDetails(_ context.Context, _ string, number int) (*core.RemoteIssue, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, issue := range f.issues {
		if issue.Number == number {
			return issue, nil
		}
	}
	return nil, fmt.Errorf("issue %d not found", number)
}

func (f *fakeSource) GetRateLimitStatus(context.Context) (*core.RateLimitStatus, error) {
	if f.rateErr != nil {
		return nil, f.rateErr
	}
	return f.rate, nil
}

// fakeMirrorStore is an in-memory storage.MirrorStore. It records the order of
// mutating operations so tests can assert that deletions precede upserts.
type fakeMirrorStore struct {
	mu         sync.Mutex
	nextRepoID int64
	repos      map[string]*storage.Repository
	commits    map[int64]map[string]*storage.Commit
	prs        map[int64]map[int]*storage.PullRequest
	issues     map[int64]map[int]*storage.Issue
	metrics    []*storage.RepoMetrics
	ops        []string
}

var _ storage.MirrorStore = (*fakeMirrorStore)(nil)

func newFakeMirrorStore() *fakeMirrorStore {
	return &fakeMirrorStore{
		repos:   make(map[string]*storage.Repository),
		commits: make(map[int64]map[string]*storage.Commit),
		prs:     make(map[int64]map[int]*storage.PullRequest),
		issues:  make(map[int64]map[int]*storage.Issue),
	}
}

func (s *fakeMirrorStore) record(op string) {
	s.ops = append(s.ops, op)
}

func (s *fakeMirrorStore) GetRepositoryByFullName(_ context.Context, ownerID, fullName string) (*storage.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[ownerID+"/"+fullName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *repo
	return &out, nil
}

func (s *fakeMirrorStore) UpsertRepository(_ context.Context, repo *storage.Repository) (*storage.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := repo.OwnerID + "/" + repo.FullName
	if existing, ok := s.repos[key]; ok {
		existing.Name = repo.Name
		existing.Private = repo.Private
		existing.DefaultBranch = repo.DefaultBranch
		existing.Language = repo.Language
		out := *existing
		return &out, nil
	}
	s.nextRepoID++
	stored := *repo
	stored.ID = s.nextRepoID
	s.repos[key] = &stored
	s.commits[stored.ID] = make(map[string]*storage.Commit)
	s.prs[stored.ID] = make(map[int]*storage.PullRequest)
	s.issues[stored.ID] = make(map[int]*storage.Issue)
	out := stored
	return &out, nil
}

func (s *fakeMirrorStore) ListSyncEnabledRepositories(_ context.Context, ownerID string) ([]*storage.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Repository
	for _, repo := range s.repos {
		if repo.OwnerID == ownerID && repo.SyncEnabled {
			clone := *repo
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) ListSyncEnabledOwners(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, repo := range s.repos {
		if repo.SyncEnabled && !seen[repo.OwnerID] {
			seen[repo.OwnerID] = true
			out = append(out, repo.OwnerID)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) SetLastSyncedAt(_ context.Context, repoID int64, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("set-last-synced")
	for _, repo := range s.repos {
		if repo.ID == repoID {
			at := t
			repo.LastSyncedAt = &at
		}
	}
	return nil
}

func (s *fakeMirrorStore) ListCommitSHAsSince(_ context.Context, repoID int64, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for sha, c := range s.commits[repoID] {
		if !c.CommittedAt.Before(since) {
			out = append(out, sha)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) InsertCommitIfAbsent(_ context.Context, commit *storage.Commit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("insert-commit")
	if _, exists := s.commits[commit.RepositoryID][commit.SHA]; exists {
		return false, nil
	}
	clone := *commit
	s.commits[commit.RepositoryID][commit.SHA] = &clone
	return true, nil
}

func (s *fakeMirrorStore) DeleteCommitsBySHA(_ context.Context, repoID int64, shas []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete-commits")
	var deleted int64
	for _, sha := range shas {
		if _, ok := s.commits[repoID][sha]; ok {
			delete(s.commits[repoID], sha)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeMirrorStore) ListPullRequestNumbersUpdatedSince(_ context.Context, repoID int64, since time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for n, pr := range s.prs[repoID] {
		if !pr.UpdatedAtRemote.Before(since) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) UpsertPullRequest(_ context.Context, pr *storage.PullRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("upsert-pr")
	clone := *pr
	s.prs[pr.RepositoryID][pr.Number] = &clone
	return nil
}

func (s *fakeMirrorStore) DeletePullRequestsByNumber(_ context.Context, repoID int64, numbers []int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete-prs")
	var deleted int64
	for _, n := range numbers {
		if _, ok := s.prs[repoID][n]; ok {
			delete(s.prs[repoID], n)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeMirrorStore) ListIssueNumbersUpdatedSince(_ context.Context, repoID int64, since time.Time) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for n, issue := range s.issues[repoID] {
		if !issue.UpdatedAtRemote.Before(since) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeMirrorStore) UpsertIssue(_ context.Context, issue *storage.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("upsert-issue")
	clone := *issue
	s.issues[issue.RepositoryID][issue.Number] = &clone
	return nil
}

func (s *fakeMirrorStore) DeleteIssuesByNumber(_ context.Context, repoID int64, numbers []int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete-issues")
	var deleted int64
	for _, n := range numbers {
		if _, ok := s.issues[repoID][n]; ok {
			delete(s.issues[repoID], n)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeMirrorStore) CountEntities(_ context.Context, repoID int64) (int64, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.commits[repoID])), int64(len(s.prs[repoID])), int64(len(s.issues[repoID])), nil
}

func (s *fakeMirrorStore) ActivitySummary(_ context.Context, repoID int64, from, to time.Time) (*storage.RepoMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &storage.RepoMetrics{RepositoryID: repoID}
	authors := make(map[string]bool)
	for _, c := range s.commits[repoID] {
		if c.CommittedAt.Before(from) || c.CommittedAt.After(to) {
			continue
		}
		m.CommitCount++
		authors[c.AuthorLogin] = true
	}
	m.ActiveAuthors = len(authors)
	for _, pr := range s.prs[repoID] {
		if pr.CreatedAtRemote.Before(from) || pr.CreatedAtRemote.After(to) {
			continue
		}
		m.PRCount++
		if pr.MergedAt != nil {
			m.MergedPRCount++
		}
	}
	for _, issue := range s.issues[repoID] {
		if issue.CreatedAtRemote.Before(from) || issue.CreatedAtRemote.After(to) {
			continue
		}
		m.IssueCount++
		if issue.ClosedAt != nil {
			m.ClosedIssueCount++
		}
	}
	return m, nil
}

func (s *fakeMirrorStore) UpsertRepoMetrics(_ context.Context, m *storage.RepoMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("upsert-metrics")
	clone := *m
	s.metrics = append(s.metrics, &clone)
	return nil
}

// seedRepo inserts a repository row directly, bypassing the op log.
func (s *fakeMirrorStore) seedRepo(repo *storage.Repository) *storage.Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRepoID++
	stored := *repo
	stored.ID = s.nextRepoID
	s.repos[stored.OwnerID+"/"+stored.FullName] = &stored
	s.commits[stored.ID] = make(map[string]*storage.Commit)
	s.prs[stored.ID] = make(map[int]*storage.PullRequest)
	s.issues[stored.ID] = make(map[int]*storage.Issue)
	return &stored
}

func newSyncedRepo(owner, fullName string, lastSynced time.Time) *storage.Repository {
	return &storage.Repository{
		OwnerID:      owner,
		RemoteID:     42,
		FullName:     fullName,
		Name:         "app",
		SyncEnabled:  true,
		LastSyncedAt: &lastSynced,
	}
}

func commitRow(repoID int64, sha string, at time.Time) *storage.Commit {
	return &storage.Commit{
		RepositoryID: repoID,
		SHA:          sha,
		AuthorLogin:  "alice",
		CommittedAt:  at,
	}
}

func (s *fakeMirrorStore) opIndex(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.ops {
		if o == op {
			return i
		}
	}
	return -1
}

// fakeQueue is an in-memory core.QueueManager for orchestrator and scheduler
// tests. Jobs execute lazily: WaitForJob runs the configured process function
// and settles the job.
type fakeQueue struct {
	mu      sync.Mutex
	jobs    map[string]*core.Job
	order   []string
	process func(job *core.Job) (*core.JobResult, error)
}

var _ core.QueueManager = (*fakeQueue)(nil)

func newFakeQueue(process func(job *core.Job) (*core.JobResult, error)) *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*core.Job), process: process}
}

func (q *fakeQueue) Enqueue(_ context.Context, queue, jobType string, payload map[string]any, opts core.EnqueueOptions) (*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.JobID != "" {
		if existing, ok := q.jobs[opts.JobID]; ok {
			out := *existing
			return &out, nil
		}
	}
	id := opts.JobID
	if id == "" {
		id = fmt.Sprintf("job-%d", len(q.jobs)+1)
	}
	if queue == "" {
		var err error
		if queue, err = core.QueueForType(jobType); err != nil {
			return nil, err
		}
	}
	job := &core.Job{
		ID:        id,
		Queue:     queue,
		Type:      jobType,
		Priority:  opts.Priority,
		Payload:   payload,
		Status:    core.StatusWaiting,
		CreatedAt: time.Now(),
	}
	q.jobs[id] = job
	q.order = append(q.order, id)
	out := *job
	return &out, nil
}

func (q *fakeQueue) GetJob(_ context.Context, id string) (*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (q *fakeQueue) ListJobs(context.Context, string, []core.JobStatus, int, int) ([]*core.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*core.Job, 0, len(q.order))
	for _, id := range q.order {
		clone := *q.jobs[id]
		out = append(out, &clone)
	}
	return out, nil
}

func (q *fakeQueue) WaitForJob(_ context.Context, id string, _ time.Duration) (*core.Job, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	if job.Status.Terminal() {
		out := *job
		q.mu.Unlock()
		return &out, nil
	}
	q.mu.Unlock()

	result, err := q.process(job)

	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempts++
	if err != nil {
		job.Status = core.StatusFailed
		job.LastError = err.Error()
	} else {
		job.Result = result
		if result != nil && !result.Success {
			job.Status = core.StatusFailed
			job.LastError = result.Error
		} else {
			job.Status = core.StatusCompleted
		}
	}
	out := *job
	return &out, nil
}
