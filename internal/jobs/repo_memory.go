package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"contract-backend/internal/accounts"
	"contract-backend/internal/conversations"
)

// QuotaConsumer checks and increments an account's consumed uploads atomically.
type QuotaConsumer interface {
	ConsumeUpload(ctx context.Context, accountID string) (accounts.Subscription, error)
}

// ConversationSeeder is the conversation side of a result commit.
type ConversationSeeder interface {
	Seed(ctx context.Context, s conversations.Session, msg conversations.Message) error
	DeleteByJob(ctx context.Context, jobID string) error
}

type MemoryRepo struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	results map[string]AnalysisResult
	quota   QuotaConsumer
	convs   ConversationSeeder
	now     func() time.Time
}

func NewMemoryRepo(quota QuotaConsumer, convs ConversationSeeder) *MemoryRepo {
	return &MemoryRepo{
		jobs:    make(map[string]Job),
		results: make(map[string]AnalysisResult),
		quota:   quota,
		convs:   convs,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Admit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if _, err := r.quota.ConsumeUpload(ctx, job.AccountID); err != nil {
		return mapAccountErr(err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job.UpdatedAt = job.CreatedAt
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]JobSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var owned []Job
	for _, job := range r.jobs {
		if job.AccountID == accountID {
			owned = append(owned, job)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if offset > len(owned) {
		offset = len(owned)
	}
	owned = owned[offset:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	out := make([]JobSummary, 0, len(owned))
	for _, job := range owned {
		risk := RiskUnknown
		if res, ok := r.results[job.ID]; ok {
			risk = res.OverallRisk
		}
		out = append(out, JobSummary{ID: job.ID, FileName: job.FileName, CreatedAt: job.CreatedAt, Status: job.Status, OverallRisk: risk})
	}
	return out, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, id string, from, to Status, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !CanTransition(from, to) || to == StatusCompleted {
		return ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != from {
		return ErrInvalidTransition
	}
	now := r.now()
	job.Status = to
	job.UpdatedAt = now
	switch to {
	case StatusProcessing:
		job.StartedAt = &now
	case StatusFailed:
		job.ErrorMessage = errMsg
		job.FinishedAt = &now
	}
	r.jobs[id] = job
	return nil
}

// CommitResult holds the job lock for the whole commit, so no reader sees COMPLETED
// without its result or its conversation.
func (r *MemoryRepo) CommitResult(ctx context.Context, c Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[c.Result.JobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	if _, exists := r.results[job.ID]; exists {
		return fmt.Errorf("result for job %s already exists", job.ID)
	}
	if err := r.convs.Seed(ctx, c.Session, c.Seed); err != nil {
		return fmt.Errorf("seed conversation: %w", err)
	}

	now := r.now()
	res := c.Result
	res.CreatedAt = now
	r.results[job.ID] = res
	job.Status = StatusCompleted
	job.UpdatedAt = now
	job.FinishedAt = &now
	r.jobs[job.ID] = job
	return nil
}

func (r *MemoryRepo) GetResult(ctx context.Context, jobID string) (AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisResult{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[jobID]
	if !ok {
		return AnalysisResult{}, ErrResultNotFound
	}
	return res, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Job
	for _, job := range r.jobs {
		if job.Status.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if !job.Status.Terminal() {
		return Job{}, ErrNotTerminal
	}
	if err := r.convs.DeleteByJob(ctx, id); err != nil {
		return Job{}, err
	}
	delete(r.results, id)
	delete(r.jobs, id)
	return job, nil
}

func mapAccountErr(err error) error {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return ErrAccountNotFound
	case errors.Is(err, accounts.ErrQuotaExceeded):
		return ErrQuotaExceeded
	default:
		return err
	}
}
