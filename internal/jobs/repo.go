package jobs

import (
	"context"
	"time"
)

type Repo interface {
	// Admit consumes one quota unit for job.AccountID and inserts job, all or nothing.
	Admit(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]JobSummary, error)
	// Transition moves a job from one status to the next. It returns ErrInvalidTransition
	// when the job is not currently in from. COMPLETED is only reachable through CommitResult.
	Transition(ctx context.Context, id string, from, to Status, errMsg string) error
	// CommitResult stores the result, flips PROCESSING->COMPLETED and seeds the
	// conversation as one unit.
	CommitResult(ctx context.Context, c Commit) error
	GetResult(ctx context.Context, jobID string) (AnalysisResult, error)
	// ListStale returns up to limit PENDING or PROCESSING jobs last updated before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Job, error)
	// Delete removes a terminal job with its result and conversation and returns it.
	Delete(ctx context.Context, id string) (Job, error)
}
