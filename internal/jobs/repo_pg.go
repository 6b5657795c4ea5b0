package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contract-backend/internal/accounts"
	"contract-backend/internal/conversations"
	"contract-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Admit runs the quota check, the increment and the job insert in one transaction.
// The subscription row lock serializes concurrent admissions for the same account.
func (r *PGRepo) Admit(ctx context.Context, job Job) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := accounts.ConsumeUploadTx(ctx, tx, job.AccountID); err != nil {
			return mapAccountErr(err)
		}
		const query = `
INSERT INTO jobs (id, account_id, file_name, storage_key, size_bytes, content_type, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
		if _, err := tx.ExecContext(ctx, query,
			job.ID,
			job.AccountID,
			job.FileName,
			job.StorageKey,
			job.SizeBytes,
			job.ContentType,
			string(StatusPending),
			job.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (Job, error) {
	return getJob(ctx, r.DB, id)
}

func (r *PGRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]JobSummary, error) {
	const query = `
SELECT j.id, j.file_name, j.created_at, j.status, COALESCE(r.overall_risk, 'UNKNOWN')
FROM jobs j
LEFT JOIN analysis_results r ON r.job_id = j.id
WHERE j.account_id = $1
ORDER BY j.created_at DESC, j.id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []JobSummary{}
	for rows.Next() {
		var s JobSummary
		if err := rows.Scan(&s.ID, &s.FileName, &s.CreatedAt, &s.Status, &s.OverallRisk); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) Transition(ctx context.Context, id string, from, to Status, errMsg string) error {
	if !CanTransition(from, to) || to == StatusCompleted {
		return ErrInvalidTransition
	}
	var query string
	args := []any{id, string(from), string(to)}
	switch to {
	case StatusProcessing:
		query = `
UPDATE jobs SET status = $3, started_at = now(), updated_at = now()
WHERE id = $1 AND status = $2`
	default:
		query = `
UPDATE jobs SET status = $3, error_message = $4, finished_at = now(), updated_at = now()
WHERE id = $1 AND status = $2`
		args = append(args, errMsg)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrConflict(ctx, r.DB, id)
	}
	return nil
}

func (r *PGRepo) CommitResult(ctx context.Context, c Commit) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE jobs SET status = 'COMPLETED', finished_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PROCESSING'`, c.Result.JobID)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return r.missOrConflict(ctx, tx, c.Result.JobID)
		}

		findings := []byte(c.Result.Findings)
		if len(findings) == 0 {
			findings = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO analysis_results (job_id, summary, overall_risk, risk_count, findings, model_used)
VALUES ($1, $2, $3, $4, $5, $6)`,
			c.Result.JobID,
			c.Result.Summary,
			string(c.Result.OverallRisk),
			c.Result.RiskCount,
			findings,
			c.Result.ModelUsed,
		); err != nil {
			return fmt.Errorf("insert analysis result: %w", err)
		}

		if err := conversations.SeedTx(ctx, tx, c.Session, c.Seed); err != nil {
			return fmt.Errorf("seed conversation: %w", err)
		}
		return nil
	})
}

func (r *PGRepo) GetResult(ctx context.Context, jobID string) (AnalysisResult, error) {
	var res AnalysisResult
	var findings []byte
	err := r.DB.QueryRowContext(ctx, `
SELECT job_id, summary, overall_risk, risk_count, findings, model_used, created_at
FROM analysis_results
WHERE job_id = $1`, jobID).Scan(&res.JobID, &res.Summary, &res.OverallRisk, &res.RiskCount, &findings, &res.ModelUsed, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AnalysisResult{}, ErrResultNotFound
		}
		return AnalysisResult{}, fmt.Errorf("get analysis result: %w", err)
	}
	res.Findings = findings
	return res, nil
}

// Delete removes a terminal job. Results and conversations go with it through ON DELETE CASCADE.
func (r *PGRepo) Delete(ctx context.Context, id string) (Job, error) {
	var job Job
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		job, err = getJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if !job.Status.Terminal() {
			return ErrNotTerminal
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status IN ('COMPLETED', 'FAILED')`, id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

func (r *PGRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, account_id, file_name, storage_key, size_bytes, content_type, status,
       error_message, created_at, updated_at, started_at, finished_at
FROM jobs
WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *PGRepo) missOrConflict(ctx context.Context, q db.DBTX, id string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getJob(ctx context.Context, q db.DBTX, id string) (Job, error) {
	const query = `
SELECT id, account_id, file_name, storage_key, size_bytes, content_type, status,
       error_message, created_at, updated_at, started_at, finished_at
FROM jobs
WHERE id = $1`
	job, err := scanJob(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&job.ID,
		&job.AccountID,
		&job.FileName,
		&job.StorageKey,
		&job.SizeBytes,
		&job.ContentType,
		&job.Status,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return Job{}, err
	}
	job.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}
