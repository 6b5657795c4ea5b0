package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"contract-backend/internal/accounts"
	"contract-backend/internal/conversations"
	"contract-backend/internal/engine"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/storage/object"
	"contract-backend/internal/shared/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	summaryFallback  = "N/A"
	staleBatch       = 500
)

// AccountReader resolves the submitting account and its quota snapshot.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (accounts.Account, error)
}

type Options struct {
	EngineTimeout time.Duration
	Language      string
	// MaxBytes caps how much of a stored document is loaded for analysis.
	MaxBytes int64
}

type Service struct {
	Repo       Repo
	Accounts   AccountReader
	Store      object.ObjectStore
	Engine     engine.Client
	Dispatcher queue.Client
	Opts       Options
	Now        func() time.Time
}

func NewService(repo Repo, accts AccountReader, store object.ObjectStore, eng engine.Client, dispatcher queue.Client, opts Options) *Service {
	if eng == nil {
		eng = engine.Unconfigured{}
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = engine.DefaultTimeout
	}
	if opts.Language == "" {
		opts.Language = "vi"
	}
	return &Service{
		Repo:       repo,
		Accounts:   accts,
		Store:      store,
		Engine:     eng,
		Dispatcher: dispatcher,
		Opts:       opts,
	}
}

type SubmitInput struct {
	AccountID   string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Submit admits a document: it stores the bytes, consumes one quota unit together
// with creating the PENDING job, and hands the job to the dispatcher. It never waits
// for the analysis.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Job, error) {
	if strings.TrimSpace(in.AccountID) == "" {
		return Job{}, ErrAccountNotFound
	}
	if in.Body == nil {
		return Job{}, ErrEmptyFile
	}
	account, err := s.Accounts.GetByID(ctx, in.AccountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return Job{}, ErrAccountNotFound
		}
		return Job{}, fmt.Errorf("load account: %w", err)
	}
	if !account.Subscription.HasCapacity() {
		metrics.IncJobsRejected()
		return Job{}, ErrQuotaExceeded
	}

	fileName := strings.TrimSpace(in.FileName)
	if fileName == "" {
		fileName = "document"
	}
	blob, err := s.Store.Save(ctx, account.ID, fileName, in.Body)
	if err != nil {
		return Job{}, fmt.Errorf("store document: %w", err)
	}
	if blob.Size == 0 {
		s.discardBlob(ctx, blob.Key)
		return Job{}, ErrEmptyFile
	}

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = blob.MimeType
	}
	job := Job{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		FileName:    fileName,
		StorageKey:  blob.Key,
		SizeBytes:   blob.Size,
		ContentType: contentType,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	job.UpdatedAt = job.CreatedAt

	if err := s.Repo.Admit(ctx, job); err != nil {
		s.discardBlob(ctx, blob.Key)
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.IncJobsRejected()
		}
		return Job{}, err
	}
	metrics.IncJobsAdmitted()
	s.logStatus(ctx, job.ID, "->PENDING", job.CreatedAt, map[string]any{
		"account_id": job.AccountID,
		"size_bytes": job.SizeBytes,
	})

	if err := s.dispatch(ctx, job); err != nil {
		started := s.now()
		if terr := s.Repo.Transition(ctx, job.ID, StatusPending, StatusProcessing, ""); terr == nil {
			s.fail(ctx, job.ID, err, "dispatch_failed", FailureDispatch, started)
			job.Status = StatusFailed
			job.ErrorMessage = FailureDispatch
		} else {
			telemetry.Error("job.dispatch_failed", map[string]any{"job_id": job.ID, "error": terr})
		}
	}
	return job, nil
}

func (s *Service) dispatch(ctx context.Context, job Job) error {
	if s.Dispatcher == nil {
		return errors.New("no dispatcher configured")
	}
	return s.Dispatcher.Send(ctx, queue.NewMessage(job.ID, requestIDFromContext(ctx), s.now()))
}

// ProcessJob runs the single analysis attempt for a job. Jobs that are gone or already
// past PENDING are skipped without error. Engine, storage and commit failures land the
// job in FAILED and also return nil; only a failure to claim the job is returned.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	started := s.now()
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			telemetry.Warn("job.skipped", map[string]any{"job_id": jobID, "reason": "not_found"})
			return nil
		}
		return err
	}

	if err := s.Repo.Transition(ctx, jobID, StatusPending, StatusProcessing, ""); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			telemetry.Warn("job.skipped", map[string]any{
				"job_id": jobID,
				"status": string(job.Status),
				"reason": "not_pending",
			})
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}
	metrics.IncJobsStarted()
	s.logStatus(ctx, jobID, "PENDING->PROCESSING", started, nil)

	defer func() {
		if p := recover(); p != nil {
			s.fail(ctx, jobID, fmt.Errorf("panic: %v", p), "panic", FailureEngine, started)
		}
	}()

	data, err := object.ReadAll(ctx, s.Store, job.StorageKey, s.Opts.MaxBytes)
	if err != nil {
		s.fail(ctx, jobID, err, "storage_read", FailureEngine, started)
		return nil
	}

	findings, err := s.analyze(ctx, job, data)
	if err != nil {
		s.fail(ctx, jobID, err, engine.ErrorCode(err), FailureEngine, started)
		return nil
	}

	commit := buildCommit(job, findings)
	if err := s.Repo.CommitResult(ctx, commit); err != nil {
		s.fail(ctx, jobID, err, "commit_failed", FailureEngine, started)
		return nil
	}
	metrics.IncJobsCompleted()
	metrics.ObserveJobMs(float64(s.now().Sub(started).Milliseconds()))
	s.logStatus(ctx, jobID, "PROCESSING->COMPLETED", started, map[string]any{
		"overall_risk": string(commit.Result.OverallRisk),
		"risk_count":   commit.Result.RiskCount,
		"model":        commit.Result.ModelUsed,
	})
	return nil
}

// AbandonJob fails a job whose dispatched attempt will never run, such as a task
// still queued in the in-process pool at shutdown. Jobs already past PENDING are
// left to their running attempt.
func (s *Service) AbandonJob(ctx context.Context, jobID string) error {
	bg := backgroundWithRequestID(ctx)
	started := s.now()
	if err := s.Repo.Transition(bg, jobID, StatusPending, StatusProcessing, ""); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("claim abandoned job: %w", err)
	}
	s.fail(ctx, jobID, errors.New("task dropped before it ran"), "dispatch_dropped", FailureDispatch, started)
	return nil
}

// FailStale fails PENDING and PROCESSING jobs last updated before cutoff. It is the
// startup sweep for in-process dispatch, where nothing redelivers a lost attempt.
func (s *Service) FailStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.Repo.ListStale(ctx, cutoff, staleBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	failed := 0
	for _, job := range stale {
		started := s.now()
		if job.Status == StatusPending {
			if err := s.Repo.Transition(ctx, job.ID, StatusPending, StatusProcessing, ""); err != nil {
				if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
					continue
				}
				return failed, fmt.Errorf("claim stale job: %w", err)
			}
		}
		s.fail(ctx, job.ID, errors.New("stale after restart"), "stale", FailureDispatch, started)
		failed++
	}
	if failed > 0 {
		telemetry.Warn("job.stale_failed", map[string]any{"count": failed, "cutoff": cutoff})
	}
	return failed, nil
}

func (s *Service) analyze(ctx context.Context, job Job, data []byte) (engine.Findings, error) {
	engineCtx, cancel := context.WithTimeout(ctx, s.Opts.EngineTimeout)
	defer cancel()

	began := time.Now()
	findings, err := s.Engine.Analyze(engineCtx, engine.Request{
		FileName: engine.SanitizeName(job.FileName),
		Format:   engine.DetectFormat(job.ContentType, job.FileName),
		Content:  data,
		Language: s.Opts.Language,
	})
	metrics.ObserveEngineMs(float64(time.Since(began).Milliseconds()))
	if err == nil && errors.Is(engineCtx.Err(), context.DeadlineExceeded) {
		err = engine.ErrTimeout
	}
	return findings, err
}

func buildCommit(job Job, f engine.Findings) Commit {
	summary := strings.TrimSpace(f.Summary)
	if summary == "" {
		summary = summaryFallback
	}
	risk := MapRisk(f.OverallRiskLevel)
	count := len(f.RiskItems)

	return Commit{
		Result: AnalysisResult{
			JobID:       job.ID,
			Summary:     summary,
			OverallRisk: risk,
			RiskCount:   count,
			Findings:    f.Raw,
			ModelUsed:   f.Model,
		},
		Session: conversations.Session{
			ID:        uuid.NewString(),
			AccountID: job.AccountID,
			JobID:     job.ID,
			Title:     conversations.TitleAnalysis,
		},
		Seed: conversations.Message{
			ID:      uuid.NewString(),
			Role:    conversations.RoleAI,
			Content: seedMessage(risk, summary, count),
		},
	}
}

func seedMessage(risk Risk, summary string, count int) string {
	return fmt.Sprintf("Phân tích hoàn tất!\n\nĐánh giá: **%s**\nTóm tắt: %s\n\nTìm thấy **%d vấn đề** tiềm ẩn.", risk, summary, count)
}

// fail is the only route to FAILED. It writes on a fresh context so a cancelled
// processing context cannot strand the job in PROCESSING.
func (s *Service) fail(ctx context.Context, jobID string, cause error, code, detail string, started time.Time) {
	bg := backgroundWithRequestID(ctx)
	if err := s.Repo.Transition(bg, jobID, StatusProcessing, StatusFailed, detail); err != nil {
		telemetry.Error("job.fail_update", map[string]any{"job_id": jobID, "error": err})
		return
	}
	metrics.IncJobsFailed()
	telemetry.Error("job.status", map[string]any{
		"job_id":            jobID,
		"request_id":        requestIDFromContext(ctx),
		"status_transition": "PROCESSING->FAILED",
		"duration_ms":       s.now().Sub(started).Milliseconds(),
		"error_code":        code,
		"error":             cause,
	})
}

func (s *Service) discardBlob(ctx context.Context, key string) {
	if err := s.Store.Delete(backgroundWithRequestID(ctx), key); err != nil && !errors.Is(err, object.ErrNotFound) {
		telemetry.Warn("job.blob_cleanup_failed", map[string]any{"storage_key": key, "error": err})
	}
}

// Detail is a job as its owner sees it.
type Detail struct {
	Job    Job
	Result *AnalysisResult
}

// Get returns the job with its result when completed. Jobs of other accounts are ErrNotFound.
func (s *Service) Get(ctx context.Context, accountID, id string) (Detail, error) {
	job, err := s.owned(ctx, accountID, id)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Job: job}
	if job.Status == StatusCompleted {
		res, err := s.Repo.GetResult(ctx, id)
		if err != nil {
			return Detail{}, err
		}
		d.Result = &res
	}
	return d, nil
}

// List returns the account's jobs newest first.
func (s *Service) List(ctx context.Context, accountID string, limit, offset int) ([]JobSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.Repo.ListByAccount(ctx, accountID, limit, offset)
}

// Delete removes a finished job with its result, conversation and stored bytes.
// Consumed quota stays consumed.
func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	if _, err := s.owned(ctx, accountID, id); err != nil {
		return err
	}
	job, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.discardBlob(ctx, job.StorageKey)
	telemetry.Info("job.deleted", map[string]any{"job_id": id, "account_id": accountID})
	return nil
}

// JobContext lets the conversation layer check ownership and ground replies.
func (s *Service) JobContext(ctx context.Context, jobID string) (conversations.JobContext, error) {
	job, err := s.Repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return conversations.JobContext{}, conversations.ErrJobNotAvailable
		}
		return conversations.JobContext{}, err
	}
	jc := conversations.JobContext{AccountID: job.AccountID}
	if job.Status == StatusCompleted {
		if res, err := s.Repo.GetResult(ctx, jobID); err == nil {
			jc.Summary = res.Summary
		}
	}
	return jc, nil
}

func (s *Service) owned(ctx context.Context, accountID, id string) (Job, error) {
	job, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.AccountID != accountID {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) logStatus(ctx context.Context, jobID, transition string, started time.Time, extra map[string]any) {
	fields := map[string]any{
		"job_id":            jobID,
		"request_id":        requestIDFromContext(ctx),
		"status_transition": transition,
		"duration_ms":       s.now().Sub(started).Milliseconds(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("job.status", fields)
}
