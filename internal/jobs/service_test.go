package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"contract-backend/internal/accounts"
	"contract-backend/internal/conversations"
	"contract-backend/internal/engine"
	"contract-backend/internal/queue"
	"contract-backend/internal/shared/storage/object/local"
	"contract-backend/internal/shared/telemetry"
)

type fakeEngine struct {
	mu   sync.Mutex
	reqs []engine.Request
	fn   func(ctx context.Context, req engine.Request) (engine.Findings, error)
}

func (f *fakeEngine) Analyze(ctx context.Context, req engine.Request) (engine.Findings, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func findingsEngine(level string, items int) *fakeEngine {
	return &fakeEngine{fn: func(context.Context, engine.Request) (engine.Findings, error) {
		f := engine.Findings{
			Summary:          "Hợp đồng thuê nhà 12 tháng",
			OverallRiskLevel: level,
			Raw:              []byte(`{"summary":"Hợp đồng thuê nhà 12 tháng"}`),
			Model:            "contract-v1",
		}
		for i := 0; i < items; i++ {
			f.RiskItems = append(f.RiskItems, []byte(`{"clause":"x"}`))
		}
		return f, nil
	}}
}

// inlineDispatcher runs ProcessJob on its own goroutine and lets tests wait for it.
type inlineDispatcher struct {
	svc *Service
	wg  sync.WaitGroup
	err error
}

func (d *inlineDispatcher) Send(ctx context.Context, msg queue.Message) error {
	if d.err != nil {
		return d.err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.svc.ProcessJob(WithRequestID(context.Background(), msg.RequestID), msg.JobID)
	}()
	return nil
}

type harness struct {
	svc      *Service
	repo     *MemoryRepo
	accounts *accounts.MemoryRepo
	convs    *conversations.MemoryRepo
	store    *local.Store
	dispatch *inlineDispatcher
	engine   *fakeEngine
}

func newHarness(t *testing.T, eng *fakeEngine, maxUploads, consumed int) *harness {
	t.Helper()
	acctRepo := accounts.NewMemoryRepo()
	now := time.Now().UTC()
	if err := acctRepo.Create(context.Background(), accounts.Account{
		ID:    "acc-1",
		Email: "a@b.vn",
		Subscription: accounts.Subscription{
			PlanType:       accounts.PlanFreeTrial,
			MaxUploads:     maxUploads,
			CurrentUploads: consumed,
			StartDate:      now,
			EndDate:        now.AddDate(0, 0, 30),
		},
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	convs := conversations.NewMemoryRepo()
	repo := NewMemoryRepo(acctRepo, convs)
	store := local.New(t.TempDir())
	d := &inlineDispatcher{}
	svc := NewService(repo, acctRepo, store, eng, d, Options{EngineTimeout: time.Second, Language: "vi"})
	d.svc = svc

	var mu sync.Mutex
	clock := now
	svc.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return &harness{svc: svc, repo: repo, accounts: acctRepo, convs: convs, store: store, dispatch: d, engine: eng}
}

func (h *harness) submit(t *testing.T, name, contentType string) (Job, error) {
	t.Helper()
	return h.svc.Submit(context.Background(), SubmitInput{
		AccountID:   "acc-1",
		FileName:    name,
		ContentType: contentType,
		Body:        strings.NewReader("PK nội dung hợp đồng"),
	})
}

func (h *harness) consumed(t *testing.T) int {
	t.Helper()
	acct, err := h.accounts.GetByID(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct.Subscription.CurrentUploads
}

func TestSubmitRejectsExhaustedQuota(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 5)

	if _, err := h.submit(t, "a.pdf", "application/pdf"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	list, _ := h.svc.List(context.Background(), "acc-1", 0, 0)
	if len(list) != 0 {
		t.Fatalf("expected no jobs, got %d", len(list))
	}
	if got := h.consumed(t); got != 5 {
		t.Fatalf("expected consumed to stay 5, got %d", got)
	}
}

func TestSubmitUnknownAccount(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	_, err := h.svc.Submit(context.Background(), SubmitInput{AccountID: "nobody", FileName: "a.pdf", Body: strings.NewReader("x")})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSubmitEmptyFile(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	_, err := h.svc.Submit(context.Background(), SubmitInput{AccountID: "acc-1", FileName: "a.pdf", Body: strings.NewReader("")})
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if got := h.consumed(t); got != 0 {
		t.Fatalf("empty file must not consume quota, got %d", got)
	}
}

func TestSubmitCompletesWithSeededConversation(t *testing.T) {
	h := newHarness(t, findingsEngine("critical", 3), 5, 4)

	job, err := h.submit(t, "Hợp đồng.docx", "application/octet-stream")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("expected PENDING from admission, got %s", job.Status)
	}
	if got := h.consumed(t); got != 5 {
		t.Fatalf("expected consumed 5, got %d", got)
	}
	h.dispatch.wg.Wait()

	d, err := h.svc.Get(context.Background(), "acc-1", job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Job.Status != StatusCompleted || d.Result == nil {
		t.Fatalf("expected completed job with result, got %+v", d)
	}
	if d.Result.OverallRisk != RiskHigh || d.Result.RiskCount != 3 || d.Result.ModelUsed != "contract-v1" {
		t.Fatalf("unexpected result %+v", d.Result)
	}

	req := h.engine.reqs[0]
	if req.FileName != "Hop dong" || req.Format != engine.FormatDOCX || req.Language != "vi" {
		t.Fatalf("unexpected engine request %+v", req)
	}

	session, err := h.convs.GetSessionByJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("expected seeded session: %v", err)
	}
	if session.Title != conversations.TitleAnalysis {
		t.Fatalf("unexpected session title %q", session.Title)
	}
	msgs, _ := h.convs.ListMessages(context.Background(), session.ID)
	if len(msgs) != 1 || msgs[0].Role != conversations.RoleAI {
		t.Fatalf("expected one AI seed message, got %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "HIGH") || !strings.Contains(msgs[0].Content, "3 vấn đề") {
		t.Fatalf("seed message misses risk or count: %q", msgs[0].Content)
	}
}

func TestEngineTimeoutFailsJobWithoutRefund(t *testing.T) {
	eng := &fakeEngine{fn: func(ctx context.Context, _ engine.Request) (engine.Findings, error) {
		<-ctx.Done()
		return engine.Findings{}, ctx.Err()
	}}
	h := newHarness(t, eng, 5, 4)
	h.svc.Opts.EngineTimeout = 20 * time.Millisecond

	job, err := h.submit(t, "a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.dispatch.wg.Wait()

	got, _ := h.repo.GetByID(context.Background(), job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != FailureEngine {
		t.Fatalf("expected FAILED with fixed detail, got %+v", got)
	}
	if _, err := h.repo.GetResult(context.Background(), job.ID); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("failed job must have no result, got %v", err)
	}
	if c := h.consumed(t); c != 5 {
		t.Fatalf("quota must not be refunded, got %d", c)
	}
}

func TestEnvelopedEngineResponse(t *testing.T) {
	eng := &fakeEngine{fn: func(context.Context, engine.Request) (engine.Findings, error) {
		return engine.ParseResponse([]byte(`{"body":"{\"analysis\":{\"summary\":\"S\",\"overall_risk_level\":\"Medium\",\"risk_items\":[{}]},\"model\":\"m\"}"}`))
	}}
	h := newHarness(t, eng, 5, 0)

	job, err := h.submit(t, "a.txt", "text/plain")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.dispatch.wg.Wait()

	res, err := h.repo.GetResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.OverallRisk != RiskMedium || res.Summary != "S" || res.RiskCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngineErrorsFailJob(t *testing.T) {
	cases := map[string]func(context.Context, engine.Request) (engine.Findings, error){
		"malformed": func(context.Context, engine.Request) (engine.Findings, error) {
			return engine.ParseResponse([]byte(`{"body":"not json"}`))
		},
		"status": func(context.Context, engine.Request) (engine.Findings, error) {
			return engine.Findings{}, engine.ErrStatus
		},
		"panic": func(context.Context, engine.Request) (engine.Findings, error) {
			panic("engine exploded")
		},
	}
	for name, fn := range cases {
		h := newHarness(t, &fakeEngine{fn: fn}, 5, 0)
		job, err := h.submit(t, "a.pdf", "application/pdf")
		if err != nil {
			t.Fatalf("%s: Submit: %v", name, err)
		}
		h.dispatch.wg.Wait()
		got, _ := h.repo.GetByID(context.Background(), job.ID)
		if got.Status != StatusFailed {
			t.Fatalf("%s: expected FAILED, got %s", name, got.Status)
		}
	}
}

func TestEmptySummaryDefaults(t *testing.T) {
	eng := &fakeEngine{fn: func(context.Context, engine.Request) (engine.Findings, error) {
		return engine.Findings{OverallRiskLevel: "something"}, nil
	}}
	h := newHarness(t, eng, 5, 0)
	job, _ := h.submit(t, "a.pdf", "application/pdf")
	h.dispatch.wg.Wait()

	res, err := h.repo.GetResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.Summary != "N/A" || res.OverallRisk != RiskLow {
		t.Fatalf("unexpected defaults %+v", res)
	}
}

type failingSeeder struct{}

func (failingSeeder) Seed(context.Context, conversations.Session, conversations.Message) error {
	return errors.New("disk full")
}

func (failingSeeder) DeleteByJob(context.Context, string) error { return nil }

func TestCommitFailureLeavesNoResult(t *testing.T) {
	h := newHarness(t, findingsEngine("HIGH", 1), 5, 0)
	h.repo.convs = failingSeeder{}

	job, err := h.submit(t, "a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.dispatch.wg.Wait()

	got, _ := h.repo.GetByID(context.Background(), job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected FAILED after commit error, got %s", got.Status)
	}
	if _, err := h.repo.GetResult(context.Background(), job.ID); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected no result, got %v", err)
	}
}

func TestDispatchFailureFailsJob(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	h.dispatch.err = errors.New("queue down")

	job, err := h.submit(t, "a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := h.repo.GetByID(context.Background(), job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != FailureDispatch {
		t.Fatalf("expected dispatch failure, got %+v", got)
	}
	if got.StartedAt == nil {
		t.Fatalf("expected the job to pass through PROCESSING")
	}
	if c := h.consumed(t); c != 1 {
		t.Fatalf("expected admitted quota to stay consumed, got %d", c)
	}
}

func TestProcessJobRedeliveryIsNoop(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	job, _ := h.submit(t, "a.pdf", "application/pdf")
	h.dispatch.wg.Wait()

	if err := h.svc.ProcessJob(context.Background(), job.ID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}
	if err := h.svc.ProcessJob(context.Background(), "missing"); err != nil {
		t.Fatalf("ProcessJob on missing job: %v", err)
	}
	if n := len(h.engine.reqs); n != 1 {
		t.Fatalf("expected exactly one engine call, got %d", n)
	}
}

func TestConcurrentSubmissionsRespectQuota(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.submit(t, "a.pdf", "application/pdf")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrQuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	h.dispatch.wg.Wait()

	if admitted != 5 || rejected != 25 {
		t.Fatalf("expected 5 admitted and 25 rejected, got %d/%d", admitted, rejected)
	}
	if c := h.consumed(t); c != 5 {
		t.Fatalf("expected consumed 5, got %d", c)
	}
	list, _ := h.svc.List(context.Background(), "acc-1", 100, 0)
	if len(list) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(list))
	}
}

func TestListNewestFirstWithUnknownRisk(t *testing.T) {
	block := make(chan struct{})
	eng := &fakeEngine{fn: func(ctx context.Context, _ engine.Request) (engine.Findings, error) {
		<-block
		return engine.Findings{Summary: "s", OverallRiskLevel: "HIGH"}, nil
	}}
	h := newHarness(t, eng, 5, 0)

	first, _ := h.submit(t, "first.pdf", "application/pdf")
	second, _ := h.submit(t, "second.pdf", "application/pdf")

	list, err := h.svc.List(context.Background(), "acc-1", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	for _, s := range list {
		if s.OverallRisk != RiskUnknown {
			t.Fatalf("expected UNKNOWN risk before completion, got %s", s.OverallRisk)
		}
	}
	close(block)
	h.dispatch.wg.Wait()

	list, _ = h.svc.List(context.Background(), "acc-1", 1, 1)
	if len(list) != 1 || list[0].ID != first.ID || list[0].OverallRisk != RiskHigh {
		t.Fatalf("unexpected page %+v", list)
	}
}

func TestGetAndDeleteEnforceOwnership(t *testing.T) {
	block := make(chan struct{})
	eng := &fakeEngine{fn: func(context.Context, engine.Request) (engine.Findings, error) {
		<-block
		return engine.Findings{Summary: "s", OverallRiskLevel: "LOW"}, nil
	}}
	h := newHarness(t, eng, 5, 0)
	job, _ := h.submit(t, "a.pdf", "application/pdf")

	if _, err := h.svc.Get(context.Background(), "acc-2", job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected foreign job hidden, got %v", err)
	}
	if err := h.svc.Delete(context.Background(), "acc-1", job.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal while running, got %v", err)
	}
	close(block)
	h.dispatch.wg.Wait()

	stored, _ := h.repo.GetByID(context.Background(), job.ID)
	if err := h.svc.Delete(context.Background(), "acc-1", job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.repo.GetByID(context.Background(), job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected job removed, got %v", err)
	}
	if _, err := h.convs.GetSessionByJob(context.Background(), job.ID); !errors.Is(err, conversations.ErrNotFound) {
		t.Fatalf("expected conversation removed, got %v", err)
	}
	if _, err := h.store.Open(context.Background(), stored.StorageKey); err == nil {
		t.Fatalf("expected stored document removed")
	}
	if c := h.consumed(t); c != 1 {
		t.Fatalf("delete must not refund quota, got %d", c)
	}
}

func TestJobContextForConversations(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	job, _ := h.submit(t, "a.pdf", "application/pdf")
	h.dispatch.wg.Wait()

	jc, err := h.svc.JobContext(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("JobContext: %v", err)
	}
	if jc.AccountID != "acc-1" || jc.Summary == "" {
		t.Fatalf("unexpected job context %+v", jc)
	}
	if _, err := h.svc.JobContext(context.Background(), "missing"); !errors.Is(err, conversations.ErrJobNotAvailable) {
		t.Fatalf("expected ErrJobNotAvailable, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestMapRisk(t *testing.T) {
	cases := map[string]Risk{"CRITICAL": RiskHigh, "high": RiskHigh, " Medium ": RiskMedium, "low": RiskLow, "": RiskLow, "weird": RiskLow}
	for in, want := range cases {
		if got := MapRisk(in); got != want {
			t.Fatalf("MapRisk(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestAbandonJobFailsPendingJob(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	job := Job{ID: "job-queued", AccountID: "acc-1", FileName: "a.pdf", StorageKey: "k", SizeBytes: 1, Status: StatusPending}
	if err := h.repo.Admit(context.Background(), job); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	if err := h.svc.AbandonJob(context.Background(), job.ID); err != nil {
		t.Fatalf("AbandonJob: %v", err)
	}
	got, _ := h.repo.GetByID(context.Background(), job.ID)
	if got.Status != StatusFailed || got.ErrorMessage != FailureDispatch {
		t.Fatalf("expected abandoned job to fail, got %+v", got)
	}
	if err := h.svc.AbandonJob(context.Background(), job.ID); err != nil {
		t.Fatalf("second AbandonJob: %v", err)
	}
	if err := h.svc.AbandonJob(context.Background(), "missing"); err != nil {
		t.Fatalf("AbandonJob on missing job: %v", err)
	}
}

func TestAbandonJobLeavesRunningJob(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	job := Job{ID: "job-running", AccountID: "acc-1", FileName: "a.pdf", StorageKey: "k", SizeBytes: 1, Status: StatusPending}
	if err := h.repo.Admit(context.Background(), job); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := h.repo.Transition(context.Background(), job.ID, StatusPending, StatusProcessing, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if err := h.svc.AbandonJob(context.Background(), job.ID); err != nil {
		t.Fatalf("AbandonJob: %v", err)
	}
	got, _ := h.repo.GetByID(context.Background(), job.ID)
	if got.Status != StatusProcessing {
		t.Fatalf("expected running job untouched, got %s", got.Status)
	}
}

func TestFailStaleSweepsOnlyOldUnfinishedJobs(t *testing.T) {
	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	base := time.Now().UTC()
	clock := base
	h.repo.now = func() time.Time { return clock }
	ctx := context.Background()

	admit := func(id string) {
		t.Helper()
		if err := h.repo.Admit(ctx, Job{ID: id, AccountID: "acc-1", FileName: "a.pdf", StorageKey: "k", SizeBytes: 1, Status: StatusPending}); err != nil {
			t.Fatalf("Admit %s: %v", id, err)
		}
	}
	admit("old-pending")
	admit("old-running")
	if err := h.repo.Transition(ctx, "old-running", StatusPending, StatusProcessing, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	admit("old-done")
	if err := h.repo.Transition(ctx, "old-done", StatusPending, StatusProcessing, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := h.repo.Transition(ctx, "old-done", StatusProcessing, StatusFailed, FailureEngine); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	clock = base.Add(time.Hour)
	admit("fresh")

	n, err := h.svc.FailStale(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stale jobs failed, got %d", n)
	}
	for id, want := range map[string]Status{
		"old-pending": StatusFailed,
		"old-running": StatusFailed,
		"old-done":    StatusFailed,
		"fresh":       StatusPending,
	} {
		got, _ := h.repo.GetByID(ctx, id)
		if got.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, got.Status)
		}
	}
	got, _ := h.repo.GetByID(ctx, "old-done")
	if got.ErrorMessage != FailureEngine {
		t.Fatalf("expected finished job detail kept, got %q", got.ErrorMessage)
	}
}

func TestStatusLogsUseServiceClock(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := telemetry.L()
	telemetry.SetLogger(zap.New(core))
	t.Cleanup(func() { telemetry.SetLogger(prev) })

	h := newHarness(t, findingsEngine("LOW", 0), 5, 0)
	h.dispatch.err = errors.New("queue down")
	if _, err := h.submit(t, "a.pdf", "application/pdf"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	entries := logs.FilterMessage("job.status").All()
	if len(entries) == 0 {
		t.Fatalf("expected job.status entries")
	}
	for _, e := range entries {
		ms, ok := e.ContextMap()["duration_ms"].(int64)
		if !ok || ms < 0 {
			t.Fatalf("expected non-negative duration_ms, got %#v in %v", e.ContextMap()["duration_ms"], e.ContextMap())
		}
	}
}
