package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/adapter/memory"
	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// fakeProvider fails sources whose name contains "fail" and never finishes
// sources whose name contains "slow".
type fakeProvider struct {
	mu      sync.Mutex
	jobs    map[string]string
	submits atomic.Int32
	polls   atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{jobs: map[string]string{}}
}

func (p *fakeProvider) Submit(ctx context.Context, req enhance.SubmitRequest) (string, error) {
	n := p.submits.Add(1)
	id := fmt.Sprintf("job-%d", n)
	p.mu.Lock()
	p.jobs[id] = req.SourceURL
	p.mu.Unlock()
	return id, nil
}

func (p *fakeProvider) Poll(ctx context.Context, jobID string) (*enhance.PollResult, error) {
	p.polls.Add(1)
	p.mu.Lock()
	src := p.jobs[jobID]
	p.mu.Unlock()
	switch {
	case strings.Contains(src, "fail"):
		return &enhance.PollResult{Status: enhance.JobFailed, Error: "content rejected"}, nil
	case strings.Contains(src, "slow"):
		return &enhance.PollResult{Status: enhance.JobProcessing}, nil
	}
	return &enhance.PollResult{Status: enhance.JobCompleted, OutputURL: "https://provider.test/out/" + jobID}, nil
}

func (p *fakeProvider) Fetch(ctx context.Context, outputURL string) ([]byte, string, error) {
	return pngBytes, "image/png", nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches []domain.Batch
}

func (n *recordingNotifier) BatchFinished(ctx context.Context, b domain.Batch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, b)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.batches)
}

// flakyStore fails Put for keys matching failKey.
type flakyStore struct {
	*storage.MemoryStore
	failKey func(key string) bool
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.failKey != nil && s.failKey(key) {
		return errors.New("disk full")
	}
	return s.MemoryStore.Put(ctx, key, data, contentType)
}

type harness struct {
	orch     *Orchestrator
	repo     *memory.Store
	ledger   *credits.Ledger
	provider *fakeProvider
	notifier *recordingNotifier
	blobs    *flakyStore
	dispatch *LocalDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.NewStore()
	ledger := credits.NewLedger(repo, zerolog.Nop())
	provider := newFakeProvider()
	notifier := &recordingNotifier{}
	blobs := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	orch := NewOrchestrator(ledger, repo, blobs, provider, notifier, Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 3,
	}, zerolog.Nop())
	d := NewLocalDispatcher(orch, time.Minute, zerolog.Nop())
	orch.SetDispatcher(d)
	return &harness{orch: orch, repo: repo, ledger: ledger, provider: provider, notifier: notifier, blobs: blobs, dispatch: d}
}

func sources(names ...string) []Source {
	out := make([]Source, len(names))
	for i, n := range names {
		out[i] = Source{Filename: n, Data: pngBytes}
	}
	return out
}

func TestSubmitTwoSucceedOneFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.ledger.TopUp(ctx, "u1", 10, "seed"); err != nil {
		t.Fatalf("TopUp error: %v", err)
	}

	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Mode: "studio", Shape: "square", Locale: "en", Sources: sources("a.png", "fail.png", "c.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if res.CreditsCharged != 3 || res.TotalItems != 3 {
		t.Fatalf("unexpected submit result %+v", res)
	}
	h.dispatch.Wait()

	b, err := h.repo.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch error: %v", err)
	}
	if b.Status != domain.BatchStatusCompleted || b.CompletedCount != 2 || b.FailedCount != 1 {
		t.Fatalf("unexpected batch state %+v", b)
	}
	if b.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 7 {
		t.Fatalf("expected 7 credits left, got %d", got)
	}
	entries, _ := h.ledger.History(ctx, "u1", 0)
	for _, e := range entries {
		if e.Source == domain.LedgerSourceRefund {
			t.Fatalf("unexpected refund entry %+v", e)
		}
	}

	items, _ := h.repo.ListItems(ctx, res.BatchID)
	for _, it := range items {
		switch it.Status {
		case domain.ItemStatusCompleted:
			if it.Progress != 100 || it.SignedURL == "" || it.OutputPath != storage.OutputKey("u1", res.BatchID, it.Position, ".png") {
				t.Fatalf("completed item missing output metadata: %+v", it)
			}
		case domain.ItemStatusFailed:
			if !strings.Contains(it.ErrorMessage, "content rejected") {
				t.Fatalf("failed item error = %q", it.ErrorMessage)
			}
		default:
			t.Fatalf("item %d left in %s", it.Position, it.Status)
		}
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.count())
	}
}

func TestSubmitAllUploadsFailRefunds(t *testing.T) {
	h := newHarness(t)
	h.blobs.failKey = func(string) bool { return true }
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 5, "seed")

	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("1.png", "2.png", "3.png", "4.png", "5.png")})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	b, err := h.repo.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch error: %v", err)
	}
	if b.Status != domain.BatchStatusFailed || b.TotalItems != 0 || b.CreditsCharged != 0 {
		t.Fatalf("unexpected batch %+v", b)
	}
	if items, _ := h.repo.ListItems(ctx, res.BatchID); len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 5 {
		t.Fatalf("expected full refund, balance %d", got)
	}
	if h.provider.submits.Load() != 0 {
		t.Fatal("provider called for a failed batch")
	}
}

func TestSubmitPartialIngestionChargesAcceptedOnly(t *testing.T) {
	h := newHarness(t)
	h.blobs.failKey = func(key string) bool { return strings.Contains(key, "broken") }
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")

	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "broken.png", "c.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	h.dispatch.Wait()
	if res.CreditsCharged != 2 || res.TotalItems != 2 || res.Rejected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 8 {
		t.Fatalf("expected 8 credits left, got %d", got)
	}
	items, _ := h.repo.ListItems(ctx, res.BatchID)
	if len(items) != 2 || items[0].Position != 1 || items[1].Position != 2 {
		t.Fatalf("expected contiguous positions, got %+v", items)
	}
	b, _ := h.repo.GetBatch(ctx, res.BatchID)
	if b.Status != domain.BatchStatusCompleted || b.CompletedCount != 2 {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 2, "seed")

	_, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("1.png", "2.png", "3.png", "4.png", "5.png")})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 2 {
		t.Fatalf("balance changed to %d", got)
	}
	if list, _ := h.repo.ListBatches(ctx, "u1", 10); len(list) != 0 {
		t.Fatalf("batch created despite rejection: %+v", list)
	}
	if len(h.blobs.Keys()) != 0 {
		t.Fatal("sources stored despite rejection")
	}
}

func TestValidateRejectsBeforeCharging(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 50, "seed")

	cases := []struct {
		name string
		in   SubmitInput
	}{
		{"no images", SubmitInput{UserID: "u1"}},
		{"too many", SubmitInput{UserID: "u1", Sources: sources("1.png", "2.png", "3.png", "4.png", "5.png", "6.png", "7.png", "8.png", "9.png", "10.png", "11.png")}},
		{"not an image", SubmitInput{UserID: "u1", Sources: []Source{{Filename: "notes.txt", Data: []byte("hello")}}}},
		{"unknown mode", SubmitInput{UserID: "u1", Mode: "cartoon", Sources: sources("a.png")}},
		{"unknown shape", SubmitInput{UserID: "u1", Shape: "banner", Sources: sources("a.png")}},
		{"missing user", SubmitInput{Sources: sources("a.png")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.orch.Submit(ctx, tc.in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 50 {
		t.Fatalf("balance changed to %d", got)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "b.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	h.dispatch.Wait()
	submits := h.provider.submits.Load()

	for i := 0; i < 3; i++ {
		out, err := h.orch.Process(ctx, res.BatchID)
		if err != nil {
			t.Fatalf("Process error: %v", err)
		}
		if out.Status != domain.BatchStatusCompleted || out.Completed != 2 {
			t.Fatalf("unexpected result %+v", out)
		}
	}
	if h.provider.submits.Load() != submits {
		t.Fatal("re-dispatch submitted work again")
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.count())
	}
}

func TestConcurrentDispatchCountsEachItemOnce(t *testing.T) {
	h := newHarness(t)
	h.orch.SetDispatcher(nil)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "fail.png", "c.png", "d.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.Process(ctx, res.BatchID)
		}()
	}
	wg.Wait()

	b, _ := h.repo.GetBatch(ctx, res.BatchID)
	if b.CompletedCount != 3 || b.FailedCount != 1 || b.Status != domain.BatchStatusCompleted {
		t.Fatalf("unexpected batch %+v", b)
	}
	if got := h.provider.submits.Load(); got != 4 {
		t.Fatalf("expected 4 provider submissions, got %d", got)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.count())
	}
}

func TestSlowItemTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("slow.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	h.dispatch.Wait()

	items, _ := h.repo.ListItems(ctx, res.BatchID)
	if len(items) != 1 || items[0].Status != domain.ItemStatusFailed {
		t.Fatalf("expected failed item, got %+v", items)
	}
	if !strings.Contains(items[0].ErrorMessage, ErrPollTimeout.Error()) {
		t.Fatalf("expected timeout error, got %q", items[0].ErrorMessage)
	}
	if items[0].Progress < progressSubmitted || items[0].Progress > progressPollCap {
		t.Fatalf("progress %d outside the polling band", items[0].Progress)
	}
	if got := h.provider.polls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

func TestSweepPicksStaleBatches(t *testing.T) {
	h := newHarness(t)
	h.orch.SetDispatcher(nil)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	picked, err := h.orch.Sweep(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if picked != 1 {
		t.Fatalf("expected one batch picked, got %d", picked)
	}
	b, _ := h.repo.GetBatch(ctx, res.BatchID)
	if b.Status != domain.BatchStatusCompleted {
		t.Fatalf("stale batch not processed: %+v", b)
	}
}

func TestGetAndDeleteEnforceOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "b.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	h.dispatch.Wait()

	if _, err := h.orch.Get(ctx, "u2", res.BatchID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	detail, err := h.orch.Get(ctx, "u1", res.BatchID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(detail.Items) != 2 || detail.Items[0].Position != 1 {
		t.Fatalf("unexpected items %+v", detail.Items)
	}

	if err := h.orch.Delete(ctx, "u2", res.BatchID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := h.orch.Delete(ctx, "u1", res.BatchID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := h.repo.GetBatch(ctx, res.BatchID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("batch still present: %v", err)
	}
	for _, key := range h.blobs.Keys() {
		if strings.Contains(key, res.BatchID) {
			t.Fatalf("object %s left behind", key)
		}
	}
}

func TestDeleteRejectsRunningBatch(t *testing.T) {
	h := newHarness(t)
	h.orch.SetDispatcher(nil)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if err := h.orch.Delete(ctx, "u1", res.BatchID); !errors.Is(err, domain.ErrBatchNotTerminal) {
		t.Fatalf("expected not terminal, got %v", err)
	}
}

// finalizeFailingRepo loses the database right when ingestion is finalized.
type finalizeFailingRepo struct {
	*memory.Store
}

func (r finalizeFailingRepo) FinalizeIngestion(ctx context.Context, batchID string, total int, creditsCharged int64) (*domain.Batch, error) {
	return nil, errors.New("db down")
}

func TestSubmitFinalizeFailureRefundsAndFailsBatch(t *testing.T) {
	repo := memory.NewStore()
	ledger := credits.NewLedger(repo, zerolog.Nop())
	orch := NewOrchestrator(ledger, finalizeFailingRepo{repo}, storage.NewMemoryStore(), newFakeProvider(), &recordingNotifier{}, Options{}, zerolog.Nop())
	ctx := context.Background()
	ledger.TopUp(ctx, "u1", 3, "seed")

	res, err := orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "b.png")})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected finalize error, got %v", err)
	}
	if got, _ := ledger.Available(ctx, "u1"); got != 3 {
		t.Fatalf("expected 3 credits after failed finalize, got %d", got)
	}
	b, err := repo.GetBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch error: %v", err)
	}
	if b.Status != domain.BatchStatusFailed || b.IngestedAt == nil {
		t.Fatalf("batch left in limbo: %+v", b)
	}
}

func TestReclaimAbandonedRefundsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.Grant(ctx, "u1", 1, "cycle")
	h.ledger.TopUp(ctx, "u1", 2, "order")
	if _, err := h.ledger.ReserveAndCharge(ctx, "u1", 2, batchReference("b-crashed")); err != nil {
		t.Fatalf("ReserveAndCharge error: %v", err)
	}
	if err := h.repo.CreateBatch(ctx, &domain.Batch{ID: "b-crashed", UserID: "u1", TotalItems: 2, CreditsCharged: 2}); err != nil {
		t.Fatalf("CreateBatch error: %v", err)
	}

	n, err := h.orch.ReclaimAbandoned(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReclaimAbandoned = %d, %v", n, err)
	}
	w, _ := h.ledger.Wallet(ctx, "u1")
	if w.MonthlyBalance != 1 || w.TopupBalance != 2 {
		t.Fatalf("unexpected wallet after reclaim %+v", w)
	}
	b, _ := h.repo.GetBatch(ctx, "b-crashed")
	if b.Status != domain.BatchStatusFailed {
		t.Fatalf("abandoned batch not failed: %+v", b)
	}
	if n, _ := h.orch.ReclaimAbandoned(ctx, time.Now().Add(time.Minute)); n != 0 {
		t.Fatalf("second reclaim picked %d batches", n)
	}
	if got, _ := h.ledger.Available(ctx, "u1"); got != 3 {
		t.Fatalf("expected 3 credits, got %d", got)
	}
}

// failingOnceNotifier cannot store the first notification it receives.
type failingOnceNotifier struct {
	recordingNotifier
	failed atomic.Bool
}

func (n *failingOnceNotifier) BatchFinished(ctx context.Context, b domain.Batch) error {
	if n.failed.CompareAndSwap(false, true) {
		return errors.New("notifications table locked")
	}
	return n.recordingNotifier.BatchFinished(ctx, b)
}

func TestNotificationFailureIsRetriedByLaterRun(t *testing.T) {
	repo := memory.NewStore()
	ledger := credits.NewLedger(repo, zerolog.Nop())
	notifier := &failingOnceNotifier{}
	orch := NewOrchestrator(ledger, repo, storage.NewMemoryStore(), newFakeProvider(), notifier, Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 3,
	}, zerolog.Nop())
	ctx := context.Background()
	ledger.TopUp(ctx, "u1", 1, "seed")
	res, err := orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	if _, err := orch.Process(ctx, res.BatchID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	b, _ := repo.GetBatch(ctx, res.BatchID)
	if b.Status != domain.BatchStatusCompleted || b.NotifiedAt != nil {
		t.Fatalf("failed notification left batch marked notified: %+v", b)
	}

	if _, err := orch.Process(ctx, res.BatchID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one delivered notification, got %d", notifier.count())
	}
	b, _ = repo.GetBatch(ctx, res.BatchID)
	if b.NotifiedAt == nil {
		t.Fatal("notified_at not stamped after delivery")
	}
}

func TestSweepFailsItemsStuckInProcessing(t *testing.T) {
	h := newHarness(t)
	h.orch.SetDispatcher(nil)
	ctx := context.Background()
	h.ledger.TopUp(ctx, "u1", 10, "seed")

	crashed := time.Now().Add(-time.Hour)
	h.repo.SetClock(func() time.Time { return crashed })
	res, err := h.orch.Submit(ctx, SubmitInput{UserID: "u1", Sources: sources("a.png", "b.png")})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if _, _, err := h.repo.StartBatch(ctx, res.BatchID); err != nil {
		t.Fatalf("StartBatch error: %v", err)
	}
	items, _ := h.repo.ListItems(ctx, res.BatchID)
	if _, claimed, _ := h.repo.ClaimItem(ctx, items[0].ID); !claimed {
		t.Fatal("expected to claim the first item")
	}
	h.repo.SetClock(time.Now)

	picked, err := h.orch.Sweep(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if picked != 1 {
		t.Fatalf("expected the quiet batch picked once, got %d", picked)
	}
	b, _ := h.repo.GetBatch(ctx, res.BatchID)
	if b.Status != domain.BatchStatusCompleted || b.CompletedCount != 1 || b.FailedCount != 1 {
		t.Fatalf("unexpected batch state %+v", b)
	}
	items, _ = h.repo.ListItems(ctx, res.BatchID)
	if items[0].Status != domain.ItemStatusFailed || items[0].ErrorMessage != "processing abandoned" {
		t.Fatalf("stuck item not failed: %+v", items[0])
	}
	if h.notifier.count() != 1 {
		t.Fatalf("expected one notification, got %d", h.notifier.count())
	}
}
