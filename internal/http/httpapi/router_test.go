package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/adapter/memory"
	"github.com/davidkvd/nomnom-studio/internal/batch"
	"github.com/davidkvd/nomnom-studio/internal/bundle"
	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
	"github.com/davidkvd/nomnom-studio/internal/http/handlers"
	"github.com/davidkvd/nomnom-studio/internal/middleware"
	"github.com/davidkvd/nomnom-studio/internal/notify"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

const (
	jwtSecret    = "test-jwt-secret"
	workerSecret = "test-worker-secret"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// newProviderServer fails every job whose source name contains "fail".
func newProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu   sync.Mutex
		jobs = map[string]string{}
	)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req enhance.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		id := fmt.Sprintf("job-%d", len(jobs)+1)
		jobs[id] = req.SourceURL
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		mu.Lock()
		src := jobs[id]
		mu.Unlock()
		if strings.Contains(src, "fail") {
			json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "image too blurry"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "completed", "output_url": srv.URL + "/outputs/" + id})
	})
	mux.HandleFunc("GET /outputs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	})
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	handler  http.Handler
	repo     *memory.Store
	ledger   *credits.Ledger
	orch     *batch.Orchestrator
	dispatch *batch.LocalDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	provider := newProviderServer(t)
	repo := memory.NewStore()
	ledger := credits.NewLedger(repo, logger)
	files, err := storage.NewFileStore(t.TempDir(), "http://api.test/files", "signing-key")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	client := enhance.NewClient(enhance.Options{BaseURL: provider.URL, APIKey: "provider-key", Timeout: 5 * time.Second})
	notifier := notify.NewNotifier(repo, nil, "", logger)
	orch := batch.NewOrchestrator(ledger, repo, files, client, notifier, batch.Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	}, logger)
	dispatch := batch.NewLocalDispatcher(orch, time.Minute, logger)
	orch.SetDispatcher(dispatch)

	app := &handlers.App{
		Batches:       orch,
		Bundles:       bundle.NewService(repo, repo, files, bundle.Options{}, logger),
		Ledger:        ledger,
		Notifications: notifier,
		Files:         files,
		WorkerTimeout: time.Minute,
		Logger:        logger,
	}
	h := NewRouter(app, Options{
		JWTSecret:       jwtSecret,
		WorkerSecret:    workerSecret,
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitPerMin: 1000,
	})
	return &testEnv{handler: h, repo: repo, ledger: ledger, orch: orch, dispatch: dispatch}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := middleware.SignJWT(jwtSecret, userID, "id", time.Hour)
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}
	return "Bearer " + token
}

func uploadRequest(t *testing.T, userID string, names ...string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	mw.WriteField("mode", "studio")
	mw.WriteField("shape", "square")
	for _, n := range names {
		part, err := mw.CreateFormFile("images", n)
		if err != nil {
			t.Fatalf("CreateFormFile error: %v", err)
		}
		part.Write(pngBytes)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/batches", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, userID))
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, userID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t, userID))
	return e.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestSubmitProcessAndDownloadBundle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ledger.TopUp(ctx, "u1", 5, "seed")

	rec := env.do(uploadRequest(t, "u1", "rendang.jpg", "fail.jpg", "sate.jpg"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", rec.Code, rec.Body.String())
	}
	var submitted batch.SubmitResult
	decode(t, rec, &submitted)
	if submitted.CreditsCharged != 3 {
		t.Fatalf("expected 3 credits charged, got %+v", submitted)
	}
	env.dispatch.Wait()

	rec = env.get(t, "u1", "/v1/batches/"+submitted.BatchID)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Status         string `json:"status"`
		CompletedCount int    `json:"completed_count"`
		FailedCount    int    `json:"failed_count"`
		Progress       int    `json:"progress"`
		Items          []struct {
			Position int    `json:"position"`
			Status   string `json:"status"`
			URL      string `json:"url"`
			Error    string `json:"error"`
		} `json:"items"`
	}
	decode(t, rec, &detail)
	if detail.Status != "completed" || detail.CompletedCount != 2 || detail.FailedCount != 1 || detail.Progress != 100 {
		t.Fatalf("unexpected batch %+v", detail)
	}
	if len(detail.Items) != 3 || detail.Items[1].Status != "failed" || !strings.Contains(detail.Items[1].Error, "blurry") {
		t.Fatalf("unexpected items %+v", detail.Items)
	}

	// The signed output URL is served by the API itself.
	out := env.do(httptest.NewRequest(http.MethodGet, pathOf(t, detail.Items[0].URL), nil))
	if out.Code != http.StatusOK || !bytes.Equal(out.Body.Bytes(), pngBytes) {
		t.Fatalf("output download status %d", out.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/batches/"+submitted.BatchID+"/bundle", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bundle status %d: %s", rec.Code, rec.Body.String())
	}
	var bundled bundle.Result
	decode(t, rec, &bundled)
	if bundled.ItemCount != 2 || !strings.HasSuffix(bundled.Filename, ".zip") {
		t.Fatalf("unexpected bundle %+v", bundled)
	}
	zipRec := env.do(httptest.NewRequest(http.MethodGet, pathOf(t, bundled.SignedURL), nil))
	if zipRec.Code != http.StatusOK {
		t.Fatalf("bundle download status %d", zipRec.Code)
	}
	zr, err := zip.NewReader(bytes.NewReader(zipRec.Body.Bytes()), int64(zipRec.Body.Len()))
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "01-rendang.png" || zr.File[1].Name != "03-sate.png" {
		t.Fatalf("unexpected bundle entries %v", zr.File)
	}

	var wallet struct {
		Available int64 `json:"available"`
	}
	decode(t, env.get(t, "u1", "/v1/wallet"), &wallet)
	if wallet.Available != 2 {
		t.Fatalf("expected 2 credits left, got %d", wallet.Available)
	}

	var notes struct {
		Notifications []struct {
			Title string `json:"title"`
		} `json:"notifications"`
	}
	decode(t, env.get(t, "u1", "/v1/notifications"), &notes)
	if len(notes.Notifications) != 1 || !strings.Contains(notes.Notifications[0].Title, "Studio") {
		t.Fatalf("unexpected notifications %+v", notes)
	}

	var ledger struct {
		Entries []struct {
			Amount int64  `json:"amount"`
			Source string `json:"source"`
		} `json:"entries"`
	}
	decode(t, env.get(t, "u1", "/v1/wallet/ledger"), &ledger)
	if len(ledger.Entries) != 2 || ledger.Entries[0].Source != "charge" || ledger.Entries[0].Amount != -3 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
}

func pathOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %q: %v", raw, err)
	}
	return u.RequestURI()
}

func TestSubmitRejections(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.TopUp(context.Background(), "u1", 1, "seed")

	noAuth := uploadRequest(t, "u1", "a.jpg")
	noAuth.Header.Del("Authorization")
	if rec := env.do(noAuth); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec := env.do(uploadRequest(t, "u1", "a.jpg", "b.jpg"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	if body.Error.Code != "insufficient_credits" {
		t.Fatalf("unexpected error code %q", body.Error.Code)
	}

	if rec := env.do(uploadRequest(t, "u1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty upload, got %d", rec.Code)
	}
}

func TestBundleNotReadyThenWorkerTrigger(t *testing.T) {
	env := newTestEnv(t)
	env.orch.SetDispatcher(nil)
	env.ledger.TopUp(context.Background(), "u1", 5, "seed")

	rec := env.do(uploadRequest(t, "u1", "a.jpg"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status %d", rec.Code)
	}
	var submitted batch.SubmitResult
	decode(t, rec, &submitted)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches/"+submitted.BatchID+"/bundle", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	if rec := env.do(req); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	trigger := func(secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/internal/worker/process", strings.NewReader(`{"batch_id":"`+submitted.BatchID+`"}`))
		req.Header.Set("X-Worker-Secret", secret)
		return env.do(req)
	}
	if rec := trigger("wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = trigger(workerSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("worker status %d: %s", rec.Code, rec.Body.String())
	}
	var res batch.ProcessResult
	decode(t, rec, &res)
	if res.Status != "completed" || res.Completed != 1 {
		t.Fatalf("unexpected process result %+v", res)
	}
	if rec := trigger(workerSecret); rec.Code != http.StatusOK {
		t.Fatalf("replayed trigger status %d", rec.Code)
	}
	notes, _ := env.repo.ListNotifications(context.Background(), "u1", 10)
	if len(notes) != 1 {
		t.Fatalf("expected one notification after replay, got %d", len(notes))
	}
}

func TestBatchesAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.TopUp(context.Background(), "u1", 5, "seed")
	rec := env.do(uploadRequest(t, "u1", "a.jpg"))
	var submitted batch.SubmitResult
	decode(t, rec, &submitted)
	env.dispatch.Wait()

	if rec := env.get(t, "u2", "/v1/batches/"+submitted.BatchID); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodDelete, "/v1/batches/"+submitted.BatchID, nil)
	req.Header.Set("Authorization", bearer(t, "u2"))
	if rec := env.do(req); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on foreign delete, got %d", rec.Code)
	}

	var list struct {
		Batches []struct {
			ID string `json:"id"`
		} `json:"batches"`
	}
	decode(t, env.get(t, "u1", "/v1/batches"), &list)
	if len(list.Batches) != 1 || list.Batches[0].ID != submitted.BatchID {
		t.Fatalf("unexpected list %+v", list)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/batches/"+submitted.BatchID, nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	if rec := env.do(req); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestSignedFileRejectsTampering(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/files/outputs/u1/b1/1.png?expires=9999999999&sig=deadbeef", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
