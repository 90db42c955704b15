package enhance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSubmit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v1/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.SourceURL != "https://example.com/in.png" || payload.Width != 1080 || payload.Fit != "cover" {
			t.Errorf("unexpected payload %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	id, err := client.Submit(context.Background(), SubmitRequest{SourceURL: "https://example.com/in.png", Instruction: "x", Width: 1080, Height: 1080, Fit: "cover"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestClientPoll(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/job-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"PROCESSING","progress":42.5}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	res, err := client.Poll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Poll error: %v", err)
	}
	if res.Status != JobProcessing || res.Progress == nil || *res.Progress != 42.5 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down","code":"rate_limited"}`))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	if _, err := client.Submit(context.Background(), SubmitRequest{SourceURL: "https://x"}); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestClientMissingKey(t *testing.T) {
	client := NewClient(Options{BaseURL: "https://provider.invalid"})
	if _, err := client.Submit(context.Background(), SubmitRequest{SourceURL: "https://x"}); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestClientFetchEnforcesLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 64))
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: ts.URL, MaxFetchBytes: 32})
	if _, _, err := client.Fetch(context.Background(), ts.URL+"/out.png"); err == nil {
		t.Fatal("expected size limit error")
	}
	client = NewClient(Options{APIKey: "k", BaseURL: ts.URL})
	data, ct, err := client.Fetch(context.Background(), ts.URL+"/out.png")
	if err != nil || len(data) != 64 || ct != "image/png" {
		t.Fatalf("unexpected fetch result len=%d ct=%s err=%v", len(data), ct, err)
	}
}
