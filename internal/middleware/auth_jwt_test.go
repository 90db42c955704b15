package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthJWT(t *testing.T) {
	valid, err := SignJWT("secret", "user-1", "id", time.Hour)
	if err != nil {
		t.Fatalf("SignJWT error: %v", err)
	}
	expired, _ := SignJWT("secret", "user-1", "", -time.Minute)
	foreign, _ := SignJWT("other", "user-1", "", time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + valid, want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + foreign, want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var userID, loc string
			h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID = UserIDFromContext(r.Context())
				loc = LocaleFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && (userID != "user-1" || loc != "id") {
				t.Fatalf("unexpected context user=%q locale=%q", userID, loc)
			}
		})
	}
}

func TestWorkerSecret(t *testing.T) {
	h := WorkerSecret("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for header, want := range map[string]int{"s3cret": http.StatusNoContent, "nope": http.StatusUnauthorized, "": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Worker-Secret", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("secret %q: status %d, want %d", header, rec.Code, want)
		}
	}
}
