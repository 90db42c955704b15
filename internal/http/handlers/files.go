package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/davidkvd/nomnom-studio/internal/storage"
)

// ServeFile streams an object from the filesystem store after checking the
// signature produced by FileStore.SignedURL.
func (a *App) ServeFile(w http.ResponseWriter, r *http.Request) {
	if a.Files == nil {
		a.error(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	key := chi.URLParam(r, "*")
	q := r.URL.Query()
	if err := a.Files.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		if errors.Is(err, storage.ErrSignatureExpired) {
			a.error(w, http.StatusForbidden, "link_expired", "download link expired")
			return
		}
		a.error(w, http.StatusForbidden, "forbidden", "invalid download link")
		return
	}
	data, contentType, err := a.Files.Get(r.Context(), key)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	if contentType == "application/zip" {
		w.Header().Set("Content-Disposition", `attachment; filename="bundle.zip"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
