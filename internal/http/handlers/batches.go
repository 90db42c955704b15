package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidkvd/nomnom-studio/internal/batch"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/middleware"
)

const multipartMemory = 32 << 20

type itemDTO struct {
	ID           string     `json:"id"`
	Position     int        `json:"position"`
	OriginalName string     `json:"original_name"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	URL          string     `json:"url,omitempty"`
	URLExpiresAt *time.Time `json:"url_expires_at,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	Size         int64      `json:"size,omitempty"`
	Error        string     `json:"error,omitempty"`
}

type batchDTO struct {
	ID             string     `json:"id"`
	Mode           string     `json:"mode"`
	Shape          string     `json:"shape"`
	Status         string     `json:"status"`
	TotalItems     int        `json:"total_items"`
	CompletedCount int        `json:"completed_count"`
	FailedCount    int        `json:"failed_count"`
	Progress       int        `json:"progress"`
	CreditsCharged int64      `json:"credits_charged"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Items          []itemDTO  `json:"items,omitempty"`
}

func toBatchDTO(b domain.Batch) batchDTO {
	return batchDTO{
		ID:             b.ID,
		Mode:           b.Mode,
		Shape:          b.Shape,
		Status:         string(b.Status),
		TotalItems:     b.TotalItems,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Progress:       b.ProgressPercent(),
		CreditsCharged: b.CreditsCharged,
		Error:          b.ErrorMessage,
		CreatedAt:      b.CreatedAt,
		CompletedAt:    b.CompletedAt,
	}
}

func toItemDTO(it domain.Item) itemDTO {
	return itemDTO{
		ID:           it.ID,
		Position:     it.Position,
		OriginalName: it.OriginalName,
		Status:       string(it.Status),
		Progress:     it.Progress,
		URL:          it.SignedURL,
		URLExpiresAt: it.SignedURLExpiresAt,
		ContentType:  it.OutputContentType,
		Size:         it.OutputSize,
		Error:        it.ErrorMessage,
	}
}

// SubmitBatch accepts multipart uploads under the "images" field together
// with "mode" and "shape".
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	opts := a.Batches.Options()
	r.Body = http.MaxBytesReader(w, r.Body, int64(opts.MaxImages)*opts.MaxImageBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "validation_error", "upload too large")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", "expected multipart form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["images"]
	if len(files) > opts.MaxImages {
		a.error(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("at most %d images per batch", opts.MaxImages))
		return
	}
	sources := make([]batch.Source, 0, len(files))
	for _, fh := range files {
		if fh.Size > opts.MaxImageBytes {
			a.error(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("%s exceeds %d bytes", fh.Filename, opts.MaxImageBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable upload")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, opts.MaxImageBytes+1))
		f.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unreadable upload")
			return
		}
		sources = append(sources, batch.Source{Filename: fh.Filename, Data: data})
	}

	res, err := a.Batches.Submit(r.Context(), batch.SubmitInput{
		UserID:  userID,
		Mode:    r.FormValue("mode"),
		Shape:   r.FormValue("shape"),
		Locale:  middleware.LocaleFromContext(r.Context()),
		Sources: sources,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, res)
}

func (a *App) ListBatches(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	list, err := a.Batches.List(r.Context(), userID, queryLimit(r, 20))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]batchDTO, 0, len(list))
	for _, b := range list {
		out = append(out, toBatchDTO(b))
	}
	a.json(w, http.StatusOK, map[string]any{"batches": out})
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	detail, err := a.Batches.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	dto := toBatchDTO(detail.Batch)
	dto.Items = make([]itemDTO, 0, len(detail.Items))
	for _, it := range detail.Items {
		dto.Items = append(dto.Items, toItemDTO(it))
	}
	a.json(w, http.StatusOK, dto)
}

func (a *App) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if err := a.Batches.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) BundleBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	res, err := a.Bundles.GetOrBuild(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > 100 {
		return 100
	}
	return n
}
