package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/batch"
	"github.com/davidkvd/nomnom-studio/internal/bundle"
	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/http/respond"
	"github.com/davidkvd/nomnom-studio/internal/middleware"
	"github.com/davidkvd/nomnom-studio/internal/notify"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

type App struct {
	Batches       *batch.Orchestrator
	Bundles       *bundle.Service
	Ledger        *credits.Ledger
	Notifications *notify.Notifier
	// Files serves signed downloads when the filesystem store is active.
	Files         *storage.FileStore
	Ping          func(ctx context.Context) error
	WorkerTimeout time.Duration
	Logger        zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	respond.JSON(w, code, v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	respond.Error(w, code, errCode, message)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// fail maps domain errors onto status codes. Unknown errors are logged and
// reported as internal.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidAmount):
		a.error(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this batch")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
	case errors.Is(err, domain.ErrBatchNotReady):
		a.error(w, http.StatusConflict, "not_ready", "batch has not finished processing")
	case errors.Is(err, domain.ErrBatchNotTerminal):
		a.error(w, http.StatusConflict, "batch_in_progress", "batch is still processing")
	case errors.Is(err, domain.ErrNothingToBundle):
		a.error(w, http.StatusUnprocessableEntity, "nothing_to_bundle", "batch has no completed images")
	case errors.Is(err, domain.ErrStorageFailure):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("storage failure")
		a.error(w, http.StatusBadGateway, "storage_failure", "storage is unavailable, try again")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
