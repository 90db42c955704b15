package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type workerProcessRequest struct {
	BatchID string `json:"batch_id"`
}

// WorkerProcess runs the processing phase of a batch and answers with the
// aggregate counts once it is done. The caller is authenticated by the
// worker secret middleware.
func (a *App) WorkerProcess(w http.ResponseWriter, r *http.Request) {
	var req workerProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.BatchID = strings.TrimSpace(req.BatchID)
	if req.BatchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}

	// Processing outlives the server write timeout and a dropped caller.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		a.Logger.Debug().Err(err).Msg("worker: clear write deadline failed")
	}
	ctx := context.WithoutCancel(r.Context())
	if a.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.WorkerTimeout)
		defer cancel()
	}

	res, err := a.Batches.Process(ctx, req.BatchID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}
