package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner is the processing phase a dispatcher starts.
type Runner interface {
	Process(ctx context.Context, batchID string) (*ProcessResult, error)
}

// LocalDispatcher runs the processing phase in a goroutine of this process.
type LocalDispatcher struct {
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewLocalDispatcher(runner Runner, timeout time.Duration, logger zerolog.Logger) *LocalDispatcher {
	return &LocalDispatcher{runner: runner, timeout: timeout, logger: logger.With().Str("component", "dispatch").Logger()}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, batchID string) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, d.timeout)
			defer cancel()
		}
		if _, err := d.runner.Process(runCtx, batchID); err != nil {
			d.logger.Error().Err(err).Str("batch_id", batchID).Msg("dispatch: local run failed")
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has returned.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// HTTPDispatcher posts the batch id to the worker trigger endpoint and does
// not wait for the run to finish.
type HTTPDispatcher struct {
	url    string
	secret string
	client *http.Client
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewHTTPDispatcher(url, secret string, timeout time.Duration, logger zerolog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
}

type triggerRequest struct {
	BatchID string `json:"batch_id"`
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, batchID string) error {
	body, err := json.Marshal(triggerRequest{BatchID: batchID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Worker-Secret", d.secret)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Error().Err(err).Str("batch_id", batchID).Msg("dispatch: trigger request failed")
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			d.logger.Error().Int("status", resp.StatusCode).Str("batch_id", batchID).Msg("dispatch: trigger rejected")
			return
		}
		d.logger.Debug().Str("batch_id", batchID).Msg("dispatch: trigger finished")
	}()
	return nil
}

func (d *HTTPDispatcher) Wait() {
	d.wg.Wait()
}
