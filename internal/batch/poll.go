package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
)

// ErrPollTimeout is returned when the provider never reports a terminal state
// within the attempt budget.
var ErrPollTimeout = errors.New("enhancement timed out")

var errStillRunning = errors.New("provider job still running")

const (
	progressSubmitted = 40
	progressPollCap   = 74
	progressFetching  = 75
)

// Poller waits for a provider job with a fixed interval and a bounded number
// of attempts. The first poll happens immediately.
type Poller struct {
	provider    enhance.Provider
	interval    time.Duration
	maxAttempts int
}

func NewPoller(provider enhance.Provider, interval time.Duration, maxAttempts int) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Poller{provider: provider, interval: interval, maxAttempts: maxAttempts}
}

// Wait polls jobID until it completes, fails or exhausts the budget. onProgress
// receives the mapped heartbeat after every non-terminal observation.
func (p *Poller) Wait(ctx context.Context, jobID string, onProgress func(int)) (string, error) {
	var (
		attempt   int
		outputURL string
		terminal  error
		lastErr   error
	)
	err := retry.Do(
		func() error {
			attempt++
			res, err := p.provider.Poll(ctx, jobID)
			if err != nil {
				lastErr = err
				return err
			}
			switch res.Status {
			case enhance.JobCompleted:
				if res.OutputURL == "" {
					terminal = fmt.Errorf("%w: completed without output", domain.ErrProviderFailure)
					return retry.Unrecoverable(terminal)
				}
				outputURL = res.OutputURL
				return nil
			case enhance.JobFailed:
				msg := res.Error
				if msg == "" {
					msg = "job failed"
				}
				terminal = fmt.Errorf("%w: %s", domain.ErrProviderFailure, msg)
				return retry.Unrecoverable(terminal)
			}
			lastErr = nil
			if onProgress != nil {
				onProgress(mapPollProgress(res.Progress, attempt, p.maxAttempts))
			}
			return errStillRunning
		},
		retry.Context(ctx),
		retry.Attempts(uint(p.maxAttempts)),
		retry.Delay(p.interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return outputURL, nil
	}
	if terminal != nil {
		return "", terminal
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts (last poll error: %v)", ErrPollTimeout, attempt, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempt)
}

// mapPollProgress maps provider progress (percent) into the [40,74] band. When
// the provider omits progress the attempt ratio stands in for it.
func mapPollProgress(reported *float64, attempt, maxAttempts int) int {
	var p float64
	if reported != nil {
		p = *reported
	} else {
		p = float64(attempt) / float64(maxAttempts) * 100
	}
	p = math.Max(0, math.Min(100, p))
	mapped := int(math.Floor(progressSubmitted + 0.35*p))
	if mapped > progressPollCap {
		mapped = progressPollCap
	}
	return mapped
}
