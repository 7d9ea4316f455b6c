// Package runwait provides a polling primitive that blocks until a run
// reaches a final state or a timeout budget is spent.
package runwait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runwell/runwell/pkg/models"
	"github.com/runwell/runwell/pkg/persistence"
)

const (
	// DefaultTimeout is the wait budget used when the caller passes a
	// negative timeout.
	DefaultTimeout = 3 * time.Hour

	// DefaultPollInterval is the pause between run fetches.
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval is the floor for caller-supplied poll intervals.
	MinPollInterval = 500 * time.Millisecond
)

// ErrWaitTimeout is the sentinel all wait timeouts unwrap to.
var ErrWaitTimeout = errors.New("run did not finish within the wait budget")

// WaitTimeoutError reports which run exhausted which budget.
type WaitTimeoutError struct {
	RunID   string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("run %s did not finish within %s", e.RunID, e.Timeout)
}

func (e *WaitTimeoutError) Is(target error) bool {
	return target == ErrWaitTimeout
}

// IsWaitTimeout checks if an error is a wait timeout.
func IsWaitTimeout(err error) bool {
	return errors.Is(err, ErrWaitTimeout)
}

// RunFetcher supplies the current view of a run.
type RunFetcher interface {
	FlowRunByID(ctx context.Context, id string) (*models.FlowRun, error)
}

// Waiter polls runs until they finish.
type Waiter struct {
	fetcher RunFetcher
	logger  *slog.Logger
}

// NewWaiter creates a waiter over the given fetcher.
func NewWaiter(fetcher RunFetcher, logger *slog.Logger) *Waiter {
	return &Waiter{fetcher: fetcher, logger: logger}
}

// Wait blocks until the run reaches a final state and returns the run
// record, including that state.
//
// A zero timeout checks the run exactly once and fails with a timeout when
// it has not finished. A negative timeout means the default budget. A
// missing run fails immediately; transient fetch errors are retried within
// the budget and reported as a timeout when the budget runs out.
func (w *Waiter) Wait(ctx context.Context, runID string, timeout, pollInterval time.Duration) (*models.FlowRun, error) {
	if timeout < 0 {
		timeout = DefaultTimeout
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	if pollInterval < MinPollInterval {
		pollInterval = MinPollInterval
	}

	deadline := time.Now().Add(timeout)

	for {
		run, err := w.fetcher.FlowRunByID(ctx, runID)

		switch {
		case err == nil && run.IsFinal():
			return run, nil
		case err != nil && persistence.IsFlowRunNotFound(err):
			return nil, err
		case err != nil:
			// Transient failure. Keep polling while budget remains.
			w.logger.WarnContext(ctx, "Fetching run failed, retrying", "run_id", runID, "error", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &WaitTimeoutError{RunID: runID, Timeout: timeout}
		}

		if pollInterval < remaining {
			err = w.sleep(ctx, pollInterval)
		} else {
			err = w.sleep(ctx, remaining)
		}

		if err != nil {
			return nil, err
		}
	}
}

// sleep pauses for the given duration unless the context is cancelled first.
func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
