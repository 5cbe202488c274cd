// Package poller waits for backend jobs to reach a terminal state.
//
// A Poller issues one status query at a time. After a pending answer it arms a
// single timer for the configured interval and only then issues the next
// query, so at most one query per job is ever in flight.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repothread/internal/clock/system"
	"github.com/JakeFAU/repothread/internal/metrics"
	"github.com/JakeFAU/repothread/internal/repothread"
)

// DefaultInterval is the spacing between status queries.
const DefaultInterval = 5 * time.Second

// ErrTimedOut is matched by every TimeoutError.
var ErrTimedOut = errors.New("polling timed out")

// StatusFetcher queries the status of a job.
type StatusFetcher interface {
	Status(ctx context.Context, kind repothread.OperationKind, jobID string) (repothread.Job, error)
}

// ProgressFunc receives the progress label emitted before each query.
type ProgressFunc func(label string)

// Config bounds a poll sequence. A zero MaxWait or MaxAttempts disables that
// bound.
type Config struct {
	Interval    time.Duration
	MaxWait     time.Duration
	MaxAttempts int
	Clock       repothread.Clock
}

// JobFailedError reports a job the backend marked as failed.
type JobFailedError struct {
	Kind   repothread.OperationKind
	JobID  string
	Detail string
}

func (e *JobFailedError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return kindTitle(e.Kind) + " job failed"
}

// TimeoutError reports a poll sequence that exhausted its budget before the
// job finished. It is distinct from JobFailedError: the job may still finish.
type TimeoutError struct {
	Kind     repothread.OperationKind
	JobID    string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s job %s still pending after %d attempts (%s)",
		kindTitle(e.Kind), e.JobID, e.Attempts, e.Elapsed.Round(time.Second))
}

// Unwrap returns ErrTimedOut.
func (e *TimeoutError) Unwrap() error {
	return ErrTimedOut
}

// QueryError wraps a status query that failed. Polling does not retry it.
type QueryError struct {
	Kind    repothread.OperationKind
	JobID   string
	Attempt int
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("poll %s job %s (attempt %d): %v", e.Kind, e.JobID, e.Attempt, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Poller drives status queries for a single job at a time per call.
type Poller struct {
	fetcher StatusFetcher
	cfg     Config
	clock   repothread.Clock
	logger  *zap.Logger
}

// New returns a Poller. A non-positive interval uses DefaultInterval.
func New(fetcher StatusFetcher, cfg Config, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   clk,
		logger:  logger.Named("poller"),
	}
}

// Poll blocks until jobID completes, fails, exhausts the budget, or ctx is
// done. onProgress may be nil.
func (p *Poller) Poll(
	ctx context.Context,
	kind repothread.OperationKind,
	jobID string,
	onProgress ProgressFunc,
) (string, error) {
	op := string(kind)
	log := p.logger.With(zap.String("operation", op), zap.String("job_id", jobID))
	start := p.clock.Now()

	timer := time.NewTimer(p.cfg.Interval)
	timer.Stop()
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		if onProgress != nil {
			onProgress(kind.ProgressLabel(attempt))
		}
		metrics.ObservePollAttempt(op)

		job, err := p.fetcher.Status(ctx, kind, jobID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.ObservePollOutcome(op, metrics.OutcomeCanceled)
				return "", ctxErr
			}
			metrics.ObservePollOutcome(op, outcomeFor(err))
			log.Warn("status query failed", zap.Int("attempt", attempt), zap.Error(err))
			return "", &QueryError{Kind: kind, JobID: jobID, Attempt: attempt, Err: err}
		}

		switch job.Status {
		case repothread.JobStatusCompleted:
			metrics.ObservePollOutcome(op, metrics.OutcomeSuccess)
			log.Info("job completed", zap.Int("attempts", attempt))
			return job.Result, nil
		case repothread.JobStatusPending:
		default:
			metrics.ObservePollOutcome(op, metrics.OutcomeFailed)
			log.Info("job failed", zap.String("status", string(job.Status)), zap.String("detail", job.Error))
			return "", &JobFailedError{Kind: kind, JobID: jobID, Detail: job.Error}
		}

		elapsed := p.clock.Now().Sub(start)
		if p.exhausted(attempt, elapsed) {
			metrics.ObservePollOutcome(op, metrics.OutcomeTimeout)
			log.Warn("poll budget exhausted", zap.Int("attempts", attempt), zap.Duration("elapsed", elapsed))
			return "", &TimeoutError{Kind: kind, JobID: jobID, Attempts: attempt, Elapsed: elapsed}
		}

		timer.Reset(p.cfg.Interval)
		select {
		case <-ctx.Done():
			metrics.ObservePollOutcome(op, metrics.OutcomeCanceled)
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// exhausted reports whether another query would exceed the budget.
func (p *Poller) exhausted(attempts int, elapsed time.Duration) bool {
	if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
		return true
	}
	return p.cfg.MaxWait > 0 && elapsed+p.cfg.Interval > p.cfg.MaxWait
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, repothread.ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, repothread.ErrNetwork):
		return metrics.OutcomeNetwork
	case errors.Is(err, repothread.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeUpstream
	}
}

func kindTitle(kind repothread.OperationKind) string {
	s := string(kind)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
