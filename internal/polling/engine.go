// Package polling drives a submitted remote job to a terminal state.
package polling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxtune/internal/domain"
	"fluxtune/internal/infra"
)

const (
	DefaultInterval            = 3 * time.Second
	DefaultMaxWait             = 10 * time.Minute
	DefaultMaxTransportRetries = 3
)

// StatusFetcher is the part of the remote client the engine needs.
type StatusFetcher interface {
	Status(ctx context.Context, id string) (*domain.RemoteJob, error)
}

// Update is delivered to the progress callback after every non-terminal
// status observation.
type Update struct {
	JobID    string
	Status   domain.JobStatus
	Progress *float64
	Attempt  int
	Elapsed  time.Duration
}

// ProgressFunc receives polling updates. It runs on the polling goroutine and
// should return quickly.
type ProgressFunc func(Update)

// Config tunes the poll loop.
type Config struct {
	Interval time.Duration
	MaxWait  time.Duration
	// MaxTransportRetries is the number of consecutive transport failures
	// tolerated; the next one is returned to the caller. Zero selects the
	// default, a negative value disables retries.
	MaxTransportRetries int
	Logger              *infra.Logger
	Clock               Clock
}

// Engine polls job status at a fixed interval.
type Engine struct {
	interval   time.Duration
	maxWait    time.Duration
	maxRetries int
	logger     *infra.Logger
	clock      Clock
}

// New builds an Engine, filling zero fields with defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		interval:   cfg.Interval,
		maxWait:    cfg.MaxWait,
		maxRetries: cfg.MaxTransportRetries,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.maxWait <= 0 {
		e.maxWait = DefaultMaxWait
	}
	switch {
	case e.maxRetries == 0:
		e.maxRetries = DefaultMaxTransportRetries
	case e.maxRetries < 0:
		e.maxRetries = 0
	}
	if e.logger == nil {
		e.logger = infra.NopLogger()
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	return e
}

// Interval returns the configured poll interval.
func (e *Engine) Interval() time.Duration { return e.interval }

// MaxWait returns the configured overall wait bound.
func (e *Engine) MaxWait() time.Duration { return e.maxWait }

// AwaitJob polls a freshly submitted job and carries its kind onto the final
// snapshot, since status responses do not report one.
func (e *Engine) AwaitJob(ctx context.Context, fetcher StatusFetcher, submitted *domain.RemoteJob, onProgress ProgressFunc) (*domain.RemoteJob, error) {
	if submitted == nil {
		return nil, errors.New("polling: submitted job is required")
	}
	final, err := e.Await(ctx, fetcher, submitted.ID, onProgress)
	if err != nil {
		return nil, err
	}
	if final.Kind == "" {
		final.Kind = submitted.Kind
	}
	return final, nil
}

// Await polls id until the job reports Ready or Error and returns that final
// snapshot. An Error job is returned without an error; callers decide how to
// surface it. Cancelling ctx stops polling but leaves the remote job alone.
func (e *Engine) Await(ctx context.Context, fetcher StatusFetcher, id string, onProgress ProgressFunc) (*domain.RemoteJob, error) {
	if fetcher == nil {
		return nil, errors.New("polling: status fetcher is required")
	}
	start := e.clock.Now()
	var (
		lastStatus domain.JobStatus
		failures   int
	)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("polling: job %s: %w", id, err)
		}

		// Bound a single check by the remaining budget so a hung request
		// cannot outlive MaxWait by more than one interval.
		remaining := max(e.maxWait-e.clock.Now().Sub(start), 0)
		checkCtx, cancel := context.WithTimeout(ctx, remaining+e.interval)
		job, err := fetcher.Status(checkCtx, id)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("polling: job %s: %w", id, ctxErr)
			}
			var transport *domain.TransportError
			if !errors.As(err, &transport) {
				return nil, err
			}
			failures++
			if failures > e.maxRetries {
				e.logger.Error().Err(err).Str("job_id", id).Int("failures", failures).Msg("polling: giving up after consecutive transport failures")
				return nil, err
			}
			e.logger.Warn().Err(err).Str("job_id", id).Int("failures", failures).Msg("polling: transient status failure")
		} else {
			failures = 0
			lastStatus = job.Status
			e.logger.Debug().
				Str("job_id", id).
				Str("status", string(job.Status)).
				Str("remote_status", job.RemoteStatus).
				Int("attempt", attempt).
				Msg("polling: status observed")
			if job.Status.Terminal() {
				return job, nil
			}
			if onProgress != nil {
				onProgress(Update{
					JobID:    id,
					Status:   job.Status,
					Progress: job.Progress,
					Attempt:  attempt,
					Elapsed:  e.clock.Now().Sub(start),
				})
			}
		}

		elapsed := e.clock.Now().Sub(start)
		if elapsed >= e.maxWait {
			return nil, &domain.TimeoutError{JobID: id, LastStatus: lastStatus, Waited: elapsed}
		}
		wait := min(e.interval, e.maxWait-elapsed)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling: job %s: %w", id, ctx.Err())
		case <-e.clock.After(wait):
		}
	}
}
