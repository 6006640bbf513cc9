package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// RetryPolicy bounds every remote call.
type RetryPolicy struct {
	// Timeout applies to each attempt.
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// PolicyFromConfig builds the policy from API settings.
func PolicyFromConfig(c common.APIConfig) RetryPolicy {
	return RetryPolicy{
		Timeout:    c.Timeout.Std(),
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryDelay.Std(),
		MaxDelay:   8 * c.RetryDelay.Std(),
	}
}

type retrying struct {
	next   Completer
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps c so transient failures are retried with exponential
// backoff and jitter. Once ctx is canceled no new attempt starts; an attempt
// already in flight runs to completion or to its own timeout.
func WithRetry(c Completer, p RetryPolicy, logger *slog.Logger) Completer {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: c, policy: p, logger: logger, sleep: sleepCtx}
}

func (r *retrying) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, canceled(err, lastErr)
		}

		resp, err := r.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !common.IsTransient(err) || attempt == r.policy.MaxRetries {
			break
		}
		delay := r.backoff(attempt)
		r.logger.Warn("llm.retry",
			"attempt", attempt+1,
			"max_retries", r.policy.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return Response{}, canceled(err, lastErr)
		}
	}
	return Response{}, lastErr
}

func (r *retrying) attempt(ctx context.Context, req Request) (Response, error) {
	actx := context.WithoutCancel(ctx)
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, r.policy.Timeout)
		defer cancel()
	}
	resp, err := r.next.Complete(actx, req)
	if err != nil && actx.Err() == context.DeadlineExceeded && !common.IsTransient(err) {
		err = common.Transient(err)
	}
	return resp, err
}

func (r *retrying) backoff(attempt int) time.Duration {
	base := r.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	d := base << attempt
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	// up to 25% jitter
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

func canceled(ctxErr, last error) error {
	if last != nil {
		return common.WrapError(ctxErr, "stopped retrying after: "+last.Error())
	}
	return ctxErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
