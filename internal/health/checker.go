package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/omnix-ai/omnixd/internal/service"
)

// Outcome classifies how a health wait ended.
type Outcome string

const (
	// OutcomeHealthy: a probe returned a 2xx status.
	OutcomeHealthy Outcome = "healthy"
	// OutcomeTimedOut: the budget ran out but at least one attempt reached the
	// service (non-2xx answer or a request that timed out mid-flight). The
	// process is up yet never became ready.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeUnreachable: every attempt failed to connect. Nothing ever
	// listened on the health URL.
	OutcomeUnreachable Outcome = "unreachable"
	// OutcomeCanceled: the surrounding context was canceled (shutdown raced
	// startup).
	OutcomeCanceled Outcome = "canceled"
)

// Result describes a finished health wait in enough detail for reports to
// distinguish "connection refused" from "timeout" from "non-2xx".
type Result struct {
	Outcome    Outcome
	Attempts   int
	Elapsed    time.Duration
	LastStatus int   // last HTTP status observed, 0 if none
	LastErr    error // last transport error observed, nil if none
}

func (r Result) Healthy() bool { return r.Outcome == OutcomeHealthy }

// Cause renders the result for reports and history events.
func (r Result) Cause() string {
	switch r.Outcome {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeCanceled:
		return "health wait canceled"
	case OutcomeTimedOut:
		if r.LastStatus != 0 {
			return fmt.Sprintf("no 2xx within budget: last status %d after %d attempts", r.LastStatus, r.Attempts)
		}
		return fmt.Sprintf("health attempts timed out (%d attempts)", r.Attempts)
	case OutcomeUnreachable:
		if r.LastErr != nil {
			return fmt.Sprintf("cannot connect after %d attempts: %v", r.Attempts, r.LastErr)
		}
		return fmt.Sprintf("cannot connect after %d attempts", r.Attempts)
	default:
		return string(r.Outcome)
	}
}

const (
	DefaultPollInterval   = time.Second
	DefaultAttemptTimeout = 2 * time.Second
)

// Checker polls service health endpoints. The per-attempt timeout is
// independent of the caller's overall budget, so one slow attempt never
// consumes the whole budget.
type Checker struct {
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	Logger         *slog.Logger
	Client         *http.Client // optional; a default client is used when nil
}

func New() *Checker {
	return &Checker{
		PollInterval:   DefaultPollInterval,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// WaitUntilHealthy blocks until the service reports healthy, the budget is
// exhausted, or ctx is canceled. A spec without a health URL sleeps the
// spec's StartupDelay and reports healthy without any network traffic.
func (c *Checker) WaitUntilHealthy(ctx context.Context, spec service.Spec, budget time.Duration) Result {
	start := time.Now()

	if spec.HealthURL == "" {
		if spec.StartupDelay > 0 {
			select {
			case <-time.After(spec.StartupDelay):
			case <-ctx.Done():
				return Result{Outcome: OutcomeCanceled, Elapsed: time.Since(start), LastErr: ctx.Err()}
			}
		}
		return Result{Outcome: OutcomeHealthy, Elapsed: time.Since(start)}
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attemptTimeout := c.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	var res Result
	sawAnswer := false
	for {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCanceled
			res.LastErr = ctx.Err()
			res.Elapsed = time.Since(start)
			return res
		}

		res.Attempts++
		status, err := c.attempt(ctx, spec.HealthURL, attemptTimeout)
		switch {
		case err == nil && status >= 200 && status < 300:
			res.LastStatus = status
			res.Outcome = OutcomeHealthy
			res.Elapsed = time.Since(start)
			return res
		case err == nil:
			res.LastStatus = status
			sawAnswer = true
			log.Debug("health attempt not ready", "service", spec.Name, "url", spec.HealthURL, "status", status, "attempt", res.Attempts)
		default:
			if ctx.Err() != nil {
				res.Outcome = OutcomeCanceled
				res.LastErr = ctx.Err()
				res.Elapsed = time.Since(start)
				return res
			}
			res.LastErr = err
			if isAttemptTimeout(err) {
				sawAnswer = true
			}
			log.Debug("health attempt failed", "service", spec.Name, "url", spec.HealthURL, "error", err, "attempt", res.Attempts)
		}

		if time.Since(start) >= budget {
			break
		}
		select {
		case <-ctx.Done():
			res.Outcome = OutcomeCanceled
			res.LastErr = ctx.Err()
			res.Elapsed = time.Since(start)
			return res
		case <-time.After(interval):
		}
		if time.Since(start) >= budget {
			break
		}
	}

	res.Elapsed = time.Since(start)
	if sawAnswer {
		res.Outcome = OutcomeTimedOut
	} else {
		res.Outcome = OutcomeUnreachable
	}
	return res
}

func (c *Checker) attempt(ctx context.Context, url string, timeout time.Duration) (int, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// isAttemptTimeout distinguishes a request that reached the service but ran
// out of its per-attempt budget from a plain connect failure.
func isAttemptTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
