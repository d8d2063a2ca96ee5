package resilientbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

const (
	DefaultRetries        = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 10 * time.Second
	DefaultTimeout        = 30 * time.Second

	// IdempotencyKeyHeader marks a POST or PATCH as safe to retry.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// RetryPolicy configures a RequestExecutor.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter randomizes each delay within [d/2, d]. The cap still holds.
	Jitter bool
	// RetryNonIdempotent allows POST and PATCH to be retried without an
	// Idempotency-Key header.
	RetryNonIdempotent bool
	// Timeout bounds each attempt when the request does not set one.
	Timeout time.Duration
}

// AttemptFunc performs one transport call.
type AttemptFunc func(ctx context.Context, req *RequestConfig) (*Response, error)

// RequestExecutor handles retry logic, backoff, and consulting the RateLimiter
// and CircuitBreaker before every attempt. Either guard may be nil.
type RequestExecutor struct {
	policy  RetryPolicy
	limiter *RateLimiter
	breaker *CircuitBreaker
	clock   clock.Clock
	emitter *Emitter
	logger  *slog.Logger
}

func NewRequestExecutor(policy RetryPolicy, limiter *RateLimiter, breaker *CircuitBreaker, clk clock.Clock, emitter *Emitter, logger *slog.Logger) *RequestExecutor {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryBaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultRetryMaxDelay
	}
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestExecutor{
		policy:  policy,
		limiter: limiter,
		breaker: breaker,
		clock:   clock.OrReal(clk),
		emitter: emitter,
		logger:  logger,
	}
}

// Execute runs call for attempts 0..=retries. Transport and status failures
// are retried with capped exponential backoff; an open breaker, a local error
// or the caller's cancellation ends the loop at once. When more than one
// attempt was made the terminal error is a *RetryError wrapping the last one.
// A streaming body is read once up front so every attempt sends the same bytes.
func (re *RequestExecutor) Execute(ctx context.Context, req *RequestConfig, call AttemptFunc) (*Response, error) {
	req, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	retries := re.retriesFor(req)

	for attempt := 0; ; attempt++ {
		if re.limiter != nil {
			if err := re.limiter.Admit(ctx); err != nil {
				return nil, err
			}
		}
		if re.breaker != nil {
			if err := re.breaker.Allow(); err != nil {
				re.logger.Debug("circuit open, aborting",
					slog.String("url", req.URL),
					slog.Int("attempt", attempt+1),
				)
				return nil, err
			}
		}

		re.logger.Debug("sending request",
			slog.String("method", req.Method),
			slog.String("url", req.URL),
			slog.Int("attempt", attempt+1),
		)
		resp, err := re.attempt(ctx, req, call)
		if err == nil {
			if re.breaker != nil {
				re.breaker.RecordSuccess()
			}
			if attempt > 0 {
				re.logger.Debug("request succeeded after retries", slog.Int("attempts", attempt+1))
			}
			return resp, nil
		}

		if !countsAsFailure(err) || ctx.Err() != nil {
			if re.breaker != nil {
				re.breaker.Abandon()
			}
			return nil, terminal(attempt, err)
		}
		if re.breaker != nil {
			re.breaker.RecordFailure()
		}

		if attempt >= retries {
			re.logger.Debug("max retries reached",
				slog.String("url", req.URL),
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return nil, terminal(attempt, err)
		}

		wait := re.backoff(attempt, err)
		re.emitter.Emit(Event{
			Type:    EventRequestRetry,
			Request: req,
			Err:     err,
			Attempt: attempt,
			Delay:   wait,
			Time:    re.clock.Now(),
		})
		re.logger.Debug("retrying request",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
			slog.Duration("backoff", wait),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", retries),
		)
		if err := re.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt runs one call under the per-attempt timeout and validates status.
func (re *RequestExecutor) attempt(ctx context.Context, req *RequestConfig, call AttemptFunc) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = re.policy.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := call(actx, req)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = &TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
		return nil, err
	}
	if !req.statusOK(resp.StatusCode) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Response: resp}
	}
	return resp, nil
}

func (re *RequestExecutor) retriesFor(req *RequestConfig) int {
	if req.Retries != nil {
		if *req.Retries < 0 {
			return 0
		}
		return *req.Retries
	}
	if !re.policy.RetryNonIdempotent && !idempotent(req) {
		return 0
	}
	return re.policy.Retries
}

// backoff is min(base * 2^attempt, max), stretched to honour a Retry-After
// hint but never beyond max.
func (re *RequestExecutor) backoff(attempt int, err error) time.Duration {
	wait := re.policy.MaxDelay
	if attempt < 30 {
		if d := re.policy.BaseDelay << uint(attempt); d > 0 && d < wait {
			wait = d
		}
	}
	if re.policy.Jitter {
		half := wait / 2
		wait = half + time.Duration(rand.Int63n(int64(half)+1))
	}

	var se *StatusError
	if errors.As(err, &se) && se.Response != nil {
		if hint := clock.RetryAfter(se.Response.Header("Retry-After"), re.clock.Now()); hint > wait {
			wait = hint
		}
	}
	if wait > re.policy.MaxDelay {
		wait = re.policy.MaxDelay
	}
	return wait
}

// countsAsFailure reports whether err is a remote failure: these feed the
// breaker and are retried. Anything else is a local error.
func countsAsFailure(err error) bool {
	var te *TransportError
	var se *StatusError
	return errors.As(err, &te) || errors.As(err, &se)
}

func bufferBody(req *RequestConfig) (*RequestConfig, error) {
	r, ok := req.Body.(io.Reader)
	if !ok {
		return req, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	out := *req
	out.Body = data
	return &out, nil
}

func idempotent(req *RequestConfig) bool {
	switch req.Method {
	case http.MethodPost, http.MethodPatch:
		return req.Header(IdempotencyKeyHeader) != ""
	default:
		return true
	}
}

func terminal(attempt int, err error) error {
	if attempt == 0 {
		return err
	}
	return &RetryError{Attempts: attempt + 1, Err: err}
}
