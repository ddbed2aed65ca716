package poller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/BearBump/ParcelPoll/internal/metrics"
	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/pkg/errors"
)

type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeRateLimitExceeded Outcome = "rate_limit_exceeded"
	OutcomeParseFailed       Outcome = "parse_failed"
	OutcomeUpstreamFailed    Outcome = "upstream_failed"
	OutcomeNetworkFailed     Outcome = "network_failed"
	OutcomeFailed            Outcome = "failed"
	OutcomeCanceled          Outcome = "canceled"
)

type Transport interface {
	Do(ctx context.Context, r httpclient.Request) (httpclient.Response, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Waiter blocks for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Cycle performs one logical refresh of a session: request, classify,
// decode and commit, retrying in place on 429 within the backoff budget.
type Cycle struct {
	transport Transport
	adapter   upstream.Adapter
	backoff   *Backoff

	rl              RateLimiter
	budgetPerMinute int64

	wait Waiter
	now  func() time.Time
}

func NewCycle(transport Transport, adapter upstream.Adapter, backoff *Backoff) *Cycle {
	if backoff == nil {
		backoff = NewBackoff(DefaultBackoffConfig(), nil)
	}
	return &Cycle{
		transport: transport,
		adapter:   adapter,
		backoff:   backoff,
		wait:      sleepCtx,
		now:       time.Now,
	}
}

// WithRequestBudget caps outbound requests per credential per minute.
// A refused request is handled like a 429 without Retry-After.
func (c *Cycle) WithRequestBudget(rl RateLimiter, perMinute int64) *Cycle {
	if rl != nil && perMinute > 0 {
		c.rl = rl
		c.budgetPerMinute = perMinute
	}
	return c
}

func (c *Cycle) WithWaiter(w Waiter) *Cycle {
	if w != nil {
		c.wait = w
	}
	return c
}

func (c *Cycle) WithClock(now func() time.Time) *Cycle {
	if now != nil {
		c.now = now
	}
	return c
}

// Run executes one cycle against s. The returned error explains any outcome
// other than success. On cancellation s is put back to its pre-cycle state.
func (c *Cycle) Run(ctx context.Context, s *Session) (Outcome, error) {
	prev := s.Snapshot()
	maxRetries := c.backoff.MaxRetries()
	retries := prev.ConsecutiveRateLimitRetries
	hintUsed := false

	for {
		resp, denied, err := c.send(ctx, s)
		if ctx.Err() != nil {
			return c.cancel(ctx, s, prev)
		}
		if err != nil {
			switch {
			case errors.Is(err, httpclient.ErrNetwork):
				c.observe("network")
				return c.fail(s, OutcomeNetworkFailed, SummaryNetworkError, err)
			case errors.Is(err, httpclient.ErrBodyTooLarge):
				c.observe("oversize")
				return c.fail(s, OutcomeParseFailed, SummaryInvalidData, err)
			}
			return c.fail(s, OutcomeFailed, SummaryUnknownError, err)
		}
		if denied {
			c.observe("budget")
		} else {
			c.observe(statusClass(resp.StatusCode))
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			var d time.Duration
			var k int
			source := "backoff"
			if hint, ok := RetryAfter(resp.Header); ok && !hintUsed {
				// A server hint buys one extra attempt that does not count as a retry.
				// Hints longer than Cap are clamped to Cap.
				hintUsed = true
				source = "retry_after"
				d = min(hint, c.backoff.cfg.Cap)
				k = min(retries+1, maxRetries)
			} else {
				if retries >= maxRetries {
					s.commit(func(st *Snapshot) {
						st.Summary = SummaryRateLimitExceeded
						st.ConsecutiveRateLimitRetries = 0
						st.LastOutcome = OutcomeRateLimitExceeded
					})
					slog.Warn("upstream rate limit exceeded", "session", s.ID(), "max_retries", maxRetries)
					return c.done(OutcomeRateLimitExceeded, errors.Errorf("rate limit exceeded after %d retries", maxRetries))
				}
				d = c.backoff.Delay(retries)
				retries++
				k = retries
			}

			counter := retries
			s.commit(func(st *Snapshot) {
				st.Summary = summaryRateLimited(k, maxRetries)
				st.ConsecutiveRateLimitRetries = counter
			})
			metrics.RateLimitWaitSeconds.WithLabelValues(source).Observe(d.Seconds())
			slog.Warn("upstream rate limited, waiting",
				"session", s.ID(), "wait", d.String(), "source", source, "retry", k, "max_retries", maxRetries)

			if err := c.wait(ctx, d); err != nil {
				return c.cancel(ctx, s, prev)
			}
			continue
		}

		if resp.StatusCode/100 != 2 {
			return c.fail(s, OutcomeNetworkFailed, SummaryNetworkError, errors.Errorf("upstream http %d", resp.StatusCode))
		}

		recs, err := c.decode(resp)
		if err != nil {
			var ue *upstream.UpstreamError
			switch {
			case errors.As(err, &ue):
				return c.fail(s, OutcomeUpstreamFailed, SummaryAPIError, err)
			case errors.Is(err, upstream.ErrParse), errors.Is(err, upstream.ErrFormat):
				return c.fail(s, OutcomeParseFailed, SummaryInvalidData, err)
			default:
				return c.fail(s, OutcomeFailed, SummaryUnknownError, err)
			}
		}

		now := c.now().UTC()
		summary := SummarizeRecords(recs)
		s.commit(func(st *Snapshot) {
			st.Records = recs
			st.Summary = summary
			st.LastSuccessAt = &now
			st.ConsecutiveRateLimitRetries = 0
			st.LastOutcome = OutcomeSuccess
		})
		metrics.ActiveDeliveries.WithLabelValues(s.ID()).Set(float64(ActiveCount(recs)))
		slog.Info("poll cycle succeeded", "session", s.ID(), "kind", string(c.adapter.Kind()), "records", len(recs), "summary", summary)
		return c.done(OutcomeSuccess, nil)
	}
}

// send reports denied when the local request budget refused the request; the
// returned response is then a synthetic 429 without Retry-After.
func (c *Cycle) send(ctx context.Context, s *Session) (resp httpclient.Response, denied bool, err error) {
	if c.rl != nil {
		key := fmt.Sprintf("rl:upstream:%s:%s", s.Key(), c.now().UTC().Format("200601021504"))
		allowed, n, err := c.rl.Allow(ctx, key, c.budgetPerMinute, 70*time.Second)
		switch {
		case err != nil:
			slog.Warn("request budget unavailable, sending anyway", "session", s.ID(), "error", err.Error())
		case !allowed:
			slog.Warn("request budget exhausted", "session", s.ID(), "count", n, "limit", c.budgetPerMinute)
			return httpclient.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}, true, nil
		}
	}
	resp, err = c.transport.Do(ctx, c.adapter.Request())
	return resp, false, err
}

func (c *Cycle) decode(resp httpclient.Response) (recs []models.DeliveryRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, errors.Errorf("adapter panic: %v", r)
		}
	}()
	return c.adapter.Decode(resp)
}

// fail ends the cycle with an error summary; previously fetched records are kept.
func (c *Cycle) fail(s *Session, outcome Outcome, summary string, cause error) (Outcome, error) {
	s.commit(func(st *Snapshot) {
		st.Summary = summary
		st.ConsecutiveRateLimitRetries = 0
		st.LastOutcome = outcome
	})
	slog.Error("poll cycle failed", "session", s.ID(), "outcome", string(outcome), "error", cause.Error())
	return c.done(outcome, cause)
}

func (c *Cycle) cancel(ctx context.Context, s *Session, prev Snapshot) (Outcome, error) {
	s.restore(prev)
	slog.Info("poll cycle canceled", "session", s.ID())
	return c.done(OutcomeCanceled, ctx.Err())
}

func (c *Cycle) done(outcome Outcome, err error) (Outcome, error) {
	metrics.CyclesTotal.WithLabelValues(string(c.adapter.Kind()), string(outcome)).Inc()
	return outcome, err
}

func (c *Cycle) observe(class string) {
	metrics.UpstreamResponsesTotal.WithLabelValues(string(c.adapter.Kind()), class).Inc()
}

func statusClass(code int) string {
	if code == http.StatusTooManyRequests {
		return "429"
	}
	return fmt.Sprintf("%dxx", code/100)
}
