// Package delivery sends occupancy events to the parking map endpoint with
// per-attempt timeouts, exponential backoff and a failure taxonomy.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sweeney/parking-sensor/internal/logic"
)

// DefaultPath is the parking map update route.
const DefaultPath = "/space-map/update"

// maxBodyBytes bounds how much of a response body is kept for logs.
const maxBodyBytes = 512

// Config holds endpoint and retry policy settings.
type Config struct {
	BaseURL        string
	Path           string
	AttemptTimeout time.Duration
	MaxAttempts    int
	MaxTotalWait   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Jitter         float64
}

// Client delivers events to a single endpoint. Safe for concurrent use;
// ordering per input is the caller's job.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the backoff wait. The function must return an error
// when ctx ends before d elapses.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces time.Now for elapsed-time bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. It fails only on an unusable endpoint URL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("endpoint %q: need an http(s) URL with a host", cfg.BaseURL)
	}

	c := &Client{
		cfg:      cfg,
		endpoint: base.JoinPath(cfg.Path).String(),
		http:     &http.Client{},
		logger:   slog.Default(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the full URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Deliver sends ev until it succeeds, fails permanently, runs out of
// attempts or wait budget, or ctx ends. It never panics or returns an error;
// every failure is described by the Result.
func (c *Client) Deliver(ctx context.Context, ev logic.Event) Result {
	start := c.now()
	logger := c.logger.With(
		"event_id", ev.ID,
		"lot", ev.Lot,
		"spot", ev.Spot,
		"event", ev.Kind.WireValue(),
	)

	res := Result{Event: ev}
	sched := newSchedule(c.cfg.BackoffBase, c.cfg.BackoffMax, c.cfg.Jitter)
	var waited time.Duration

	finish := func(o Outcome, err error) Result {
		res.Outcome = o
		res.Err = err
		res.Elapsed = c.now().Sub(start)
		return res
	}

	for n := 1; ; n++ {
		var delay time.Duration
		if n > 1 {
			delay = sched.next()
			if c.cfg.MaxTotalWait > 0 && waited+delay > c.cfg.MaxTotalWait {
				logger.Warn("delivery_retries_exhausted", "attempts", n-1, "waited", waited, "reason", "max_total_wait")
				return finish(RetriesExhausted, fmt.Errorf("%w after %d attempts: %w", ErrWaitExceeded, n-1, res.Err))
			}
			if err := c.sleep(ctx, delay); err != nil {
				logger.Warn("delivery_abandoned", "attempts", n-1, "reason", "cancelled")
				return finish(Abandoned, fmt.Errorf("%w: %w", ErrCancelled, err))
			}
			waited += delay
		}

		if err := ctx.Err(); err != nil {
			logger.Warn("delivery_abandoned", "attempts", n-1, "reason", "cancelled")
			return finish(Abandoned, fmt.Errorf("%w: %w", ErrCancelled, err))
		}

		att, body := c.attempt(ctx, ev, n)
		att.Delay = delay
		res.Attempts = append(res.Attempts, att)
		res.Err = att.Err

		switch att.Outcome {
		case AttemptSuccess:
			res.Body = body
			logger.Info("delivery_succeeded", "attempt", n, "status", att.StatusCode, "elapsed", att.Elapsed, "body", body)
			return finish(Delivered, nil)

		case AttemptPermanent:
			logger.Error("delivery_abandoned",
				"attempt", n,
				"status", att.StatusCode,
				"reason", "permanent",
				"error", att.Err,
				"event_time", ev.Time,
			)
			return finish(Abandoned, att.Err)
		}

		if ctx.Err() != nil {
			logger.Warn("delivery_abandoned", "attempts", n, "reason", "cancelled")
			return finish(Abandoned, fmt.Errorf("%w: %w", ErrCancelled, att.Err))
		}

		logger.Warn("delivery_attempt_failed", "attempt", n, "max_attempts", c.cfg.MaxAttempts, "status", att.StatusCode, "error", att.Err)
		if n >= c.cfg.MaxAttempts {
			logger.Warn("delivery_retries_exhausted", "attempts", n, "waited", waited, "reason", "max_attempts")
			return finish(RetriesExhausted, att.Err)
		}
	}
}

// attempt performs one PUT and classifies it.
func (c *Client) attempt(ctx context.Context, ev logic.Event, n int) (Attempt, string) {
	att := Attempt{Number: n}
	start := c.now()

	actx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(actx, http.MethodPut, c.endpoint, strings.NewReader(FormBody(ev)))
	if err != nil {
		att.Outcome = AttemptPermanent
		att.Err = fmt.Errorf("%w: build request: %w", ErrPermanent, err)
		att.Elapsed = c.now().Sub(start)
		return att, ""
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "parking-sensor")
	if ev.ID != "" {
		req.Header.Set("X-Request-Id", ev.ID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		att.Outcome = AttemptTransient
		att.Err = fmt.Errorf("%w: %w", ErrTransient, err)
		att.Elapsed = c.now().Sub(start)
		return att, ""
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Debug("delivery_body_read_failed", "event_id", ev.ID, "attempt", n, "status", resp.StatusCode, "error", err)
	}
	body := strings.TrimSpace(string(raw))
	att.StatusCode = resp.StatusCode
	att.Outcome = Classify(resp.StatusCode)

	switch att.Outcome {
	case AttemptTransient:
		att.Err = fmt.Errorf("%w: %w", ErrTransient, &StatusError{Code: resp.StatusCode, Body: body})
	case AttemptPermanent:
		att.Err = fmt.Errorf("%w: %w", ErrPermanent, &StatusError{Code: resp.StatusCode, Body: body})
	}
	att.Elapsed = c.now().Sub(start)
	return att, body
}

// Classify maps an HTTP status to an attempt outcome. 408 and 429 are the
// only 4xx codes worth retrying.
func Classify(code int) AttemptOutcome {
	switch {
	case code >= 200 && code < 300:
		return AttemptSuccess
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return AttemptTransient
	case code >= 500:
		return AttemptTransient
	}
	return AttemptPermanent
}

// FormBody encodes ev as the form the parking map expects. Field order is
// fixed; url.Values would sort it.
func FormBody(ev logic.Event) string {
	return "parkingLotName=" + url.QueryEscape(ev.Lot) +
		"&parkingSpaceName=" + url.QueryEscape(ev.Spot) +
		"&parkingSpaceEvent=" + url.QueryEscape(ev.Kind.WireValue())
}

// IsCancelled reports whether err marks a delivery stopped by shutdown.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
