package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"resty.dev/v3"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
	"github.com/GuiPezoti/b3-scraper/internal/metrics"
	"github.com/GuiPezoti/b3-scraper/internal/ratelimit"
)

// downloadEndpoint redeems a token returned by the requestname endpoints.
const downloadEndpoint = "/api/download/?token="

// Config tunes the retry schedule. The values are capacity-planning
// knobs, not correctness requirements.
type Config struct {
	// MaxAttempts caps attempts per unit, first try included.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per
	// attempt up to BackoffMax, with jitter.
	Backoff    time.Duration
	BackoffMax time.Duration

	// Timeouts maps a size class to its attempt deadlines. Defaults to
	// the catalog policy; overridable for tests.
	Timeouts func(catalog.SizeClass) catalog.Timeouts
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Timeouts == nil {
		c.Timeouts = catalog.SizeClass.Timeouts
	}
	return c
}

// Fetcher retrieves one unit's payload over HTTP, applying the size
// class timeout policy and the retry schedule. It mutates no shared
// state beyond the admission gates and rate limiter it was given.
type Fetcher struct {
	client    *resty.Client
	host      string
	cfg       Config
	admission *Admission
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
}

// Option configures optional collaborators.
type Option func(*Fetcher)

// WithAdmission attaches the concurrency gates acquired around each
// attempt.
func WithAdmission(a *Admission) Option {
	return func(f *Fetcher) { f.admission = a }
}

// WithLimiter attaches a per-host request-rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// New creates a fetcher issuing requests through client. host keys the
// admission gates and rate limiter for all requests of this fetcher.
func New(client *resty.Client, host string, cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{client: client, host: host, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the attempt loop for one unit and returns its single
// terminal outcome. Connection failures, timeouts and 5xx responses are
// retried with exponential backoff; 4xx is terminal on first sight; an
// incomplete read is retried at most once. Failures never escape as
// errors, they are folded into the outcome.
func (f *Fetcher) Fetch(ctx context.Context, unit Unit) Outcome {
	timeouts := f.cfg.Timeouts(unit.Task.SizeClass)

	var last *ErrInfo
	readIncompleteRetried := false
	attempt := 0
	for {
		attempt++
		data, errInfo := f.attempt(ctx, unit, timeouts)
		if errInfo == nil {
			return Outcome{Unit: unit, Status: StatusSuccess, Bytes: data, Attempts: attempt}
		}
		last = errInfo

		if !errInfo.Retryable() || attempt >= f.cfg.MaxAttempts {
			break
		}
		if errInfo.Kind == KindReadIncomplete {
			if readIncompleteRetried {
				break
			}
			readIncompleteRetried = true
		}

		slog.Debug("retrying fetch",
			"task", unit.Task.Name,
			"date", unit.Date.Format(DateLayout),
			"attempt", attempt,
			"kind", string(errInfo.Kind),
			"error", errInfo.Message)
		f.metrics.IncRetries()

		if err := f.backoff(ctx, attempt); err != nil {
			break
		}
	}
	return Outcome{Unit: unit, Status: StatusError, Err: last, Attempts: attempt}
}

// attempt performs one admission-gated request. The slot is released
// when the attempt finishes, before any backoff sleep.
func (f *Fetcher) attempt(ctx context.Context, unit Unit, t catalog.Timeouts) ([]byte, *ErrInfo) {
	if err := f.admission.Acquire(ctx, f.host); err != nil {
		return nil, classifyTransport(err, false)
	}
	defer f.admission.Release(f.host)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, f.host); err != nil {
			return nil, classifyTransport(err, false)
		}
	}

	start := time.Now()
	defer func() {
		f.metrics.ObserveAttempt(unit.Task.Name, time.Since(start))
	}()

	actx, cancel := context.WithTimeout(ctx, t.Total)
	defer cancel()

	path := expand(unit.Task.EndpointTemplate, unit.Date)
	if unit.Task.TokenExchange {
		token, errInfo := f.requestToken(actx, path)
		if errInfo != nil {
			return nil, errInfo
		}
		path = downloadEndpoint + url.QueryEscape(token)
	}

	req := f.client.R().SetContext(actx)
	if unit.Task.BodyTemplate != "" {
		req.SetHeader("Content-Type", "application/json").
			SetBody(expand(unit.Task.BodyTemplate, unit.Date))
	}

	resp, err := req.Execute(unit.Task.Method, path)
	if err != nil {
		return nil, classifyTransport(err, false)
	}
	defer resp.Body.Close()

	if code := resp.StatusCode(); code >= 400 {
		return nil, newStatusError(code)
	}

	return f.readBody(resp, cancel, t.IdleRead)
}

// readBody drains the response under the idle-read watchdog. The
// watchdog aborts the attempt context when no bytes arrive within the
// idle window, which surfaces here as a read error.
func (f *Fetcher) readBody(resp *resty.Response, abort context.CancelFunc, idle time.Duration) ([]byte, *ErrInfo) {
	var r io.Reader = resp.Body
	var wd *watchdog
	if idle > 0 {
		wd = newWatchdog(idle, abort)
		defer wd.stop()
		r = &watchdogReader{r: resp.Body, wd: wd}
	}

	var buf bytes.Buffer
	n, copyErr := io.Copy(&buf, r)

	want := int64(-1)
	if resp.RawResponse != nil {
		want = resp.RawResponse.ContentLength
	}

	if copyErr != nil {
		switch {
		case wd.hasFired():
			return nil, newTimeoutError("idle-read deadline exceeded", copyErr)
		case errors.Is(copyErr, context.DeadlineExceeded) || errors.Is(copyErr, context.Canceled):
			return nil, classifyTransport(copyErr, false)
		case errors.Is(copyErr, io.ErrUnexpectedEOF) || (want >= 0 && n < want):
			return nil, newReadIncompleteError(n, want, copyErr)
		default:
			return nil, classifyTransport(copyErr, false)
		}
	}
	if want >= 0 && n < want {
		return nil, newReadIncompleteError(n, want, nil)
	}

	f.metrics.AddBytes(n)
	return buf.Bytes(), nil
}

// requestToken performs the first half of a token-exchange download.
func (f *Fetcher) requestToken(ctx context.Context, path string) (string, *ErrInfo) {
	resp, err := f.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return "", classifyTransport(err, false)
	}
	defer resp.Body.Close()

	if code := resp.StatusCode(); code >= 400 {
		return "", newStatusError(code)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err, false)
	}
	var tr struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &tr); err != nil || tr.Token == "" {
		return "", &ErrInfo{Kind: KindInternal, Message: "malformed token response", Cause: err}
	}
	return tr.Token, nil
}

// backoff sleeps for an exponentially increasing, jittered duration.
func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	d := f.cfg.Backoff * time.Duration(1<<uint(attempt-1))
	if d > f.cfg.BackoffMax {
		d = f.cfg.BackoffMax
	}
	// Jitter: 0.5x to 1.5x.
	d = time.Duration(float64(d) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func expand(template string, date time.Time) string {
	return strings.ReplaceAll(template, "{date}", date.Format(DateLayout))
}

// watchdog aborts a fetch attempt when the stream stalls.
type watchdog struct {
	timer *time.Timer
	idle  time.Duration
	fired atomic.Bool
}

func newWatchdog(idle time.Duration, abort context.CancelFunc) *watchdog {
	w := &watchdog{idle: idle}
	w.timer = time.AfterFunc(idle, func() {
		w.fired.Store(true)
		abort()
	})
	return w
}

func (w *watchdog) stop() {
	w.timer.Stop()
}

func (w *watchdog) hasFired() bool {
	return w != nil && w.fired.Load()
}

// watchdogReader rearms the watchdog on every chunk received.
type watchdogReader struct {
	r  io.Reader
	wd *watchdog
}

func (wr *watchdogReader) Read(p []byte) (int, error) {
	n, err := wr.r.Read(p)
	if n > 0 {
		wr.wd.timer.Reset(wr.wd.idle)
	}
	return n, err
}
