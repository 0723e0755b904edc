package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/product-fusion/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// HostRate and HostBurst seed the adaptive limiter of every host.
	HostRate  rate.Limit
	HostBurst int
	// Backoff is the delay before the first retry.
	Backoff time.Duration
	// Breaker marks a host unavailable after repeated transient failures.
	Breaker resilience.BreakerConfig
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher downloads feeds with per-host adaptive rate limiting and
// retries of transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	breakers *resilience.Breakers

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "product-fusion/1.0"
	}
	if opts.HostRate <= 0 {
		opts.HostRate = 5
	}
	if opts.HostBurst <= 0 {
		opts.HostBurst = 5
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		breakers: resilience.NewBreakers(opts.Breaker),
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

// LimiterFor returns the adaptive limiter of host, creating it on first use.
func (f *HTTPFetcher) LimiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// BreakerFor returns the breaker guarding host.
func (f *HTTPFetcher) BreakerFor(host string) *resilience.Breaker {
	return f.breakers.For(host)
}

// Download fetches the URL and returns the response body. Network errors,
// 429 and 5xx responses are retried; any other non-200 status fails at once.
// Once a host's breaker opens, downloads from it fail without a request.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	lim := f.LimiterFor(u.Host)
	breaker := f.BreakerFor(u.Host)

	retry := resilience.RetryConfig{
		MaxAttempts:    f.opts.MaxRetries,
		InitialBackoff: f.opts.Backoff,
		MaxBackoff:     30 * f.opts.Backoff,
		Multiplier:     2,
		JitterFraction: 0.5,
		OnRetry:        resilience.RetryLogger("fetch " + u.Host),
	}
	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		return resilience.Guard(ctx, breaker, func(ctx context.Context) (io.ReadCloser, error) {
			return f.get(ctx, rawURL, u.Host, lim)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: download")
	}
	return body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL, host string, lim *AdaptiveLimiter) (io.ReadCloser, error) {
	if err := lim.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "http request"))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		lim.OnRateLimit()
		return nil, resilience.NewTransientError(eris.Errorf("http 429 from %s", host))
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, host))
	case resp.StatusCode != http.StatusOK:
		_ = resp.Body.Close()
		return nil, eris.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	lim.OnSuccess()
	return resp.Body, nil
}
