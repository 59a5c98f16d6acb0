// Package httpclient provides the retryable fetcher used for all upstream
// traffic: embed pages, playlists, and media segments.
//
// The client wraps the standard http.Client and adds:
//   - Browser-imitating default headers
//   - A shared cookie jar so challenge cookies persist across requests
//   - Automatic retries with exponential backoff, unbounded by default
//   - Transparent decompression (gzip, deflate, brotli)
//   - Detection of challenge interstitials on 403/503 responses
//   - Optional per-host politeness rate limiting
package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryDelay        = 2 * time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// challengeSniffLimit bounds how much of a 403/503 body is inspected for
	// challenge markers.
	challengeSniffLimit = 64 * 1024
)

// HTTP header constants.
const (
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// challengeMarkers identify interstitial challenge pages in 403/503 bodies.
var challengeMarkers = []string{"cloudflare", "cf-browser-verification"}

// Config holds the configuration for the fetcher.
type Config struct {
	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RetryAttempts caps retries for failed requests. Zero means retry
	// until the context is cancelled.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the maximum delay between retries.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// RateLimitPerHost throttles requests per upstream host in req/s.
	// Zero disables the limiter.
	RateLimitPerHost float64

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client to use. If nil, a client
	// with a fresh cookie jar is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     0,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		UserAgent:         DefaultUserAgent,
		Logger:            slog.Default(),
	}
}

// Client is the retryable fetcher.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a fetcher with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryDelay {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		// cookiejar.New with nil options never fails.
		jar, _ := cookiejar.New(nil)
		baseClient = &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		}
	}

	return &Client{
		config:   cfg,
		client:   baseClient,
		logger:   cfg.Logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// NewWithDefaults creates a fetcher with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Get performs a GET request with retries and default headers.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Do executes an HTTP request with automatic retries. When RetryAttempts is
// zero the request is retried with capped exponential backoff until the
// context is cancelled.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.setDefaultHeaders(req)

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)

			select {
			case <-ctx.Done():
				return nil, &models.TransportError{URL: obfuscateURL(req.URL), Err: errors.Join(ctx.Err(), lastErr)}
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		if err := c.waitForHost(ctx, req.URL.Host); err != nil {
			return nil, &models.TransportError{URL: obfuscateURL(req.URL), Err: err}
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		duration := time.Since(start)

		if err != nil {
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)

			// Context errors are never retried.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &models.TransportError{URL: obfuscateURL(req.URL), Err: err}
			}
			if c.exhausted(attempt) {
				return nil, &models.TransportError{URL: obfuscateURL(req.URL), Err: err}
			}
			continue
		}

		resp.Body = wrapDecompression(c.logger, resp)

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
			if c.detectChallenge(resp) {
				// The response is handed back unchanged; solving challenges
				// is out of scope.
				return resp, nil
			}
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			if c.exhausted(attempt) {
				return nil, &models.TransportError{URL: obfuscateURL(req.URL), Err: lastErr}
			}
			continue
		}

		c.logger.Debug("request completed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.Int64("content_length", resp.ContentLength),
		)

		return resp, nil
	}
}

// exhausted reports whether the attempt budget is spent. A zero budget never
// exhausts; the context deadline is the only stop.
func (c *Client) exhausted(attempt int) bool {
	return c.config.RetryAttempts > 0 && attempt >= c.config.RetryAttempts
}

// setDefaultHeaders applies browser-imitating headers without overriding
// caller-set values. Accept-Encoding is deliberately left to the transport.
func (c *Client) setDefaultHeaders(req *http.Request) {
	setIfAbsent := func(key, value string) {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}
	ua := c.config.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	setIfAbsent(HeaderUserAgent, ua)
	setIfAbsent("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	setIfAbsent("Accept-Language", "en-US,en;q=0.9")
	setIfAbsent("Cache-Control", "max-age=0")
	setIfAbsent("Sec-Fetch-Dest", "document")
	setIfAbsent("Sec-Fetch-Mode", "navigate")
	setIfAbsent("Sec-Fetch-Site", "none")
	setIfAbsent("Sec-Fetch-User", "?1")
	setIfAbsent("Upgrade-Insecure-Requests", "1")
}

// waitForHost blocks on the per-host politeness limiter when configured.
func (c *Client) waitForHost(ctx context.Context, host string) error {
	if c.config.RateLimitPerHost <= 0 {
		return nil
	}
	c.mu.Lock()
	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.config.RateLimitPerHost), 1)
		c.limiters[host] = limiter
	}
	c.mu.Unlock()
	return limiter.Wait(ctx)
}

// detectChallenge sniffs the response body for challenge markers and logs a
// structured warning when one is found. The consumed bytes are stitched back
// so the caller sees the full body either way.
func (c *Client) detectChallenge(resp *http.Response) bool {
	head, err := io.ReadAll(io.LimitReader(resp.Body, challengeSniffLimit))
	rest := resp.Body
	resp.Body = &replayReader{
		reader: io.MultiReader(bytes.NewReader(head), rest),
		closer: rest,
	}
	if err != nil {
		return false
	}

	lower := strings.ToLower(string(head))
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			c.logger.Warn("challenge page detected",
				slog.String("url", obfuscateURL(resp.Request.URL)),
				slog.Int("status", resp.StatusCode),
				slog.String("marker", marker),
			)
			return true
		}
	}
	return false
}

// replayReader re-serves sniffed bytes ahead of the remaining body.
type replayReader struct {
	reader io.Reader
	closer io.Closer
}

func (r *replayReader) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *replayReader) Close() error               { return r.closer.Close() }

// wrapDecompression wraps the response body with appropriate decompression.
// The Go transport already handles gzip it negotiated itself; this covers
// servers that compress regardless of negotiation.
func wrapDecompression(logger *slog.Logger, resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}

	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	default:
		logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// obfuscateURL returns a URL string with sensitive query parameters obfuscated.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	query := sanitized.Query()

	sensitiveParams := []string{
		"password", "passwd", "pass", "pwd",
		"token", "api_key", "apikey", "key",
		"secret", "auth", "authorization",
		"credential", "credentials",
	}

	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}

	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
