package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dealmungchi/snipedeal/helpers"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
	"github.com/dealmungchi/snipedeal/services/cache"
	"github.com/dealmungchi/snipedeal/services/proxy"
)

const component = "fetcher"

// Config controls retries, pacing and timeouts
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	BlockTime   time.Duration
}

// DefaultConfig returns three attempts, 1s exponential backoff, 1-5s jitter and a 10s timeout
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MinDelay:    time.Second,
		MaxDelay:    5 * time.Second,
		Timeout:     10 * time.Second,
		BlockTime:   5 * time.Minute,
	}
}

// Response is a successfully fetched page, decoded to UTF-8
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher issues paced, retried GET requests with a browser identity
type Fetcher struct {
	cfg      Config
	client   *http.Client
	cache    cache.CacheService
	proxies  proxy.ProxyManager
	log      *logger.Logger
	snapshot func(url string, body []byte)

	rndMu sync.Mutex
	rnd   *mathrand.Rand
}

// Option customizes a Fetcher
type Option func(*Fetcher)

// WithCache enables rate-limit block markers shared through c
func WithCache(c cache.CacheService) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithProxy routes requests through the proxies handed out by pm
func WithProxy(pm proxy.ProxyManager) Option {
	return func(f *Fetcher) { f.proxies = pm }
}

// WithLogger overrides the component logger
func WithLogger(l *logger.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithHTTPClient replaces the HTTP client. Proxy selection is skipped.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithSnapshot registers a debug hook receiving every successful body
func WithSnapshot(fn func(url string, body []byte)) Option {
	return func(f *Fetcher) { f.snapshot = fn }
}

type proxyKey struct{}

// New creates a Fetcher. Zero Config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = def.BlockTime
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}

	f := &Fetcher{
		cfg: cfg,
		rnd: mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.ForFetcher()
	}
	if f.client == nil {
		f.client = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: func(req *http.Request) (*url.URL, error) {
					u, _ := req.Context().Value(proxyKey{}).(*url.URL)
					return u, nil
				},
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return f
}

// Fetch waits a random delay, then GETs rawURL with up to MaxAttempts attempts.
// Only 429/500/502/503/504 and connection errors are retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	blockKey := blockKeyFor(rawURL)
	if f.blocked(blockKey) {
		return nil, &FetchError{
			URL:    rawURL,
			Reason: "rate limited",
			Err:    apperrors.NewRateLimit(component, f.cfg.BlockTime),
		}
	}

	if err := sleepCtx(ctx, f.jitter()); err != nil {
		return nil, &FetchError{URL: rawURL, Reason: "cancelled", Err: err}
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		resp, err := f.do(ctx, rawURL)
		var term *terminalError
		switch {
		case errors.As(err, &term):
			return nil, &FetchError{URL: rawURL, Attempts: attempt + 1, Reason: term.reason, Err: term.err}
		case err != nil:
			if ctx.Err() != nil {
				return nil, &FetchError{URL: rawURL, Attempts: attempt + 1, Reason: "cancelled", Err: ctx.Err()}
			}
			lastStatus, lastErr = 0, apperrors.NewNetwork(component, "request failed", err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case !IsRetryableStatus(resp.StatusCode):
			return nil, &FetchError{
				URL:        rawURL,
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
				Reason:     "unexpected status",
				Err:        apperrors.NewNetwork(component, "status "+strconv.Itoa(resp.StatusCode), nil),
			}
		default:
			lastStatus, lastErr = resp.StatusCode, apperrors.NewNetwork(component, "status "+strconv.Itoa(resp.StatusCode), nil)
		}

		if attempt == f.cfg.MaxAttempts-1 {
			break
		}

		backoff := f.cfg.BaseBackoff << attempt
		f.log.Warn().
			Str("url", rawURL).
			Int("attempt", attempt+1).
			Int("status", lastStatus).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("Retrying fetch")

		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, &FetchError{URL: rawURL, Attempts: attempt + 1, Reason: "cancelled", Err: err}
		}
	}

	if lastStatus == http.StatusTooManyRequests {
		f.block(blockKey)
		lastErr = apperrors.NewRateLimit(component, f.cfg.BlockTime)
	}

	return nil, &FetchError{
		URL:        rawURL,
		StatusCode: lastStatus,
		Attempts:   f.cfg.MaxAttempts,
		Reason:     "retries exhausted",
		Err:        lastErr,
	}
}

// do performs a single attempt. A non-nil error means no HTTP response was received.
func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	var proxyURL *url.URL
	if f.proxies != nil {
		proxyURL = f.proxies.Next()
	}
	reqCtx := context.WithValue(ctx, proxyKey{}, proxyURL)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &terminalError{reason: "invalid request", err: apperrors.NewValidation(component, "failed to create request", err)}
	}
	f.rndMu.Lock()
	helpers.SetBrowserHeaders(req, f.rnd)
	f.rndMu.Unlock()

	resp, err := f.client.Do(req)
	if err != nil {
		if f.proxies != nil && proxyURL != nil {
			f.proxies.MarkFailed(proxyURL)
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{URL: rawURL, StatusCode: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, nil
	}

	body, err := helpers.DecodeUTF8(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &terminalError{reason: "undecodable body", err: apperrors.NewParsing(component, "failed to decode body", err)}
	}
	out.Body = body

	f.log.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Fetched page")

	if f.snapshot != nil {
		f.snapshot(rawURL, body)
	}
	return out, nil
}

func (f *Fetcher) jitter() time.Duration {
	spread := f.cfg.MaxDelay - f.cfg.MinDelay
	if spread <= 0 {
		return f.cfg.MinDelay
	}
	f.rndMu.Lock()
	defer f.rndMu.Unlock()
	return f.cfg.MinDelay + time.Duration(f.rnd.Int63n(int64(spread)))
}

func (f *Fetcher) blocked(key string) bool {
	if f.cache == nil {
		return false
	}
	_, err := f.cache.Get(key)
	return err == nil
}

func (f *Fetcher) block(key string) {
	if f.cache == nil {
		return
	}
	seconds := strconv.Itoa(int(f.cfg.BlockTime / time.Second))
	if err := f.cache.Set(key, []byte(seconds), f.cfg.BlockTime); err != nil {
		f.log.Warn().Err(err).Str("key", key).Msg("Failed to store rate limit block")
		return
	}
	f.log.Warn().Str("key", key).Dur("block", f.cfg.BlockTime).Msg("Host rate limited, pausing requests")
}

func blockKeyFor(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return "fetch_blocked:" + host
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
