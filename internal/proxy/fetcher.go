package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"mediagate/internal/observability/metrics"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxRedirects = 10

// FetcherConfig configures the upstream HTTP fetcher.
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	Metrics   *metrics.Recorder
	// Transport overrides the HTTP round tripper, primarily for tests.
	Transport http.RoundTripper
}

// Fetcher performs single upstream HTTP requests. It follows redirects,
// bounds each request with a timeout, and reports failures as typed errors.
// Retry and failover policy belong to the caller.
type Fetcher struct {
	client    *http.Client
	userAgent string
	metrics   *metrics.Recorder
}

// NewFetcher constructs a Fetcher from the provided configuration.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: cfg.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &Fetcher{client: client, userAgent: userAgent, metrics: recorder}
}

// Result is the outcome of one successful fetch attempt. FinalURL reflects
// any redirects followed and is the base for relative URI resolution.
type Result struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL *url.URL
}

// Fetch performs one GET against rawURL with the given header set. It
// returns *TransportError when no HTTP status was received and
// *UpstreamError for non-2xx responses.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers HeaderSet) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	userAgent := headers.UserAgent
	if userAgent == "" {
		userAgent = f.userAgent
	}
	req.Header.Set("User-Agent", userAgent)
	if headers.Referer != "" {
		req.Header.Set("Referer", headers.Referer)
	}
	if headers.Origin != "" {
		req.Header.Set("Origin", headers.Origin)
	}

	f.metrics.UpstreamFetchStarted()
	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ObserveUpstreamAttempt(req.URL.Host, "transport_error")
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.metrics.ObserveUpstreamAttempt(resp.Request.URL.Host, "http_error")
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.metrics.ObserveUpstreamAttempt(resp.Request.URL.Host, "transport_error")
		return nil, &TransportError{URL: rawURL, Err: err}
	}
	f.metrics.ObserveUpstreamAttempt(resp.Request.URL.Host, "success")
	return &Result{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		FinalURL: resp.Request.URL,
	}, nil
}
