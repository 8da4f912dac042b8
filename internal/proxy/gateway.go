package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"mediagate/internal/observability/logging"
	"mediagate/internal/observability/metrics"
)

// Config wires the gateway's collaborators. All dependencies are injected;
// the package holds no ambient state.
type Config struct {
	Fetcher      *Fetcher
	HeaderPolicy *HeaderPolicy
	ImagePool    *HostPool
	// ProxyPath is the public path rewritten playlist URLs point back at.
	ProxyPath string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Gateway orchestrates one retrieval pipeline per request: header policy,
// fetch with optional escalation, host failover for image resources, and
// playlist rewriting for HLS manifests.
type Gateway struct {
	fetcher  *Fetcher
	policy   *HeaderPolicy
	pool     *HostPool
	rewriter *Rewriter
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// New constructs a Gateway from the provided configuration.
func New(cfg Config) *Gateway {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewFetcher(FetcherConfig{Metrics: cfg.Metrics})
	}
	policy := cfg.HeaderPolicy
	if policy == nil {
		policy = NewHeaderPolicy(nil)
	}
	proxyPath := cfg.ProxyPath
	if proxyPath == "" {
		proxyPath = "/proxy"
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Gateway{
		fetcher:  fetcher,
		policy:   policy,
		pool:     cfg.ImagePool,
		rewriter: &Rewriter{ProxyPath: proxyPath},
		logger:   cfg.Logger,
		metrics:  recorder,
	}
}

// Resource is a retrieved upstream resource with its corrected media type.
type Resource struct {
	Body        []byte
	ContentType string
	Header      http.Header
}

// Retrieve fetches the requested resource through the header policy and, for
// HLS manifests, rewrites every sub-resource reference back through the
// proxy. Upstream failures surface with their status once the policy's
// single escalation is spent.
func (g *Gateway) Retrieve(ctx context.Context, req Request) (*Resource, error) {
	if req.Target == nil {
		return nil, ErrMissingTarget
	}
	ctx = logging.ContextWithTargetHost(ctx, req.Target.Host)

	attach := g.policy.AttachOnFirstAttempt(req)
	result, err := g.fetcher.Fetch(ctx, req.Target.String(), g.policy.Headers(req, attach))
	if err != nil && g.policy.ShouldEscalate(req, attach, err) {
		g.log(ctx, "retrying with forwarded headers", "url", req.Target.String())
		result, err = g.fetcher.Fetch(ctx, req.Target.String(), g.policy.Headers(req, true))
	}
	if err != nil {
		return nil, err
	}

	resource := &Resource{
		Body:        result.Body,
		ContentType: ContentTypeFor(req.Target, result.Header.Get("Content-Type")),
		Header:      result.Header,
	}
	if IsPlaylist(result.Header.Get("Content-Type"), req.Target) {
		referer := ""
		if req.Referer != nil {
			referer = req.Referer.String()
		}
		body, lines := g.rewriter.Rewrite(result.Body, result.FinalURL, referer)
		resource.Body = body
		resource.ContentType = "application/vnd.apple.mpegurl"
		g.metrics.ObserveRewrite(lines)
	}
	return resource, nil
}

// RetrieveImage fetches an image-class resource from the configured CDN host
// pool, walking the pool's alternate hosts in order when the requested host
// fails. Hosts outside the pool are rejected before any network call.
func (g *Gateway) RetrieveImage(ctx context.Context, rawURL string) (*Resource, error) {
	if rawURL == "" {
		return nil, ErrMissingTarget
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, ErrMissingTarget
	}
	if g.pool == nil || !g.pool.Contains(target.Hostname()) {
		return nil, ErrForbiddenTarget
	}
	candidates, err := g.pool.Candidates(target)
	if err != nil {
		return nil, err
	}

	strategies := make([]func(context.Context) (*Result, error), 0, len(candidates))
	for _, candidate := range candidates {
		candidate := candidate
		strategies = append(strategies, func(ctx context.Context) (*Result, error) {
			return g.fetcher.Fetch(ctx, candidate, HeaderSet{})
		})
	}

	result, index, err := firstSuccess(ctx, ErrAllHostsFailed, strategies)
	if err != nil {
		g.metrics.ObserveFailoverExhausted()
		g.log(ctx, "image host pool exhausted", "url", rawURL, "candidates", len(candidates))
		return nil, err
	}
	if index > 0 {
		g.log(ctx, "image served from failover host", "url", candidates[index])
	}
	return &Resource{
		Body:        result.Body,
		ContentType: ContentTypeFor(result.FinalURL, result.Header.Get("Content-Type")),
		Header:      result.Header,
	}, nil
}

func (g *Gateway) log(ctx context.Context, msg string, args ...any) {
	if g.logger == nil {
		return
	}
	logging.WithContext(ctx, g.logger).Info(msg, args...)
}
