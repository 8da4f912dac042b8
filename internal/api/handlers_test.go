package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediagate/internal/aggregate"
	"mediagate/internal/cache"
	"mediagate/internal/proxy"
)

// hostTransport routes requests to per-host handlers without touching DNS.
type hostTransport map[string]http.HandlerFunc

func (t hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	handler, ok := t[req.URL.Hostname()]
	if !ok {
		return nil, errors.New("no route to host")
	}
	recorder := httptest.NewRecorder()
	handler(recorder, req)
	resp := recorder.Result()
	resp.Request = req
	return resp, nil
}

type sectionStub struct {
	items []aggregate.Item
	err   error
}

func (s *sectionStub) Name() string { return "stub" }

func (s *sectionStub) FetchSection(ctx context.Context, page int) ([]aggregate.Item, error) {
	return s.items, s.err
}

func newTestHandler(t *testing.T, transport http.RoundTripper, providers aggregate.HomeProviders) (*Handler, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	gateway := proxy.New(proxy.Config{
		Fetcher:      proxy.NewFetcher(proxy.FetcherConfig{Timeout: time.Second, Transport: transport}),
		HeaderPolicy: proxy.NewHeaderPolicy(nil),
		ImagePool:    proxy.NewHostPool("nhentai.net", []string{"i", "t"}, []int{1, 2, 3, 5, 7}),
		ProxyPath:    "/proxy",
	})
	return &Handler{
		Gateway:    gateway,
		Aggregator: aggregate.NewAggregator(store, nil, nil),
		Home:       aggregate.NewHomeBuilder(providers, 12, 24, nil, nil),
		Cache:      store,
		BundleTTL:  time.Minute,
	}, store
}

func TestProxyRequiresURL(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Proxy(rec, httptest.NewRequest(http.MethodGet, "/proxy", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "url parameter is required") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestProxyRejectsUnsupportedMethod(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Proxy(rec, httptest.NewRequest(http.MethodPost, "/proxy?url=https://cdn.example.com/a.ts", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestProxyServesSegment(t *testing.T) {
	transport := hostTransport{
		"cdn.example.com": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "video/mp2t")
			w.Header().Set("Accept-Ranges", "bytes")
			w.Write([]byte("segment-bytes"))
		},
	}
	handler, _ := newTestHandler(t, transport, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Proxy(rec, httptest.NewRequest(http.MethodGet, "/proxy?url=https://cdn.example.com/seg1.ts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "segment-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("Accept-Ranges = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestProxyHeadOmitsBody(t *testing.T) {
	transport := hostTransport{
		"cdn.example.com": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("segment-bytes"))
		},
	}
	handler, _ := newTestHandler(t, transport, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Proxy(rec, httptest.NewRequest(http.MethodHead, "/proxy?url=https://cdn.example.com/seg1.ts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD response carried a body: %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") == "" {
		t.Fatal("HEAD response missing Content-Length")
	}
}

func TestProxyPropagatesUpstreamStatus(t *testing.T) {
	transport := hostTransport{
		"cdn.example.com": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusGone)
		},
	}
	handler, _ := newTestHandler(t, transport, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Proxy(rec, httptest.NewRequest(http.MethodGet, "/proxy?url=https://cdn.example.com/seg1.ts", nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
}

func TestImageProxyRejectsForeignHost(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.ImageProxy(rec, httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://evil.example.com/1.jpg", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "target host is not allowed") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestImageProxyServesWithImmutableCaching(t *testing.T) {
	transport := hostTransport{
		"i1.nhentai.net": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		},
	}
	handler, _ := newTestHandler(t, transport, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.ImageProxy(rec, httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://i1.nhentai.net/galleries/1/1.jpg", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=604800, immutable" {
		t.Fatalf("Cache-Control = %q", got)
	}
}

func TestImageProxyExhaustedPoolIs502(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.ImageProxy(rec, httptest.NewRequest(http.MethodGet, "/image-proxy?url=https://i1.nhentai.net/galleries/1/1.jpg", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "all upstream hosts failed") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHomeBundleServesAndCaches(t *testing.T) {
	providers := aggregate.HomeProviders{
		Spotlight: &sectionStub{items: []aggregate.Item{{ID: "1", Title: "First"}}},
	}
	handler, store := newTestHandler(t, hostTransport{}, providers)

	rec := httptest.NewRecorder()
	handler.HomeBundle(rec, httptest.NewRequest(http.MethodGet, "/home-bundle", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, s-maxage=300, stale-while-revalidate=600" {
		t.Fatalf("Cache-Control = %q", got)
	}

	var bundle aggregate.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundle); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	if len(bundle.Spotlight) != 1 || bundle.Spotlight[0].Title != "First" {
		t.Fatalf("bundle = %+v", bundle)
	}

	if _, ok, _ := store.Get(context.Background(), "home:v1"); !ok {
		t.Fatal("bundle not cached after first request")
	}
}

func TestHomeBundleRejectsNonGet(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.HomeBundle(rec, httptest.NewRequest(http.MethodDelete, "/home-bundle", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHealthReportsCacheComponent(t *testing.T) {
	handler, _ := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Status     string `json:"status"`
		Components []struct {
			Component string `json:"component"`
			Status    string `json:"status"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("status = %q", payload.Status)
	}
	if len(payload.Components) != 1 || payload.Components[0].Component != "cache_store" {
		t.Fatalf("components = %+v", payload.Components)
	}
}

type downStore struct {
	cache.Store
}

func (downStore) Ping(context.Context) error {
	return cache.ErrUnavailable
}

func TestHealthDegradedCacheIs503(t *testing.T) {
	handler, store := newTestHandler(t, hostTransport{}, aggregate.HomeProviders{})
	handler.Cache = downStore{Store: store}

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
