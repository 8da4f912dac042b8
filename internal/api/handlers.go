package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mediagate/internal/aggregate"
	"mediagate/internal/cache"
	"mediagate/internal/proxy"
)

// Handler bundles the gateway endpoints with their injected collaborators.
type Handler struct {
	Gateway    *proxy.Gateway
	Aggregator *aggregate.Aggregator
	Home       *aggregate.HomeBuilder
	Cache      cache.Store
	BundleTTL  time.Duration
	Logger     *slog.Logger
}

const homeBundleKey = "home:v1"

// passthroughHeaders are copied from the upstream response so players keep
// their range and length semantics across the proxy hop.
var passthroughHeaders = []string{"Accept-Ranges", "Content-Range", "Content-Length"}

// Proxy serves GET /proxy?url=&referer=. Media endpoints answer failures
// with plain text because the consumer is a player, not the frontend app.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	if !allowMediaMethod(w, r) {
		return
	}
	query := r.URL.Query()
	req, err := proxy.ParseRequest(query.Get("url"), query.Get("referer"))
	if err != nil {
		http.Error(w, "url parameter is required", http.StatusBadRequest)
		return
	}
	resource, err := h.Gateway.Retrieve(r.Context(), req)
	if err != nil {
		h.writeRetrievalError(w, r, err)
		return
	}
	h.writeResource(w, r, resource, "")
}

// ImageProxy serves GET /image-proxy?url=, restricted to the configured
// image CDN domain family. Successful responses carry a long-lived cache
// header because pool content is immutable.
func (h *Handler) ImageProxy(w http.ResponseWriter, r *http.Request) {
	if !allowMediaMethod(w, r) {
		return
	}
	resource, err := h.Gateway.RetrieveImage(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeRetrievalError(w, r, err)
		return
	}
	h.writeResource(w, r, resource, "public, max-age=604800, immutable")
}

// HomeBundle serves GET /home-bundle: the cached aggregate of the five
// home sections. The response is CDN-cacheable with a
// stale-while-revalidate window so edge caches absorb most traffic.
func (h *Handler) HomeBundle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteRequestError(w, RequestError{Status: http.StatusMethodNotAllowed, Message: fmt.Sprintf("method %s not allowed", r.Method)})
		return
	}
	ttl := h.BundleTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	payload, err := h.Aggregator.FetchOrCompute(r.Context(), homeBundleKey, ttl, h.Home.Build)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("home bundle build failed", "error", err)
		}
		WriteRequestError(w, ServiceUnavailableError("home bundle unavailable"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, s-maxage=300, stale-while-revalidate=600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) writeResource(w http.ResponseWriter, r *http.Request, resource *proxy.Resource, cacheControl string) {
	for _, name := range passthroughHeaders {
		if value := resource.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}
	w.Header().Set("Content-Type", resource.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(resource.Body)))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(resource.Body)
}

func (h *Handler) writeRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	status := proxy.StatusFor(err)
	message := "upstream fetch failed"
	switch {
	case errors.Is(err, proxy.ErrMissingTarget):
		message = "url parameter is required"
	case errors.Is(err, proxy.ErrForbiddenTarget):
		message = "target host is not allowed"
	case errors.Is(err, proxy.ErrAllHostsFailed), errors.Is(err, proxy.ErrAllAttemptsFailed):
		// Individual upstream diagnostics stay out of client responses.
		message = "all upstream hosts failed"
	}
	if h.Logger != nil && status >= 500 {
		h.Logger.Warn("retrieval failed", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, message, status)
}

func allowMediaMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	http.Error(w, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
	return false
}
