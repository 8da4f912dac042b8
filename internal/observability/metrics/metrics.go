package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type upstreamLabel struct {
	host    string
	outcome string
}

// Recorder aggregates in-memory metrics counters for HTTP requests, upstream
// fetch attempts, playlist rewrites, cache traffic, and host failover. It
// coordinates concurrent writers via a RWMutex while exposing an atomic gauge
// for in-flight upstream fetches.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	upstreamAttempts map[upstreamLabel]uint64
	cacheHits        map[string]uint64
	cacheMisses      map[string]uint64
	rewrittenLines   uint64
	rewrittenDocs    uint64
	failoverExhaust  uint64
	sectionDegraded  map[string]uint64
	inflightUpstream atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		upstreamAttempts: make(map[upstreamLabel]uint64),
		cacheHits:        make(map[string]uint64),
		cacheMisses:      make(map[string]uint64),
		sectionDegraded:  make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UpstreamFetchStarted increments the in-flight upstream gauge. Callers pair
// it with ObserveUpstreamAttempt once the attempt settles.
func (r *Recorder) UpstreamFetchStarted() {
	r.inflightUpstream.Add(1)
}

// ObserveUpstreamAttempt records one settled fetch attempt against the given
// host with outcome "success", "http_error", or "transport_error", and
// decrements the in-flight gauge.
func (r *Recorder) ObserveUpstreamAttempt(host, outcome string) {
	label := upstreamLabel{host: normalizeName(host), outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.upstreamAttempts[label]++
	r.mu.Unlock()
	r.decrementGauge(&r.inflightUpstream)
}

// ObserveCacheHit records a cache hit for the given cache key namespace.
func (r *Recorder) ObserveCacheHit(namespace string) {
	ns := normalizeName(namespace)
	r.mu.Lock()
	r.cacheHits[ns]++
	r.mu.Unlock()
}

// ObserveCacheMiss records a cache miss for the given cache key namespace.
// Store errors count as misses because the caller computes fresh either way.
func (r *Recorder) ObserveCacheMiss(namespace string) {
	ns := normalizeName(namespace)
	r.mu.Lock()
	r.cacheMisses[ns]++
	r.mu.Unlock()
}

// ObserveRewrite records one rewritten playlist document and the number of
// resource lines that were substituted in it.
func (r *Recorder) ObserveRewrite(lines int) {
	r.mu.Lock()
	r.rewrittenDocs++
	if lines > 0 {
		r.rewrittenLines += uint64(lines)
	}
	r.mu.Unlock()
}

// ObserveFailoverExhausted records a host failover chain that ran out of
// candidates without a successful response.
func (r *Recorder) ObserveFailoverExhausted() {
	r.mu.Lock()
	r.failoverExhaust++
	r.mu.Unlock()
}

// ObserveSectionDegraded records an aggregate section that fell back to an
// empty result after its providers failed.
func (r *Recorder) ObserveSectionDegraded(section string) {
	name := normalizeName(section)
	r.mu.Lock()
	r.sectionDegraded[name]++
	r.mu.Unlock()
}

// InflightUpstream exposes the current gauge of running upstream fetches.
func (r *Recorder) InflightUpstream() int64 {
	return r.inflightUpstream.Load()
}

// CacheCounts returns copies of the hit and miss counters for testing and
// reporting purposes.
func (r *Recorder) CacheCounts() (hits map[string]uint64, misses map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hits = make(map[string]uint64, len(r.cacheHits))
	for k, v := range r.cacheHits {
		hits[k] = v
	}
	misses = make(map[string]uint64, len(r.cacheMisses))
	for k, v := range r.cacheMisses {
		misses[k] = v
	}
	return hits, misses
}

// UpstreamCounts returns a copy of the per-host attempt counters keyed by
// "host outcome" for testing and reporting purposes.
func (r *Recorder) UpstreamCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.upstreamAttempts))
	for label, v := range r.upstreamAttempts {
		out[label.host+" "+label.outcome] = v
	}
	return out
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.upstreamAttempts = make(map[upstreamLabel]uint64)
	r.cacheHits = make(map[string]uint64)
	r.cacheMisses = make(map[string]uint64)
	r.sectionDegraded = make(map[string]uint64)
	r.rewrittenLines = 0
	r.rewrittenDocs = 0
	r.failoverExhaust = 0
	r.inflightUpstream.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	upstreamLabels := r.sortedUpstreamLabels()
	cacheNamespaces := r.sortedCacheNamespaces()
	sections := r.sortedSections()

	fmt.Fprintln(w, "# HELP mediagate_http_requests_total Total number of HTTP requests processed by the gateway")
	fmt.Fprintln(w, "# TYPE mediagate_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediagate_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediagate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediagate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediagate_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediagate_upstream_attempts_total Upstream fetch attempts by host and outcome")
	fmt.Fprintln(w, "# TYPE mediagate_upstream_attempts_total counter")
	for _, label := range upstreamLabels {
		count := r.upstreamAttempts[label]
		fmt.Fprintf(w, "mediagate_upstream_attempts_total{host=\"%s\",outcome=\"%s\"} %d\n", label.host, label.outcome, count)
	}

	fmt.Fprintln(w, "# HELP mediagate_upstream_inflight Current number of running upstream fetches")
	fmt.Fprintln(w, "# TYPE mediagate_upstream_inflight gauge")
	fmt.Fprintf(w, "mediagate_upstream_inflight %d\n", r.inflightUpstream.Load())

	fmt.Fprintln(w, "# HELP mediagate_cache_hits_total Cache hits by key namespace")
	fmt.Fprintln(w, "# TYPE mediagate_cache_hits_total counter")
	for _, ns := range cacheNamespaces {
		fmt.Fprintf(w, "mediagate_cache_hits_total{namespace=\"%s\"} %d\n", ns, r.cacheHits[ns])
	}

	fmt.Fprintln(w, "# HELP mediagate_cache_misses_total Cache misses by key namespace")
	fmt.Fprintln(w, "# TYPE mediagate_cache_misses_total counter")
	for _, ns := range cacheNamespaces {
		fmt.Fprintf(w, "mediagate_cache_misses_total{namespace=\"%s\"} %d\n", ns, r.cacheMisses[ns])
	}

	fmt.Fprintln(w, "# HELP mediagate_playlists_rewritten_total Playlist documents rewritten for proxy routing")
	fmt.Fprintln(w, "# TYPE mediagate_playlists_rewritten_total counter")
	fmt.Fprintf(w, "mediagate_playlists_rewritten_total %d\n", r.rewrittenDocs)

	fmt.Fprintln(w, "# HELP mediagate_playlist_lines_rewritten_total Resource lines substituted across all rewritten playlists")
	fmt.Fprintln(w, "# TYPE mediagate_playlist_lines_rewritten_total counter")
	fmt.Fprintf(w, "mediagate_playlist_lines_rewritten_total %d\n", r.rewrittenLines)

	fmt.Fprintln(w, "# HELP mediagate_failover_exhausted_total Host failover chains that ran out of candidates")
	fmt.Fprintln(w, "# TYPE mediagate_failover_exhausted_total counter")
	fmt.Fprintf(w, "mediagate_failover_exhausted_total %d\n", r.failoverExhaust)

	fmt.Fprintln(w, "# HELP mediagate_sections_degraded_total Aggregate sections degraded to empty results")
	fmt.Fprintln(w, "# TYPE mediagate_sections_degraded_total counter")
	for _, section := range sections {
		fmt.Fprintf(w, "mediagate_sections_degraded_total{section=\"%s\"} %d\n", section, r.sectionDegraded[section])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedUpstreamLabels() []upstreamLabel {
	labels := make([]upstreamLabel, 0, len(r.upstreamAttempts))
	for label := range r.upstreamAttempts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].host != labels[j].host {
			return labels[i].host < labels[j].host
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func (r *Recorder) sortedCacheNamespaces() []string {
	seen := make(map[string]struct{}, len(r.cacheHits)+len(r.cacheMisses))
	for ns := range r.cacheHits {
		seen[ns] = struct{}{}
	}
	for ns := range r.cacheMisses {
		seen[ns] = struct{}{}
	}
	namespaces := make([]string, 0, len(seen))
	for ns := range seen {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces
}

func (r *Recorder) sortedSections() []string {
	sections := make([]string, 0, len(r.sectionDegraded))
	for section := range r.sectionDegraded {
		sections = append(sections, section)
	}
	sort.Strings(sections)
	return sections
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	trimmed := path
	if idx := strings.IndexByte(trimmed, '?'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	if strings.HasSuffix(trimmed, "/") && len(trimmed) > 1 {
		trimmed = strings.TrimSuffix(trimmed, "/")
	}
	return trimmed
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}
