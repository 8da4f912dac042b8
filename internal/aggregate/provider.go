// Package aggregate assembles the home bundle: a fan-out over independent
// content providers merged behind a keyed TTL cache. Provider failures
// degrade their own section and never abort siblings.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Item is the canonical list entry every provider response is normalized
// into before entering the aggregator.
type Item struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	URL   string            `json:"url,omitempty"`
	Image string            `json:"image,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Provider fetches one section's items from an upstream content API.
type Provider interface {
	Name() string
	FetchSection(ctx context.Context, page int) ([]Item, error)
}

const (
	providerAttempts = 3
	providerBackoff  = 250 * time.Millisecond
)

// HTTPProvider fetches a section from a JSON endpoint. Responses arrive in
// inconsistent shapes across providers, sometimes {"results":[...]} and
// sometimes a bare array, so decoding normalizes to the canonical Item list
// at this boundary. Transient failures (429, 5xx, transport) are retried up
// to three attempts with doubling backoff.
type HTTPProvider struct {
	name     string
	endpoint string
	client   *http.Client
	backoff  time.Duration
}

// NewHTTPProvider constructs a provider for the given endpoint. A nil client
// falls back to a 10 second default.
func NewHTTPProvider(name, endpoint string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{name: name, endpoint: endpoint, client: client, backoff: providerBackoff}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) FetchSection(ctx context.Context, page int) ([]Item, error) {
	requestURL := p.endpoint
	if page > 1 {
		separator := "?"
		if strings.Contains(requestURL, "?") {
			separator = "&"
		}
		requestURL = fmt.Sprintf("%s%spage=%d", requestURL, separator, page)
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 0; attempt < providerAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		items, retryable, err := p.fetchOnce(ctx, requestURL)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, fmt.Errorf("provider %s: %w", p.name, lastErr)
}

func (p *HTTPProvider) fetchOnce(ctx context.Context, requestURL string) (items []Item, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	items, err = normalizeItems(body)
	if err != nil {
		return nil, false, err
	}
	return items, false, nil
}

// normalizeItems accepts either {"results":[...]} or a bare array and
// yields the canonical item list.
func normalizeItems(body []byte) ([]Item, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode item list: %w", err)
		}
		return items, nil
	}
	var envelope struct {
		Results []Item `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	return envelope.Results, nil
}

var errNoItems = errors.New("provider returned no items")

type fallbackProvider struct {
	primary   Provider
	secondary Provider
}

// WithFallback returns a provider that tries primary first and substitutes
// secondary when the primary errors or returns zero items. The substitution
// happens inside the section call, invisible to the aggregator.
func WithFallback(primary, secondary Provider) Provider {
	if secondary == nil {
		return primary
	}
	return &fallbackProvider{primary: primary, secondary: secondary}
}

func (f *fallbackProvider) Name() string {
	return f.primary.Name()
}

func (f *fallbackProvider) FetchSection(ctx context.Context, page int) ([]Item, error) {
	items, err := f.primary.FetchSection(ctx, page)
	if err == nil && len(items) > 0 {
		return items, nil
	}
	if err == nil {
		err = errNoItems
	}
	fallbackItems, fallbackErr := f.secondary.FetchSection(ctx, page)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return fallbackItems, nil
}
