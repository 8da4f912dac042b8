package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

type stubProvider struct {
	name  string
	items []Item
	err   error
	delay time.Duration
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchSection(ctx context.Context, page int) ([]Item, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.items, nil
}

func makeItems(prefix string, n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("%s-%d", prefix, i), Title: prefix}
	}
	return items
}

func TestBuildPartialFailureDegradesSection(t *testing.T) {
	providers := HomeProviders{
		Spotlight:      &stubProvider{name: "spotlight", items: makeItems("s", 3)},
		RecentEpisodes: &stubProvider{name: "recent", err: errors.New("upstream down")},
		MostPopular:    &stubProvider{name: "popular", items: makeItems("p", 2)},
		TopAiring:      &stubProvider{name: "airing", items: makeItems("a", 1)},
		Genres:         &stubProvider{name: "genres", items: makeItems("g", 4)},
	}
	builder := NewHomeBuilder(providers, 12, 24, nil, nil)

	payload, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	if len(bundle.Spotlight) != 3 || len(bundle.MostPopular) != 2 || len(bundle.TopAiring) != 1 || len(bundle.Genres) != 4 {
		t.Fatalf("populated sections lost items: %+v", bundle)
	}
	if len(bundle.RecentEpisodes) != 0 {
		t.Fatalf("failed section should be empty, got %d items", len(bundle.RecentEpisodes))
	}
	if bundle.BuiltAt == 0 {
		t.Fatal("bundle missing build timestamp")
	}
}

func TestBuildEmitsEmptyArraysNotNull(t *testing.T) {
	builder := NewHomeBuilder(HomeProviders{}, 12, 24, nil, nil)
	payload, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, section := range []string{"spotlight", "recentEpisodes", "mostPopular", "topAiring", "genres"} {
		if string(raw[section]) != "[]" {
			t.Fatalf("section %s = %s, want []", section, raw[section])
		}
	}
}

func TestBuildAppliesSectionCaps(t *testing.T) {
	providers := HomeProviders{
		Spotlight: &stubProvider{name: "spotlight", items: makeItems("s", 30)},
		TopAiring: &stubProvider{name: "airing", items: makeItems("a", 30)},
	}
	builder := NewHomeBuilder(providers, 12, 24, nil, nil)

	payload, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(bundle.Spotlight) != 12 {
		t.Fatalf("spotlight = %d items, want 12", len(bundle.Spotlight))
	}
	if len(bundle.TopAiring) != 24 {
		t.Fatalf("topAiring = %d items, want 24", len(bundle.TopAiring))
	}
}

func TestBuildWaitsForSlowSections(t *testing.T) {
	slow := &stubProvider{name: "genres", items: makeItems("g", 2), delay: 100 * time.Millisecond}
	providers := HomeProviders{
		Spotlight: &stubProvider{name: "spotlight", err: errors.New("down")},
		Genres:    slow,
	}
	builder := NewHomeBuilder(providers, 12, 24, nil, nil)

	payload, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(bundle.Genres) != 2 {
		t.Fatal("fast failure aborted the slow sibling section")
	}
}

func TestBuildFailsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	builder := NewHomeBuilder(HomeProviders{
		Spotlight: &stubProvider{name: "spotlight", delay: time.Second},
	}, 12, 24, nil, nil)

	if _, err := builder.Build(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
