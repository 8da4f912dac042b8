package aggregate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mediagate/internal/observability/metrics"
)

// Bundle is the home payload: a fixed key set of capped item lists plus the
// build timestamp. Sections encode as empty arrays rather than null so
// degraded sections stay shape-compatible for the frontend.
type Bundle struct {
	Spotlight      []Item `json:"spotlight"`
	RecentEpisodes []Item `json:"recentEpisodes"`
	MostPopular    []Item `json:"mostPopular"`
	TopAiring      []Item `json:"topAiring"`
	Genres         []Item `json:"genres"`
	BuiltAt        int64  `json:"_ts"`
}

// HomeProviders names the provider for each bundle section.
type HomeProviders struct {
	Spotlight      Provider
	RecentEpisodes Provider
	MostPopular    Provider
	TopAiring      Provider
	Genres         Provider
}

// HomeBuilder computes a Bundle by fanning out one call per section and
// joining once every call has settled. A failed section degrades to an
// empty list; the build itself only fails when the context is cancelled.
type HomeBuilder struct {
	providers      HomeProviders
	spotlightLimit int
	sectionLimit   int
	logger         *slog.Logger
	metrics        *metrics.Recorder
	now            func() time.Time
}

// NewHomeBuilder constructs a builder with the given per-section caps.
func NewHomeBuilder(providers HomeProviders, spotlightLimit, sectionLimit int, logger *slog.Logger, recorder *metrics.Recorder) *HomeBuilder {
	if spotlightLimit <= 0 {
		spotlightLimit = 12
	}
	if sectionLimit <= 0 {
		sectionLimit = 24
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &HomeBuilder{
		providers:      providers,
		spotlightLimit: spotlightLimit,
		sectionLimit:   sectionLimit,
		logger:         logger,
		metrics:        recorder,
		now:            time.Now,
	}
}

// Build fans out all section calls in parallel, waits for every one to
// settle, and returns the JSON-encoded bundle. Workers report their outcome
// through the section slot rather than the group error so one rejection
// never short-circuits the join.
func (b *HomeBuilder) Build(ctx context.Context) ([]byte, error) {
	bundle := Bundle{
		Spotlight:      []Item{},
		RecentEpisodes: []Item{},
		MostPopular:    []Item{},
		TopAiring:      []Item{},
		Genres:         []Item{},
	}

	sections := []struct {
		name     string
		provider Provider
		limit    int
		slot     *[]Item
	}{
		{"spotlight", b.providers.Spotlight, b.spotlightLimit, &bundle.Spotlight},
		{"recentEpisodes", b.providers.RecentEpisodes, b.sectionLimit, &bundle.RecentEpisodes},
		{"mostPopular", b.providers.MostPopular, b.sectionLimit, &bundle.MostPopular},
		{"topAiring", b.providers.TopAiring, b.sectionLimit, &bundle.TopAiring},
		{"genres", b.providers.Genres, b.sectionLimit, &bundle.Genres},
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, section := range sections {
		section := section
		group.Go(func() error {
			if section.provider == nil {
				return nil
			}
			items, err := section.provider.FetchSection(groupCtx, 1)
			if err != nil {
				b.metrics.ObserveSectionDegraded(section.name)
				if b.logger != nil {
					b.logger.Warn("section degraded to empty", "section", section.name, "error", err)
				}
				return nil
			}
			if len(items) > section.limit {
				items = items[:section.limit]
			}
			*section.slot = items
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle.BuiltAt = b.now().Unix()
	return json.Marshal(bundle)
}
