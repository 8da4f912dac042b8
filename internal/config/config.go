// Package config loads the gateway policy file. The file carries domain
// tables rather than runtime wiring: which CDN families require forwarded
// headers, which image host pools exist, and where the home-bundle providers
// live. Every table has a baked-in default so the gateway runs without a file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the root of the YAML policy file.
type Policy struct {
	Headers   HeaderPolicy   `yaml:"headers"`
	ImagePool ImagePool      `yaml:"imagePool"`
	Providers ProviderConfig `yaml:"providers"`
	Bundle    BundleConfig   `yaml:"bundle"`
}

// HeaderPolicy lists hostname substrings identifying CDN families that
// reject header-less requests, so Referer/Origin are attached on the first
// attempt instead of after a 403 round trip.
type HeaderPolicy struct {
	StrictFamilies []string `yaml:"strictFamilies"`
}

// ImagePool describes a family of interchangeable numbered CDN hosts, e.g.
// i1.example.net through i7.example.net plus the bare i.example.net, split
// into single-letter role prefixes (image vs thumbnail).
type ImagePool struct {
	Domain   string   `yaml:"domain"`
	Prefixes []string `yaml:"prefixes"`
	Numbers  []int    `yaml:"numbers"`
}

// ProviderEndpoint points a home-bundle section at an upstream JSON API.
type ProviderEndpoint struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Secondary string `yaml:"secondary"`
}

// ProviderConfig maps the five bundle sections to their endpoints.
type ProviderConfig struct {
	Spotlight      ProviderEndpoint `yaml:"spotlight"`
	RecentEpisodes ProviderEndpoint `yaml:"recentEpisodes"`
	MostPopular    ProviderEndpoint `yaml:"mostPopular"`
	TopAiring      ProviderEndpoint `yaml:"topAiring"`
	Genres         ProviderEndpoint `yaml:"genres"`
}

// BundleConfig bounds the home bundle: item caps per section and cache TTL.
// The TTL arrives as a duration string ("30m", "1h") and is resolved into
// TTL during Load.
type BundleConfig struct {
	SpotlightLimit int           `yaml:"spotlightLimit"`
	SectionLimit   int           `yaml:"sectionLimit"`
	RawTTL         string        `yaml:"ttl"`
	TTL            time.Duration `yaml:"-"`
}

// Default returns the policy the gateway ships with. The strict-family table
// and the image pool reflect the CDNs the gateway is pointed at in practice;
// deployments with different upstreams override them through the file.
func Default() Policy {
	return Policy{
		Headers: HeaderPolicy{
			StrictFamilies: []string{
				"padorupado.ru",
				"kwikie.ru",
				"krussdomi.com",
				"vidstreaming",
				"netmagcdn",
				"megacloud",
			},
		},
		ImagePool: ImagePool{
			Domain:   "nhentai.net",
			Prefixes: []string{"i", "t"},
			Numbers:  []int{1, 2, 3, 5, 7},
		},
		Bundle: BundleConfig{
			SpotlightLimit: 12,
			SectionLimit:   24,
			TTL:            time.Hour,
		},
	}
}

// Load reads the policy file at path and merges it over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (Policy, error) {
	policy := Default()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var loaded Policy
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if raw := strings.TrimSpace(loaded.Bundle.RawTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Policy{}, fmt.Errorf("parse bundle ttl: %w", err)
		}
		loaded.Bundle.TTL = ttl
	}
	policy.merge(loaded)
	if err := policy.validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p *Policy) merge(loaded Policy) {
	if len(loaded.Headers.StrictFamilies) > 0 {
		p.Headers.StrictFamilies = loaded.Headers.StrictFamilies
	}
	if loaded.ImagePool.Domain != "" {
		p.ImagePool = loaded.ImagePool
	}
	merged := p.Providers
	for i, endpoint := range []*ProviderEndpoint{
		&merged.Spotlight, &merged.RecentEpisodes, &merged.MostPopular, &merged.TopAiring, &merged.Genres,
	} {
		loadedEndpoint := []ProviderEndpoint{
			loaded.Providers.Spotlight, loaded.Providers.RecentEpisodes,
			loaded.Providers.MostPopular, loaded.Providers.TopAiring, loaded.Providers.Genres,
		}[i]
		if loadedEndpoint.URL != "" {
			*endpoint = loadedEndpoint
		}
	}
	p.Providers = merged
	if loaded.Bundle.SpotlightLimit > 0 {
		p.Bundle.SpotlightLimit = loaded.Bundle.SpotlightLimit
	}
	if loaded.Bundle.SectionLimit > 0 {
		p.Bundle.SectionLimit = loaded.Bundle.SectionLimit
	}
	if loaded.Bundle.TTL > 0 {
		p.Bundle.TTL = loaded.Bundle.TTL
	}
}

func (p Policy) validate() error {
	if p.ImagePool.Domain == "" {
		return fmt.Errorf("imagePool.domain is required")
	}
	if len(p.ImagePool.Prefixes) == 0 {
		return fmt.Errorf("imagePool.prefixes must list at least one role prefix")
	}
	for _, prefix := range p.ImagePool.Prefixes {
		if len(prefix) != 1 {
			return fmt.Errorf("imagePool prefix %q must be a single letter", prefix)
		}
	}
	for _, n := range p.ImagePool.Numbers {
		if n <= 0 {
			return fmt.Errorf("imagePool numbers must be positive, got %d", n)
		}
	}
	return nil
}
