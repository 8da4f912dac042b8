package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// maxFailoverCandidates caps how many pool members one request may try.
const maxFailoverCandidates = 6

// HostPool describes a family of interchangeable numbered CDN hosts such as
// i1.example.net through i7.example.net plus the bare i.example.net λ-host.
// Pool members share a single-letter role prefix; a request against an
// "i" host never fails over to a "t" host.
type HostPool struct {
	domain   string
	prefixes map[string]struct{}
	numbers  []int
}

// NewHostPool constructs a pool over domain with the given role prefixes and
// host numbers, in the priority order failover will try them.
func NewHostPool(domain string, prefixes []string, numbers []int) *HostPool {
	prefixSet := make(map[string]struct{}, len(prefixes))
	for _, prefix := range prefixes {
		if trimmed := strings.ToLower(strings.TrimSpace(prefix)); trimmed != "" {
			prefixSet[trimmed] = struct{}{}
		}
	}
	return &HostPool{
		domain:   strings.ToLower(strings.TrimSpace(domain)),
		prefixes: prefixSet,
		numbers:  numbers,
	}
}

// Contains reports whether host belongs to the pool's domain family.
func (p *HostPool) Contains(host string) bool {
	_, _, ok := p.splitHost(host)
	return ok
}

// Candidates expands the requested URL into the ordered list of pool URLs to
// try: the exact request first, then the same path and query on the other
// pool members, then the bare prefix host, capped at six candidates.
func (p *HostPool) Candidates(target *url.URL) ([]string, error) {
	prefix, _, ok := p.splitHost(target.Hostname())
	if !ok {
		return nil, ErrForbiddenTarget
	}

	seen := map[string]struct{}{strings.ToLower(target.Hostname()): {}}
	candidates := []string{target.String()}

	appendHost := func(host string) {
		if len(candidates) >= maxFailoverCandidates {
			return
		}
		if _, dup := seen[host]; dup {
			return
		}
		seen[host] = struct{}{}
		alternate := *target
		alternate.Host = host
		candidates = append(candidates, alternate.String())
	}

	for _, n := range p.numbers {
		appendHost(fmt.Sprintf("%s%d.%s", prefix, n, p.domain))
	}
	appendHost(prefix + "." + p.domain)

	return candidates, nil
}

// splitHost decomposes host into its role prefix and optional number,
// returning ok=false when the host is outside the pool.
func (p *HostPool) splitHost(host string) (prefix, number string, ok bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	suffix := "." + p.domain
	if !strings.HasSuffix(host, suffix) {
		return "", "", false
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") {
		return "", "", false
	}
	prefix = label[:1]
	if _, known := p.prefixes[prefix]; !known {
		return "", "", false
	}
	number = label[1:]
	for _, r := range number {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	return prefix, number, true
}
