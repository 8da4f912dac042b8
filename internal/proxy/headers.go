package proxy

import (
	"net/url"
	"strings"
)

// HeaderPolicy decides whether Referer/Origin accompany the first outbound
// attempt for a request, and whether a 403 warrants one retry with the
// headers added. Origin-mismatched CDNs are inconsistent about forwarded
// headers, so the policy tries the statistically cheaper bare request first
// and escalates once.
type HeaderPolicy struct {
	strictFamilies []string
	userAgent      string
}

// NewHeaderPolicy constructs a policy using the given hostname-substring
// table of CDN families known to reject header-less requests.
func NewHeaderPolicy(strictFamilies []string) *HeaderPolicy {
	families := make([]string, 0, len(strictFamilies))
	for _, family := range strictFamilies {
		if trimmed := strings.ToLower(strings.TrimSpace(family)); trimmed != "" {
			families = append(families, trimmed)
		}
	}
	return &HeaderPolicy{strictFamilies: families}
}

// AttachOnFirstAttempt reports whether Referer/Origin belong on attempt one.
// With no referer context there is nothing to attach and the answer is
// always false.
func (p *HeaderPolicy) AttachOnFirstAttempt(req Request) bool {
	if req.Referer == nil {
		return false
	}
	if strings.EqualFold(req.Target.Hostname(), req.Referer.Hostname()) {
		return true
	}
	host := strings.ToLower(req.Target.Hostname())
	for _, family := range p.strictFamilies {
		if strings.Contains(host, family) {
			return true
		}
	}
	return isKeyResource(req.Target)
}

// ShouldEscalate reports whether a failed bare attempt warrants one retry
// with headers attached. Only a 403 on a request that has referer context
// qualifies; everything else is surfaced as-is.
func (p *HeaderPolicy) ShouldEscalate(req Request, attachedHeaders bool, err error) bool {
	if attachedHeaders || req.Referer == nil {
		return false
	}
	upstream, ok := err.(*UpstreamError)
	return ok && upstream.Status == 403
}

// Headers derives the outbound header set for one attempt.
func (p *HeaderPolicy) Headers(req Request, attach bool) HeaderSet {
	set := HeaderSet{UserAgent: p.userAgent}
	if !attach || req.Referer == nil {
		return set
	}
	set.Referer = req.Referer.String()
	set.Origin = originOf(req.Referer)
	return set
}

func originOf(u *url.URL) string {
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Encryption key resources are fetched by players mid-stream and the
// serving CDNs consistently demand the embedding page's referer.
func isKeyResource(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	if strings.Contains(path, ".key") || strings.HasSuffix(path, "/key") {
		return true
	}
	query := strings.ToLower(u.RawQuery)
	return strings.Contains(query, "key=") || strings.Contains(query, "token=")
}
