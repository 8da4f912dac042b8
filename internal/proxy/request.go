package proxy

import "net/url"

// Request carries one inbound proxy request. It is built once per request
// and never mutated; header decisions derive fresh HeaderSets from it.
type Request struct {
	Target  *url.URL
	Referer *url.URL
}

// ParseRequest validates the raw query parameters of a proxy request.
// The referer is optional; a malformed referer is dropped rather than
// rejected because it only tunes header policy.
func ParseRequest(rawTarget, rawReferer string) (Request, error) {
	if rawTarget == "" {
		return Request{}, ErrMissingTarget
	}
	target, err := url.Parse(rawTarget)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return Request{}, ErrMissingTarget
	}
	req := Request{Target: target}
	if rawReferer != "" {
		if referer, err := url.Parse(rawReferer); err == nil && referer.Host != "" {
			req.Referer = referer
		}
	}
	return req, nil
}

// HeaderSet is the outbound header variant attached to one fetch attempt.
type HeaderSet struct {
	UserAgent string
	Referer   string
	Origin    string
}
