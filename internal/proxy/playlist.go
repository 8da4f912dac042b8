package proxy

import (
	"net/url"
	"path"
	"strings"
)

// uriAttrTags are the manifest directives carrying a quoted URI attribute
// that must re-enter the proxy: encryption keys and initialization maps.
var uriAttrTags = []string{"#EXT-X-KEY:", "#EXT-X-SESSION-KEY:", "#EXT-X-MAP:"}

// Rewriter rewrites HLS manifests so every sub-resource reference routes
// back through the proxy endpoint, threading the original referer through
// the rewritten URLs so downstream fetches keep their header policy.
//
// Rewriting an already-rewritten manifest is undefined; callers only ever
// rewrite the upstream original once per response.
type Rewriter struct {
	// ProxyPath is the absolute path of the proxy endpoint, e.g. "/proxy".
	ProxyPath string
}

// IsPlaylist reports whether a fetched resource is an HLS manifest, by
// declared content type or by target path extension.
func IsPlaylist(contentType string, target *url.URL) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	if target == nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(target.Path), ".m3u8")
}

// Rewrite returns the manifest with every key URI, map URI, and segment or
// sub-playlist line replaced by a proxy URL, plus the number of lines that
// were substituted. Line order, count, and all untouched directive lines are
// preserved byte for byte.
func (rw *Rewriter) Rewrite(manifest []byte, base *url.URL, referer string) ([]byte, int) {
	lines := strings.Split(string(manifest), "\n")
	rewritten := 0
	for i, line := range lines {
		trimmed := strings.TrimSuffix(line, "\r")
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			if updated, ok := rw.rewriteURIAttr(trimmed, base, referer); ok {
				lines[i] = updated
				rewritten++
			}
		default:
			lines[i] = rw.proxyURL(resolveRef(base, trimmed), referer)
			rewritten++
		}
	}
	return []byte(strings.Join(lines, "\n")), rewritten
}

// rewriteURIAttr substitutes the quoted URI attribute on key and map
// directives, leaving every other attribute in place.
func (rw *Rewriter) rewriteURIAttr(line string, base *url.URL, referer string) (string, bool) {
	tagged := false
	for _, tag := range uriAttrTags {
		if strings.HasPrefix(line, tag) {
			tagged = true
			break
		}
	}
	if !tagged {
		return line, false
	}
	start := strings.Index(line, `URI="`)
	if start < 0 {
		return line, false
	}
	uriStart := start + len(`URI="`)
	end := strings.Index(line[uriStart:], `"`)
	if end < 0 {
		return line, false
	}
	original := line[uriStart : uriStart+end]
	replacement := rw.proxyURL(resolveRef(base, original), referer)
	return line[:uriStart] + replacement + line[uriStart+end:], true
}

func (rw *Rewriter) proxyURL(absolute, referer string) string {
	proxied := rw.ProxyPath + "?url=" + url.QueryEscape(absolute)
	if referer != "" {
		proxied += "&referer=" + url.QueryEscape(referer)
	}
	return proxied
}

// resolveRef resolves ref against base per standard URI resolution.
// Resolving an already-absolute reference is an identity operation.
func resolveRef(base *url.URL, ref string) string {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	if parsed.IsAbs() || base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// ContentTypeFor corrects the media type for a fetched resource. Upstream
// servers routinely mistype subtitle tracks, which strict players reject,
// so the extension wins over the upstream declaration for known kinds.
func ContentTypeFor(target *url.URL, upstream string) string {
	if target != nil {
		switch strings.ToLower(path.Ext(target.Path)) {
		case ".vtt":
			return "text/vtt; charset=utf-8"
		case ".srt":
			return "text/plain; charset=utf-8"
		case ".m3u8":
			return "application/vnd.apple.mpegurl"
		case ".ts":
			return "video/mp2t"
		case ".key", ".bin":
			return "application/octet-stream"
		}
	}
	if upstream != "" {
		return upstream
	}
	return "application/octet-stream"
}
