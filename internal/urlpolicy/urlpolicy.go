// Package urlpolicy canonicalizes URLs and decides whether a candidate URL may
// join a crawl's visited set.
package urlpolicy

import (
	"errors"
	"net"
	"net/url"
	"path"
	"strings"
)

// Error values returned by Normalize.
var (
	ErrEmpty             = errors.New("empty url")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrNoHost            = errors.New("url has no host")
)

// Scope is the view of crawl state the validity policy needs.
type Scope interface {
	// AllowsHost reports whether host is in the allowed domain set (exact match).
	AllowsHost(host string) bool
	// Contains reports whether the canonical URL is already visited.
	Contains(rawURL string) bool
}

const defaultScheme = "https"

var ignoredPrefixes = []string{"mailto:", "tel:", "javascript:", "data:", "sms:", "ftp:"}

// Normalize returns the canonical form of raw. A nil base means raw is a
// seed: it gets https:// prepended when no scheme is present. Otherwise raw
// is resolved against base.
func Normalize(raw string, base *url.URL) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", ErrEmpty
	}

	lower := strings.ToLower(raw)
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", ErrUnsupportedScheme
		}
	}

	if base == nil && !strings.Contains(raw, "://") {
		raw = defaultScheme + "://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrUnsupportedScheme
	}
	if u.Host == "" {
		return "", ErrNoHost
	}
	u.Host = canonicalHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if strings.Contains(u.Path, "//") {
		u.Path = collapseSlashes(u.Path)
		u.RawPath = ""
	}
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
		u.RawPath = ""
	}
	// "https://a.com?" keeps nothing after the question mark.
	u.ForceQuery = false

	return u.String(), nil
}

// IsValid reports whether rawURL may be inserted into the visited set.
// Unparseable input is invalid.
func IsValid(rawURL string, scope Scope) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || !scope.AllowsHost(u.Host) {
		return false
	}
	if HasDeniedExtension(u.Path) {
		return false
	}
	return !scope.Contains(rawURL)
}

// deniedExtensions lists binary and static asset types that never carry a
// crawlable page.
var deniedExtensions = map[string]struct{}{
	// documents
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	// images
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".avif": {},
	// archives
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {}, ".xz": {},
	// media
	".mp3": {}, ".mp4": {}, ".m4a": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {},
	".ogg": {}, ".wav": {}, ".flac": {}, ".mkv": {},
	// style and script assets
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	// fonts
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	// binaries
	".exe": {}, ".dmg": {}, ".iso": {}, ".apk": {}, ".msi": {}, ".bin": {},
}

// HasDeniedExtension reports whether the lowercased path ends in a denied
// extension.
func HasDeniedExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, denied := deniedExtensions[ext]
	return denied
}

// Host returns the host (with port, if any) of rawURL, or "" when it cannot
// be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// SlashDepth counts the slashes in rawURL once trailing slashes are removed.
// "https://example.org" has depth 2, "https://example.org/blog" depth 3.
func SlashDepth(rawURL string) int {
	return strings.Count(strings.TrimRight(rawURL, "/"), "/")
}

func canonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return strings.TrimSuffix(host, ".")
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}

func collapseSlashes(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	prev := byte(0)
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' && prev == '/' {
			continue
		}
		b.WriteByte(c)
		prev = c
	}
	return b.String()
}
