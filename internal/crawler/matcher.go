package crawler

import (
	"net/url"
	"path"
	"strings"
)

// Matches evaluates a URL against ordered include/exclude glob rules.
// Any matching exclude pattern rejects the URL regardless of includes. With a
// non-empty include list the URL must match at least one include; an empty
// include list accepts all non-excluded URLs.
func Matches(rawURL string, include, exclude []string) bool {
	for _, pat := range exclude {
		if globMatch(pat, rawURL) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if globMatch(pat, rawURL) {
			return true
		}
	}
	return false
}

// globMatch matches pattern against the full URL string, with * standing for
// any run of characters. Not path-segment aware.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	last := parts[len(parts)-1]
	if last == "" {
		return true
	}
	return strings.HasSuffix(s, last)
}

// Safety-floor exclusions applied regardless of user configuration.
var (
	excludedExtensions = map[string]struct{}{
		".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {},
		".zip": {}, ".rar": {}, ".tar": {}, ".gz": {},
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {},
		".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	}

	excludedPathSegments = []string{
		"/admin/", "/login/", "/logout/", "/register/",
		"/api/", "/ajax/", "/json/", "/xml/",
	}

	trackingParamPrefixes = []string{"utm_", "fbclid", "gclid"}
)

// defaultExcluded reports whether a URL falls into the baked-in exclusion
// set: non-page file extensions, pseudo-schemes, auth/admin paths, and
// tracking query parameters.
func defaultExcluded(u *url.URL) bool {
	if u == nil {
		return true
	}
	switch strings.ToLower(u.Scheme) {
	case "mailto", "tel", "javascript":
		return true
	}

	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if _, ok := excludedExtensions[ext]; ok {
			return true
		}
	}

	lower := strings.ToLower(u.Path)
	if !strings.HasSuffix(lower, "/") {
		lower += "/"
	}
	for _, seg := range excludedPathSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}

	if u.RawQuery != "" {
		for key := range u.Query() {
			k := strings.ToLower(key)
			for _, prefix := range trackingParamPrefixes {
				if strings.HasPrefix(k, prefix) {
					return true
				}
			}
		}
	}
	return false
}
