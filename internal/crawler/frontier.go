package crawler

import (
	"net/url"
	"strings"

	"github.com/adriejeon/featureDetective/pkg/types"
)

// Normalize reduces a URL to its canonical string: lower-cased scheme and
// host, default port stripped, fragment dropped, trailing slashes collapsed.
// Two URLs that normalize identically are the same page and are fetched at
// most once.
func Normalize(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host += ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// frontier is the BFS queue of discovered-but-not-yet-fetched URLs. It is
// owned by the control loop alone and is therefore unsynchronised. Entries
// carry a monotonically increasing discovery counter so traversal order is
// reproducible for identical input HTML.
type frontier struct {
	entries []types.FrontierEntry
	queued  map[string]struct{}
	counter uint64
}

func newFrontier() *frontier {
	return &frontier{queued: make(map[string]struct{})}
}

// push enqueues a URL unless its normalized form was already queued at some
// point in this crawl. Returns false for rejected duplicates.
func (f *frontier) push(u *url.URL, depth int, source types.Source) bool {
	key := Normalize(u)
	if key == "" {
		return false
	}
	if _, ok := f.queued[key]; ok {
		return false
	}
	f.queued[key] = struct{}{}
	f.counter++
	f.entries = append(f.entries, types.FrontierEntry{
		URL:          u,
		Depth:        depth,
		Source:       source,
		DiscoveredAt: f.counter,
	})
	return true
}

// pop removes and returns the earliest-discovered entry. FIFO order is what
// makes the traversal breadth-first.
func (f *frontier) pop() (types.FrontierEntry, bool) {
	if len(f.entries) == 0 {
		return types.FrontierEntry{}, false
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	return entry, true
}

func (f *frontier) len() int {
	return len(f.entries)
}
