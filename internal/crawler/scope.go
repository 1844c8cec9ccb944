package crawler

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// inScope reports whether targetHost falls within the crawl's domain scope:
// the seed's host exactly, or any host sharing the seed's registrable domain
// when subdomain following is enabled. Hosts are expected lower-cased.
func inScope(seedHost, targetHost string, followSubdomains bool) bool {
	if targetHost == "" {
		return false
	}
	if seedHost == targetHost {
		return true
	}
	if !followSubdomains {
		return false
	}

	seedRoot, err := publicsuffix.EffectiveTLDPlusOne(seedHost)
	if err != nil {
		// Hosts the public suffix list cannot classify (bare TLDs,
		// IP literals) fall back to a dotted-suffix comparison.
		return strings.HasSuffix(targetHost, "."+seedHost) ||
			strings.HasSuffix(seedHost, "."+targetHost)
	}
	targetRoot, err := publicsuffix.EffectiveTLDPlusOne(targetHost)
	if err != nil {
		return false
	}
	return seedRoot == targetRoot
}
