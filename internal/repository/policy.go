package repository

import (
	"fmt"
	"strings"
)

// Policy selects how Fetch combines the cache and the network.
type Policy string

const (
	// CacheFirst serves a fresh entry, otherwise fetches and writes through.
	CacheFirst Policy = "cache_first"
	// NetworkFirst fetches, falling back to any cached value on
	// Network or Timeout failures.
	NetworkFirst Policy = "network_first"
	// CacheAndNetwork serves any cached value at once and refreshes in
	// the background.
	CacheAndNetwork Policy = "cache_and_network"
	// StaleWhileRevalidate serves fresh entries, serves stale ones while
	// refreshing in the background, and fetches on a miss.
	StaleWhileRevalidate Policy = "stale_while_revalidate"
	// CacheOnly never touches the network.
	CacheOnly Policy = "cache_only"
	// NetworkOnly never reads the cache but still writes through.
	NetworkOnly Policy = "network_only"
)

// Policies lists every policy.
var Policies = []Policy{CacheFirst, NetworkFirst, CacheAndNetwork, StaleWhileRevalidate, CacheOnly, NetworkOnly}

// ParsePolicy parses a policy name. Dashes and case are ignored.
func ParsePolicy(s string) (Policy, error) {
	norm := Policy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch norm {
	case "swr":
		return StaleWhileRevalidate, nil
	}
	for _, p := range Policies {
		if p == norm {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown cache policy %q", s)
}

// Source says where a value came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)
