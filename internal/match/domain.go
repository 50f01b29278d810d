// Package match implements the proxy's two whitelist classifiers: domain
// names (exact + suffix-wildcard) and IP addresses (exact + CIDR).
package match

import (
	"sort"
	"strings"
)

// DomainMatcher answers whitelist membership for host names. It is
// immutable after construction and safe for concurrent use.
type DomainMatcher struct {
	exact     map[string]struct{}
	wildcards []string // suffixes including the leading dot, longest first
}

// NewDomainMatcher builds a DomainMatcher from a mixed list of exact
// FQDNs and "*.suffix" wildcard entries. Entries are lowercased;
// malformed wildcard entries (bare "*." with no suffix) are dropped.
func NewDomainMatcher(entries []string) *DomainMatcher {
	m := &DomainMatcher{exact: make(map[string]struct{})}
	var wildcards []string

	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "*.") {
			suffix := e[1:] // keep the leading dot as an anchor: ".example.com"
			if suffix == "." {
				continue
			}
			wildcards = append(wildcards, suffix)
			continue
		}
		m.exact[e] = struct{}{}
	}

	sort.Slice(wildcards, func(i, j int) bool { return len(wildcards[i]) > len(wildcards[j]) })
	m.wildcards = wildcards
	return m
}

// Matches reports whether name is covered by the whitelist.
func (m *DomainMatcher) Matches(name string) bool {
	if m == nil {
		return false
	}
	name = strings.ToLower(name)
	if _, ok := m.exact[name]; ok {
		return true
	}
	for _, suffix := range m.wildcards {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher carries no rules at all.
func (m *DomainMatcher) Empty() bool {
	return m == nil || (len(m.exact) == 0 && len(m.wildcards) == 0)
}
