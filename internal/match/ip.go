package match

import (
	"net/netip"
	"strings"

	"github.com/sirupsen/logrus"
)

// IPMatcher answers whitelist membership for source addresses, supporting
// literal IPv4/IPv6 addresses and CIDR ranges of either family. Immutable
// after construction and safe for concurrent use. A matcher built from an
// empty pattern list is considered disabled by callers (see Empty).
type IPMatcher struct {
	exact  map[netip.Addr]struct{}
	v4nets []netip.Prefix
	v6nets []netip.Prefix
}

// NewIPMatcher parses a mixed list of literal addresses and CIDRs.
// Entries that fail to parse, or CIDRs with an out-of-range prefix, are
// discarded with a warning; construction never fails outright.
func NewIPMatcher(patterns []string) *IPMatcher {
	m := &IPMatcher{exact: make(map[netip.Addr]struct{})}

	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				logrus.WithField("pattern", p).WithError(err).Warn("ip matcher: discarding invalid CIDR")
				continue
			}
			prefix = prefix.Masked()
			if prefix.Addr().Is4() {
				m.v4nets = append(m.v4nets, prefix)
			} else {
				m.v6nets = append(m.v6nets, prefix)
			}
			continue
		}
		addr, err := netip.ParseAddr(p)
		if err != nil {
			logrus.WithField("pattern", p).WithError(err).Warn("ip matcher: discarding invalid address")
			continue
		}
		m.exact[addr] = struct{}{}
	}

	return m
}

// Matches reports whether ip is covered by the whitelist.
func (m *IPMatcher) Matches(ip netip.Addr) bool {
	if m == nil {
		return false
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if _, ok := m.exact[ip]; ok {
		return true
	}
	nets := m.v6nets
	if ip.Is4() {
		nets = m.v4nets
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher carries no usable rules, in which
// case the IP-whitelist feature is disabled upstream ("allow all").
func (m *IPMatcher) Empty() bool {
	return m == nil || (len(m.exact) == 0 && len(m.v4nets) == 0 && len(m.v6nets) == 0)
}
