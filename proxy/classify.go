package proxy

// Route is the outcome of classifying a connection's SNI against the
// dual whitelist.
type Route int

const (
	RouteRejected Route = iota
	RouteDirect
	RouteSocks5
)

func (r Route) String() string {
	switch r {
	case RouteDirect:
		return "direct"
	case RouteSocks5:
		return "socks5"
	default:
		return "rejected"
	}
}

// classify implements spec §4.7 step 6 and §9's open question: the
// SOCKS5 whitelist is checked first, so when both lists match the same
// name, SOCKS5 wins.
func (c *Config) classify(sni string) Route {
	if c.Socks5Whitelist != nil && c.Socks5Whitelist.Matches(sni) {
		return RouteSocks5
	}
	if c.Direct.Matches(sni) {
		return RouteDirect
	}
	return RouteRejected
}
