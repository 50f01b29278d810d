package proxy

import (
	"runtime"

	"github.com/dioad/sniproxy/internal/match"
	"github.com/dioad/sniproxy/internal/socks5client"
)

// Config is the core's validated, immutable configuration — the shape
// internal/proxyconfig.Config is converted into before reaching the
// engine. Unlike proxyconfig.Config this carries compiled matchers, not
// raw string lists.
type Config struct {
	ListenAddr         string
	Direct             *match.DomainMatcher
	Socks5Whitelist    *match.DomainMatcher // nil when SOCKS5 routing is unused
	IPWhitelist        *match.IPMatcher     // nil/empty means allow-all
	Socks5             *socks5client.Config // nil when no chained proxy is configured
	MaxConnections     int                  // 0 selects the adaptive default
	TrustProxyProtocol bool
}

// AdaptiveMaxConnections implements spec §4.9's default: cores x 500,
// clamped to 10000.
func AdaptiveMaxConnections() int {
	n := runtime.NumCPU() * 500
	if n > 10000 {
		return 10000
	}
	return n
}

// ReadBufferSize implements spec §4.7's adaptive read buffer: 16/32/64 KiB.
func ReadBufferSize(cores int) int {
	switch {
	case cores <= 2:
		return 16 * 1024
	case cores <= 8:
		return 32 * 1024
	default:
		return 64 * 1024
	}
}

// SNITimeoutSeconds implements spec §4.7's adaptive first-read timeout: 2/3/5 s.
func SNITimeoutSeconds(cores int) int {
	switch {
	case cores <= 2:
		return 2
	case cores <= 8:
		return 3
	default:
		return 5
	}
}

// DialTimeoutSeconds implements spec §4.7's adaptive direct-dial timeout: 3/5/8 s.
func DialTimeoutSeconds(cores int) int {
	switch {
	case cores <= 2:
		return 3
	case cores <= 8:
		return 5
	default:
		return 8
	}
}
