package proxy

import "errors"

// Kind enumerates spec §7's error taxonomy so handler code can switch on
// cause for counter attribution without string-matching.
type Kind int

const (
	KindNone Kind = iota
	KindBindFailed
	KindSNIUnreadable
	KindSNIParseError
	KindIPRejected
	KindDomainRejected
	KindDNSFailed
	KindUpstreamDialFailed
	KindSocks5Error
	KindCopyError
	KindHandlerPanic
)

func (k Kind) String() string {
	switch k {
	case KindBindFailed:
		return "bind_failed"
	case KindSNIUnreadable:
		return "sni_unreadable"
	case KindSNIParseError:
		return "sni_parse_error"
	case KindIPRejected:
		return "ip_rejected"
	case KindDomainRejected:
		return "domain_rejected"
	case KindDNSFailed:
		return "dns_failed"
	case KindUpstreamDialFailed:
		return "upstream_dial_failed"
	case KindSocks5Error:
		return "socks5_error"
	case KindCopyError:
		return "copy_error"
	case KindHandlerPanic:
		return "handler_panic"
	default:
		return "none"
	}
}

// ErrBindFailed is the one fatal error kind: the listener could not be
// created. Every other Kind is scoped to a single connection.
var ErrBindFailed = errors.New("proxy: bind failed")
