package dnscache

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// Resolver looks up the IP addresses for host. Implementations must
// return a non-empty slice on success and an error otherwise; an empty
// success result is a contract violation the cache treats as failure.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver resolves via the host's configured nameservers using
// github.com/miekg/dns, falling back to the Go runtime resolver when no
// usable resolv.conf is found (containers, Windows).
type SystemResolver struct {
	client  *dns.Client
	servers []string
}

// NewSystemResolver parses /etc/resolv.conf once at construction.
func NewSystemResolver() *SystemResolver {
	r := &SystemResolver{client: &dns.Client{}}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err == nil && cfg != nil {
		for _, s := range cfg.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return r
}

func (r *SystemResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.servers) == 0 {
		return lookupViaStdlib(ctx, host)
	}

	fqdn := dns.Fqdn(host)
	var addrs []netip.Addr

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		var lastErr error
		for _, server := range r.servers {
			resp, _, err := r.client.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				continue
			}
			for _, rr := range resp.Answer {
				switch v := rr.(type) {
				case *dns.A:
					if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
						addrs = append(addrs, a)
					}
				case *dns.AAAA:
					if a, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
						addrs = append(addrs, a)
					}
				}
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			continue
		}
	}

	if len(addrs) == 0 {
		return lookupViaStdlib(ctx, host)
	}
	return dedup(addrs), nil
}

func lookupViaStdlib(ctx context.Context, host string) ([]netip.Addr, error) {
	ipAddrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	var addrs []netip.Addr
	for _, ip := range ipAddrs {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %q: no addresses returned", host)
	}
	return dedup(addrs), nil
}

func dedup(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := addrs[:0]
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
