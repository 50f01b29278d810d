// Package dnscache implements a bounded LRU cache of hostname->address
// resolutions, sized to host capacity, with no TTL: a successful result
// may be served for the process lifetime. Concurrent lookups for the
// same cold host are collapsed into a single upstream query.
package dnscache

import (
	"context"
	"fmt"
	"net/netip"
	"runtime"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Entry is one resolved hostname's address list.
type Entry struct {
	Host       string
	Addresses  []netip.Addr
	InsertedAt time.Time
}

// Cache is a bounded, LRU-evicted hostname->addresses cache.
type Cache struct {
	lru      *lru.Cache[string, Entry]
	resolver Resolver
	group    singleflight.Group
}

// CapacityForCores implements spec §3's DnsEntry cap table: <=2 cores -> 500,
// <=8 -> 1000, else 2000.
func CapacityForCores(cores int) int {
	switch {
	case cores <= 2:
		return 500
	case cores <= 8:
		return 1000
	default:
		return 2000
	}
}

// New builds a Cache sized by the host's logical CPU count.
func New(resolver Resolver) *Cache {
	capacity := CapacityForCores(runtime.NumCPU())
	c, err := lru.New[string, Entry](capacity)
	if err != nil {
		// Only NewLRU returns an error for non-positive size, which
		// CapacityForCores never produces.
		panic(fmt.Sprintf("dnscache: unreachable: %v", err))
	}
	return &Cache{lru: c, resolver: resolver}
}

// Resolve returns the cached address list for host, populating the
// cache on a miss. Per invariant §3.4, an empty resolution is never
// cached; it is surfaced as an error.
func (c *Cache) Resolve(ctx context.Context, host string) ([]netip.Addr, bool, error) {
	if entry, ok := c.lru.Get(host); ok {
		return entry.Addresses, true, nil
	}

	v, err, _ := c.group.Do(host, func() (interface{}, error) {
		addrs, err := c.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("dnscache: resolution of %q returned no addresses", host)
		}
		entry := Entry{Host: host, Addresses: addrs, InsertedAt: time.Now()}
		c.lru.Add(host, entry)
		return addrs, nil
	})
	if err != nil {
		logrus.WithField("host", host).WithError(err).Debug("dns resolution failed")
		return nil, false, err
	}
	return v.([]netip.Addr), false, nil
}

// Len reports the current number of cached hosts, for diagnostics/tests.
func (c *Cache) Len() int { return c.lru.Len() }
