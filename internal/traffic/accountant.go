// Package traffic implements the per-source-IP traffic accountant:
// spec §4.6's bounded LRU of byte/connection counters, its periodic
// top-N reporter, and its JSON persistence snapshot.
package traffic

import (
	"net/netip"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IPRecord holds the lock-free counters for one tracked source IP.
// Once obtained from the Accountant its counters may be updated without
// re-acquiring the outer LRU lock.
type IPRecord struct {
	IP          netip.Addr
	BytesIn     atomic.Uint64
	BytesOut    atomic.Uint64
	Connections atomic.Uint64
}

// Accountant is the per-IP layer of spec §4.6's traffic accountant. A
// disabled Accountant (see Disabled) is a cheap no-op so handler code
// never needs to branch on whether tracking is configured.
type Accountant struct {
	enabled bool
	lru     *lru.Cache[netip.Addr, *IPRecord]
}

// New creates an enabled Accountant bounded to maxTrackedIPs entries.
func New(maxTrackedIPs int) *Accountant {
	if maxTrackedIPs <= 0 {
		maxTrackedIPs = 1
	}
	c, err := lru.New[netip.Addr, *IPRecord](maxTrackedIPs)
	if err != nil {
		panic(err) // unreachable: maxTrackedIPs is always >= 1 here
	}
	return &Accountant{enabled: true, lru: c}
}

// Disabled returns an Accountant that records nothing.
func Disabled() *Accountant {
	c, _ := lru.New[netip.Addr, *IPRecord](1)
	return &Accountant{enabled: false, lru: c}
}

func (a *Accountant) Enabled() bool { return a.enabled }

// RecordConnection bumps the connection counter for ip, lazily creating
// its entry. This is the one access pattern the spec allows to affect
// LRU recency (spec §4.6: "on an authorized accept, bump connections").
func (a *Accountant) RecordConnection(ip netip.Addr) *IPRecord {
	if !a.enabled {
		return nil
	}
	rec, ok := a.lru.Get(ip)
	if !ok {
		rec = &IPRecord{IP: ip}
		// A concurrent caller may have inserted ip since the Get; keep
		// its record rather than replacing it and losing its counts.
		if prev, found, _ := a.lru.PeekOrAdd(ip, rec); found {
			rec = prev
		}
	}
	rec.Connections.Add(1)
	return rec
}

// Commit adds final byte deltas for ip without promoting its LRU
// recency, per spec §4.6's "peek-style access" requirement for
// counter-commit lookups.
func (a *Accountant) Commit(ip netip.Addr, bytesIn, bytesOut uint64) {
	if !a.enabled {
		return
	}
	rec, ok := a.lru.Peek(ip)
	if !ok {
		return
	}
	if bytesIn != 0 {
		rec.BytesIn.Add(bytesIn)
	}
	if bytesOut != 0 {
		rec.BytesOut.Add(bytesOut)
	}
}

// Snapshot is an immutable point-in-time copy of one IPRecord.
type Snapshot struct {
	IP          netip.Addr
	BytesIn     uint64
	BytesOut    uint64
	Connections uint64
}

func (s Snapshot) Total() uint64 { return s.BytesIn + s.BytesOut }

// Snapshots returns a point-in-time copy of every tracked entry,
// without affecting LRU order.
func (a *Accountant) Snapshots() []Snapshot {
	if !a.enabled {
		return nil
	}
	keys := a.lru.Keys()
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		rec, ok := a.lru.Peek(k)
		if !ok {
			continue
		}
		out = append(out, Snapshot{
			IP:          rec.IP,
			BytesIn:     rec.BytesIn.Load(),
			BytesOut:    rec.BytesOut.Load(),
			Connections: rec.Connections.Load(),
		})
	}
	return out
}

// restore seeds the accountant from persisted snapshots, used on
// startup load. It does not affect LRU order beyond insertion order.
func (a *Accountant) restore(snaps []Snapshot) {
	if !a.enabled {
		return
	}
	for _, s := range snaps {
		rec := &IPRecord{IP: s.IP}
		rec.BytesIn.Store(s.BytesIn)
		rec.BytesOut.Store(s.BytesOut)
		rec.Connections.Store(s.Connections)
		a.lru.Add(s.IP, rec)
	}
}
