// Package metricsregistry is the process-wide counter set described by
// spec §3 (MetricsRegistry): lock-free atomics are authoritative, backed
// in parallel by github.com/VictoriaMetrics/metrics gauges/counters for
// scrape-style export via an HTTP handler.
package metricsregistry

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Registry holds every counter named in spec §3. All increments use
// relaxed atomic ordering; readers get eventual consistency only, which
// is all the spec requires.
type Registry struct {
	totalConnections  atomic.Uint64
	activeConnections atomic.Int64
	failed            atomic.Uint64
	bytesIn           atomic.Uint64
	bytesOut          atomic.Uint64
	directReq         atomic.Uint64
	socks5Req         atomic.Uint64
	rejectedReq       atomic.Uint64
	dnsHits           atomic.Uint64
	dnsMisses         atomic.Uint64
	sniParseErrors    atomic.Uint64
	socks5Errors      atomic.Uint64
	timeouts          atomic.Uint64

	startedAt time.Time
	set       *metrics.Set
}

// New creates a Registry and registers its gauges against a fresh
// VictoriaMetrics metrics.Set (so multiple Registry instances, e.g. in
// tests, never collide on the global default set).
func New() *Registry {
	r := &Registry{startedAt: time.Now(), set: metrics.NewSet()}

	r.set.NewGauge("sniproxy_active_connections", func() float64 { return float64(r.activeConnections.Load()) })
	r.set.NewGauge("sniproxy_total_connections", func() float64 { return float64(r.totalConnections.Load()) })
	r.set.NewGauge("sniproxy_failed_connections", func() float64 { return float64(r.failed.Load()) })
	r.set.NewGauge("sniproxy_bytes_in_total", func() float64 { return float64(r.bytesIn.Load()) })
	r.set.NewGauge("sniproxy_bytes_out_total", func() float64 { return float64(r.bytesOut.Load()) })
	r.set.NewGauge("sniproxy_direct_requests_total", func() float64 { return float64(r.directReq.Load()) })
	r.set.NewGauge("sniproxy_socks5_requests_total", func() float64 { return float64(r.socks5Req.Load()) })
	r.set.NewGauge("sniproxy_rejected_requests_total", func() float64 { return float64(r.rejectedReq.Load()) })
	r.set.NewGauge("sniproxy_dns_hits_total", func() float64 { return float64(r.dnsHits.Load()) })
	r.set.NewGauge("sniproxy_dns_misses_total", func() float64 { return float64(r.dnsMisses.Load()) })
	r.set.NewGauge("sniproxy_sni_parse_errors_total", func() float64 { return float64(r.sniParseErrors.Load()) })
	r.set.NewGauge("sniproxy_socks5_errors_total", func() float64 { return float64(r.socks5Errors.Load()) })
	r.set.NewGauge("sniproxy_timeouts_total", func() float64 { return float64(r.timeouts.Load()) })

	return r
}

// WritePrometheus exposes the registered gauges in Prometheus text
// format, for wiring into an HTTP /metrics handler.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}

func (r *Registry) IncTotalConnections()  { r.totalConnections.Add(1) }
func (r *Registry) IncFailed()            { r.failed.Add(1) }
func (r *Registry) IncDirect()            { r.directReq.Add(1) }
func (r *Registry) IncSocks5()            { r.socks5Req.Add(1) }
func (r *Registry) IncRejected()          { r.rejectedReq.Add(1) }
func (r *Registry) IncDNSHit()            { r.dnsHits.Add(1) }
func (r *Registry) IncDNSMiss()           { r.dnsMisses.Add(1) }
func (r *Registry) IncSNIParseError()     { r.sniParseErrors.Add(1) }
func (r *Registry) IncSocks5Error()       { r.socks5Errors.Add(1) }
func (r *Registry) IncTimeout()           { r.timeouts.Add(1) }
func (r *Registry) AddBytes(in, out uint64) {
	if in != 0 {
		r.bytesIn.Add(in)
	}
	if out != 0 {
		r.bytesOut.Add(out)
	}
}

// ConnectionGuard increments active/total connections on creation and
// decrements active connections exactly once, on Close. It is the
// guaranteed-release mechanism spec §9 asks for: acquire via
// NewConnectionGuard, `defer guard.Close()` immediately after.
type ConnectionGuard struct {
	registry *Registry
	closed   atomic.Bool
}

// NewConnectionGuard increments total and active connections.
func NewConnectionGuard(r *Registry) *ConnectionGuard {
	r.totalConnections.Add(1)
	r.activeConnections.Add(1)
	return &ConnectionGuard{registry: r}
}

// Close decrements active connections. Safe to call multiple times;
// only the first call has effect, satisfying invariant §3.1 (active
// connections never underflows).
func (g *ConnectionGuard) Close() {
	if g.closed.CompareAndSwap(false, true) {
		g.registry.activeConnections.Add(-1)
	}
}

// Snapshot is a point-in-time copy of every counter, for the periodic
// text summary and for tests.
type Snapshot struct {
	TotalConnections  uint64
	ActiveConnections int64
	Failed            uint64
	BytesIn           uint64
	BytesOut          uint64
	DirectReq         uint64
	Socks5Req         uint64
	RejectedReq       uint64
	DNSHits           uint64
	DNSMisses         uint64
	SNIParseErrors    uint64
	Socks5Errors      uint64
	Timeouts          uint64
	Uptime            time.Duration
}

func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		TotalConnections:  r.totalConnections.Load(),
		ActiveConnections: r.activeConnections.Load(),
		Failed:            r.failed.Load(),
		BytesIn:           r.bytesIn.Load(),
		BytesOut:          r.bytesOut.Load(),
		DirectReq:         r.directReq.Load(),
		Socks5Req:         r.socks5Req.Load(),
		RejectedReq:       r.rejectedReq.Load(),
		DNSHits:           r.dnsHits.Load(),
		DNSMisses:         r.dnsMisses.Load(),
		SNIParseErrors:    r.sniParseErrors.Load(),
		Socks5Errors:      r.socks5Errors.Load(),
		Timeouts:          r.timeouts.Load(),
		Uptime:            time.Since(r.startedAt),
	}
}
