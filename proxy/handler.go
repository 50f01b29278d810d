package proxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dioad/sniproxy/internal/metricsregistry"
	"github.com/dioad/sniproxy/internal/sni"
	"github.com/dioad/sniproxy/internal/socks5client"
	"github.com/dioad/sniproxy/internal/sockopt"
)

// handleConn runs spec §4.7's 10-step per-connection state machine. It
// never returns an error: every failure is logged, counted by Kind, and
// resolved by closing the connection. The one exception the spec asks
// for by name is a recovered panic, which handleConn itself converts
// into a failed-connection count rather than letting it escape and take
// down the accept loop.
func (e *Engine) handleConn(clientConn net.Conn) {
	connID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{"conn_id": connID, "peer": clientConn.RemoteAddr().String()})

	guard := metricsregistry.NewConnectionGuard(e.metrics)
	defer guard.Close()

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("handler: recovered panic")
			e.metrics.IncFailed()
		}
	}()
	defer clientConn.Close()

	if err := sockopt.TuneConn(clientConn); err != nil {
		log.WithError(err).Debug("handler: client socket tuning failed")
	}

	remoteIP, err := hostIP(clientConn.RemoteAddr())
	if err != nil {
		log.WithError(err).Debug("handler: could not parse peer address")
		e.fail(KindIPRejected, log)
		return
	}

	if e.cfg.IPWhitelist != nil && !e.cfg.IPWhitelist.Empty() && !e.cfg.IPWhitelist.Matches(remoteIP) {
		log.Debug("handler: source IP rejected")
		e.metrics.IncRejected()
		return
	}

	e.accountant.RecordConnection(remoteIP)

	cores := runtime.NumCPU()
	readDeadline := time.Duration(SNITimeoutSeconds(cores)) * time.Second
	clientHello, err := readClientHello(clientConn, readDeadline, ReadBufferSize(cores))
	if err != nil {
		log.WithError(err).Debug("handler: failed to read client hello")
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			e.metrics.IncTimeout()
		}
		e.fail(KindSNIUnreadable, log)
		return
	}

	host, ok := sni.Extract(clientHello)
	if !ok {
		log.Debug("handler: could not extract SNI")
		e.fail(KindSNIParseError, log)
		e.metrics.IncSNIParseError()
		return
	}
	log = log.WithField("sni", host)

	route := e.cfg.classify(host)
	switch route {
	case RouteRejected:
		log.Debug("handler: domain rejected")
		e.metrics.IncRejected()
		return
	case RouteSocks5:
		e.metrics.IncSocks5()
	case RouteDirect:
		e.metrics.IncDirect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(DialTimeoutSeconds(cores))*time.Second)
	defer cancel()

	upstream, err := e.dialUpstream(ctx, route, host)
	if err != nil {
		log.WithError(err).Warn("handler: upstream dial failed")
		if route == RouteSocks5 {
			e.fail(KindSocks5Error, log)
			e.metrics.IncSocks5Error()
		} else {
			e.fail(KindUpstreamDialFailed, log)
		}
		return
	}
	defer upstream.Close()

	if err := sockopt.TuneConn(upstream); err != nil {
		log.WithError(err).Debug("handler: upstream socket tuning failed")
	}

	if _, err := upstream.Write(clientHello); err != nil {
		log.WithError(err).Warn("handler: failed to replay client hello upstream")
		e.fail(KindCopyError, log)
		return
	}

	bytesIn, bytesOut := splice(clientConn, upstream)
	e.metrics.AddBytes(uint64(bytesIn), uint64(bytesOut))
	e.accountant.Commit(remoteIP, uint64(bytesIn), uint64(bytesOut))
}

func (e *Engine) fail(kind Kind, log *logrus.Entry) {
	log.WithField("kind", kind.String()).Debug("handler: connection failed")
	e.metrics.IncFailed()
}

// dialUpstream dispatches to the direct or chained-SOCKS5 dialer
// according to route. Both are fields on Engine (not free functions) so
// tests can substitute fakes without touching a real network or DNS.
func (e *Engine) dialUpstream(ctx context.Context, route Route, host string) (net.Conn, error) {
	port := uint16(443)
	if route == RouteSocks5 {
		return e.dialSocks5(host, port)
	}
	return e.dialDirect(ctx, host, port)
}

// defaultDialDirect resolves host via the engine's DNS cache and dials
// the returned addresses in order, returning the first connection that
// succeeds.
func (e *Engine) defaultDialDirect(ctx context.Context, host string, port uint16) (net.Conn, error) {
	addrs, hit, err := e.dnsCache.Resolve(ctx, host)
	if err != nil {
		e.metrics.IncDNSMiss()
		return nil, fmt.Errorf("resolve %q: %w", host, err)
	}
	if hit {
		e.metrics.IncDNSHit()
	} else {
		e.metrics.IncDNSMiss()
	}

	var d net.Dialer
	var lastErr error
	for _, addr := range addrs {
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), fmt.Sprint(port)))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial %q: %w", host, lastErr)
}

// defaultDialSocks5 connects through the configured chained proxy.
func (e *Engine) defaultDialSocks5(host string, port uint16) (net.Conn, error) {
	if e.cfg.Socks5 == nil {
		return nil, fmt.Errorf("proxy: socks5 route selected but no socks5 proxy is configured")
	}
	return socks5client.Connect(host, port, *e.cfg.Socks5)
}

// hostIP extracts the bare source address as a netip.Addr, stripping
// any PROXY-protocol wrapping already handled upstream by the listener.
func hostIP(addr net.Addr) (netip.Addr, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return netip.Addr{}, fmt.Errorf("parse remote address %q: %w", addr.String(), err)
		}
		ip, err := netip.ParseAddr(host)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("parse remote address %q: %w", addr.String(), err)
		}
		return ip.Unmap(), nil
	}
	ip, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("invalid remote IP %v", tcpAddr.IP)
	}
	return ip.Unmap(), nil
}

// readClientHello performs a single read of up to bufSize bytes, bounded
// by deadline. It returns exactly the bytes that read delivered, which
// may be less than a whole ClientHello, so the caller can replay them
// upstream verbatim.
func readClientHello(conn net.Conn, deadline time.Duration, bufSize int) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}
	buf := make([]byte, bufSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return buf[:n], nil
}
