package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/dioad/sniproxy/internal/dnscache"
	"github.com/dioad/sniproxy/internal/metricsregistry"
	"github.com/dioad/sniproxy/internal/sockopt"
	"github.com/dioad/sniproxy/internal/traffic"
)

const (
	acceptErrorBackoff     = 100 * time.Millisecond
	shutdownPollInterval   = 1 * time.Second
	shutdownDrainWindow    = 30 * time.Second
	metricsSummaryPeriod   = 60 * time.Second
	statsFilePeriod        = 60 * time.Second
	persistenceFlushPeriod = 300 * time.Second
)

// Engine is the accept loop of spec §4.9, bound to one Config. Its
// dial functions are fields rather than free functions so tests can
// substitute fakes without a real network, DNS resolver or SOCKS5
// server; New wires the real implementations.
type Engine struct {
	cfg        *Config
	metrics    *metricsregistry.Registry
	dnsCache   *dnscache.Cache
	accountant *traffic.Accountant

	dialDirect func(ctx context.Context, host string, port uint16) (net.Conn, error)
	dialSocks5 func(host string, port uint16) (net.Conn, error)

	sem *semaphore.Weighted

	statsFile       string
	persistenceFile string
}

// Option configures an Engine beyond what Config carries, following
// the original implementation's builder shape (see SPEC_FULL.md's
// Supplemented Features section).
type Option func(*Engine)

// WithStatsFile enables the periodic fixed-width top-N stats dump.
func WithStatsFile(path string) Option {
	return func(e *Engine) { e.statsFile = path }
}

// WithPersistenceFile enables periodic JSON persistence and loads any
// existing snapshot immediately.
func WithPersistenceFile(path string) Option {
	return func(e *Engine) { e.persistenceFile = path }
}

// New builds an Engine from cfg and a resolver, wiring the real direct
// and SOCKS5 dialers. accountant may be traffic.Disabled() when per-IP
// tracking is turned off in configuration.
func New(cfg *Config, resolver dnscache.Resolver, accountant *traffic.Accountant, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		metrics:    metricsregistry.New(),
		dnsCache:   dnscache.New(resolver),
		accountant: accountant,
		sem:        semaphore.NewWeighted(int64(maxConnections(cfg))),
	}
	e.dialDirect = e.defaultDialDirect
	e.dialSocks5 = e.defaultDialSocks5

	for _, opt := range opts {
		opt(e)
	}

	if e.persistenceFile != "" {
		if err := e.accountant.LoadPersistence(e.persistenceFile); err != nil {
			logrus.WithError(err).Warn("engine: failed to load traffic persistence file")
		}
	}

	return e
}

func maxConnections(cfg *Config) int {
	if cfg.MaxConnections > 0 {
		return cfg.MaxConnections
	}
	return AdaptiveMaxConnections()
}

// Metrics exposes the engine's registry, e.g. for an HTTP /metrics handler.
func (e *Engine) Metrics() *metricsregistry.Registry { return e.metrics }

// Run implements spec §4.9's six-step accept loop. It blocks until ctx
// is cancelled (the caller's signal-driven shutdown trigger) or the
// listener fails to bind, and always returns after the drain window.
func (e *Engine) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: sockopt.ListenControl}
	ln, err := lc.Listen(ctx, "tcp", e.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	// Go's net package does not expose listen(2)'s backlog argument
	// directly; the kernel's somaxconn plus SO_REUSEPORT fan-out from
	// sockopt.ListenControl stand in for spec's backlog=4096.
	if e.cfg.TrustProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}

	logrus.WithField("addr", e.cfg.ListenAddr).Info("engine: listening")

	var wg sync.WaitGroup
	stopTickers := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runTickers(stopTickers)
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		e.acceptLoop(ctx, ln)
	}()

	<-ctx.Done()
	logrus.Info("engine: shutdown signal received, draining")
	_ = ln.Close()
	<-acceptDone
	close(stopTickers)
	wg.Wait()

	e.drain(shutdownDrainWindow)
	e.flushPersistence()

	return nil
}

// acceptLoop implements step 5's accept half: permit acquisition
// precedes spawn so overload cannot create unbounded goroutines.
func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logrus.WithError(err).Debug("engine: accept error")
			time.Sleep(acceptErrorBackoff)
			continue
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return
		}

		go func() {
			defer e.sem.Release(1)
			e.handleConn(conn)
		}()
	}
}

// runTickers drives the metrics summary (always) and, when configured,
// the per-IP stats file and persistence flush, until stop is closed.
func (e *Engine) runTickers(stop <-chan struct{}) {
	metricsTicker := time.NewTicker(metricsSummaryPeriod)
	defer metricsTicker.Stop()

	var statsTicker, persistTicker *time.Ticker
	if e.statsFile != "" {
		statsTicker = time.NewTicker(statsFilePeriod)
		defer statsTicker.Stop()
	}
	if e.persistenceFile != "" {
		persistTicker = time.NewTicker(persistenceFlushPeriod)
		defer persistTicker.Stop()
	}

	statsC := tickerChan(statsTicker)
	persistC := tickerChan(persistTicker)

	for {
		select {
		case <-stop:
			return
		case <-metricsTicker.C:
			e.logMetricsSummary()
		case <-statsC:
			if err := e.accountant.WriteStatsFile(e.statsFile, 20); err != nil {
				logrus.WithError(err).Warn("engine: failed to write traffic stats file")
			}
		case <-persistC:
			e.flushPersistence()
		}
	}
}

// tickerChan returns t's channel, or a nil channel (which blocks
// forever in a select) when t is nil, so optional tickers cost nothing.
func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (e *Engine) logMetricsSummary() {
	s := e.metrics.Snapshot()
	logrus.WithFields(logrus.Fields{
		"active":        s.ActiveConnections,
		"total":         s.TotalConnections,
		"failed":        s.Failed,
		"bytes_in":      s.BytesIn,
		"bytes_out":     s.BytesOut,
		"direct":        s.DirectReq,
		"socks5":        s.Socks5Req,
		"rejected":      s.RejectedReq,
		"dns_hits":      s.DNSHits,
		"dns_misses":    s.DNSMisses,
		"sni_errors":    s.SNIParseErrors,
		"socks5_errors": s.Socks5Errors,
		"timeouts":      s.Timeouts,
		"uptime":        s.Uptime.String(),
	}).Info("engine: metrics summary")
}

func (e *Engine) flushPersistence() {
	if e.persistenceFile == "" {
		return
	}
	if err := e.accountant.SavePersistenceAtomic(e.persistenceFile); err != nil {
		logrus.WithError(err).Warn("engine: failed to flush traffic persistence file")
	}
}

// drain polls active connections once a second until they reach zero
// or deadline elapses, per step 5's shutdown branch.
func (e *Engine) drain(deadline time.Duration) {
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	for {
		active := e.metrics.Snapshot().ActiveConnections
		if active == 0 {
			logrus.Info("engine: drain complete")
			return
		}
		if elapsed >= deadline {
			logrus.WithField("active", active).Warn("engine: drain window expired with connections still active")
			return
		}
		<-ticker.C
		elapsed += shutdownPollInterval
	}
}
