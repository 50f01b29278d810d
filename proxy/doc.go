// Package proxy is the core SNI-routing engine: a bounded-concurrency
// accept loop (engine.go) feeding a per-connection handler (handler.go)
// that classifies each TLS ClientHello (classify.go), dials upstream
// directly or through a chained SOCKS5 proxy, and splices bytes
// bidirectionally (copy.go). It depends only on the internal packages
// that implement its building blocks; everything configuration- or
// transport-shaped (JSON parsing, CLI, signal handling) lives outside
// this package, per the external-collaborator boundary described in
// SPEC_FULL.md.
package proxy
