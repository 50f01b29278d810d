package proxy

import (
	"io"
	"net"
	"sync"
)

const copyBufferSize = 64 * 1024

// splice implements spec §4.8's bidirectional copy: two goroutines, one
// per direction, each with its own 64KiB buffer. Either side reaching
// EOF or an error closes its write half so the other direction can
// drain to its own EOF, matching half-close semantics; both goroutines
// always return before splice does. Returns (bytes_c2u, bytes_u2c):
// bytesIn is the client->upstream count (the client's upload), bytesOut
// is the upstream->client count (the client's download).
func splice(client, upstream net.Conn) (bytesIn, bytesOut int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		buf := make([]byte, copyBufferSize)
		n, _ := io.CopyBuffer(upstream, client, buf)
		bytesIn = n
		closeWrite(upstream)
	}()

	go func() {
		defer wg.Done()
		buf := make([]byte, copyBufferSize)
		n, _ := io.CopyBuffer(client, upstream, buf)
		bytesOut = n
		closeWrite(client)
	}()

	wg.Wait()
	return bytesIn, bytesOut
}

// closeWrite half-closes conn if it supports it (true for *net.TCPConn),
// falling back to a full close otherwise.
func closeWrite(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}
