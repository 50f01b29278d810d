package socks5client

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer starts a listener and hands each accepted conn to handle.
func fakeServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return ln.Addr().String()
}

func TestConnect_NoAuthSuccess(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		greet := make([]byte, 3)
		io.ReadFull(c, greet)
		assert.Equal(t, []byte{0x05, 0x01, 0x00}, greet)
		c.Write([]byte{0x05, 0x00})

		hdr := make([]byte, 5)
		io.ReadFull(c, hdr)
		assert.Equal(t, byte(0x05), hdr[0])
		assert.Equal(t, byte(0x01), hdr[1])
		assert.Equal(t, byte(0x03), hdr[3])
		host := make([]byte, hdr[4])
		io.ReadFull(c, host)
		assert.Equal(t, "example.com", string(host))
		port := make([]byte, 2)
		io.ReadFull(c, port)
		assert.Equal(t, uint16(443), uint16(port[0])<<8|uint16(port[1]))

		c.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	})

	conn, err := Connect("example.com", 443, Config{Addr: addr})
	require.NoError(t, err)
	defer conn.Close()
}

func TestConnect_RequestFrameExactBytes(t *testing.T) {
	// Serialized request bytes for (host, port, no-auth) per spec §8 item 5:
	// 05 01 00 05 01 00 03 L h… p_hi p_lo
	var captured []byte
	addr := fakeServer(t, func(c net.Conn) {
		greet := make([]byte, 3)
		io.ReadFull(c, greet)
		captured = append(captured, greet...)
		c.Write([]byte{0x05, 0x00})

		req := make([]byte, 7+1) // ver cmd rsv atyp len 'h' port(2)
		io.ReadFull(c, req)
		captured = append(captured, req...)
		c.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	})

	conn, err := Connect("h", 0x0001, Config{Addr: addr})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, []byte{0x05, 0x01, 0x00, 0x05, 0x01, 0x00, 0x03, 0x01, 'h', 0x00, 0x01}, captured)
}

func TestConnect_UsernamePassword(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		greet := make([]byte, 3)
		io.ReadFull(c, greet)
		assert.Equal(t, byte(0x02), greet[2])
		c.Write([]byte{0x05, 0x02})

		auth := make([]byte, 1+1+4+1+4) // ver ulen 'user' plen 'pass'
		io.ReadFull(c, auth)
		assert.Equal(t, "user", string(auth[2:6]))
		assert.Equal(t, "pass", string(auth[7:11]))
		c.Write([]byte{0x01, 0x00})

		hdr := make([]byte, 5)
		io.ReadFull(c, hdr)
		host := make([]byte, hdr[4])
		io.ReadFull(c, host)
		io.ReadFull(c, make([]byte, 2))
		c.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	})

	conn, err := Connect("example.com", 443, Config{Addr: addr, Username: "user", Password: "pass"})
	require.NoError(t, err)
	defer conn.Close()
}

func TestConnect_AuthFailure(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		io.ReadFull(c, make([]byte, 3))
		c.Write([]byte{0x05, 0x02})
		io.ReadFull(c, make([]byte, 1+1+4+1+4))
		c.Write([]byte{0x01, 0x01}) // non-zero status: failed
	})

	_, err := Connect("example.com", 443, Config{Addr: addr, Username: "user", Password: "pass"})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestConnect_MethodUnsupported(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		io.ReadFull(c, make([]byte, 3))
		c.Write([]byte{0x05, 0xFF})
	})

	_, err := Connect("example.com", 443, Config{Addr: addr})
	assert.ErrorIs(t, err, ErrAuthMethodUnsupported)
}

func TestConnect_ReplyErrorCodes(t *testing.T) {
	cases := map[byte]error{
		0x01: errGeneralFailure,
		0x02: errRuleset,
		0x03: errNetworkUnreachable,
		0x04: errHostUnreachable,
		0x05: errConnectionRefused,
		0x06: errTTLExpired,
		0x07: errCommandUnsupported,
		0x08: errAddressUnsupported,
	}

	for rep, wantErr := range cases {
		rep, wantErr := rep, wantErr
		t.Run("", func(t *testing.T) {
			addr := fakeServer(t, func(c net.Conn) {
				io.ReadFull(c, make([]byte, 3))
				c.Write([]byte{0x05, 0x00})
				hdr := make([]byte, 5)
				io.ReadFull(c, hdr)
				io.ReadFull(c, make([]byte, int(hdr[4])+2))
				c.Write([]byte{0x05, rep, 0x00, 0x01})
			})

			_, err := Connect("example.com", 443, Config{Addr: addr})
			assert.ErrorIs(t, err, wantErr)
		})
	}
}

func TestConnect_DomainBoundAddr(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		io.ReadFull(c, make([]byte, 3))
		c.Write([]byte{0x05, 0x00})
		hdr := make([]byte, 5)
		io.ReadFull(c, hdr)
		io.ReadFull(c, make([]byte, int(hdr[4])+2))
		c.Write([]byte{0x05, 0x00, 0x00, 0x03})
		c.Write([]byte{0x03, 'a', 'b', 'c', 0x01, 0xBB})
	})

	conn, err := Connect("example.com", 443, Config{Addr: addr})
	require.NoError(t, err)
	defer conn.Close()
}

func TestConnect_HostTooLong(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Connect(string(long), 443, Config{Addr: "127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrHostTooLong)
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	_, err = Connect("example.com", 443, Config{Addr: addr})
	assert.ErrorIs(t, err, ErrDial)
}

func TestConnect_TruncatedReply(t *testing.T) {
	addr := fakeServer(t, func(c net.Conn) {
		io.ReadFull(c, make([]byte, 3))
		c.Write([]byte{0x05, 0x00})
		hdr := make([]byte, 5)
		io.ReadFull(c, hdr)
		io.ReadFull(c, make([]byte, int(hdr[4])+2))
		c.Write([]byte{0x05, 0x00}) // too short, then close
		c.Close()
	})

	_, err := Connect("example.com", 443, Config{Addr: addr})
	assert.Error(t, err)
}

func TestConnect_StepTimeoutIsBounded(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		time.Sleep(10 * time.Second) // never responds
	}()

	start := time.Now()
	_, err = Connect("example.com", 443, Config{Addr: ln.Addr().String()})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 7*time.Second)
}
