//go:build !unix

package sockopt

import "syscall"

// FastOpenQueueLen is unused on non-unix platforms; kept for symbol
// parity with sockopt_unix.go.
const FastOpenQueueLen = 256

// ListenControl is a no-op on platforms without SO_REUSEPORT/TCP_FASTOPEN
// support (e.g. Windows). The listener still binds and serves normally.
func ListenControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
