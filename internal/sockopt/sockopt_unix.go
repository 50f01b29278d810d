//go:build unix

// Package sockopt applies the best-effort listener and per-connection
// socket tuning spec §4.7/§4.9 call for: SO_REUSEADDR, SO_REUSEPORT,
// TCP_FASTOPEN on the listening socket, and large send/recv buffers on
// accepted connections. Every option here is advisory — failure is
// logged, never fatal, matching the original's "best-effort" framing.
package sockopt

import (
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FastOpenQueueLen is the TCP_FASTOPEN server-mode backlog spec §4.9
// asks for.
const FastOpenQueueLen = 256

// ListenControl is a net.ListenConfig.Control callback that applies
// SO_REUSEADDR, SO_REUSEPORT and TCP_FASTOPEN where the kernel supports
// them.
func ListenControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			logrus.WithError(err).Debug("sockopt: SO_REUSEADDR not applied")
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			logrus.WithError(err).Debug("sockopt: SO_REUSEPORT not applied")
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, FastOpenQueueLen); err != nil {
			logrus.WithError(err).Debug("sockopt: TCP_FASTOPEN not applied")
		}
	})
	if err != nil {
		ctrlErr = err
	}
	return ctrlErr
}
