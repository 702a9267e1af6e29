//go:build unix

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl 设置 SO_REUSEADDR 和 SO_REUSEPORT
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			// 某些系统不支持，退回仅 SO_REUSEADDR
			log.Warn("设置 SO_REUSEPORT 失败", "err", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
