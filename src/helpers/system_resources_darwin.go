//go:build darwin

package helpers

import "golang.org/x/sys/unix"

func totalSystemMemoryMB() int {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0
	}
	return int(total >> 20)
}
