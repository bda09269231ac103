//go:build windows

package helpers

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func totalSystemMemoryMB() int {
	status := windows.MemoryStatusEx{}
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0
	}
	return int(status.TotalPhys >> 20)
}
