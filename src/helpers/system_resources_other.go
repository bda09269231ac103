//go:build !linux && !darwin && !windows

package helpers

func totalSystemMemoryMB() int { return 0 }
