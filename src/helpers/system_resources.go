package helpers

import (
	"os"
	"runtime/debug"
)

const fallbackMemoryMB = 512

// SystemResources is what /api/health reports about the host.
type SystemResources struct {
	TotalMemoryMB      int `json:"total_memory_mb"`
	RecommendedLimitMB int `json:"recommended_limit_mb"`
}

// ReadSystemResources probes the host memory.
func ReadSystemResources() SystemResources {
	total := totalSystemMemoryMB()
	return SystemResources{TotalMemoryMB: total, RecommendedLimitMB: recommendedLimitMB(total)}
}

// recommendedLimitMB is 75% of total RAM, at least 512MB when the host has
// that much. Unknown totals fall back to 512MB.
func recommendedLimitMB(totalMB int) int {
	if totalMB <= 0 {
		return fallbackMemoryMB
	}
	limit := int(float64(totalMB) * 0.75)
	if limit < fallbackMemoryMB {
		if totalMB < fallbackMemoryMB {
			return totalMB
		}
		return fallbackMemoryMB
	}
	return limit
}

// ApplyMemoryLimit sets the runtime soft memory limit to the recommended
// value unless GOMEMLIMIT is already set. Returns the limit in MB, or 0 when
// left alone.
func ApplyMemoryLimit() int {
	if os.Getenv("GOMEMLIMIT") != "" {
		return 0
	}
	mb := ReadSystemResources().RecommendedLimitMB
	debug.SetMemoryLimit(int64(mb) * 1024 * 1024)
	return mb
}
