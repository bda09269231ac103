package fetcher

import (
	"context"
	"fmt"
	"sync"

	"market-platform/src/models"
)

type collectorKey struct{}

type collector struct {
	mu       sync.Mutex
	warnings []models.MWarning
}

func withCollector(ctx context.Context) (context.Context, *collector) {
	c := &collector{}
	return context.WithValue(ctx, collectorKey{}, c), c
}

func (c *collector) add(w models.MWarning) {
	c.mu.Lock()
	c.warnings = append(c.warnings, w)
	c.mu.Unlock()
}

func (c *collector) list() []models.MWarning {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.warnings) == 0 {
		return nil
	}
	out := make([]models.MWarning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// -----------------------------------------------------------------------------

// Warn records a non-fatal, per-item failure for the running Fetch. Outside
// a Fetch it is a no-op.
func Warn(ctx context.Context, format string, args ...any) {
	if c, ok := ctx.Value(collectorKey{}).(*collector); ok {
		c.add(models.MWarning{Category: "ProviderWarning", Message: fmt.Sprintf(format, args...)})
	}
}
