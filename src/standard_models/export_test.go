package standard_models

import "cloud.google.com/go/civil"

// SetToday swaps the clock used by DefaultDateRange and returns the restore func.
func SetToday(fn func() civil.Date) func() {
	prev := today
	today = fn
	return func() { today = prev }
}
