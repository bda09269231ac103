package utils

import (
	"sync"
	"time"

	"market-platform/src/logger"

	"cloud.google.com/go/civil"
)

// MarketScheduler hands out trading calendars by symbol. Calendars are built
// once per exchange and shared.
type MarketScheduler struct {
	Logger *logger.Logger

	mu        sync.RWMutex
	calendars map[string]*TradingCalendar
	now       func() time.Time
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(l *logger.Logger) *MarketScheduler {
	return &MarketScheduler{
		Logger:    l,
		calendars: make(map[string]*TradingCalendar),
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

// Calendar returns the calendar of the exchange symbol trades on.
func (ms *MarketScheduler) Calendar(symbol string) *TradingCalendar {
	mic := MICFor(symbol)

	ms.mu.RLock()
	cal, ok := ms.calendars[mic]
	ms.mu.RUnlock()
	if ok {
		return cal
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if cal, ok := ms.calendars[mic]; ok {
		return cal
	}
	cal = LoadCalendar(mic)
	ms.calendars[mic] = cal
	ms.Logger.Debug("MarketScheduler: loaded calendar %s for %s (%d cached)", cal.MIC, symbol, len(ms.calendars))
	return cal
}

// -----------------------------------------------------------------------------

// HasSession reports whether symbol's exchange trades on any day of the range.
func (ms *MarketScheduler) HasSession(symbol string, start, end civil.Date) bool {
	return ms.Calendar(symbol).HasSession(start, end)
}

// -----------------------------------------------------------------------------

// IsOpen reports whether symbol's exchange is in session right now.
func (ms *MarketScheduler) IsOpen(symbol string) bool {
	return ms.Calendar(symbol).IsOpenAt(ms.now().UTC())
}
