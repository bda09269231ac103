package utils

import (
	"strings"
	"time"

	"market-platform/src/logger"

	"cloud.google.com/go/civil"
	"github.com/scmhub/calendar"
)

// defaultMIC is the NYSE calendar, used for unsuffixed symbols.
const defaultMIC = "xnys"

// Yahoo-style symbol suffix to ISO 10383 market identifier.
var suffixMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".ST": "xsto",
	".CO": "xcse",
	".HE": "xhel",
	".VI": "xwbo",
	".SW": "xswx",
	".TO": "xtse",
	".V":  "xtsx",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
	".KS": "xkrx",
	".TW": "xtai",
	".SS": "xshg",
	".SZ": "xshe",
}

// TradingCalendar answers session questions for one exchange. Fallback is
// set when scmhub/calendar has no calendar for the MIC: weekdays 09:30-16:00
// New York time.
type TradingCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// MICFor maps a symbol to its exchange identifier by suffix.
func MICFor(symbol string) string {
	symbol = strings.ToUpper(symbol)
	if i := strings.LastIndex(symbol, "."); i > 0 {
		for suffix, mic := range suffixMIC {
			if strings.EqualFold(symbol[i:], suffix) {
				return mic
			}
		}
	}
	return defaultMIC
}

// -----------------------------------------------------------------------------

// LoadCalendar builds the calendar of mic, falling back to NYSE and then to
// the plain weekday schedule.
func LoadCalendar(mic string) *TradingCalendar {
	if cal := calendar.GetCalendar(mic); cal != nil {
		return &TradingCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
	}
	if cal := calendar.GetCalendar(defaultMIC); cal != nil {
		return &TradingCalendar{MIC: defaultMIC, Calendar: cal, Timezone: cal.Loc}
	}

	logger.NewLogger(nil, "TradingCalendar").Warning("No calendar for MIC '%s' or '%s'. Using weekday fallback.", mic, defaultMIC)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		ny = time.UTC
	}
	return &TradingCalendar{MIC: mic, Fallback: true, Timezone: ny}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}
	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenAt reports whether the exchange is in its regular session at t.
func (tc *TradingCalendar) IsOpenAt(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}
	if !tc.Fallback {
		return tc.Calendar.IsOpen(t)
	}
	if !tc.IsTradingDay(t) {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// -----------------------------------------------------------------------------

// HasSession reports whether at least one trading day falls within
// [start, end], both inclusive.
func (tc *TradingCalendar) HasSession(start, end civil.Date) bool {
	loc := tc.Timezone
	if loc == nil {
		loc = time.UTC
	}
	for d := start; !d.After(end); d = d.AddDays(1) {
		// noon avoids DST edges when converting back to the exchange zone
		if tc.IsTradingDay(time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, loc)) {
			return true
		}
	}
	return false
}
