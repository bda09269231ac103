package standard_models

import (
	"reflect"
	"time"

	"market-platform/src/helpers"

	"cloud.google.com/go/civil"
)

var today = func() civil.Date { return civil.DateOf(time.Now()) }

// -----------------------------------------------------------------------------

// DefaultDateRange fills a missing end with today and a missing start with
// one year before end. A start after end is a ValidationError on start_date.
func DefaultDateRange(start, end *civil.Date) (civil.Date, civil.Date, error) {
	e := today()
	if end != nil {
		e = *end
	}
	s := civil.DateOf(e.In(time.UTC).AddDate(-1, 0, 0))
	if start != nil {
		s = *start
	}
	if s.After(e) {
		return s, e, helpers.NewValidationError("start_date", "start_date (%s) is after end_date (%s)", s, e)
	}
	return s, e, nil
}

// -----------------------------------------------------------------------------

// ApplyDateDefaults runs DefaultDateRange on out when it has *civil.Date
// fields named start_date and end_date.
func ApplyDateDefaults(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	root := rv.Elem()

	var startV, endV reflect.Value
	for _, f := range Fields(root.Type()) {
		if f.Type != reflect.PointerTo(dateType) {
			continue
		}
		fv, err := root.FieldByIndexErr(f.Index)
		if err != nil {
			continue
		}
		switch f.JSONName {
		case "start_date":
			startV = fv
		case "end_date":
			endV = fv
		}
	}
	if !startV.IsValid() || !endV.IsValid() {
		return nil
	}

	var start, end *civil.Date
	if !startV.IsNil() {
		start = startV.Interface().(*civil.Date)
	}
	if !endV.IsNil() {
		end = endV.Interface().(*civil.Date)
	}
	s, e, err := DefaultDateRange(start, end)
	if err != nil {
		return err
	}
	startV.Set(reflect.ValueOf(&s))
	endV.Set(reflect.ValueOf(&e))
	return nil
}
