package standard_models

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"market-platform/src/helpers"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	quotedName = regexp.MustCompile(`'([^']+)'`)

	timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
)

// -----------------------------------------------------------------------------

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(sf reflect.StructField) string {
			name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return sf.Name
			}
			return name
		})
	})
	return validate
}

// -----------------------------------------------------------------------------

// Build decodes params into out (a struct pointer), fills tag defaults and
// the default date range, runs the normalisers and validates the result.
// Nil values count as absent.
func Build(params map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("standard_models: Build needs a struct pointer, got %T", out)
	}

	fields := Fields(rv.Elem().Type())
	input := make(map[string]any, len(params)+len(fields))
	for k, v := range params {
		if v != nil {
			input[k] = v
		}
	}
	for _, f := range fields {
		if _, ok := input[f.JSONName]; ok {
			continue
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			input[f.JSONName] = def
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			dateHook,
			timeHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return decodeError(err)
	}

	if err := ApplyDateDefaults(out); err != nil {
		return err
	}
	if err := Normalize(out); err != nil {
		return err
	}
	return Validate(out)
}

// -----------------------------------------------------------------------------

func decodeError(err error) error {
	field := ""
	if m := quotedName.FindStringSubmatch(err.Error()); m != nil {
		field = m[1]
	}
	return helpers.NewValidationError(field, "invalid parameter: %v", err)
}

// -----------------------------------------------------------------------------

func dateHook(from, to reflect.Type, data any) (any, error) {
	if to != dateType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := civil.ParseDate(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a date (YYYY-MM-DD)", v)
		}
		return d, nil
	case time.Time:
		return civil.DateOf(v), nil
	}
	return data, nil
}

// -----------------------------------------------------------------------------

func timeHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("'%s' is not a datetime", v)
	case civil.Date:
		return v.In(time.UTC), nil
	}
	return data, nil
}

// -----------------------------------------------------------------------------

// Normalize applies the `normalize` and `choices` tags of out in place.
func Normalize(out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("standard_models: Normalize needs a struct pointer, got %T", out)
	}
	root := rv.Elem()

	for _, f := range Fields(root.Type()) {
		fv, err := root.FieldByIndexErr(f.Index)
		if err != nil || !fv.CanSet() {
			continue
		}
		if rules, ok := f.Tag.Lookup("normalize"); ok {
			for _, rule := range strings.Split(rules, ",") {
				applyRule(strings.TrimSpace(rule), fv)
			}
		}
		if choices, ok := f.Tag.Lookup("choices"); ok {
			if err := applyChoices(f.JSONName, strings.Split(choices, ","), fv); err != nil {
				return err
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func applyRule(rule string, fv reflect.Value) {
	switch rule {
	case "upper":
		mapStrings(fv, strings.ToUpper)
	case "lower":
		mapStrings(fv, strings.ToLower)
	case "zero_nil":
		if fv.Kind() == reflect.Pointer && !fv.IsNil() && fv.Elem().IsZero() {
			fv.Set(reflect.Zero(fv.Type()))
		}
	}
}

// -----------------------------------------------------------------------------

func mapStrings(fv reflect.Value, fn func(string) string) {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(fn(fv.String()))
	case reflect.Pointer:
		if !fv.IsNil() {
			mapStrings(fv.Elem(), fn)
		}
	case reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			mapStrings(fv.Index(i), fn)
		}
	}
}

// -----------------------------------------------------------------------------

func applyChoices(name string, choices []string, fv reflect.Value) error {
	switch fv.Kind() {
	case reflect.String:
		s := fv.String()
		if s == "" {
			return nil
		}
		for _, c := range choices {
			if strings.EqualFold(s, c) {
				fv.SetString(c)
				return nil
			}
		}
		return helpers.NewValidationError(name, "invalid value %q for '%s', expected one of: %s", s, name, strings.Join(choices, ", "))
	case reflect.Pointer:
		if fv.IsNil() {
			return nil
		}
		return applyChoices(name, choices, fv.Elem())
	case reflect.Slice:
		for i := 0; i < fv.Len(); i++ {
			if err := applyChoices(name, choices, fv.Index(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Validate runs the `validate` tags of out and reports the first failure as
// a ValidationError carrying the JSON field name.
func Validate(out any) error {
	err := validatorInstance().Struct(out)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return helpers.NewValidationError(fe.Field(), "'%s' failed the '%s=%s' rule", fe.Field(), fe.Tag(), fe.Param())
		}
		return helpers.NewValidationError(fe.Field(), "'%s' failed the '%s' rule", fe.Field(), fe.Tag())
	}
	return helpers.NewValidationError("", "%v", err)
}
