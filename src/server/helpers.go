package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"market-platform/src/helpers"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------

// requestKwargs collects the call keywords of a request: query string first,
// then a JSON object body, then the custom headers of the signature.
func requestKwargs(c *gin.Context, sig Signature) (map[string]any, error) {
	kw := make(map[string]any)
	for name, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		raw := strings.Join(values, ",")
		p, ok := sig.Lookup(name)
		if !ok {
			kw[name] = raw
			continue
		}
		v, err := coerce(raw, p.Type)
		if err != nil {
			return nil, helpers.NewValidationError(name, "invalid value '%s' for '%s': %v", raw, name, err)
		}
		kw[name] = v
	}

	if c.Request.Body != nil && c.Request.Method != http.MethodGet {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageSize))
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, helpers.NewValidationError("body", "request body must be a JSON object: %v", err)
			}
			for k, v := range fields {
				kw[k] = v
			}
		}
	}

	for _, p := range sig.Params {
		if p.Kind != ParamHeader {
			continue
		}
		if v := c.GetHeader(headerName(p.Name)); v != "" {
			kw[p.Name] = v
		}
	}
	return kw, nil
}

// -----------------------------------------------------------------------------

func headerName(param string) string {
	return strings.ReplaceAll(param, "_", "-")
}

// -----------------------------------------------------------------------------

// coerce converts a query-string value for the declared type. Strings, dates
// and lists stay as text for the model decoder.
func coerce(raw string, t reflect.Type) (any, error) {
	if t == nil {
		return raw, nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return strconv.ParseBool(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	case reflect.Struct:
		if t == providerType {
			return raw, nil
		}
	}
	return raw, nil
}

// -----------------------------------------------------------------------------

func formatSeconds(s float64) string {
	return strconv.Itoa(int(math.Ceil(s)))
}

// -----------------------------------------------------------------------------

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
