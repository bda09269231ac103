package standard_models

import (
	"reflect"
	"sort"
)

const (
	EquityHistorical    = "EquityHistorical"
	EquityQuote         = "EquityQuote"
	CryptoHistorical    = "CryptoHistorical"
	CurrencyHistorical  = "CurrencyHistorical"
	WebSocketConnection = "WebSocketConnection"
)

// Model pairs the query-params and data-row types of one standard model.
type Model struct {
	Name        string
	QueryParams reflect.Type
	Data        reflect.Type
}

// Catalogue maps a standard model name to its types.
type Catalogue map[string]Model

var builtins = Catalogue{
	EquityHistorical:    {EquityHistorical, reflect.TypeFor[EquityHistoricalQueryParams](), reflect.TypeFor[EquityHistoricalData]()},
	EquityQuote:         {EquityQuote, reflect.TypeFor[EquityQuoteQueryParams](), reflect.TypeFor[EquityQuoteData]()},
	CryptoHistorical:    {CryptoHistorical, reflect.TypeFor[CryptoHistoricalQueryParams](), reflect.TypeFor[CryptoHistoricalData]()},
	CurrencyHistorical:  {CurrencyHistorical, reflect.TypeFor[CurrencyHistoricalQueryParams](), reflect.TypeFor[CurrencyHistoricalData]()},
	WebSocketConnection: {WebSocketConnection, reflect.TypeFor[WebSocketConnectionQueryParams](), reflect.TypeFor[WebSocketConnectionData]()},
}

// -----------------------------------------------------------------------------

// Builtins returns a copy of the built-in catalogue.
func Builtins() Catalogue {
	out := make(Catalogue, len(builtins))
	for k, v := range builtins {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

// With returns a copy of c with m added.
func (c Catalogue) With(m Model) Catalogue {
	out := make(Catalogue, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[m.Name] = m
	return out
}

// -----------------------------------------------------------------------------

// Names returns the model names in sorted order.
func (c Catalogue) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
