package fetcher

import (
	"context"
	"fmt"
	"reflect"

	"market-platform/src/models"
	"market-platform/src/standard_models"
)

// Credentials maps a credential name (e.g. fmp_api_key) to its secret.
type Credentials map[string]string

// Definition binds the three stages of one provider fetcher. Q is the query
// params struct, Raw the extracted payload, R the return type ([]D for list
// returns). Exactly one of ExtractData and ExtractDataSync must be set.
type Definition[Q any, Raw any, R any] struct {
	TransformQuery     func(params map[string]any) (*Q, error)
	ExtractData        func(ctx context.Context, q *Q, creds Credentials) (Raw, error)
	ExtractDataSync    func(q *Q, creds Credentials) (Raw, error)
	TransformData      func(q *Q, raw Raw) (R, error)
	RequireCredentials *bool
}

// Fetcher is the type-erased form of a Definition held by providers.
type Fetcher interface {
	QueryParamsType() reflect.Type
	DataType() reflect.Type
	ReturnType() reflect.Type
	IsList() bool
	// RequireCredentials returns the override and whether one was declared.
	RequireCredentials() (bool, bool)

	TransformQuery(params map[string]any) (any, error)
	ExtractData(ctx context.Context, query any, creds Credentials) (any, error)
	TransformData(query any, raw any) (any, error)

	// Fetch runs the three stages in order and returns the transformed
	// result with the warnings raised along the way.
	Fetch(ctx context.Context, params map[string]any, creds Credentials) (any, []models.MWarning, error)
}

// -----------------------------------------------------------------------------

type typed[Q any, Raw any, R any] struct {
	def    Definition[Q, Raw, R]
	qType  reflect.Type
	rType  reflect.Type
	dType  reflect.Type
	isList bool
}

// New validates def and returns its type-erased Fetcher.
func New[Q any, Raw any, R any](def Definition[Q, Raw, R]) (Fetcher, error) {
	if (def.ExtractData == nil) == (def.ExtractDataSync == nil) {
		return nil, fmt.Errorf("fetcher: exactly one of ExtractData and ExtractDataSync must be set")
	}
	if def.TransformData == nil {
		return nil, fmt.Errorf("fetcher: TransformData is required")
	}

	qType := reflect.TypeFor[Q]()
	if qType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fetcher: query params type %s is not a struct", qType)
	}

	rType := reflect.TypeFor[R]()
	dType, isList := rType, false
	if rType.Kind() == reflect.Slice {
		dType, isList = rType.Elem(), true
	}
	for dType.Kind() == reflect.Pointer {
		dType = dType.Elem()
	}
	if dType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("fetcher: data type %s is not a struct", dType)
	}

	return &typed[Q, Raw, R]{def: def, qType: qType, rType: rType, dType: dType, isList: isList}, nil
}

// MustNew is New for package-level provider declarations.
func MustNew[Q any, Raw any, R any](def Definition[Q, Raw, R]) Fetcher {
	f, err := New(def)
	if err != nil {
		panic(err)
	}
	return f
}

// -----------------------------------------------------------------------------

func (f *typed[Q, Raw, R]) QueryParamsType() reflect.Type { return f.qType }
func (f *typed[Q, Raw, R]) DataType() reflect.Type        { return f.dType }
func (f *typed[Q, Raw, R]) ReturnType() reflect.Type      { return f.rType }
func (f *typed[Q, Raw, R]) IsList() bool                  { return f.isList }

func (f *typed[Q, Raw, R]) RequireCredentials() (bool, bool) {
	if f.def.RequireCredentials == nil {
		return false, false
	}
	return *f.def.RequireCredentials, true
}

// -----------------------------------------------------------------------------

func (f *typed[Q, Raw, R]) TransformQuery(params map[string]any) (any, error) {
	return f.transformQuery(params)
}

func (f *typed[Q, Raw, R]) transformQuery(params map[string]any) (*Q, error) {
	if f.def.TransformQuery != nil {
		return f.def.TransformQuery(params)
	}
	q := new(Q)
	if err := standard_models.Build(params, q); err != nil {
		return nil, err
	}
	return q, nil
}

// -----------------------------------------------------------------------------

func (f *typed[Q, Raw, R]) ExtractData(ctx context.Context, query any, creds Credentials) (any, error) {
	q, ok := query.(*Q)
	if !ok {
		return nil, fmt.Errorf("fetcher: query is %T, want %s", query, reflect.PointerTo(f.qType))
	}
	return f.extract(ctx, q, creds)
}

func (f *typed[Q, Raw, R]) extract(ctx context.Context, q *Q, creds Credentials) (Raw, error) {
	if f.def.ExtractData != nil {
		return f.def.ExtractData(ctx, q, creds)
	}
	return runSync(ctx, func() (Raw, error) {
		return f.def.ExtractDataSync(q, creds)
	})
}

// -----------------------------------------------------------------------------

func (f *typed[Q, Raw, R]) TransformData(query any, raw any) (any, error) {
	q, ok := query.(*Q)
	if !ok {
		return nil, fmt.Errorf("fetcher: query is %T, want %s", query, reflect.PointerTo(f.qType))
	}
	var r Raw
	if raw != nil {
		if r, ok = raw.(Raw); !ok {
			return nil, fmt.Errorf("fetcher: raw data is %T, want %s", raw, reflect.TypeFor[Raw]())
		}
	}
	return f.def.TransformData(q, r)
}

// -----------------------------------------------------------------------------

func (f *typed[Q, Raw, R]) Fetch(ctx context.Context, params map[string]any, creds Credentials) (any, []models.MWarning, error) {
	ctx, col := withCollector(ctx)

	q, err := f.transformQuery(params)
	if err != nil {
		return nil, col.list(), err
	}
	if err := ctx.Err(); err != nil {
		return nil, col.list(), err
	}

	raw, err := f.extract(ctx, q, creds)
	if err != nil {
		return nil, col.list(), err
	}
	if err := ctx.Err(); err != nil {
		return nil, col.list(), err
	}

	res, err := f.def.TransformData(q, raw)
	if err != nil {
		return nil, col.list(), err
	}
	return res, col.list(), nil
}
