package provider

import (
	"fmt"
	"reflect"
	"sort"

	"market-platform/src/standard_models"
)

// StandardKey is the map key holding the standard (provider-neutral) schema.
const StandardKey = "openbb"

// SchemaInfo is the field list and docstring of one query-params or data type.
type SchemaInfo struct {
	Fields    []FieldInfo `json:"fields"`
	Docstring string      `json:"docstring,omitempty"`
}

// ModelSchemas pairs the query-params and data schemas of one map entry.
type ModelSchemas struct {
	QueryParams SchemaInfo `json:"QueryParams"`
	Data        SchemaInfo `json:"Data"`
}

// ReturnInfo is the synthesized return row of one provider/model pair.
type ReturnInfo struct {
	Model    reflect.Type
	IsList   bool
	Provider string
}

// RegistryMap is the derived, immutable index of provider capabilities.
type RegistryMap struct {
	providers   []string
	credentials []string
	models      []string
	schemas     map[string]map[string]ModelSchemas
	returns     map[string]map[string]ReturnInfo
	catalogue   standard_models.Catalogue
}

// -----------------------------------------------------------------------------

// NewRegistryMap walks every provider's fetchers in sorted order and builds
// the merged schemas. Providers whose types do not embed the catalogue's
// standard types, or that retype a standard field, fail the build.
func NewRegistryMap(reg *Registry, catalogue standard_models.Catalogue) (*RegistryMap, error) {
	rm := &RegistryMap{
		schemas:   make(map[string]map[string]ModelSchemas),
		returns:   make(map[string]map[string]ReturnInfo),
		catalogue: catalogue,
	}
	credSet := make(map[string]bool)

	for _, name := range reg.Names() {
		p, _ := reg.Get(name)
		rm.providers = append(rm.providers, name)
		for _, c := range p.Credentials {
			credSet[c] = true
		}

		for _, model := range p.Models() {
			if err := rm.addFetcher(p, model); err != nil {
				return nil, err
			}
		}
	}

	for c := range credSet {
		rm.credentials = append(rm.credentials, c)
	}
	sort.Strings(rm.credentials)
	for m := range rm.schemas {
		rm.models = append(rm.models, m)
	}
	sort.Strings(rm.models)
	return rm, nil
}

// -----------------------------------------------------------------------------

func (rm *RegistryMap) addFetcher(p *Provider, model string) error {
	std, ok := rm.catalogue[model]
	if !ok {
		return fmt.Errorf("provider %q: unknown standard model %q", p.Name, model)
	}
	f := p.FetcherDict[model]
	qType, dType := f.QueryParamsType(), f.DataType()

	if !standard_models.Embeds(qType, std.QueryParams) {
		return fmt.Errorf("provider %q, model %q: %s does not embed %s", p.Name, model, qType, std.QueryParams)
	}
	if !standard_models.Embeds(dType, std.Data) {
		return fmt.Errorf("provider %q, model %q: %s does not embed %s", p.Name, model, dType, std.Data)
	}

	qStd, qExtra, err := partition(qType, std.QueryParams)
	if err != nil {
		return fmt.Errorf("provider %q, model %q: %w", p.Name, model, err)
	}
	dStd, dExtra, err := partition(dType, std.Data)
	if err != nil {
		return fmt.Errorf("provider %q, model %q: %w", p.Name, model, err)
	}

	entry, ok := rm.schemas[model]
	if !ok {
		entry = map[string]ModelSchemas{StandardKey: {
			QueryParams: SchemaInfo{Fields: infos(standard_models.Fields(std.QueryParams)), Docstring: firstDocstring(qType)},
			Data:        SchemaInfo{Fields: infos(standard_models.Fields(std.Data)), Docstring: firstDocstring(dType)},
		}}
		rm.schemas[model] = entry
	}

	qx, dx := schemaExtras(qType), schemaExtras(dType)

	base := entry[StandardKey]
	base.QueryParams.Fields = mergeStandard(base.QueryParams.Fields, qStd, p.Name, qx)
	base.Data.Fields = mergeStandard(base.Data.Fields, dStd, p.Name, dx)
	entry[StandardKey] = base

	entry[p.Name] = ModelSchemas{
		QueryParams: SchemaInfo{Fields: extraInfos(qExtra, p.Name, qx), Docstring: standard_models.Docstring(qType)},
		Data:        SchemaInfo{Fields: extraInfos(dExtra, p.Name, dx), Docstring: standard_models.Docstring(dType)},
	}

	if rm.returns[model] == nil {
		rm.returns[model] = make(map[string]ReturnInfo)
	}
	rm.returns[model][p.Name] = ReturnInfo{Model: returnRow(dType, p.Name), IsList: f.IsList(), Provider: p.Name}
	return nil
}

// -----------------------------------------------------------------------------

// partition splits t's fields at the standard-models boundary. A provider
// field that shadows a standard one must keep its type and stays standard.
func partition(t, base reflect.Type) (std, extra []standard_models.Field, err error) {
	baseFields := make(map[string]standard_models.Field)
	for _, f := range standard_models.Fields(base) {
		baseFields[f.JSONName] = f
	}

	for _, f := range standard_models.Fields(t) {
		if f.Standard {
			std = append(std, f)
			continue
		}
		if bf, ok := baseFields[f.JSONName]; ok {
			if bf.Type != f.Type {
				return nil, nil, fmt.Errorf("field %q of %s is %s, the standard declares %s", f.JSONName, t, f.Type, bf.Type)
			}
			std = append(std, f)
			continue
		}
		extra = append(extra, f)
	}

	for name, bf := range baseFields {
		found := false
		for _, f := range std {
			if f.JSONName == name {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, fmt.Errorf("standard field %q (%s) is missing from %s", name, bf.Type, t)
		}
	}
	return std, extra, nil
}

// -----------------------------------------------------------------------------

func infos(fields []standard_models.Field) []FieldInfo {
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = newFieldInfo(f)
	}
	return out
}

func firstDocstring(t reflect.Type) string {
	if st, ok := standard_models.FirstStandard(t); ok {
		return standard_models.Docstring(st)
	}
	return ""
}

// -----------------------------------------------------------------------------

// mergeStandard folds one provider's standard fields and declared extras
// into the standard list, returning a new slice.
func mergeStandard(current []FieldInfo, std []standard_models.Field, provider string, extras map[string]map[string]any) []FieldInfo {
	out := make([]FieldInfo, 0, len(current)+len(std))
	seen := make(map[string]bool, len(current))
	for _, fi := range current {
		seen[fi.Name] = true
		out = append(out, fi.withProviderExtra(provider, extras[fi.Name]))
	}
	for _, f := range std {
		if seen[f.JSONName] {
			continue
		}
		out = append(out, newFieldInfo(f).withProviderExtra(provider, extras[f.JSONName]))
	}
	return out
}

func extraInfos(fields []standard_models.Field, provider string, extras map[string]map[string]any) []FieldInfo {
	out := make([]FieldInfo, len(fields))
	for i, f := range fields {
		out[i] = newFieldInfo(f).withProviderExtra(provider, extras[f.JSONName])
	}
	return out
}

// -----------------------------------------------------------------------------

// AvailableProviders returns the provider names, sorted.
func (rm *RegistryMap) AvailableProviders() []string {
	return append([]string(nil), rm.providers...)
}

// Credentials returns the union of credential names, sorted.
func (rm *RegistryMap) Credentials() []string {
	return append([]string(nil), rm.credentials...)
}

// Models returns the names of models implemented by at least one provider.
func (rm *RegistryMap) Models() []string {
	return append([]string(nil), rm.models...)
}

// Catalogue returns the standard catalogue the map was built against.
func (rm *RegistryMap) Catalogue() standard_models.Catalogue {
	return rm.catalogue
}

// -----------------------------------------------------------------------------

// Map returns model → (StandardKey | provider) → schemas. The outer maps are
// copies; the schema values must be treated as read-only.
func (rm *RegistryMap) Map() map[string]map[string]ModelSchemas {
	out := make(map[string]map[string]ModelSchemas, len(rm.schemas))
	for m, entry := range rm.schemas {
		inner := make(map[string]ModelSchemas, len(entry))
		for k, v := range entry {
			inner[k] = v
		}
		out[m] = inner
	}
	return out
}

// ReturnMap returns model → provider → synthesized return row.
func (rm *RegistryMap) ReturnMap() map[string]map[string]ReturnInfo {
	out := make(map[string]map[string]ReturnInfo, len(rm.returns))
	for m, entry := range rm.returns {
		inner := make(map[string]ReturnInfo, len(entry))
		for k, v := range entry {
			inner[k] = v
		}
		out[m] = inner
	}
	return out
}

// Schemas returns the entry for one model and key.
func (rm *RegistryMap) Schemas(model, key string) (ModelSchemas, bool) {
	s, ok := rm.schemas[model][key]
	return s, ok
}

// -----------------------------------------------------------------------------

// ProvidersFor returns the providers implementing model, sorted.
func (rm *RegistryMap) ProvidersFor(model string) []string {
	var out []string
	for _, p := range rm.providers {
		if _, ok := rm.schemas[model][p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// StandardFields returns the standard query-param names of model.
func (rm *RegistryMap) StandardFields(model string) []string {
	entry, ok := rm.schemas[model][StandardKey]
	if !ok {
		return nil
	}
	out := make([]string, len(entry.QueryParams.Fields))
	for i, f := range entry.QueryParams.Fields {
		out[i] = f.Name
	}
	return out
}

// ExtraFieldProviders returns the providers declaring field as an extra
// query param of model, sorted.
func (rm *RegistryMap) ExtraFieldProviders(model, field string) []string {
	var out []string
	for _, p := range rm.providers {
		entry, ok := rm.schemas[model][p]
		if !ok {
			continue
		}
		for _, f := range entry.QueryParams.Fields {
			if f.Name == field {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ProviderSupportsField reports whether provider accepts field for model.
func (rm *RegistryMap) ProviderSupportsField(model, provider, field string) bool {
	if _, ok := rm.schemas[model][provider]; !ok {
		return false
	}
	for _, f := range rm.StandardFields(model) {
		if f == field {
			return true
		}
	}
	for _, p := range rm.ExtraFieldProviders(model, field) {
		if p == provider {
			return true
		}
	}
	return false
}

// QueryFields returns the standard query fields followed by provider's extras.
func (rm *RegistryMap) QueryFields(model, provider string) []FieldInfo {
	var out []FieldInfo
	if e, ok := rm.schemas[model][StandardKey]; ok {
		out = append(out, e.QueryParams.Fields...)
	}
	if e, ok := rm.schemas[model][provider]; ok && provider != StandardKey {
		out = append(out, e.QueryParams.Fields...)
	}
	return out
}
