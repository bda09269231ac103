package server

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"market-platform/src/command"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/models"
	"market-platform/src/obbject"
	"market-platform/src/provider"
)

// ParamKind says where a wrapper parameter comes from.
type ParamKind string

const (
	ParamContext    ParamKind = "context"
	ParamKeyword    ParamKind = "keyword"
	ParamHeader     ParamKind = "header"
	ParamDependency ParamKind = "dependency"
	ParamVarKeyword ParamKind = "var_keyword"

	contextParam    = "cc"
	chartParam      = "chart"
	extraParamsSlot = "extra_params"
)

// Parameter is one entry of an endpoint signature.
type Parameter struct {
	Name        string       `json:"name"`
	Kind        ParamKind    `json:"kind"`
	Type        reflect.Type `json:"-"`
	Default     any          `json:"default,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Hidden      bool         `json:"hidden,omitempty"`
	Description string       `json:"description,omitempty"`
	Choices     []string     `json:"choices,omitempty"`
}

// MarshalJSON adds the Go type name.
func (p Parameter) MarshalJSON() ([]byte, error) {
	type plain Parameter
	typeName := ""
	if p.Type != nil {
		typeName = p.Type.String()
	}
	return json.Marshal(struct {
		plain
		TypeName string `json:"type,omitempty"`
	}{plain(p), typeName})
}

// Signature is the explicit parameter list of a command or endpoint.
type Signature struct {
	Params []Parameter `json:"params"`
	// Return is the type handed back by the call.
	Return reflect.Type `json:"-"`
	// ResponseModel is what the HTTP layer validates against; nil when the
	// command opts out of validation.
	ResponseModel reflect.Type `json:"-"`
}

// -----------------------------------------------------------------------------

// Names returns the parameter names in order.
func (s Signature) Names() []string {
	out := make([]string, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.Name
	}
	return out
}

// Lookup returns the named parameter.
func (s Signature) Lookup(name string) (Parameter, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func (s Signature) varKeywordIndex() int {
	for i, p := range s.Params {
		if p.Kind == ParamVarKeyword {
			return i
		}
	}
	return -1
}

// -----------------------------------------------------------------------------

var (
	obbjectType   = reflect.TypeOf((*obbject.OBBject)(nil))
	contextType   = reflect.TypeOf((*command.CommandContext)(nil))
	providerType  = reflect.TypeOf(command.ProviderChoices{})
	settingsType  = reflect.TypeOf((*models.MUserSettings)(nil))
	boolType      = reflect.TypeOf(false)
	stringType    = reflect.TypeOf("")
	extraKwargsTp = reflect.TypeOf(map[string]any{})
)

// CommandSignature returns the signature a command declares: the command
// context, then provider and the model's standard fields for standard
// commands (or the declared params for custom ones), then the extra-params
// slot of standard commands.
func CommandSignature(cmd *command.Command, rm *provider.RegistryMap) Signature {
	sig := Signature{
		Params: []Parameter{{Name: contextParam, Kind: ParamContext, Type: contextType}},
		Return: obbjectType,
	}

	if !cmd.IsStandard() {
		for _, p := range cmd.Options.Params {
			sig.Params = append(sig.Params, Parameter{
				Name:        p.Name,
				Kind:        ParamKeyword,
				Type:        p.Type,
				Default:     p.Default,
				Required:    p.Required,
				Description: p.Description,
			})
		}
		sig.ResponseModel = cmd.Options.Response
		if sig.ResponseModel == nil {
			sig.ResponseModel = obbjectType
		}
		return sig
	}

	model := cmd.Model()
	sig.Params = append(sig.Params, Parameter{
		Name:        "provider",
		Kind:        ParamKeyword,
		Type:        providerType,
		Description: "The provider to use, by default the first one available.",
		Choices:     rm.ProvidersFor(model),
	})
	if entry, ok := rm.Schemas(model, provider.StandardKey); ok {
		for _, f := range entry.QueryParams.Fields {
			sig.Params = append(sig.Params, Parameter{
				Name:        f.Name,
				Kind:        ParamKeyword,
				Type:        f.Annotation,
				Default:     f.Default,
				Required:    f.Required,
				Description: f.Description,
				Choices:     f.Choices,
			})
		}
	}
	sig.Params = append(sig.Params, Parameter{Name: extraParamsSlot, Kind: ParamVarKeyword, Type: extraKwargsTp})
	sig.ResponseModel = obbjectType
	return sig
}

// -----------------------------------------------------------------------------

// WrapperOptions configures BuildAPIWrapper.
type WrapperOptions struct {
	Runner        *command.Runner
	AuthEnabled   bool
	Charting      interfaces.IChartingHook
	CustomHeaders []string
}

// APIEndpoint is a command mounted for an outer surface.
type APIEndpoint struct {
	Path       string
	Methods    []string
	Command    *command.Command
	Signature  Signature
	NoValidate bool

	runner *command.Runner
}

// -----------------------------------------------------------------------------

// BuildAPIWrapper derives a fresh endpoint for cmd. The command's own
// signature is left untouched.
func BuildAPIWrapper(cmd *command.Command, opts WrapperOptions) *APIEndpoint {
	base := CommandSignature(cmd, opts.Runner.Map())

	params := make([]Parameter, 0, len(base.Params)+len(opts.CustomHeaders)+2)
	for _, p := range base.Params {
		if p.Kind != ParamContext {
			params = append(params, p)
		}
	}

	var injected []Parameter
	if opts.Charting != nil && opts.Charting.IsChartable(cmd.Path) {
		injected = append(injected, Parameter{Name: chartParam, Kind: ParamKeyword, Type: boolType, Default: false,
			Description: "Whether to create a chart or not."})
	}
	for _, h := range opts.CustomHeaders {
		injected = append(injected, Parameter{Name: command.HeaderParam(h), Kind: ParamHeader, Type: stringType, Hidden: true})
	}
	if opts.AuthEnabled {
		injected = append(injected, Parameter{Name: command.AuthSettingsKey, Kind: ParamDependency, Type: settingsType, Hidden: true})
	}

	sig := Signature{Params: params, Return: base.Return, ResponseModel: base.ResponseModel}
	at := sig.varKeywordIndex()
	if at < 0 {
		at = len(sig.Params)
	}
	spliced := make([]Parameter, 0, len(sig.Params)+len(injected))
	spliced = append(spliced, sig.Params[:at]...)
	spliced = append(spliced, injected...)
	spliced = append(spliced, sig.Params[at:]...)
	sig.Params = spliced

	if cmd.Options.NoValidate {
		sig.ResponseModel = nil
	}

	return &APIEndpoint{
		Path:       cmd.Path,
		Methods:    append([]string(nil), cmd.Options.Methods...),
		Command:    cmd,
		Signature:  sig,
		NoValidate: cmd.Options.NoValidate,
		runner:     opts.Runner,
	}
}

// -----------------------------------------------------------------------------

// Call runs the endpoint. kwargs may carry the authenticated settings under
// command.AuthSettingsKey; defaults of declared parameters are merged here,
// the runner merges the provider-specific rest.
func (e *APIEndpoint) Call(ctx context.Context, kwargs map[string]any) (*obbject.OBBject, error) {
	kw := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		kw[k] = v
	}
	settings, _ := kw[command.AuthSettingsKey].(*models.MUserSettings)
	delete(kw, command.AuthSettingsKey)

	if e.Signature.varKeywordIndex() < 0 {
		for k := range kw {
			if _, ok := e.Signature.Lookup(k); !ok && k != "chart_params" {
				return nil, helpers.NewValidationError(k, "unexpected parameter '%s' for %s", k, e.Path)
			}
		}
	}

	if settings != nil {
		declared := make(map[string]any)
		for k, v := range settings.CommandDefaults(e.Path) {
			if _, ok := e.Signature.Lookup(k); ok {
				declared[k] = v
			}
		}
		kw, _ = command.MergeDefaults(kw, declared)
		kw[command.AuthSettingsKey] = settings
	}

	o, err := e.runner.Run(ctx, e.Path, kw)
	if err != nil {
		return nil, err
	}
	if !e.NoValidate {
		o.ExcludeFromAPI()
	}
	return o, nil
}

// -----------------------------------------------------------------------------

// BuildAPIWrappers wraps every command of the runner, sorted by path.
func BuildAPIWrappers(opts WrapperOptions) []*APIEndpoint {
	cmds := opts.Runner.Commands()
	paths := make([]string, 0, len(cmds))
	for p := range cmds {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*APIEndpoint, 0, len(paths))
	for _, p := range paths {
		out = append(out, BuildAPIWrapper(cmds[p], opts))
	}
	return out
}

// -----------------------------------------------------------------------------

func (e *APIEndpoint) String() string {
	return fmt.Sprintf("%v %s%v", e.Methods, e.Path, e.Signature.Names())
}
