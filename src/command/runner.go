package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/obbject"
	"market-platform/src/provider"
	"market-platform/src/utils"

	"github.com/google/uuid"
)

const (
	// AuthSettingsKey carries settings resolved by an auth hook.
	AuthSettingsKey = "__authenticated_user_settings"

	kwargWidth = 100
)

// SettingsLoader supplies the user settings when no auth hook resolved them.
type SettingsLoader interface {
	Load(ctx context.Context) (*models.MUserSettings, error)
}

// Options wires a Runner.
type Options struct {
	Registry         *provider.Registry
	Map              *provider.RegistryMap
	Settings         SettingsLoader
	Charting         interfaces.IChartingHook
	Events           interfaces.ILoggingHook
	Metrics          *Metrics
	CustomHeaders    []string
	RateLimitRetries int
	ProviderTimeout  time.Duration
}

// Runner executes commands by logical path. It holds no per-call state.
type Runner struct {
	commands map[string]*Command
	opts     Options
	session  uuid.UUID
	seq      atomic.Uint64
	logger   *logger.Logger
}

// -----------------------------------------------------------------------------

// NewRunner flattens root and checks every standard command against the map.
func NewRunner(root *Router, opts Options) (*Runner, error) {
	if opts.Registry == nil || opts.Map == nil {
		return nil, fmt.Errorf("runner: registry and registry map are required")
	}
	cmds, err := root.Commands()
	if err != nil {
		return nil, err
	}
	for path, c := range cmds {
		if c.IsStandard() {
			if _, ok := opts.Map.Catalogue()[c.Model()]; !ok {
				return nil, fmt.Errorf("runner: command %q uses unknown model %q", path, c.Model())
			}
		}
	}
	if opts.Events == nil {
		opts.Events = logger.NewCommandEventHook("CommandRunner")
	}
	return &Runner{
		commands: cmds,
		opts:     opts,
		session:  uuid.New(),
		logger:   logger.NewLogger(nil, "CommandRunner"),
	}, nil
}

// -----------------------------------------------------------------------------

// SessionID identifies this runner in command events.
func (r *Runner) SessionID() string { return r.session.String() }

// Command returns the command registered at path.
func (r *Runner) Command(path string) (*Command, bool) {
	c, ok := r.commands[path]
	return c, ok
}

// Commands returns path → command.
func (r *Runner) Commands() map[string]*Command {
	out := make(map[string]*Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// Map returns the registry map the runner validates against.
func (r *Runner) Map() *provider.RegistryMap { return r.opts.Map }

// Charting returns the installed charting hook, or nil.
func (r *Runner) Charting() interfaces.IChartingHook { return r.opts.Charting }

// CustomHeaders returns the configured custom header names.
func (r *Runner) CustomHeaders() []string { return append([]string(nil), r.opts.CustomHeaders...) }

// -----------------------------------------------------------------------------

// HeaderParam maps a header name to its keyword parameter name.
func HeaderParam(header string) string {
	return strings.ReplaceAll(header, "-", "_")
}

// -----------------------------------------------------------------------------

// Run executes the command at path with kwargs and emits exactly one command
// event, whatever the outcome. A cancelled ctx yields ctx's error and no
// envelope.
func (r *Runner) Run(ctx context.Context, path string, kwargs map[string]any) (*obbject.OBBject, error) {
	start := time.Now()

	kw := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		kw[k] = v
	}
	settings, _ := kw[AuthSettingsKey].(*models.MUserSettings)
	delete(kw, AuthSettingsKey)
	headers := r.popHeaders(kw)

	c := &call{path: path, kwargs: kw, settings: settings, headers: headers}
	o, err := r.run(ctx, c)
	if err == nil && ctx.Err() != nil {
		o, err = nil, ctx.Err()
	}

	elapsed := time.Since(start)
	event := models.MCommandEvent{
		Route:         path,
		Provider:      c.provider,
		Kwargs:        utils.TruncateValues(c.kwargs, kwargWidth),
		CustomHeaders: headers,
		SessionID:     r.session.String(),
		CorrelationID: r.correlationID(),
		Duration:      elapsed,
		Timestamp:     start.UTC(),
	}
	if err != nil {
		event.ErrorClass = helpers.ErrorClass(err)
		event.ErrorMessage = err.Error()
	}
	r.opts.Events.LogCommand(event)
	r.opts.Metrics.observe(path, c.provider, err, elapsed)

	if err != nil {
		return nil, err
	}
	return o, nil
}

// -----------------------------------------------------------------------------

type call struct {
	path     string
	kwargs   map[string]any
	settings *models.MUserSettings
	headers  map[string]string
	provider string
}

func (r *Runner) correlationID() string {
	n := r.seq.Add(1)
	return uuid.NewSHA1(r.session, []byte(strconv.FormatUint(n, 10))).String()
}

func (r *Runner) popHeaders(kw map[string]any) map[string]string {
	if len(r.opts.CustomHeaders) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, h := range r.opts.CustomHeaders {
		key := HeaderParam(h)
		v, ok := kw[key]
		delete(kw, key)
		if ok && v != nil {
			out[h] = fmt.Sprint(v)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func (r *Runner) run(ctx context.Context, c *call) (*obbject.OBBject, error) {
	start := time.Now()
	cmd, ok := r.commands[c.path]
	if !ok {
		return nil, helpers.NewValidationError("path", "unknown command '%s'", c.path)
	}

	if c.settings == nil {
		s, err := r.loadSettings(ctx)
		if err != nil {
			return nil, err
		}
		c.settings = s
	}

	merged, fromDefaults := MergeDefaults(c.kwargs, c.settings.CommandDefaults(c.path))
	c.kwargs = merged

	chart, _ := merged["chart"].(bool)
	chartParams, _ := merged["chart_params"].(map[string]any)
	delete(merged, "chart")
	delete(merged, "chart_params")

	cc := &CommandContext{
		Route:            c.path,
		Command:          cmd,
		Settings:         c.settings,
		Registry:         r.opts.Registry,
		Map:              r.opts.Map,
		CustomHeaders:    c.headers,
		SessionID:        r.session.String(),
		Logger:           r.logger.WithFields(logger.Fields{"route": c.path}),
		rateLimitRetries: r.opts.RateLimitRetries,
		providerTimeout:  r.opts.ProviderTimeout,
	}

	if !cmd.IsStandard() {
		return r.runCustom(ctx, cc, merged)
	}

	prov, err := r.resolveProvider(cmd.Model(), merged)
	if err != nil {
		return nil, err
	}
	c.provider = prov

	sp, ep, err := r.splitParams(cmd.Model(), prov, merged, fromDefaults)
	if err != nil {
		return nil, err
	}

	o, err := cmd.standard(ctx, cc, ProviderChoices{Provider: prov}, sp, ep)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("command %s returned no result", c.path)
	}

	o.SetRoute(c.path)
	if o.Extra == nil {
		o.Extra = make(map[string]any)
	}
	o.Extra["metadata"] = obbject.Metadata{
		Route:     c.path,
		Arguments: map[string]any{"provider_choices": ProviderChoices{Provider: prov}, "standard_params": sp, "extra_params": ep},
		Duration:  time.Since(start).Nanoseconds(),
		Timestamp: start.UTC(),
	}
	if chart {
		r.chart(ctx, o, c.path, chartParams)
	}

	o.ExcludeFromAPI()
	return o, nil
}

// -----------------------------------------------------------------------------

// runCustom passes params through. Non-envelope results skip the exclusion
// pass when the command sets NoValidate.
func (r *Runner) runCustom(ctx context.Context, cc *CommandContext, params map[string]any) (*obbject.OBBject, error) {
	res, err := cc.Command.custom(ctx, cc, params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o, ok := res.(*obbject.OBBject); ok && o != nil {
		o.SetRoute(cc.Route)
		o.ExcludeFromAPI()
		return o, nil
	}
	if !cc.Command.Options.NoValidate {
		res = obbject.Exclude(res)
	}
	o := obbject.New(res)
	o.SetRoute(cc.Route)
	return o, nil
}

// -----------------------------------------------------------------------------

func (r *Runner) loadSettings(ctx context.Context) (*models.MUserSettings, error) {
	if r.opts.Settings == nil {
		return &models.MUserSettings{Credentials: map[string]string{}}, nil
	}
	s, err := r.opts.Settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user settings: %w", err)
	}
	return s, nil
}

// -----------------------------------------------------------------------------

// resolveProvider picks caller > user default (already merged) > the first
// provider of the model in sorted order.
func (r *Runner) resolveProvider(model string, params map[string]any) (string, error) {
	available := r.opts.Map.ProvidersFor(model)
	raw := params["provider"]
	delete(params, "provider")

	var name string
	switch v := raw.(type) {
	case nil:
	case string:
		name = v
	case ProviderChoices:
		name = v.Provider
	default:
		return "", helpers.NewValidationError("provider", "provider must be a string, got %T", raw)
	}

	if len(available) == 0 {
		return "", helpers.NewUnsupportedCombinationError(nil, "no provider implements '%s'", model)
	}
	if name == "" {
		return available[0], nil
	}
	for _, p := range available {
		if p == name {
			return name, nil
		}
	}
	return "", helpers.NewUnsupportedCombinationError(available, "provider '%s' does not implement '%s'", name, model)
}

// -----------------------------------------------------------------------------

// splitParams sorts merged params into standard and extra sets for prov.
// A default-sourced extra that prov does not accept is dropped; a caller
// supplied one fails with the providers that do accept it.
func (r *Runner) splitParams(model, prov string, params map[string]any, fromDefaults map[string]bool) (StandardParams, ExtraParams, error) {
	standard := make(map[string]bool)
	for _, f := range r.opts.Map.StandardFields(model) {
		standard[f] = true
	}

	sp, ep := StandardParams{}, ExtraParams{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		switch {
		case standard[k]:
			sp[k] = v
		case r.opts.Map.ProviderSupportsField(model, prov, k):
			ep[k] = v
		case fromDefaults[k]:
			r.logger.Debug("Dropping default '%s' not supported by %s", k, prov)
		default:
			if others := r.opts.Map.ExtraFieldProviders(model, k); len(others) > 0 {
				return nil, nil, helpers.NewUnsupportedCombinationError(others, "'%s' is not a parameter of '%s'", k, prov)
			}
			return nil, nil, helpers.NewValidationError(k, "unknown parameter '%s' for model '%s'", k, model)
		}
	}
	return sp, ep, nil
}

// -----------------------------------------------------------------------------

func (r *Runner) chart(ctx context.Context, o *obbject.OBBject, path string, params map[string]any) {
	hook := r.opts.Charting
	if hook == nil {
		o.AddWarning("ChartWarning", "charting is not installed")
		return
	}
	if !hook.IsChartable(path) {
		o.AddWarning("ChartWarning", fmt.Sprintf("'%s' cannot be charted", path))
		return
	}
	o.SetChartingHook(hook)
	if _, err := o.ToChart(ctx, params); err != nil {
		o.AddWarning("ChartWarning", fmt.Sprintf("chart failed: %v", err))
	}
}

// -----------------------------------------------------------------------------

// MergeDefaults overlays kwargs on defaults. An explicit nil counts as not
// provided. The second result marks keys whose value came from defaults.
func MergeDefaults(kwargs, defaults map[string]any) (map[string]any, map[string]bool) {
	out := make(map[string]any, len(kwargs)+len(defaults))
	fromDefaults := make(map[string]bool)
	for k, v := range defaults {
		if v == nil {
			continue
		}
		out[k] = v
		fromDefaults[k] = true
	}
	for k, v := range kwargs {
		if v == nil {
			continue
		}
		out[k] = v
		delete(fromDefaults, k)
	}
	return out, fromDefaults
}
