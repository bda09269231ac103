package command

import (
	"context"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/obbject"
	"market-platform/src/provider"
)

// ProviderChoices carries the effective provider of a call.
type ProviderChoices struct {
	Provider string `json:"provider"`
}

// StandardParams are the parameters declared by the standard model.
type StandardParams map[string]any

// ExtraParams are the provider-specific parameters of a call.
type ExtraParams map[string]any

// CommandContext is what a handler sees of the runtime.
type CommandContext struct {
	Route         string
	Command       *Command
	Settings      *models.MUserSettings
	Registry      *provider.Registry
	Map           *provider.RegistryMap
	CustomHeaders map[string]string
	SessionID     string
	Logger        *logger.Logger

	rateLimitRetries int
	providerTimeout  time.Duration
}

// -----------------------------------------------------------------------------

// QueryHandler is the body shared by every standard command: build a Query
// from the call and execute it.
func QueryHandler(ctx context.Context, cc *CommandContext, pc ProviderChoices, sp StandardParams, ep ExtraParams) (*obbject.OBBject, error) {
	return obbject.FromQuery(ctx, NewQuery(cc, pc, sp, ep))
}

// -----------------------------------------------------------------------------

// Query is one provider call for a standard model.
type Query struct {
	cc       *CommandContext
	model    string
	provider string
	standard StandardParams
	extra    ExtraParams
}

// NewQuery binds the call parameters to the command's model.
func NewQuery(cc *CommandContext, pc ProviderChoices, sp StandardParams, ep ExtraParams) *Query {
	model := ""
	if cc.Command != nil {
		model = cc.Command.Model()
	}
	return &Query{cc: cc, model: model, provider: pc.Provider, standard: sp, extra: ep}
}

// -----------------------------------------------------------------------------

// ProviderName returns the provider the query runs against.
func (q *Query) ProviderName() string { return q.provider }

// -----------------------------------------------------------------------------

// Execute runs the provider's fetcher with the caller's credentials.
// RateLimitErrors are retried up to the configured bound.
func (q *Query) Execute(ctx context.Context) (any, []models.MWarning, error) {
	p, ok := q.cc.Registry.Get(q.provider)
	if !ok {
		return nil, nil, helpers.NewUnsupportedCombinationError(q.cc.Map.ProvidersFor(q.model), "unknown provider '%s'", q.provider)
	}

	params := make(map[string]any, len(q.standard)+len(q.extra))
	for k, v := range q.standard {
		params[k] = v
	}
	for k, v := range q.extra {
		params[k] = v
	}

	var creds map[string]string
	if q.cc.Settings != nil {
		creds = q.cc.Settings.Credentials
	}

	if q.cc.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cc.providerTimeout)
		defer cancel()
	}

	type result struct {
		data     any
		warnings []models.MWarning
	}
	res, err := helpers.RetryRateLimited(ctx, q.cc.rateLimitRetries, func() (result, error) {
		data, warnings, err := p.Fetch(ctx, q.model, params, creds)
		return result{data, warnings}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return res.data, res.warnings, nil
}
