package provider

import (
	"context"
	"sort"
	"strings"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/models"
)

// Provider is a named set of fetchers keyed by standard model name.
type Provider struct {
	Name               string
	Description        string
	Website            string
	Credentials        []string
	RequireCredentials bool
	FetcherDict        map[string]fetcher.Fetcher
}

// Extension is one manifest entry: Load is called exactly once at startup.
type Extension struct {
	Name string
	Load func() (*Provider, error)
}

// -----------------------------------------------------------------------------

// CredentialNames prefixes each name with "<provider>_", e.g. fmp_api_key.
func CredentialNames(provider string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = provider + "_" + n
	}
	return out
}

// -----------------------------------------------------------------------------

// Models returns the standard models the provider implements, sorted.
func (p *Provider) Models() []string {
	out := make([]string, 0, len(p.FetcherDict))
	for m := range p.FetcherDict {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// Fetch runs the fetcher for model. Only the provider's own credentials are
// handed to it; a missing required credential fails before any extract.
func (p *Provider) Fetch(ctx context.Context, model string, params map[string]any, creds map[string]string) (any, []models.MWarning, error) {
	f, ok := p.FetcherDict[model]
	if !ok {
		return nil, nil, helpers.NewUnsupportedCombinationError(nil, "provider '%s' does not implement '%s'", p.Name, model)
	}

	require := p.RequireCredentials
	if v, set := f.RequireCredentials(); set {
		require = v
	}

	filtered := make(fetcher.Credentials, len(p.Credentials))
	var missing []string
	for _, name := range p.Credentials {
		if v := creds[name]; v != "" {
			filtered[name] = v
		} else if require {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, helpers.NewUnauthorizedError("missing credential(s) for provider '%s': %s", p.Name, strings.Join(missing, ", "))
	}

	return f.Fetch(ctx, params, filtered)
}
