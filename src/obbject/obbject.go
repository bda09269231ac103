package obbject

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/models"

	"github.com/google/uuid"
)

// OBBject is the envelope returned by every command.
type OBBject struct {
	ID       string            `json:"id"`
	Results  any               `json:"results"`
	Provider *string           `json:"provider"`
	Warnings []models.MWarning `json:"warnings"`
	Chart    *models.MChart    `json:"chart"`
	Extra    map[string]any    `json:"extra"`

	route    string
	created  time.Time
	charting interfaces.IChartingHook
}

// Metadata is stored under Extra["metadata"] by the command runner.
type Metadata struct {
	Route     string         `json:"route"`
	Arguments map[string]any `json:"arguments"`
	Duration  int64          `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// QueryExecutor is anything that can produce command results, such as a
// command.Query.
type QueryExecutor interface {
	Execute(ctx context.Context) (any, []models.MWarning, error)
	ProviderName() string
}

// -----------------------------------------------------------------------------

// New wraps results in a fresh envelope.
func New(results any) *OBBject {
	return &OBBject{
		ID:      uuid.NewString(),
		Results: results,
		Extra:   make(map[string]any),
		created: time.Now().UTC(),
	}
}

// -----------------------------------------------------------------------------

// FromQuery executes q and wraps its results, provider and warnings.
func FromQuery(ctx context.Context, q QueryExecutor) (*OBBject, error) {
	results, warnings, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	o := New(results)
	if p := q.ProviderName(); p != "" {
		o.Provider = &p
	}
	o.Warnings = warnings
	return o, nil
}

// -----------------------------------------------------------------------------

// SetRoute records the logical path that produced the envelope.
func (o *OBBject) SetRoute(route string) { o.route = route }

// Route returns the logical path that produced the envelope.
func (o *OBBject) Route() string { return o.route }

// Created returns the envelope creation time.
func (o *OBBject) Created() time.Time { return o.created }

// SetChartingHook installs the collaborator used by ToChart.
func (o *OBBject) SetChartingHook(h interfaces.IChartingHook) { o.charting = h }

// AddWarning appends a warning.
func (o *OBBject) AddWarning(category, message string) {
	o.Warnings = append(o.Warnings, models.MWarning{Category: category, Message: message})
}

// -----------------------------------------------------------------------------

// ResultsAs returns the results as T, converting through JSON when the
// dynamic type differs (e.g. after the exclusion pass).
func ResultsAs[T any](o *OBBject) (T, error) {
	var out T
	if o == nil || o.Results == nil {
		return out, helpers.NewEmptyDataError("results not found")
	}
	if v, ok := o.Results.(T); ok {
		return v, nil
	}
	data, err := json.Marshal(o.Results)
	if err != nil {
		return out, fmt.Errorf("results as %T: %w", out, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("results as %T: %w", out, err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// Validate checks the provider tag against the known providers and that
// every warning is categorised.
func (o *OBBject) Validate(knownProviders []string) error {
	if o.ID == "" {
		return helpers.NewValidationError("id", "envelope has no id")
	}
	if o.Provider != nil {
		found := false
		for _, p := range knownProviders {
			if p == *o.Provider {
				found = true
				break
			}
		}
		if !found {
			return helpers.NewValidationError("provider", "unknown provider '%s'", *o.Provider)
		}
	}
	for i, w := range o.Warnings {
		if w.Category == "" {
			return helpers.NewValidationError("warnings", "warning %d has no category", i)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// ExcludeFromAPI drops every `api:"exclude"` field from the results.
// Running it twice is a no-op.
func (o *OBBject) ExcludeFromAPI() {
	o.Results = Exclude(o.Results)
}

// -----------------------------------------------------------------------------

// ToChart renders the results through the installed charting hook and stores
// the chart on the envelope.
func (o *OBBject) ToChart(ctx context.Context, params map[string]any) (*models.MChart, error) {
	if o.charting == nil {
		return nil, fmt.Errorf("charting is not installed")
	}
	df, err := o.ToDataFrame()
	if err != nil {
		return nil, err
	}
	chart, err := o.charting.Chart(ctx, o.route, df, params)
	if err != nil {
		return nil, err
	}
	o.Chart = chart
	return chart, nil
}
