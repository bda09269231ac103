package command_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-platform/src/command"
	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/models"
	"market-platform/src/obbject"
	"market-platform/src/provider"
	sm "market-platform/src/standard_models"

	"github.com/go-gota/gota/dataframe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const historical = "/equity/price/historical"

type alphaQuery struct {
	sm.EquityHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1d,1W"`
	Limit    int    `json:"limit" default:"100" validate:"gte=0"`
}

type betaQuery struct {
	sm.EquityHistoricalQueryParams
	Adjustment string `json:"adjustment" default:"splits_only"`
}

type row struct {
	sm.EquityHistoricalData
}

type eventSink struct {
	mu     sync.Mutex
	events []models.MCommandEvent
}

func (s *eventSink) LogCommand(e models.MCommandEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *eventSink) all() []models.MCommandEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MCommandEvent(nil), s.events...)
}

type staticSettings struct{ doc *models.MUserSettings }

func (s staticSettings) Load(context.Context) (*models.MUserSettings, error) { return s.doc, nil }

type chartHook struct{ fail bool }

func (chartHook) IsChartable(path string) bool { return path == historical }

func (h chartHook) Chart(_ context.Context, _ string, df dataframe.DataFrame, _ map[string]any) (*models.MChart, error) {
	if h.fail {
		return nil, errors.New("renderer offline")
	}
	return &models.MChart{Format: "plotly", Content: map[string]any{"rows": df.Nrow()}}, nil
}

// harness wires three providers: alpha and beta implement the historical
// model, gamma requires a credential.
type harness struct {
	runner     *command.Runner
	events     *eventSink
	lastAlpha  atomic.Value
	lastBeta   atomic.Value
	gammaCalls atomic.Int32
	block      bool
}

type harnessOpts struct {
	defaults map[string]any
	base     command.Options
	block    bool
}

func rawRows() []map[string]any {
	return []map[string]any{
		{"date": "2024-01-02", "close": 185.6},
		{"date": "2024-01-03", "close": 184.2},
	}
}

func transform[Q any](_ *Q, raw []map[string]any) ([]row, error) {
	if len(raw) == 0 {
		return nil, helpers.NewEmptyDataError("no rows")
	}
	out := make([]row, 0, len(raw))
	for _, r := range raw {
		d, err := time.Parse(time.DateOnly, r["date"].(string))
		if err != nil {
			return nil, err
		}
		c := r["close"].(float64)
		out = append(out, row{sm.EquityHistoricalData{Date: d, Open: c, High: c, Low: c, Close: c}})
	}
	return out, nil
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	h := &harness{events: &eventSink{}, block: o.block}

	alpha := &provider.Provider{
		Name: "alpha",
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[alphaQuery, []map[string]any, []row]{
			ExtractData: func(ctx context.Context, q *alphaQuery, _ fetcher.Credentials) ([]map[string]any, error) {
				h.lastAlpha.Store(*q)
				if h.block {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return rawRows(), nil
			},
			TransformData: transform[alphaQuery],
		})},
	}
	beta := &provider.Provider{
		Name: "beta",
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[betaQuery, []map[string]any, []row]{
			ExtractDataSync: func(q *betaQuery, _ fetcher.Credentials) ([]map[string]any, error) {
				h.lastBeta.Store(*q)
				return rawRows(), nil
			},
			TransformData: transform[betaQuery],
		})},
	}
	gamma := &provider.Provider{
		Name:               "gamma",
		Credentials:        provider.CredentialNames("gamma", "api_key"),
		RequireCredentials: true,
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[sm.EquityHistoricalQueryParams, []map[string]any, []row]{
			ExtractData: func(context.Context, *sm.EquityHistoricalQueryParams, fetcher.Credentials) ([]map[string]any, error) {
				h.gammaCalls.Add(1)
				return rawRows(), nil
			},
			TransformData: transform[sm.EquityHistoricalQueryParams],
		})},
	}

	var exts []provider.Extension
	for _, p := range []*provider.Provider{alpha, beta, gamma} {
		p := p
		exts = append(exts, provider.Extension{Name: p.Name, Load: func() (*provider.Provider, error) { return p, nil }})
	}
	reg, err := provider.NewRegistryLoader().FromExtensions(exts)
	require.NoError(t, err)
	rm, err := provider.NewRegistryMap(reg, sm.Builtins())
	require.NoError(t, err)

	price := command.NewRouter("price")
	price.Command(command.CommandOptions{Name: "historical", Model: sm.EquityHistorical}, command.QueryHandler)
	equity := command.NewRouter("/equity")
	equity.IncludeRouter(price)
	tools := command.NewRouter("tools")
	tools.Command(command.CommandOptions{Name: "echo", Methods: []string{"POST"}},
		func(_ context.Context, _ *command.CommandContext, params map[string]any) (any, error) {
			return params, nil
		})
	root := command.NewRouter("")
	root.IncludeRouter(equity)
	root.IncludeRouter(tools)

	doc := &models.MUserSettings{Credentials: map[string]string{}}
	if o.defaults != nil {
		doc.Defaults.Commands = map[string]map[string]any{historical: o.defaults}
	}

	opts := o.base
	opts.Registry, opts.Map = reg, rm
	opts.Settings = staticSettings{doc: doc}
	opts.Events = h.events
	opts.Metrics = command.NewMetrics(prometheus.NewRegistry())
	opts.CustomHeaders = []string{"X-Request-Id"}

	h.runner, err = command.NewRunner(root, opts)
	require.NoError(t, err)
	return h
}

func (h *harness) alpha(t *testing.T) alphaQuery {
	t.Helper()
	q, ok := h.lastAlpha.Load().(alphaQuery)
	require.True(t, ok, "alpha was not called")
	return q
}

// -----------------------------------------------------------------------------

func TestRunner_DefaultPrecedence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{defaults: map[string]any{"provider": "alpha", "limit": 10}})
	ctx := context.Background()

	o, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "aapl", "limit": 5})
	require.NoError(t, err)
	require.NotNil(t, o.Provider)
	assert.Equal(t, "alpha", *o.Provider)
	assert.Equal(t, 5, h.alpha(t).Limit)
	assert.Equal(t, "AAPL", h.alpha(t).Symbol)

	_, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "aapl"})
	require.NoError(t, err)
	assert.Equal(t, 10, h.alpha(t).Limit)

	_, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "aapl", "limit": nil})
	require.NoError(t, err)
	assert.Equal(t, 10, h.alpha(t).Limit)
}

func TestRunner_SchemaDefaultsAndFirstProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})

	o, err := h.runner.Run(context.Background(), historical, map[string]any{"symbol": "msft"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", *o.Provider)
	assert.Equal(t, 100, h.alpha(t).Limit)
	assert.Equal(t, "1d", h.alpha(t).Interval)
	require.NotNil(t, h.alpha(t).StartDate)
	require.NotNil(t, h.alpha(t).EndDate)

	rows, err := obbject.ResultsAs[[]row](o)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Contains(t, o.Extra, "metadata")
}

func TestRunner_ExtraParamOverride(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{defaults: map[string]any{"provider": "alpha", "interval": "1d"}})
	ctx := context.Background()

	_, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "1d", h.alpha(t).Interval)

	_, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "interval": "1w"})
	require.NoError(t, err)
	assert.Equal(t, "1W", h.alpha(t).Interval)
}

func TestRunner_ParameterSplit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{defaults: map[string]any{"provider": "alpha", "interval": "1d"}})
	ctx := context.Background()

	t.Run("default extra dropped for another provider", func(t *testing.T) {
		o, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "provider": "beta"})
		require.NoError(t, err)
		assert.Equal(t, "beta", *o.Provider)
		q, ok := h.lastBeta.Load().(betaQuery)
		require.True(t, ok)
		assert.Equal(t, "splits_only", q.Adjustment)
	})

	t.Run("explicit extra names supporting providers", func(t *testing.T) {
		_, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "provider": "beta", "interval": "1W"})
		var unsupported *helpers.UnsupportedCombinationError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, []string{"alpha"}, unsupported.Providers)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		_, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "colour": "red"})
		var invalid *helpers.ValidationError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "colour", invalid.Field)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "provider": "delta"})
		var unsupported *helpers.UnsupportedCombinationError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, unsupported.Providers)
	})

	t.Run("unknown path", func(t *testing.T) {
		_, err := h.runner.Run(ctx, "/equity/price/nope", nil)
		assert.Equal(t, helpers.KindValidation, helpers.Kind(err))
	})
}

func TestRunner_MissingCredential(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})

	o, err := h.runner.Run(context.Background(), historical, map[string]any{"symbol": "AAPL", "provider": "gamma"})
	assert.Nil(t, o)
	assert.Equal(t, helpers.KindUnauthorized, helpers.Kind(err))
	assert.Zero(t, h.gammaCalls.Load())

	creds := &models.MUserSettings{Credentials: map[string]string{"gamma_api_key": "k"}}
	_, err = h.runner.Run(context.Background(), historical, map[string]any{
		"symbol": "AAPL", "provider": "gamma", command.AuthSettingsKey: creds,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.gammaCalls.Load())
}

func TestRunner_Cancellation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{block: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var (
		o   *obbject.OBBject
		err error
	)
	go func() {
		defer close(done)
		o, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL"})
	}()

	require.Eventually(t, func() bool { return h.lastAlpha.Load() != nil }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not return after cancellation")
	}

	assert.Nil(t, o)
	assert.ErrorIs(t, err, context.Canceled)
	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "CancelledError", events[0].ErrorClass)
}

func TestRunner_CommandEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	long := strings.Repeat("x", 250)
	_, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "interval": long, "X_Request_Id": "req-1"})
	require.Error(t, err)
	_, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL"})
	require.NoError(t, err)

	events := h.events.all()
	require.Len(t, events, 2)

	failed := events[0]
	assert.Equal(t, historical, failed.Route)
	assert.Equal(t, "alpha", failed.Provider)
	assert.Equal(t, "ValidationError", failed.ErrorClass)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Len(t, failed.Kwargs["interval"], 100)
	assert.NotContains(t, failed.Kwargs, "X_Request_Id")
	assert.Equal(t, map[string]string{"X-Request-Id": "req-1"}, failed.CustomHeaders)

	ok := events[1]
	assert.Empty(t, ok.ErrorClass)
	assert.Equal(t, h.runner.SessionID(), ok.SessionID)
	assert.NotEqual(t, failed.CorrelationID, ok.CorrelationID)
}

func TestRunner_Concurrent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := "alpha"
			if i%2 == 1 {
				p = "beta"
			}
			o, err := h.runner.Run(context.Background(), historical, map[string]any{"symbol": fmt.Sprintf("s%d", i), "provider": p})
			if err == nil && *o.Provider != p {
				err = fmt.Errorf("got provider %s, want %s", *o.Provider, p)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, h.events.all(), 8)
}

func TestRunner_Chart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, harnessOpts{base: command.Options{Charting: chartHook{}}})
	o, err := h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "chart": true})
	require.NoError(t, err)
	require.NotNil(t, o.Chart)
	assert.Equal(t, 2, o.Chart.Content["rows"])
	assert.Empty(t, o.Warnings)

	h = newHarness(t, harnessOpts{base: command.Options{Charting: chartHook{fail: true}}})
	o, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "chart": true})
	require.NoError(t, err)
	assert.Nil(t, o.Chart)
	require.Len(t, o.Warnings, 1)
	assert.Equal(t, "ChartWarning", o.Warnings[0].Category)

	h = newHarness(t, harnessOpts{})
	o, err = h.runner.Run(ctx, historical, map[string]any{"symbol": "AAPL", "chart": true})
	require.NoError(t, err)
	require.Len(t, o.Warnings, 1)
}

func TestRunner_CustomCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})

	o, err := h.runner.Run(context.Background(), "/tools/echo", map[string]any{"anything": []int{1, 2}})
	require.NoError(t, err)
	assert.Nil(t, o.Provider)
	assert.Equal(t, map[string]any{"anything": []int{1, 2}}, o.Results)

	cmd, ok := h.runner.Command("/tools/echo")
	require.True(t, ok)
	assert.False(t, cmd.IsStandard())
	assert.Equal(t, []string{"POST"}, cmd.Options.Methods)
}

// -----------------------------------------------------------------------------

func TestRouter(t *testing.T) {
	t.Parallel()

	t.Run("paths", func(t *testing.T) {
		t.Parallel()
		crypto := command.NewRouter("crypto")
		price := command.NewRouter("/price/")
		price.Command(command.CommandOptions{Name: "historical", Model: sm.CryptoHistorical}, command.QueryHandler)
		price.Command(command.CommandOptions{Name: "live", Model: sm.WebSocketConnection}, command.StandardHandler(command.QueryHandler))
		crypto.IncludeRouter(price)

		paths, err := crypto.Paths()
		require.NoError(t, err)
		assert.Equal(t, []string{"/crypto/price/historical", "/crypto/price/live"}, paths)

		cmds, err := crypto.Commands()
		require.NoError(t, err)
		assert.Equal(t, sm.CryptoHistorical, cmds["/crypto/price/historical"].Model())
		assert.Equal(t, []string{"GET"}, cmds["/crypto/price/live"].Options.Methods)
	})

	t.Run("bad handlers panic", func(t *testing.T) {
		t.Parallel()
		r := command.NewRouter("x")
		assert.Panics(t, func() { r.Command(command.CommandOptions{Name: "a"}, func() {}) })
		assert.Panics(t, func() { r.Command(command.CommandOptions{Name: "b"}, command.QueryHandler) })
		assert.Panics(t, func() { r.Command(command.CommandOptions{}, command.QueryHandler) })
		r.Command(command.CommandOptions{Name: "c", Model: sm.EquityQuote}, command.QueryHandler)
		assert.Panics(t, func() { r.Command(command.CommandOptions{Name: "c", Model: sm.EquityQuote}, command.QueryHandler) })
	})

	t.Run("conflicting paths", func(t *testing.T) {
		t.Parallel()
		a, b := command.NewRouter("price"), command.NewRouter("price")
		a.Command(command.CommandOptions{Name: "quote", Model: sm.EquityQuote}, command.QueryHandler)
		b.Command(command.CommandOptions{Name: "quote", Model: sm.EquityQuote}, command.QueryHandler)
		root := command.NewRouter("equity")
		root.IncludeRouter(a)
		root.IncludeRouter(b)
		_, err := root.Commands()
		assert.ErrorContains(t, err, "registered twice")
	})
}

func TestMergeDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		kwargs   map[string]any
		defaults map[string]any
		want     map[string]any
		sourced  map[string]bool
	}{
		{"explicit wins", map[string]any{"limit": 5}, map[string]any{"limit": 10, "provider": "p"}, map[string]any{"limit": 5, "provider": "p"}, map[string]bool{"provider": true}},
		{"nil is absent", map[string]any{"limit": nil}, map[string]any{"limit": 10}, map[string]any{"limit": 10}, map[string]bool{"limit": true}},
		{"no defaults", map[string]any{"symbol": "X"}, nil, map[string]any{"symbol": "X"}, map[string]bool{}},
		{"nil default ignored", nil, map[string]any{"provider": nil}, map[string]any{}, map[string]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, sourced := command.MergeDefaults(tt.kwargs, tt.defaults)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.sourced, sourced)
		})
	}
}
