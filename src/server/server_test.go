package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-platform/src/charting"
	"market-platform/src/command"
	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/provider"
	"market-platform/src/server"
	"market-platform/src/settings"
	sm "market-platform/src/standard_models"
	"market-platform/src/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const historical = "/equity/price/historical"

type alphaQuery struct {
	sm.EquityHistoricalQueryParams
	Interval string `json:"interval" default:"1d" choices:"1d,1W"`
}

type bar struct {
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

func (s *eventSink) last() models.MCommandEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type fixture struct {
	srv          *server.APIServer
	events       *eventSink
	store        *settings.Store
	lastInterval atomic.Value
}

func bars(_ *alphaQuery, raw []float64) ([]bar, error) {
	if len(raw) == 0 {
		return nil, helpers.NewEmptyDataError("no data for the requested range")
	}
	out := make([]bar, len(raw))
	for i, c := range raw {
		out[i] = bar{sm.EquityHistoricalData{Date: time.Date(2024, 1, 2+i, 0, 0, 0, 0, time.UTC), Open: c, High: c, Low: c, Close: c}}
	}
	return out, nil
}

func newFixture(t *testing.T, api models.MAPIConfig) *fixture {
	t.Helper()
	f := &fixture{events: &eventSink{}}
	f.store = settings.NewStore(filepath.Join(t.TempDir(), "user_settings.json"), nil)

	alpha := &provider.Provider{
		Name: "alpha",
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[alphaQuery, []float64, []bar]{
			ExtractData: func(_ context.Context, q *alphaQuery, _ fetcher.Credentials) ([]float64, error) {
				f.lastInterval.Store(q.Interval)
				return []float64{185.6, 184.2}, nil
			},
			TransformData: bars,
		})},
	}
	empty := &provider.Provider{
		Name: "empty",
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[alphaQuery, []float64, []bar]{
			ExtractData: func(context.Context, *alphaQuery, fetcher.Credentials) ([]float64, error) {
				return nil, nil
			},
			TransformData: bars,
		})},
	}
	locked := &provider.Provider{
		Name:               "locked",
		Credentials:        provider.CredentialNames("locked", "api_key"),
		RequireCredentials: true,
		FetcherDict: map[string]fetcher.Fetcher{sm.EquityHistorical: fetcher.MustNew(fetcher.Definition[alphaQuery, []float64, []bar]{
			ExtractData: func(context.Context, *alphaQuery, fetcher.Credentials) ([]float64, error) {
				t.Error("extract must not run without credentials")
				return nil, nil
			},
			TransformData: bars,
		})},
	}

	var exts []provider.Extension
	for _, p := range []*provider.Provider{alpha, empty, locked} {
		exts = append(exts, provider.Extension{Name: p.Name, Load: func() (*provider.Provider, error) { return p, nil }})
	}
	reg, err := provider.NewRegistryLoader().FromExtensions(exts)
	require.NoError(t, err)
	rm, err := provider.NewRegistryMap(reg, sm.Builtins())
	require.NoError(t, err)

	root := command.NewRouter("")
	equity := command.NewRouter("equity")
	price := command.NewRouter("price")
	price.Command(command.CommandOptions{Name: "historical", Model: sm.EquityHistorical}, command.QueryHandler)
	equity.IncludeRouter(price)
	root.IncludeRouter(equity)

	admin := command.NewRouter("admin")
	admin.Command(command.CommandOptions{
		Name:       "echo",
		Methods:    []string{"POST"},
		NoValidate: true,
		Params:     []command.Param{{Name: "message", Required: true}},
	}, command.CustomHandler(func(_ context.Context, _ *command.CommandContext, p map[string]any) (any, error) {
		return map[string]any{"echo": p["message"]}, nil
	}))
	root.IncludeRouter(admin)

	reg2 := prometheus.NewRegistry()
	runner, err := command.NewRunner(root, command.Options{
		Registry:      reg,
		Map:           rm,
		Settings:      f.store,
		Events:        f.events,
		Charting:      charting.New([]string{historical}),
		Metrics:       command.NewMetrics(reg2),
		CustomHeaders: api.CustomHeaders,
	})
	require.NoError(t, err)

	cfg := &models.MConfig{LogLevel: "INFO", System: models.MSystemConfig{API: api}}
	var auth *server.TokenAuth
	if api.Auth.Enabled {
		auth = server.NewTokenAuth(api.Auth.Tokens, f.store)
	}
	opts := server.Options{Runner: runner, Feeds: websocket.NewFeedManager(models.MWebsocketConfig{}, nil), Gatherer: reg2}
	if auth != nil {
		opts.Auth = auth
	}
	f.srv, err = server.NewAPIServer(cfg, logger.NewLogger(nil, "APIServerTest"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.srv.Stop(context.Background()) })
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

// -----------------------------------------------------------------------------

func TestBuildAPIWrapper_Signature(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{
		CustomHeaders: []string{"X-Request-Id"},
		Auth:          models.MAuthConfig{Enabled: true, Tokens: []string{"secret"}},
	})

	var hist, echo *server.APIEndpoint
	for _, ep := range f.srv.Endpoints() {
		switch ep.Path {
		case historical:
			hist = ep
		case "/admin/echo":
			echo = ep
		}
	}
	require.NotNil(t, hist)
	require.NotNil(t, echo)

	assert.Equal(t, []string{
		"provider", "symbol", "start_date", "end_date",
		"chart", "X_Request_Id", command.AuthSettingsKey,
		"extra_params",
	}, hist.Signature.Names())
	header, _ := hist.Signature.Lookup("X_Request_Id")
	assert.True(t, header.Hidden)
	assert.Equal(t, server.ParamHeader, header.Kind)
	choice, _ := hist.Signature.Lookup("provider")
	assert.Equal(t, []string{"alpha", "empty", "locked"}, choice.Choices)
	assert.NotNil(t, hist.Signature.ResponseModel)

	assert.Equal(t, []string{"message", "X_Request_Id", command.AuthSettingsKey}, echo.Signature.Names(),
		"no chart for a path that cannot be charted")
	assert.Nil(t, echo.Signature.ResponseModel)
	assert.NotNil(t, echo.Signature.Return)

	// The command's declared signature keeps its context parameter.
	declared := server.CommandSignature(hist.Command, f.srv.RegistryMap())
	assert.Equal(t, "cc", declared.Params[0].Name)
	assert.NotContains(t, declared.Names(), "chart")
}

// -----------------------------------------------------------------------------

func TestHTTP_Historical(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{CustomHeaders: []string{"X-Request-Id"}})

	code, body := f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=aapl&provider=alpha&interval=1w", "",
		map[string]string{"X-Request-Id": "req-7"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "alpha", body["provider"])
	rows := body["results"].([]any)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.EqualValues(t, 185.6, first["close"])
	assert.NotContains(t, first, "provider", "excluded fields stay out of the response")
	assert.Equal(t, "1W", f.lastInterval.Load())

	ev := f.events.last()
	assert.Equal(t, historical, ev.Route)
	assert.Equal(t, map[string]string{"X-Request-Id": "req-7"}, ev.CustomHeaders)
}

func TestHTTP_Chart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{})

	code, body := f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL&chart=true", "", nil)
	require.Equal(t, http.StatusOK, code, body)
	chart, ok := body["chart"].(map[string]any)
	require.True(t, ok, body)
	assert.Equal(t, "plotly", chart["format"])

	code, body = f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL&chart=maybe", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "chart", body["field"])
}

func TestHTTP_ErrorStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{})

	tests := []struct {
		name   string
		query  string
		status int
		kind   string
	}{
		{"unauthorized", "symbol=AAPL&provider=locked", http.StatusUnauthorized, "Unauthorized"},
		{"unsupported provider", "symbol=AAPL&provider=nobody", http.StatusBadRequest, "UnsupportedCombination"},
		{"invalid choice", "symbol=AAPL&provider=alpha&interval=5m", http.StatusUnprocessableEntity, "ValidationError"},
		{"unknown parameter", "symbol=AAPL&provider=alpha&colour=red", http.StatusUnprocessableEntity, "ValidationError"},
		{"missing symbol", "provider=alpha", http.StatusUnprocessableEntity, "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodGet, "/api/v1/equity/price/historical?"+tt.query, "", nil)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.kind, body["kind"])
		})
	}
}

func TestHTTP_EmptyDataIsAWarning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{})

	code, body := f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL&provider=empty", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["results"])
	warnings := body["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Equal(t, "EmptyDataWarning", warnings[0].(map[string]any)["category"])
}

func TestHTTP_CustomCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{})

	code, body := f.do(t, http.MethodPost, "/api/v1/admin/echo", `{"message":"hi"}`, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"echo": "hi"}, body["results"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/admin/echo", "", nil)
	assert.Equal(t, http.StatusNotFound, code, "POST only")

	code, body = f.do(t, http.MethodPost, "/api/v1/admin/echo", `{"message":"hi","loud":true}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "loud", body["field"])
}

func TestHTTP_Auth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{Auth: models.MAuthConfig{Enabled: true, Tokens: []string{"secret"}}})
	require.NoError(t, f.store.SetCommandDefaults(context.Background(), historical, map[string]any{"provider": "alpha", "interval": "1W"}))

	code, body := f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Unauthorized", body["kind"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL", "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "alpha", body["provider"])
	assert.Equal(t, "1W", f.lastInterval.Load())

	code, _ = f.do(t, http.MethodGet, "/api/v1/feeds", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/feeds", "", map[string]string{"X-API-Token": "secret"})
	assert.Equal(t, http.StatusOK, code)
}

func TestHTTP_Operational(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.MAPIConfig{})

	code, body := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["commands"])

	code, body = f.do(t, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"alpha", "empty", "locked"}, body["providers"])
	assert.Equal(t, []any{"locked_api_key"}, body["credentials"])

	code, body = f.do(t, http.MethodGet, "/api/v1/signatures", "", nil)
	require.Equal(t, http.StatusOK, code)
	sig := body[historical].(map[string]any)
	var names []string
	for _, p := range sig["params"].([]any) {
		names = append(names, p.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "symbol")
	assert.NotContains(t, names, "X_Request_Id")

	f.do(t, http.MethodGet, "/api/v1/equity/price/historical?symbol=AAPL", "", nil)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `market_platform_command_requests_total{provider="alpha",route="/equity/price/historical",status="ok"} 1`)

	code, body = f.do(t, http.MethodGet, "/api/v1/feeds/missing/results", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["kind"])
	code, body = f.do(t, http.MethodPost, "/api/v1/feeds/missing/subscribe?symbols=X", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["kind"])
	code, _ = f.do(t, http.MethodPost, "/api/v1/feeds/missing/unsubscribe?symbols=X", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, http.StatusOK, server.StatusFor(helpers.NewEmptyDataError("none")))
	assert.Equal(t, http.StatusTooManyRequests, server.StatusFor(helpers.NewRateLimitError(time.Second, "slow down")))
	assert.Equal(t, http.StatusBadGateway, server.StatusFor(helpers.NewProviderError("p", 500, nil, "boom")))
	assert.Equal(t, http.StatusInternalServerError, server.StatusFor(io.ErrUnexpectedEOF))
}
