package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"market-platform/src/helpers"
	"market-platform/src/logger"
	"market-platform/src/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts rows the workers report as written.
type Metrics struct {
	rows *prometheus.CounterVec
}

// NewMetrics registers the feed collectors on reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "market_platform",
			Subsystem: "feed",
			Name:      "rows_written_total",
			Help:      "Rows written to the sink by feed.",
		}, []string{"feed"}),
	}
	if reg != nil {
		reg.MustRegister(m.rows)
	}
	return m
}

func (m *Metrics) rowsWritten(feed string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(feed).Add(float64(n))
}

// -----------------------------------------------------------------------------

// FeedManager keeps the named feeds of the process.
type FeedManager struct {
	cfg     models.MWebsocketConfig
	metrics *Metrics
	logger  *logger.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

var (
	defaultMu      sync.RWMutex
	defaultManager = NewFeedManager(models.MWebsocketConfig{}, nil)
)

// -----------------------------------------------------------------------------

func NewFeedManager(cfg models.MWebsocketConfig, metrics *Metrics) *FeedManager {
	return &FeedManager{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.NewLogger(nil, "FeedManager"),
		clients: make(map[string]*Client),
	}
}

// DefaultManager returns the process-wide manager used by feed fetchers.
func DefaultManager() *FeedManager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

// SetDefaultManager replaces the process-wide manager.
func SetDefaultManager(m *FeedManager) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = m
}

// -----------------------------------------------------------------------------

// Start connects a feed. A running feed with the same name is reused and the
// new symbols are subscribed on it.
func (m *FeedManager) Start(ctx context.Context, spec models.MFeedSpec, creds map[string]string) (*Client, error) {
	if spec.Name == "" {
		return nil, helpers.NewValidationError("name", "feed name is required")
	}

	m.mu.Lock()
	if c, ok := m.clients[spec.Name]; ok && c.State() != StateTerminated {
		m.mu.Unlock()
		if spec.Provider != c.spec.Provider {
			return nil, helpers.NewValidationError("name", "feed %q already runs provider %q", spec.Name, c.spec.Provider)
		}
		if len(spec.Symbols) > 0 {
			if err := c.Subscribe(spec.Symbols); err != nil {
				return nil, err
			}
		}
		return c, nil
	}

	if isZeroSink(spec.Sink) {
		spec.Sink = m.cfg
	}
	c := NewClient(spec, ClientOptions{
		Command:     m.cfg.WorkerCommand,
		Env:         m.cfg.WorkerEnv,
		Credentials: creds,
		MaxRestarts: m.cfg.MaxRestarts,
		Metrics:     m.metrics,
	})
	m.clients[spec.Name] = c
	m.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		m.logger.Error("Feed %s failed to connect: %v", spec.Name, err)
		return c, err
	}
	m.logger.Info("Feed %s connected (%s)", spec.Name, spec.Provider)
	return c, nil
}

func isZeroSink(c models.MWebsocketConfig) bool {
	return c.DBType == "" && c.DBPath == "" && c.DBConnectionString == "" && c.BatchSize == 0
}

// -----------------------------------------------------------------------------

// Get returns the named feed.
func (m *FeedManager) Get(name string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[name]
	return c, ok
}

// -----------------------------------------------------------------------------

// List returns the status of every feed, sorted by name.
func (m *FeedManager) List() []models.MFeedStatus {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	out := make([]models.MFeedStatus, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// -----------------------------------------------------------------------------

// Subscribe adds symbols to a running feed.
func (m *FeedManager) Subscribe(name string, symbols []string) error {
	c, ok := m.Get(name)
	if !ok {
		return helpers.NewValidationError("name", "unknown feed %q", name)
	}
	return c.Subscribe(symbols)
}

// Unsubscribe removes symbols from a running feed.
func (m *FeedManager) Unsubscribe(name string, symbols []string) error {
	c, ok := m.Get(name)
	if !ok {
		return helpers.NewValidationError("name", "unknown feed %q", name)
	}
	return c.Unsubscribe(symbols)
}

// -----------------------------------------------------------------------------

// Stop disconnects and forgets the named feed.
func (m *FeedManager) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	c, ok := m.clients[name]
	delete(m.clients, name)
	m.mu.Unlock()
	if !ok {
		return helpers.NewValidationError("name", "unknown feed %q", name)
	}
	return c.Disconnect(ctx)
}

// StopAll disconnects every feed.
func (m *FeedManager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var errs []error
	for _, c := range clients {
		errs = append(errs, c.Disconnect(ctx))
	}
	return errors.Join(errs...)
}
