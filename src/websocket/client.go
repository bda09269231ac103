package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/storage"
	"market-platform/src/utils"
)

const (
	defaultLogCapacity  = 500
	defaultStopTimeout  = 10 * time.Second
	defaultWorkerAction = "feed-worker"
)

// ClientOptions configures the parent side of a feed.
type ClientOptions struct {
	// Command is the worker argv; "--spec <json>" is appended. Defaults to
	// the running executable with the feed-worker command.
	Command     []string
	Env         []string
	Credentials map[string]string
	// MaxRestarts bounds respawns after an unexpected worker exit.
	MaxRestarts int
	LogCapacity int
	// OpenSink returns the read side used by Results.
	OpenSink func(spec models.MFeedSpec) (interfaces.ISink, error)
	Metrics  *Metrics
}

// Client supervises one feed worker process. Safe for concurrent use.
type Client struct {
	spec   models.MFeedSpec
	opts   ClientOptions
	logs   *utils.RingBuffer[models.MFeedEvent]
	logger *logger.Logger

	mu       sync.RWMutex
	state    State
	symbols  *SymbolSet
	err      error
	restarts int
	closing  bool
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	ready    chan struct{}
	exited   chan struct{}

	sinkMu sync.Mutex
	sink   interfaces.ISink
}

// -----------------------------------------------------------------------------

func NewClient(spec models.MFeedSpec, opts ClientOptions) *Client {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = defaultLogCapacity
	}
	if opts.OpenSink == nil {
		opts.OpenSink = func(s models.MFeedSpec) (interfaces.ISink, error) { return storage.NewSink(s.Sink, s.Name) }
	}
	return &Client{
		spec:    spec,
		opts:    opts,
		logs:    utils.NewRingBuffer[models.MFeedEvent](opts.LogCapacity),
		logger:  logger.NewLogger(nil, "FeedClient").WithFields(logger.Fields{"feed": spec.Name}),
		state:   StateInit,
		symbols: NewSymbolSet(spec.Symbols...),
	}
}

// -----------------------------------------------------------------------------

// Name returns the feed name.
func (c *Client) Name() string { return c.spec.Name }

// -----------------------------------------------------------------------------

// Connect spawns the worker and waits until it is subscribed or terminated.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return fmt.Errorf("feed %q already started", c.spec.Name)
	}
	ready, err := c.spawnLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	timeout := time.Duration(withDefaults(c.spec.Sink).ConnectTimeoutSeconds)*time.Second + 5*time.Second
	select {
	case <-ready:
	case <-ctx.Done():
		c.Disconnect(context.Background())
		return ctx.Err()
	case <-time.After(timeout):
		c.Disconnect(context.Background())
		return fmt.Errorf("feed %q: worker did not connect within %s", c.spec.Name, timeout)
	}

	if c.State() == StateTerminated {
		return c.Err()
	}
	return nil
}

// -----------------------------------------------------------------------------

func (c *Client) spawnLocked() (chan struct{}, error) {
	argv := c.opts.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		argv = []string{exe, defaultWorkerAction}
	}

	spec := c.spec
	spec.Symbols = c.symbols.List()
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	creds, err := json.Marshal(c.opts.Credentials)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], append(argv[1:], "--spec", string(raw))...)
	cmd.Env = append(append(os.Environ(), c.opts.Env...), CredentialsEnv+"="+string(creds))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start feed worker: %w", err)
	}

	ready, exited := make(chan struct{}), make(chan struct{})
	c.cmd, c.stdin, c.ready, c.exited = cmd, stdin, ready, exited
	c.state, c.err = StateConnecting, nil
	c.logger.Info("Started worker pid=%d", cmd.Process.Pid)

	var once sync.Once
	markReady := func() { once.Do(func() { close(ready) }) }

	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		ReadLines(stdout, func(line []byte) { c.onEvent(DecodeEvent(line), markReady) })
	}()
	go func() {
		defer pipes.Done()
		ReadLines(stderr, func(line []byte) { c.logs.Append(DecodeEvent(line)) })
	}()
	go func() {
		pipes.Wait()
		waitErr := cmd.Wait()
		c.onExit(cmd, waitErr)
		markReady()
		close(exited)
	}()
	return ready, nil
}

// -----------------------------------------------------------------------------

func (c *Client) onEvent(ev models.MFeedEvent, markReady func()) {
	c.logs.Append(ev)

	switch ev.Event {
	case EventState:
		c.mu.Lock()
		if ev.State != "" {
			c.state = State(ev.State)
		}
		if ev.Symbols != nil || ev.State == string(StateSubscribed) {
			c.symbols.Replace(ev.Symbols)
		}
		state := c.state
		c.mu.Unlock()
		if state == StateSubscribed || state == StateTerminated {
			markReady()
		}
	case EventRows:
		c.opts.Metrics.rowsWritten(c.spec.Name, ev.Rows)
	case EventTerminated:
		c.mu.Lock()
		c.state = StateTerminated
		if ev.Error != "" {
			c.err = feedError(ev)
		}
		c.mu.Unlock()
		markReady()
	}
}

// -----------------------------------------------------------------------------

func feedError(ev models.MFeedEvent) error {
	if helpers.ErrorKind(ev.Kind) == helpers.KindUnauthorized {
		return helpers.NewUnauthorizedError("%s", ev.Error)
	}
	return errors.New(ev.Error)
}

// -----------------------------------------------------------------------------

// onExit restarts a worker that died without a terminal auth failure or a
// close order, up to MaxRestarts times.
func (c *Client) onExit(cmd *exec.Cmd, waitErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != cmd {
		return
	}

	unauthorized := helpers.Kind(c.err) == helpers.KindUnauthorized
	if c.closing || unauthorized || (waitErr == nil && c.state == StateTerminated) {
		c.state = StateTerminated
		c.logger.Info("Worker exited")
		return
	}

	if c.restarts >= c.opts.MaxRestarts {
		c.state = StateTerminated
		if c.err == nil {
			c.err = fmt.Errorf("feed %q: worker exited: %v", c.spec.Name, waitErr)
		}
		c.logger.Error("Worker exited, restart budget exhausted: %v", waitErr)
		return
	}

	c.restarts++
	c.logger.Warning("Worker exited (%v), restarting (%d/%d)", waitErr, c.restarts, c.opts.MaxRestarts)
	if _, err := c.spawnLocked(); err != nil {
		c.state, c.err = StateTerminated, err
	}
}

// -----------------------------------------------------------------------------

// Subscribe adds symbols to the feed.
func (c *Client) Subscribe(symbols []string) error {
	return c.send(EventSubscribe, symbols)
}

// Unsubscribe removes symbols from the feed.
func (c *Client) Unsubscribe(symbols []string) error {
	return c.send(EventUnsubscribe, symbols)
}

// -----------------------------------------------------------------------------

func (c *Client) send(event string, symbols []string) error {
	syms := SplitSymbols(symbols...)
	if len(syms) == 0 {
		return helpers.NewValidationError("symbol", "no symbols given")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.state == StateTerminated || c.closing {
		return fmt.Errorf("feed %q is not running", c.spec.Name)
	}
	if err := writeCommand(c.stdin, models.MFeedCommand{Symbol: strings.Join(syms, ","), Event: event}); err != nil {
		return fmt.Errorf("feed %q: %w", c.spec.Name, err)
	}
	if event == EventSubscribe {
		c.symbols.Add(syms...)
	} else {
		c.symbols.Remove(syms...)
	}
	return nil
}

func writeCommand(w io.Writer, cmd models.MFeedCommand) error {
	line, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

// -----------------------------------------------------------------------------

// Disconnect orders the worker to close, waits for it and kills it if it
// does not stop in time.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd == nil {
		c.state = StateTerminated
		c.mu.Unlock()
		return c.closeSink()
	}
	c.closing = true
	cmd, exited := c.cmd, c.exited
	writeCommand(c.stdin, models.MFeedCommand{Event: EventClose})
	c.stdin.Close()
	c.mu.Unlock()

	select {
	case <-exited:
	case <-ctx.Done():
		cmd.Process.Kill()
		<-exited
	case <-time.After(defaultStopTimeout):
		cmd.Process.Kill()
		<-exited
	}
	return c.closeSink()
}

// -----------------------------------------------------------------------------

// State returns the last state reported by the worker.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Symbols returns the subscribed symbols in order.
func (c *Client) Symbols() []string { return c.symbols.List() }

// Err returns the terminal error, if any.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Logs returns the n newest worker lines, oldest first.
func (c *Client) Logs(n int) []models.MFeedEvent { return c.logs.GetLatest(n) }

// Done is closed when the current worker process has exited.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exited
}

// -----------------------------------------------------------------------------

// Status summarises the feed.
func (c *Client) Status() models.MFeedStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := models.MFeedStatus{
		Name:     c.spec.Name,
		Provider: c.spec.Provider,
		State:    string(c.state),
		Symbols:  c.symbols.List(),
		Restarts: c.restarts,
	}
	if c.err != nil {
		st.Error = c.err.Error()
	}
	return st
}

// -----------------------------------------------------------------------------

// Results reads the feed's sink.
func (c *Client) Results(ctx context.Context, filter models.MRecordFilter) ([]models.MRecord, error) {
	sink, err := c.readSink(ctx)
	if err != nil {
		return nil, err
	}
	return sink.Query(ctx, filter)
}

// Recent returns the newest limit rows of the sink.
func (c *Client) Recent(ctx context.Context, limit int) ([]models.MRecord, error) {
	sink, err := c.readSink(ctx)
	if err != nil {
		return nil, err
	}
	return sink.Recent(ctx, limit)
}

// -----------------------------------------------------------------------------

func (c *Client) readSink(ctx context.Context) (interfaces.ISink, error) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if c.sink != nil {
		return c.sink, nil
	}
	sink, err := c.opts.OpenSink(c.spec)
	if err != nil {
		return nil, err
	}
	if err := sink.Initialize(ctx); err != nil {
		return nil, err
	}
	c.sink = sink
	return sink, nil
}

func (c *Client) closeSink() error {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if c.sink == nil {
		return nil
	}
	err := c.sink.Close()
	c.sink = nil
	return err
}
