package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/storage"

	"github.com/cenkalti/backoff/v5"
	gws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Worker defaults
const (
	defaultBatchSize      = 100
	defaultFlushInterval  = time.Second
	defaultQueueSize      = 1000
	defaultPruneInterval  = time.Minute
	defaultExportInterval = 5 * time.Minute
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectGrace = time.Second
	defaultMaxReconnects  = 5
	pingPeriod            = 30 * time.Second
)

var errClosed = errors.New("feed closed")

// WorkerOptions wires one worker. Sink must not be initialised yet.
type WorkerOptions struct {
	Spec        models.MFeedSpec
	Protocol    interfaces.IFeedProtocol
	Sink        interfaces.ISink
	Exporter    *storage.Exporter
	Credentials map[string]string
	Stdin       io.Reader
	Stdout      io.Writer
	Dialer      *gws.Dialer
}

// Worker is the child side of a feed: it owns the socket, the bounded queue
// and the batch writer, and takes orders from stdin.
type Worker struct {
	opts      WorkerOptions
	cfg       models.MWebsocketConfig
	validator *FrameValidator
	symbols   *SymbolSet
	state     *Machine
	events    *Emitter
	logger    *logger.Logger

	connMu sync.Mutex
	conn   *gws.Conn

	stop    context.CancelFunc
	written int
}

// -----------------------------------------------------------------------------

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Protocol == nil || opts.Sink == nil {
		return nil, fmt.Errorf("feed worker: protocol and sink are required")
	}
	if opts.Stdin == nil || opts.Stdout == nil {
		return nil, fmt.Errorf("feed worker: stdin and stdout are required")
	}
	if opts.Dialer == nil {
		opts.Dialer = gws.DefaultDialer
	}
	v, err := NewFrameValidator(opts.Spec.Schema)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		opts:      opts,
		cfg:       withDefaults(opts.Spec.Sink),
		validator: v,
		symbols:   NewSymbolSet(opts.Spec.Symbols...),
		events:    NewEmitter(opts.Stdout),
		logger:    logger.NewLogger(nil, "FeedWorker").WithFields(logger.Fields{"feed": opts.Spec.Name}),
	}
	w.state = NewMachine(func(_, to State) {
		w.events.Emit(models.MFeedEvent{
			Message: "state " + string(to),
			Event:   EventState,
			State:   string(to),
			Symbols: w.symbols.List(),
		})
	})
	return w, nil
}

// -----------------------------------------------------------------------------

func withDefaults(c models.MWebsocketConfig) models.MWebsocketConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = int(defaultFlushInterval / time.Millisecond)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.PruneIntervalSeconds <= 0 {
		c.PruneIntervalSeconds = int(defaultPruneInterval / time.Second)
	}
	if c.ConnectTimeoutSeconds <= 0 {
		c.ConnectTimeoutSeconds = int(defaultConnectTimeout / time.Second)
	}
	if c.ReconnectGraceMs <= 0 {
		c.ReconnectGraceMs = int(defaultReconnectGrace / time.Millisecond)
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	if c.Export.IntervalSeconds <= 0 {
		c.Export.IntervalSeconds = int(defaultExportInterval / time.Second)
	}
	return c
}

// -----------------------------------------------------------------------------

// State returns the connection state.
func (w *Worker) State() State { return w.state.Current() }

// Symbols returns the subscribed symbols in order.
func (w *Worker) Symbols() []string { return w.symbols.List() }

// -----------------------------------------------------------------------------

// Run blocks until the feed is closed (close order, stdin EOF or ctx) or
// fails. Every frame received before the end is written before Run returns.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		ev := models.MFeedEvent{Level: "info", Message: "feed stopped", Event: EventTerminated, State: string(StateTerminated), Rows: w.written}
		if err != nil {
			ev.Level, ev.Message, ev.Error, ev.Kind = "error", "feed failed", err.Error(), string(helpers.Kind(err))
		}
		w.events.Emit(ev)
	}()

	if err := w.opts.Sink.Initialize(ctx); err != nil {
		w.state.To(StateTerminated)
		return fmt.Errorf("sink: %w", err)
	}
	defer w.opts.Sink.Close()

	if r, ok := w.opts.Sink.(interface {
		ResolveSymbols(context.Context, []string) ([]string, error)
	}); ok {
		syms, err := r.ResolveSymbols(ctx, w.symbols.List())
		if err != nil {
			w.state.To(StateTerminated)
			return err
		}
		w.symbols.Replace(syms)
	}

	runCtx, stop := context.WithCancel(ctx)
	w.stop = stop
	defer stop()

	go w.readCommands(runCtx)

	queue := make(chan []byte, w.cfg.QueueSize)
	consumed := make(chan error, 1)
	go func() { consumed <- w.consume(queue, stop) }()

	maintCtx, stopMaint := context.WithCancel(context.WithoutCancel(ctx))
	maintDone := make(chan error, 1)
	go func() { maintDone <- w.maintain(maintCtx) }()

	runErr := w.connectLoop(runCtx, queue)
	close(queue)
	writeErr := <-consumed
	stopMaint()
	<-maintDone

	if writeErr != nil {
		return writeErr
	}
	return runErr
}

// -----------------------------------------------------------------------------

func (w *Worker) readCommands(ctx context.Context) {
	err := ReadLines(w.opts.Stdin, func(line []byte) {
		var cmd models.MFeedCommand
		if err := json.Unmarshal(line, &cmd); err != nil {
			w.events.Emit(models.MFeedEvent{Level: "warning", Message: "ignoring malformed command", Error: err.Error()})
			return
		}
		w.handleCommand(cmd)
	})
	if ctx.Err() == nil {
		if err != nil {
			w.logger.Warning("Command channel failed: %v", err)
		}
		w.stop()
	}
}

// -----------------------------------------------------------------------------

func (w *Worker) handleCommand(cmd models.MFeedCommand) {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	var (
		changed []string
		msg     []byte
		err     error
	)
	switch cmd.Event {
	case EventSubscribe:
		if changed = w.symbols.Add(cmd.Symbol); len(changed) > 0 {
			msg, err = w.opts.Protocol.SubscribeMessage(changed)
		}
	case EventUnsubscribe:
		if changed = w.symbols.Remove(cmd.Symbol); len(changed) > 0 {
			msg, err = w.opts.Protocol.UnsubscribeMessage(changed)
		}
	case EventClose:
		w.stop()
		return
	default:
		w.events.Emit(models.MFeedEvent{Level: "warning", Message: fmt.Sprintf("unknown command event %q", cmd.Event)})
		return
	}

	if err != nil {
		w.events.Emit(models.MFeedEvent{Level: "error", Message: cmd.Event + " failed", Error: err.Error()})
		return
	}
	if msg != nil && w.conn != nil {
		if err := w.conn.WriteMessage(gws.TextMessage, msg); err != nil {
			w.logger.Warning("Sending %s failed, will resend on reconnect: %v", cmd.Event, err)
		}
	}
	w.events.Emit(models.MFeedEvent{
		Message: fmt.Sprintf("%s %v", cmd.Event, changed),
		Event:   EventState,
		State:   string(w.state.Current()),
		Symbols: w.symbols.List(),
	})
}

// -----------------------------------------------------------------------------

func (w *Worker) connectLoop(ctx context.Context, queue chan<- []byte) error {
	if err := w.state.To(StateConnecting); err != nil {
		return err
	}
	conn, err := w.connect(ctx)
	if err != nil {
		var permanent *backoff.PermanentError
		if ctx.Err() != nil || helpers.Kind(err) == helpers.KindUnauthorized || errors.As(err, &permanent) {
			w.state.To(StateTerminated)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect: %w", err)
		}
		w.logger.Warning("Connect failed: %v", err)
		w.state.To(StateReconnecting)
		if conn, err = w.reconnect(ctx); err != nil {
			w.state.To(StateTerminated)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect: %w", err)
		}
	}

	for {
		w.state.To(StateSubscribed)
		err := w.session(ctx, conn, queue)
		switch {
		case errors.Is(err, errClosed):
			w.state.To(StateTerminated)
			return nil
		case helpers.Kind(err) == helpers.KindUnauthorized:
			w.state.To(StateTerminated)
			return err
		}

		w.logger.Warning("Connection lost: %v", err)
		w.state.To(StateReconnecting)
		conn, err = w.reconnect(ctx)
		if err != nil {
			w.state.To(StateTerminated)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reconnect: %w", err)
		}
	}
}

// -----------------------------------------------------------------------------

// connect dials, logs in and subscribes the current symbol set. The conn is
// published under connMu so no command is lost between subscribe and publish.
func (w *Worker) connect(ctx context.Context) (*gws.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	url := w.opts.Protocol.URL(w.opts.Spec.URL, w.symbols.List())
	conn, _, err := w.opts.Dialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, err
	}

	auth, err := w.opts.Protocol.AuthMessage(w.opts.Credentials)
	if err != nil {
		conn.Close()
		return nil, backoff.Permanent(err)
	}
	if auth != nil {
		if err := conn.WriteMessage(gws.TextMessage, auth); err != nil {
			conn.Close()
			return nil, err
		}
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()
	if syms := w.symbols.List(); len(syms) > 0 {
		msg, err := w.opts.Protocol.SubscribeMessage(syms)
		if err != nil {
			conn.Close()
			return nil, backoff.Permanent(err)
		}
		if err := conn.WriteMessage(gws.TextMessage, msg); err != nil {
			conn.Close()
			return nil, err
		}
	}
	w.conn = conn
	w.logger.Info("Connected to %s", url)
	return conn, nil
}

// -----------------------------------------------------------------------------

func (w *Worker) reconnect(ctx context.Context) (*gws.Conn, error) {
	grace := time.Duration(w.cfg.ReconnectGraceMs) * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(grace):
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = grace
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (*gws.Conn, error) {
		conn, err := w.connect(ctx)
		if err != nil {
			w.logger.Warning("Reconnect attempt failed: %v", err)
		}
		return conn, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(w.cfg.MaxReconnects)))
}

// -----------------------------------------------------------------------------

// session reads until the connection breaks. Enqueue is a blocking send so a
// full queue stalls the socket instead of dropping rows.
func (w *Worker) session(ctx context.Context, conn *gws.Conn, queue chan<- []byte) error {
	done := make(chan struct{})
	defer func() {
		close(done)
		w.connMu.Lock()
		w.conn = nil
		w.connMu.Unlock()
		conn.Close()
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(gws.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errClosed
			}
			return err
		}

		rows, err := w.opts.Protocol.ParseFrame(frame)
		if err != nil {
			if helpers.Kind(err) == helpers.KindUnauthorized {
				return err
			}
			w.events.Emit(models.MFeedEvent{Level: "warning", Message: "frame rejected", Error: err.Error()})
			continue
		}
		for _, row := range rows {
			queue <- row
		}
	}
}

// -----------------------------------------------------------------------------

// consume validates queued rows and writes them in batches. On a write
// failure it stops the feed and drains the queue so the producer can exit.
func (w *Worker) consume(queue <-chan []byte, stop context.CancelFunc) error {
	ticker := time.NewTicker(time.Duration(w.cfg.FlushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	batch := make([][]byte, 0, w.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := w.opts.Sink.WriteBatch(context.Background(), batch)
		if err != nil {
			return err
		}
		w.written += n
		w.events.Emit(models.MFeedEvent{Level: "debug", Message: "batch written", Event: EventRows, Rows: n})
		batch = batch[:0]
		return nil
	}
	fail := func(err error) error {
		stop()
		for range queue {
		}
		return fmt.Errorf("sink write: %w", err)
	}

	for {
		select {
		case row, ok := <-queue:
			if !ok {
				if err := flush(); err != nil {
					return fmt.Errorf("sink write: %w", err)
				}
				return nil
			}
			if err := w.validator.Validate(row); err != nil {
				w.events.Emit(models.MFeedEvent{Level: "warning", Message: "row failed validation", Error: err.Error()})
				continue
			}
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchSize {
				if err := flush(); err != nil {
					return fail(err)
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return fail(err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// maintain runs the pruner and the exporter until ctx ends.
func (w *Worker) maintain(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if w.cfg.RowCap > 0 {
		g.Go(func() error {
			every(gctx, time.Duration(w.cfg.PruneIntervalSeconds)*time.Second, func() {
				if n, err := w.opts.Sink.Prune(gctx, w.cfg.RowCap); err != nil {
					w.logger.Error("Prune failed: %v", err)
				} else if n > 0 {
					w.logger.Debug("Pruned %d rows", n)
				}
			})
			return nil
		})
	}
	if w.opts.Exporter != nil && w.opts.Exporter.Enabled() {
		g.Go(func() error {
			every(gctx, time.Duration(w.cfg.Export.IntervalSeconds)*time.Second, func() {
				if snap, err := w.opts.Exporter.Export(gctx); err != nil {
					w.logger.Error("Export failed: %v", err)
				} else if snap != nil {
					w.events.Emit(models.MFeedEvent{Level: "debug", Message: "snapshot " + snap.Path + snap.Key, Rows: snap.Rows})
				}
			})
			return nil
		})
	}
	return g.Wait()
}

// -----------------------------------------------------------------------------

func every(ctx context.Context, d time.Duration, fn func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
