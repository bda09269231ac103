package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"market-platform/src/logger"
	"market-platform/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	tailSnapshot = 100
	tailBatch    = 500
	tailPoll     = 250 * time.Millisecond
)

// RecordSource is the read side of a feed.
type RecordSource interface {
	Results(ctx context.Context, filter models.MRecordFilter) ([]models.MRecord, error)
	Recent(ctx context.Context, limit int) ([]models.MRecord, error)
}

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// FeedHub polls one feed's sink and fans new rows out to its tail clients.
// It exits once its last client leaves.
type FeedHub struct {
	name   string
	source RecordSource
	logger *logger.Logger
	poll   time.Duration

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	lastID     int64
}

func newFeedHub(name string, source RecordSource, log *logger.Logger) *FeedHub {
	return &FeedHub{
		name:       name,
		source:     source,
		logger:     log.WithFields(logger.Fields{"feed": name}),
		poll:       tailPoll,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// run is the hub loop. onIdle is called before the hub stops accepting
// clients.
func (h *FeedHub) run(ctx context.Context, onIdle func(*FeedHub)) {
	defer close(h.done)
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			onIdle(h)
			for c := range h.clients {
				close(c.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.sendSnapshot(ctx, client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			if len(h.clients) == 0 {
				onIdle(h)
				return
			}

		case <-ticker.C:
			h.pollOnce(ctx)
		}
	}
}

// -----------------------------------------------------------------------------

func (h *FeedHub) sendSnapshot(ctx context.Context, client *Client) {
	rows, err := h.source.Recent(ctx, tailSnapshot)
	if err != nil {
		h.logger.Warning("Snapshot failed: %v", err)
		rows = nil
	}
	if n := len(rows); n > 0 && rows[n-1].ID > h.lastID {
		h.lastID = rows[n-1].ID
	}
	msg := &models.MTailMessage{Type: "INITIAL", Feed: h.name, Records: client.filter(rows)}
	select {
	case client.send <- msg:
	default:
	}
}

// -----------------------------------------------------------------------------

func (h *FeedHub) pollOnce(ctx context.Context) {
	rows, err := h.source.Results(ctx, models.MRecordFilter{AfterID: h.lastID, Limit: tailBatch})
	if err != nil {
		h.logger.Debug("Poll failed: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	h.lastID = rows[len(rows)-1].ID

	for client := range h.clients {
		selected := client.filter(rows)
		if len(selected) == 0 {
			continue
		}
		select {
		case client.send <- &models.MTailMessage{Type: "UPDATE", Feed: h.name, Records: selected}:
		default:
			// Client too slow, disconnect to keep the hub moving
			delete(h.clients, client)
			close(client.send)
		}
	}
	if len(h.clients) == 0 {
		h.logger.Debug("All clients dropped")
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleTail(c *gin.Context) {
	name := c.Param("name")
	feed, ok := s.feeds.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{Kind: "NotFound", Detail: "unknown feed '" + name + "'"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan *models.MTailMessage, 256),
		symbols: symbolFilter(splitList(c.Query("symbols"))),
		logger:  s.Logger,
	}

	for {
		hub := s.hubFor(name, feed)
		select {
		case hub.register <- client:
			client.hub = hub
			go client.writePump()
			go client.readPump()
			return
		case <-hub.done:
			// hub went idle between lookup and register; take a fresh one
		}
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) hubFor(name string, source RecordSource) *FeedHub {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	if h, ok := s.hubs[name]; ok {
		return h
	}
	h := newFeedHub(name, source, s.Logger)
	s.hubs[name] = h
	go h.run(s.ctx, s.dropHub)
	return h
}

func (s *APIServer) dropHub(h *FeedHub) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	if s.hubs[h.name] == h {
		delete(s.hubs, h.name)
	}
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// handleClientMessage applies a subscribe command to the client's filter.
// Unparseable messages disconnect the client.
func (c *Client) handleClientMessage(message []byte) {
	var cmd models.MTailCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.logger.Info("Failed to parse client command: %v, disconnecting client", err)
		c.conn.Close()
		return
	}
	if !strings.EqualFold(cmd.Command, "subscribe") {
		return
	}
	c.mu.Lock()
	c.symbols = symbolFilter(cmd.Symbols)
	c.mu.Unlock()
}

func symbolFilter(symbols []string) map[string]bool {
	if len(symbols) == 0 {
		return nil
	}
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	return out
}
