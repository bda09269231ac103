package websocket

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"market-platform/src/models"
)

// Command events sent by the parent.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventClose       = "close"
)

// Events emitted by the worker.
const (
	EventState      = "state"
	EventRows       = "rows"
	EventTerminated = "terminated"
)

// maxLine bounds one JSON line on either pipe.
const maxLine = 1 << 20

// -----------------------------------------------------------------------------

// SplitSymbols splits a comma separated symbol list, upper-cased, without
// empties.
func SplitSymbols(list ...string) []string {
	var out []string
	for _, item := range list {
		for _, s := range strings.Split(item, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// SymbolSet is an insertion-ordered set of symbols. Safe for concurrent use.
type SymbolSet struct {
	mu    sync.RWMutex
	order []string
	index map[string]bool
}

func NewSymbolSet(symbols ...string) *SymbolSet {
	s := &SymbolSet{index: make(map[string]bool)}
	s.Add(symbols...)
	return s
}

// Add inserts symbols and returns the ones that were not present.
func (s *SymbolSet) Add(symbols ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, sym := range SplitSymbols(symbols...) {
		if !s.index[sym] {
			s.index[sym] = true
			s.order = append(s.order, sym)
			added = append(added, sym)
		}
	}
	return added
}

// Remove deletes symbols and returns the ones that were present.
func (s *SymbolSet) Remove(symbols ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for _, sym := range SplitSymbols(symbols...) {
		if s.index[sym] {
			delete(s.index, sym)
			removed = append(removed, sym)
		}
	}
	if len(removed) > 0 {
		kept := s.order[:0]
		for _, sym := range s.order {
			if s.index[sym] {
				kept = append(kept, sym)
			}
		}
		s.order = kept
	}
	return removed
}

// List returns the symbols in insertion order.
func (s *SymbolSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...)
}

// Replace swaps the content for symbols.
func (s *SymbolSet) Replace(symbols []string) {
	s.mu.Lock()
	s.order, s.index = nil, make(map[string]bool)
	s.mu.Unlock()
	s.Add(symbols...)
}

// -----------------------------------------------------------------------------

// Emitter writes worker events as JSON lines.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Emit writes one event. Write errors are dropped: a parent that stopped
// reading is handled through the stdin EOF path.
func (e *Emitter) Emit(ev models.MFeedEvent) {
	if ev.Level == "" {
		ev.Level = "info"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev)
}

// -----------------------------------------------------------------------------

// ReadLines calls fn for every non-empty line of r until EOF or error.
func ReadLines(r io.Reader, fn func(line []byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		fn(append([]byte(nil), line...))
	}
	return sc.Err()
}

// -----------------------------------------------------------------------------

// DecodeEvent parses one worker line, either an event or a logrus entry.
// Anything else is kept as a raw info message.
func DecodeEvent(line []byte) models.MFeedEvent {
	var ev struct {
		models.MFeedEvent
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(line, &ev); err != nil {
		return models.MFeedEvent{Level: "info", Message: string(line)}
	}
	if ev.Message == "" {
		ev.Message = ev.Msg
	}
	if ev.Message == "" && ev.Event == "" {
		return models.MFeedEvent{Level: "info", Message: string(line)}
	}
	return ev.MFeedEvent
}
