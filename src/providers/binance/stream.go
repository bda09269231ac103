package binance

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"market-platform/src/fetcher"
	"market-platform/src/helpers"
	"market-platform/src/models"
	sm "market-platform/src/standard_models"
	"market-platform/src/websocket"

	"github.com/tidwall/gjson"
)

// Protocol speaks the Binance raw stream API: SUBSCRIBE and UNSUBSCRIBE
// method frames, one event object per frame, combined-stream envelopes
// unwrapped.
type Protocol struct {
	// Stream is appended to each lower-cased symbol, e.g. btcusdt@trade.
	Stream string
	ids    atomic.Int64
}

// NewProtocol returns a protocol for the given stream kind ("trade" or
// "aggTrade").
func NewProtocol(stream string) *Protocol {
	if stream == "" {
		stream = "trade"
	}
	return &Protocol{Stream: stream}
}

// -----------------------------------------------------------------------------

func (p *Protocol) URL(base string, _ []string) string { return base }

func (p *Protocol) AuthMessage(map[string]string) ([]byte, error) { return nil, nil }

// -----------------------------------------------------------------------------

func (p *Protocol) SubscribeMessage(symbols []string) ([]byte, error) {
	return p.method("SUBSCRIBE", symbols)
}

func (p *Protocol) UnsubscribeMessage(symbols []string) ([]byte, error) {
	return p.method("UNSUBSCRIBE", symbols)
}

func (p *Protocol) method(name string, symbols []string) ([]byte, error) {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(Symbol(s)) + "@" + p.Stream
	}
	return json.Marshal(map[string]any{"method": name, "params": streams, "id": p.ids.Add(1)})
}

// -----------------------------------------------------------------------------

// ParseFrame maps trade and aggTrade events onto TradeData rows. Method
// replies and other event kinds carry no rows.
func (p *Protocol) ParseFrame(frame []byte) ([][]byte, error) {
	if !gjson.ValidBytes(frame) {
		return nil, helpers.NewProviderError(Name, 0, nil, "malformed frame")
	}
	ev := gjson.ParseBytes(frame)
	if data := ev.Get("data"); data.IsObject() && ev.Get("stream").Exists() {
		ev = data
	}

	if e := ev.Get("error"); e.Exists() {
		return nil, helpers.NewProviderError(Name, 0, nil, "%s (code %d)", e.Get("msg").String(), e.Get("code").Int())
	}
	if ev.Get("id").Exists() && !ev.Get("e").Exists() {
		return nil, nil
	}

	var id string
	switch ev.Get("e").String() {
	case "trade":
		id = "t"
	case "aggTrade":
		id = "a"
	default:
		return nil, nil
	}

	side := "buy"
	if ev.Get("m").Bool() {
		side = "sell"
	}
	row := TradeData{
		WebSocketData: sm.WebSocketData{
			Date:   time.UnixMilli(ev.Get("T").Int()).UTC(),
			Symbol: strings.ToUpper(ev.Get("s").String()),
		},
		Price:   ev.Get("p").Float(),
		Size:    ev.Get("q").Float(),
		Side:    side,
		TradeID: ev.Get(id).Int(),
	}
	b, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// -----------------------------------------------------------------------------

// feedHandle is what extract hands to transform: the running client and the
// newest rows of its sink.
type feedHandle struct {
	Name   string `json:"name"`
	Client *websocket.Client
	Recent []models.MRecord
}

// webSocketConnection starts (or joins) a named trade feed on the feed
// manager and returns its handle.
func (c *client) webSocketConnection() fetcher.Definition[WebSocketConnectionQueryParams, *feedHandle, WebSocketConnectionData] {
	schema := sm.JSONSchema(reflect.TypeFor[TradeData]())
	return fetcher.Definition[WebSocketConnectionQueryParams, *feedHandle, WebSocketConnectionData]{
		ExtractData: func(ctx context.Context, q *WebSocketConnectionQueryParams, creds fetcher.Credentials) (*feedHandle, error) {
			spec := models.MFeedSpec{
				Name:     q.Name,
				Provider: Name,
				URL:      c.streamURL,
				Symbols:  websocket.SplitSymbols(q.Symbol),
				Schema:   schema,
			}
			cl, err := c.feeds().Start(ctx, spec, creds)
			if err != nil {
				return nil, err
			}
			h := &feedHandle{Name: cl.Name(), Client: cl}
			if q.Limit > 0 {
				recent, err := cl.Recent(ctx, q.Limit)
				if err != nil {
					c.logger.Warning("Feed %s: reading recent rows: %v", q.Name, err)
					fetcher.Warn(ctx, "recent rows unavailable: %v", err)
				}
				h.Recent = recent
			}
			return h, nil
		},
		TransformData: func(_ *WebSocketConnectionQueryParams, h *feedHandle) (WebSocketConnectionData, error) {
			out := WebSocketConnectionData{
				WebSocketConnectionData: sm.WebSocketConnectionData{
					Name:    h.Name,
					State:   string(h.Client.State()),
					Symbols: h.Client.Symbols(),
					Client:  h.Client,
				},
			}
			for _, r := range h.Recent {
				out.Results = append(out.Results, r.Message)
			}
			return out, nil
		},
	}
}
