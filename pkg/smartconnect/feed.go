package smartconnect

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"trading-corev1/internal/model"
)

const (
	feedURI           = "wss://smartapisocket.angelone.in/smart-stream"
	heartbeatMessage  = "ping"
	heartbeatInterval = 10 * time.Second

	subscribeAction = 1
	modeQuote       = 2

	maxReconnectWait = 30 * time.Second
)

// Feed streams live ticks over the SmartAPI market data socket. It
// implements model.TickSource and reconnects with exponential backoff until
// ctx is cancelled.
type Feed struct {
	c           *Client
	exchange    int                   // exchange type code, e.g. 2 for NFO
	instruments map[string]Instrument // engine name → listing
	byToken     map[string]string     // scrip token → engine name
	log         *slog.Logger

	// OnConnect is invoked after each successful (re)connect, before
	// subscribing. Optional health hook.
	OnConnect func()
}

// NewFeed builds a tick feed for the given instruments.
func NewFeed(c *Client, exchange int, instruments map[string]Instrument, log *slog.Logger) *Feed {
	byToken := make(map[string]string, len(instruments))
	for name, inst := range instruments {
		byToken[inst.Token] = name
	}
	return &Feed{
		c:           c,
		exchange:    exchange,
		instruments: instruments,
		byToken:     byToken,
		log:         log.With("component", "feed"),
	}
}

// Stream connects, subscribes in quote mode, and pushes ticks on out until
// ctx is cancelled. Dial and read failures trigger a reconnect.
func (f *Feed) Stream(ctx context.Context, out chan<- model.Tick) error {
	wait := time.Second
	for {
		if err := f.session(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn("feed session ended, reconnecting", "err", err, "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
			if wait > maxReconnectWait {
				wait = maxReconnectWait
			}
			continue
		}
		wait = time.Second
	}
}

// session runs one connect-subscribe-read cycle.
func (f *Feed) session(ctx context.Context, out chan<- model.Tick) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.c.AccessToken())
	header.Set("x-api-key", f.c.APIKey())
	header.Set("x-client-code", f.c.ClientCode())
	header.Set("x-feed-token", f.c.FeedToken())

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, feedURI, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()
	f.log.Info("feed connected", "instruments", len(f.instruments))
	if f.OnConnect != nil {
		f.OnConnect()
	}

	if err := f.subscribe(ws); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()
	go f.heartbeat(ctx, ws)

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue // pong or control text
		}
		tick, ok := f.parseQuote(raw)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- tick:
		}
	}
}

func (f *Feed) subscribe(ws *websocket.Conn) error {
	tokens := make([]string, 0, len(f.instruments))
	for _, inst := range f.instruments {
		tokens = append(tokens, inst.Token)
	}
	return ws.WriteJSON(map[string]any{
		"correlationID": "coreengine",
		"action":        subscribeAction,
		"params": map[string]any{
			"mode": modeQuote,
			"tokenList": []map[string]any{
				{"exchangeType": f.exchange, "tokens": tokens},
			},
		},
	})
}

func (f *Feed) heartbeat(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteMessage(websocket.TextMessage, []byte(heartbeatMessage)); err != nil {
				return
			}
		}
	}
}

// parseQuote decodes a quote-mode binary packet. Prices arrive in paise,
// timestamps in epoch milliseconds.
func (f *Feed) parseQuote(b []byte) (model.Tick, bool) {
	if len(b) < 59 {
		return model.Tick{}, false
	}
	token := string(bytes.TrimRight(b[2:27], "\x00"))
	name, ok := f.byToken[token]
	if !ok {
		return model.Tick{}, false
	}
	tsMillis := int64(binary.LittleEndian.Uint64(b[35:43]))
	ltp := int64(binary.LittleEndian.Uint64(b[43:51]))
	ltq := int64(binary.LittleEndian.Uint64(b[51:59]))
	return model.Tick{
		Instrument: name,
		TS:         time.UnixMilli(tsMillis),
		Price:      ltp,
		Qty:        ltq,
	}, true
}
