package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-corev1/internal/bus"
)

// conn is one authenticated WebSocket session.
type conn struct {
	srv       *Server
	ws        *websocket.Conn
	role      string
	sessionID string
	log       *slog.Logger

	// ctx spans the connection's lifetime, not the upgrade request's:
	// the handler returns right after the upgrade, and the request
	// context dies with it. Cancelled in close.
	ctx    context.Context
	cancel context.CancelFunc

	// out is the bounded outbound queue; overflow drops the oldest entry.
	out chan ServerMessage

	mu        sync.Mutex
	seq       uint64
	subs      map[string]*bus.Subscription // pattern → subscription
	wildcards int

	// Per-second outbound data rate window.
	rateWindow  time.Time
	rateCount   int
	rateDropped uint64
	lastBPError time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(srv *Server, ws *websocket.Conn, role string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		srv:       srv,
		ws:        ws,
		role:      role,
		sessionID: uuid.NewString(),
		log:       srv.log.With("session", ""),
		ctx:       ctx,
		cancel:    cancel,
		out:       make(chan ServerMessage, srv.cfg.OutboundBuffer),
		subs:      make(map[string]*bus.Subscription),
		done:      make(chan struct{}),
	}
}

// run services the connection until the client goes away.
func (c *conn) run() {
	c.log = c.srv.log.With("session", c.sessionID, "role", c.role)
	c.enqueue(ServerMessage{
		Type:       TypeConnected,
		SessionID:  c.sessionID,
		ServerTime: rfc3339(time.Now()),
	})

	go c.writePump()
	c.readPump()
	c.close(websocket.CloseNormalClosure, "")
}

// close tears the session down exactly once.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		for pattern, sub := range c.subs {
			c.srv.broker.Unsubscribe(sub)
			delete(c.subs, pattern)
		}
		c.mu.Unlock()
		c.cancel()
		if code != websocket.CloseNormalClosure {
			msg := websocket.FormatCloseMessage(code, reason)
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			c.ws.WriteMessage(websocket.CloseMessage, msg)
		}
		close(c.done)
		c.ws.Close()
		c.srv.dropConn(c)
		c.log.Info("client disconnected", "dropped", c.rateDropped)
	})
}

// ── inbound ──

func (c *conn) readPump() {
	idle := c.srv.cfg.IdleTimeout
	c.ws.SetReadLimit(8192)
	c.ws.SetReadDeadline(time.Now().Add(idle))

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				c.close(CloseIdle, "idle")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(idle))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueue(ServerMessage{Type: TypeError, Code: CodeInvalidAction, Message: "malformed message"})
			continue
		}
		switch msg.Action {
		case ActionPing:
			c.enqueue(ServerMessage{Type: TypePong, RequestID: msg.RequestID})
		case ActionSubscribe:
			c.handleSubscribe(msg)
		case ActionUnsubscribe:
			c.handleUnsubscribe(msg)
		default:
			c.enqueue(ServerMessage{
				Type: TypeError, Code: CodeInvalidAction,
				Message: "unknown action " + msg.Action, RequestID: msg.RequestID,
			})
		}
	}
}

func (c *conn) handleSubscribe(msg ClientMessage) {
	granted := make([]string, 0, len(msg.Channels))
	var errs []ChannelError

	for _, pattern := range msg.Channels {
		c.mu.Lock()
		_, dup := c.subs[pattern]
		count := len(c.subs)
		wc := c.wildcards
		c.mu.Unlock()
		if dup {
			granted = append(granted, pattern)
			continue
		}
		if !allowedPattern(c.role, pattern) {
			errs = append(errs, ChannelError{Channel: pattern, Code: CodeForbidden})
			continue
		}
		if err := bus.ValidatePattern(pattern); err != nil {
			errs = append(errs, ChannelError{Channel: pattern, Code: CodeInvalidSub})
			continue
		}
		if count >= c.srv.cfg.MaxChannels {
			errs = append(errs, ChannelError{Channel: pattern, Code: CodeRateLimit})
			continue
		}
		if isWildcard(pattern) && wc >= c.srv.cfg.MaxWildcards {
			errs = append(errs, ChannelError{Channel: pattern, Code: CodeRateLimit})
			continue
		}

		sub, err := c.srv.broker.Subscribe(pattern)
		if err != nil {
			errs = append(errs, ChannelError{Channel: pattern, Code: CodeInvalidSub})
			continue
		}
		c.mu.Lock()
		c.subs[pattern] = sub
		if isWildcard(pattern) {
			c.wildcards++
		}
		c.mu.Unlock()
		go c.forward(sub)
		granted = append(granted, pattern)
	}

	c.enqueue(ServerMessage{
		Type:      TypeSubscribed,
		Channels:  granted,
		Errors:    errs,
		RequestID: msg.RequestID,
	})
	c.log.Info("subscribed", "granted", granted, "refused", len(errs))
}

func (c *conn) handleUnsubscribe(msg ClientMessage) {
	removed := make([]string, 0, len(msg.Channels))
	c.mu.Lock()
	for _, pattern := range msg.Channels {
		sub, ok := c.subs[pattern]
		if !ok {
			continue
		}
		delete(c.subs, pattern)
		if isWildcard(pattern) {
			c.wildcards--
		}
		c.srv.broker.Unsubscribe(sub)
		removed = append(removed, pattern)
	}
	c.mu.Unlock()
	c.enqueue(ServerMessage{
		Type:      TypeUnsubscribed,
		Channels:  removed,
		RequestID: msg.RequestID,
	})
}

// forward drains one bus subscription into the outbound queue. Exits when
// the subscription closes (unsubscribe or teardown).
func (c *conn) forward(sub *bus.Subscription) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			c.enqueueData(env)
		}
	}
}

// ── outbound ──

// enqueueData applies the client rate limit, assigns the per-connection
// seq, and queues a data envelope.
func (c *conn) enqueueData(env bus.Envelope) {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.rateWindow) >= time.Second {
		c.rateWindow = now
		c.rateCount = 0
	}
	if c.rateCount >= c.srv.cfg.ClientRatePerSec {
		c.rateDropped++
		notify := now.Sub(c.lastBPError) >= time.Second
		if notify {
			c.lastBPError = now
		}
		c.mu.Unlock()
		if c.srv.OnDataDrop != nil {
			c.srv.OnDataDrop()
		}
		if notify {
			c.enqueue(ServerMessage{
				Type: TypeError, Code: CodeBackpressure,
				Message: "client not keeping up, dropping messages",
			})
		}
		return
	}
	c.rateCount++
	c.seq++
	msg := ServerMessage{
		Type:      TypeData,
		Seq:       c.seq,
		Channel:   env.Channel,
		Data:      env.Payload,
		Timestamp: rfc3339(env.TS),
	}
	// Enqueue while still holding the lock so two forward goroutines
	// cannot reorder seq assignment and queue insertion. enqueue never
	// blocks, it drops the oldest entry instead.
	c.enqueue(msg)
	c.mu.Unlock()
}

// enqueue queues a message, dropping the oldest queued entry on overflow.
func (c *conn) enqueue(msg ServerMessage) {
	for {
		select {
		case c.out <- msg:
			return
		default:
			select {
			case <-c.out: // drop oldest
				if c.srv.OnDataDrop != nil {
					c.srv.OnDataDrop()
				}
			default:
			}
		}
	}
}

func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.close(websocket.CloseNormalClosure, "")
				return
			}
		}
	}
}

func isWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
