package gateway

import "time"

// Client → gateway actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Gateway → client message types.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeData         = "data"
	TypePong         = "pong"
	TypeError        = "error"
)

// Error codes surfaced to clients.
const (
	CodeForbidden     = "FORBIDDEN"
	CodeBackpressure  = "BACKPRESSURE"
	CodeRateLimit     = "RATE_LIMIT"
	CodeInvalidSub    = "INVALID_SUBSCRIPTION"
	CodeIdle          = "IDLE"
	CodeInvalidAction = "INVALID_ACTION"
)

// WebSocket close codes.
const (
	CloseIdle         = 4000
	CloseUnauthorized = 4401
)

// ClientMessage is anything a client sends.
type ClientMessage struct {
	Action    string   `json:"action"`
	Channels  []string `json:"channels,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// ChannelError reports a per-channel subscribe failure.
type ChannelError struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

// ServerMessage is the single outbound envelope; fields are populated per
// Type and omitted otherwise.
type ServerMessage struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"sessionId,omitempty"`
	ServerTime string         `json:"serverTime,omitempty"`
	Channels   []string       `json:"channels,omitempty"`
	Errors     []ChannelError `json:"errors,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Seq        uint64         `json:"seq,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Data       any            `json:"data,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
