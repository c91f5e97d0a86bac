package gateway

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trading-corev1/internal/bus"
	"trading-corev1/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startGateway(t *testing.T) (*Server, *bus.Broker, string) {
	t.Helper()
	broker := bus.New(64)
	srv := NewServer(Config{
		Tokens: map[string]string{
			"u-token": RoleUser,
			"a-token": RoleAdmin,
		},
	}, broker, testLogger())
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)
	return srv, broker, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMsg(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestGateway_ConnectedEnvelope(t *testing.T) {
	_, _, url := startGateway(t)
	ws := dial(t, url, "u-token")
	msg := readMsg(t, ws)
	if msg.Type != TypeConnected {
		t.Fatalf("first message type = %s, want connected", msg.Type)
	}
	if msg.SessionID == "" || msg.ServerTime == "" {
		t.Errorf("connected envelope incomplete: %+v", msg)
	}
}

func TestGateway_UnauthorizedClosedWith4401(t *testing.T) {
	_, _, url := startGateway(t)
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=bogus", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, CloseUnauthorized) {
		t.Errorf("expected close %d, got %v", CloseUnauthorized, err)
	}
}

func TestGateway_ACLPartialSubscribe(t *testing.T) {
	_, _, url := startGateway(t)
	ws := dial(t, url, "u-token")
	readMsg(t, ws) // connected

	err := ws.WriteJSON(ClientMessage{
		Action:    ActionSubscribe,
		Channels:  []string{"market:tick:*", "engine:decision:*"},
		RequestID: "r1",
	})
	if err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, ws)
	if msg.Type != TypeSubscribed || msg.RequestID != "r1" {
		t.Fatalf("reply = %+v", msg)
	}
	if len(msg.Channels) != 1 || msg.Channels[0] != "market:tick:*" {
		t.Errorf("granted = %v, want [market:tick:*]", msg.Channels)
	}
	if len(msg.Errors) != 1 || msg.Errors[0].Channel != "engine:decision:*" || msg.Errors[0].Code != CodeForbidden {
		t.Errorf("errors = %v, want engine:decision:* FORBIDDEN", msg.Errors)
	}
}

func TestGateway_AdminMaySubscribeEngine(t *testing.T) {
	_, _, url := startGateway(t)
	ws := dial(t, url, "a-token")
	readMsg(t, ws)

	ws.WriteJSON(ClientMessage{Action: ActionSubscribe, Channels: []string{"engine:decision:*"}})
	msg := readMsg(t, ws)
	if len(msg.Errors) != 0 || len(msg.Channels) != 1 {
		t.Errorf("admin subscribe refused: %+v", msg)
	}
}

func TestGateway_DataSeqStartsAtOne(t *testing.T) {
	_, broker, url := startGateway(t)
	ws := dial(t, url, "u-token")
	readMsg(t, ws)

	ws.WriteJSON(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:NIFTY"}})
	readMsg(t, ws) // subscribed

	waitForSubscribers(t, broker, 1)
	tick := model.Tick{Instrument: "NIFTY", TS: time.Now(), Price: 2500000, Qty: 50}
	broker.Publish("market:tick:NIFTY", tick)
	broker.Publish("market:tick:NIFTY", tick)

	first := readMsg(t, ws)
	if first.Type != TypeData || first.Seq != 1 {
		t.Fatalf("first data = type %s seq %d, want data/1", first.Type, first.Seq)
	}
	if first.Channel != "market:tick:NIFTY" {
		t.Errorf("channel = %s", first.Channel)
	}
	second := readMsg(t, ws)
	if second.Seq != 2 {
		t.Errorf("second seq = %d, want 2", second.Seq)
	}
}

func TestGateway_ReconnectSeqResets(t *testing.T) {
	_, broker, url := startGateway(t)

	session := func() uint64 {
		ws := dial(t, url, "u-token")
		defer ws.Close()
		readMsg(t, ws)
		ws.WriteJSON(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:NIFTY"}})
		readMsg(t, ws)
		waitForSubscribers(t, broker, 1)
		broker.Publish("market:tick:NIFTY", model.Tick{Instrument: "NIFTY", Price: 1})
		return readMsg(t, ws).Seq
	}

	if seq := session(); seq != 1 {
		t.Fatalf("first session seq = %d", seq)
	}
	// Wait for the first session's subscription to be torn down.
	deadline := time.Now().Add(2 * time.Second)
	for broker.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("first session subscription never cleaned up")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if seq := session(); seq != 1 {
		t.Errorf("reconnected session seq = %d, want 1", seq)
	}
}

func TestGateway_SeqMonotonicAcrossChannels(t *testing.T) {
	// Two subscriptions mean two forward goroutines racing into the same
	// outbound queue; the client-visible seq must still be gapless and
	// strictly increasing.
	broker := bus.New(4096)
	srv := NewServer(Config{
		Tokens: map[string]string{"u-token": RoleUser},
	}, broker, testLogger())
	ts := httptest.NewServer(srv.http.Handler)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ws := dial(t, url, "u-token")
	readMsg(t, ws)
	ws.WriteJSON(ClientMessage{
		Action:   ActionSubscribe,
		Channels: []string{"market:tick:NIFTY", "market:tick:BANKNIFTY"},
	})
	readMsg(t, ws)
	waitForSubscribers(t, broker, 2)

	const perChannel = 200
	var wg sync.WaitGroup
	for _, inst := range []string{"NIFTY", "BANKNIFTY"} {
		wg.Add(1)
		go func(inst string) {
			defer wg.Done()
			for i := 0; i < perChannel; i++ {
				broker.Publish("market:tick:"+inst, model.Tick{Instrument: inst, Price: int64(i)})
			}
		}(inst)
	}
	wg.Wait()

	for want := uint64(1); want <= 2*perChannel; want++ {
		msg := readMsg(t, ws)
		if msg.Type != TypeData {
			t.Fatalf("message %d type = %s, want data", want, msg.Type)
		}
		if msg.Seq != want {
			t.Fatalf("seq = %d, want %d", msg.Seq, want)
		}
	}
}

func TestGateway_PingPong(t *testing.T) {
	_, _, url := startGateway(t)
	ws := dial(t, url, "u-token")
	readMsg(t, ws)

	ws.WriteJSON(ClientMessage{Action: ActionPing, RequestID: "p1"})
	msg := readMsg(t, ws)
	if msg.Type != TypePong || msg.RequestID != "p1" {
		t.Errorf("pong = %+v", msg)
	}
}

func TestGateway_Unsubscribe(t *testing.T) {
	_, broker, url := startGateway(t)
	ws := dial(t, url, "u-token")
	readMsg(t, ws)

	ws.WriteJSON(ClientMessage{Action: ActionSubscribe, Channels: []string{"market:tick:NIFTY"}})
	readMsg(t, ws)
	waitForSubscribers(t, broker, 1)

	ws.WriteJSON(ClientMessage{Action: ActionUnsubscribe, Channels: []string{"market:tick:NIFTY"}, RequestID: "u1"})
	msg := readMsg(t, ws)
	if msg.Type != TypeUnsubscribed || len(msg.Channels) != 1 {
		t.Fatalf("unsubscribed reply = %+v", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("bus subscription survived unsubscribe")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestGateway_WildcardLimit(t *testing.T) {
	broker := bus.New(64)
	srv := NewServer(Config{
		MaxWildcards: 1,
		Tokens:       map[string]string{"u-token": RoleUser},
	}, broker, testLogger())
	ts := httptest.NewServer(srv.http.Handler)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	ws := dial(t, url, "u-token")
	readMsg(t, ws)

	ws.WriteJSON(ClientMessage{
		Action:   ActionSubscribe,
		Channels: []string{"market:tick:*", "indicators:**"},
	})
	msg := readMsg(t, ws)
	if len(msg.Channels) != 1 || len(msg.Errors) != 1 {
		t.Errorf("expected one grant and one refusal, got %+v", msg)
	}
}

func TestACL_FirstSegmentMustBeLiteral(t *testing.T) {
	cases := []struct {
		role, pattern string
		want          bool
	}{
		{RoleUser, "market:tick:*", true},
		{RoleUser, "indicators:**", true},
		{RoleUser, "engine:signal:*", false},
		{RoleUser, "**", false},
		{RoleUser, "*:tick:NIFTY", false},
		{RoleAdmin, "engine:decision:NIFTY", true},
		{RoleAdmin, "trading:executed:*", true},
	}
	for _, tc := range cases {
		if got := allowedPattern(tc.role, tc.pattern); got != tc.want {
			t.Errorf("allowedPattern(%s, %q) = %v, want %v", tc.role, tc.pattern, got, tc.want)
		}
	}
}

func waitForSubscribers(t *testing.T, b *bus.Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("broker never reached %d subscribers", n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
