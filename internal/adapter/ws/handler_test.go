package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/AlarmRelay/internal/adapter/fanout"
	"github.com/Strob0t/AlarmRelay/internal/adapter/memory"
	"github.com/Strob0t/AlarmRelay/internal/adapter/ws"
	"github.com/Strob0t/AlarmRelay/internal/domain/alarm"
	"github.com/Strob0t/AlarmRelay/internal/service"
)

func dial(t *testing.T, relay *service.RelayService, opts ws.Options) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ws.NewHandler(relay, opts))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) ws.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func draft(body string) alarm.Draft {
	return alarm.Draft{ReceivedAt: time.Now().UTC(), SourceAddress: "10.0.0.9", Body: json.RawMessage(body)}
}

func TestHandler_SnapshotThenAlarms(t *testing.T) {
	relay := service.NewRelayService(memory.NewStore(100), fanout.NewHub(16))
	relay.Ingest(context.Background(), draft(`{"n":1}`))

	c := dial(t, relay, ws.Options{HeartbeatInterval: time.Hour, WriteTimeout: time.Second})

	snap := readMessage(t, c)
	if snap.Type != ws.TypeSnapshot || snap.ID != 0 {
		t.Fatalf("first message = %+v", snap)
	}
	var s alarm.Snapshot
	if err := json.Unmarshal(snap.Payload, &s); err != nil {
		t.Fatal(err)
	}
	if len(s.Items) != 1 || s.Items[0].ID != 1 {
		t.Fatalf("snapshot payload = %s", snap.Payload)
	}

	relay.Ingest(context.Background(), draft(`{"n":2}`))
	msg := readMessage(t, c)
	if msg.Type != ws.TypeAlarm || msg.ID != 2 {
		t.Fatalf("alarm message = %+v", msg)
	}
	var ev alarm.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if string(ev.Body) != `{"n":2}` {
		t.Fatalf("body = %s", ev.Body)
	}
}

func TestHandler_RelayCloseEndsSession(t *testing.T) {
	relay := service.NewRelayService(memory.NewStore(100), fanout.NewHub(16))
	c := dial(t, relay, ws.Options{HeartbeatInterval: time.Hour, WriteTimeout: time.Second})
	_ = readMessage(t, c)

	relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want StatusGoingAway", got, err)
	}
}

func TestHandler_ClientCloseUnsubscribes(t *testing.T) {
	relay := service.NewRelayService(memory.NewStore(100), fanout.NewHub(16))
	c := dial(t, relay, ws.Options{HeartbeatInterval: 10 * time.Millisecond, WriteTimeout: time.Second})
	_ = readMessage(t, c)

	if relay.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", relay.Subscribers())
	}
	_ = c.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for relay.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still subscribed after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
