package nats

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/AlarmRelay/internal/logger"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
// Each test gets its own stream so runs do not see each other's messages.
func testConnect(t *testing.T) (q *Queue, subject string) {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	stream := "TEST_" + strings.ToUpper(name)
	subject = "alarms.test." + name

	q, err := Connect(context.Background(), url, stream, subject)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = q.js.DeleteStream(context.Background(), stream)
		if err := q.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return q, subject
}

func fetchOne(t *testing.T, q *Queue, subject string) jetstream.Msg {
	t.Helper()
	ctx := context.Background()

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}
	batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for msg := range batch.Messages() {
		_ = msg.Ack()
		return msg
	}
	t.Fatal("timed out waiting for message")
	return nil
}

func TestQueue_Publish(t *testing.T) {
	q, subject := testConnect(t)

	ctx := logger.WithRequestID(context.Background(), "req-abc-123")
	if err := q.Publish(ctx, subject, "relay-42", []byte(`{"id":42}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := fetchOne(t, q, subject)
	if string(msg.Data()) != `{"id":42}` {
		t.Errorf("data = %q", msg.Data())
	}
	if got := msg.Headers().Get("Nats-Msg-Id"); got != "relay-42" {
		t.Errorf("msg id header = %q, want relay-42", got)
	}
	if got := msg.Headers().Get(headerRequestID); got != "req-abc-123" {
		t.Errorf("request id header = %q, want req-abc-123", got)
	}
}

func TestQueue_PublishDeduplicates(t *testing.T) {
	q, subject := testConnect(t)
	ctx := context.Background()

	for range 2 {
		if err := q.Publish(ctx, subject, "7", []byte(`{"id":7}`)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		t.Fatal(err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.State.Msgs != 1 {
		t.Errorf("stream holds %d messages, want 1", info.State.Msgs)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	q, _ := testConnect(t)

	if !q.IsConnected() {
		t.Error("IsConnected() = false after Connect, want true")
	}
}
