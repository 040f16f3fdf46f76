package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"docket/api/internal/collab"
)

func setupTestBroker(t *testing.T) *Broker {
	s := miniredis.RunT(t)
	broker, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create broker: %v", err)
	}
	t.Cleanup(func() { broker.Close() })
	return broker
}

func testEvent(t *testing.T, entity collab.EntityKind, v any) collab.Event {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return collab.Event{Op: collab.OpInsert, Entity: entity, Payload: payload, At: time.Now()}
}

func TestNewBroker(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	broker, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer broker.Close()

	if err := broker.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewBrokerBadURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	broker := setupTestBroker(t)
	ctx := context.Background()

	received := make(chan collab.Event, 1)
	ch, err := broker.Subscribe(ctx, "matter-chat:mat_1", collab.EventFilter{}, func(ev collab.Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer ch.Unsubscribe()

	sent := testEvent(t, collab.EntityMessage, collab.ChatMessage{ID: "m1", Body: "hello"})
	if err := broker.Publish(ctx, "matter-chat:mat_1", sent); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Entity != collab.EntityMessage || got.Op != collab.OpInsert {
			t.Fatalf("unexpected event: %+v", got)
		}
		var msg collab.ChatMessage
		if err := json.Unmarshal(got.Payload, &msg); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if msg.ID != "m1" || msg.Body != "hello" {
			t.Fatalf("unexpected payload: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestSubscribeTopicIsolation(t *testing.T) {
	broker := setupTestBroker(t)
	ctx := context.Background()

	received := make(chan collab.Event, 1)
	ch, err := broker.Subscribe(ctx, "matter-chat:mat_1", collab.EventFilter{}, func(ev collab.Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer ch.Unsubscribe()

	ev := testEvent(t, collab.EntityMessage, collab.ChatMessage{ID: "m1"})
	if err := broker.Publish(ctx, "matter-chat:mat_2", ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		t.Fatalf("received event from another topic: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeFilterDropsOtherEntities(t *testing.T) {
	broker := setupTestBroker(t)
	ctx := context.Background()

	received := make(chan collab.Event, 2)
	filter := collab.EventFilter{Entities: []collab.EntityKind{collab.EntityComment}}
	ch, err := broker.Subscribe(ctx, "document-comments:doc_1", filter, func(ev collab.Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer ch.Unsubscribe()

	if err := broker.Publish(ctx, "document-comments:doc_1", testEvent(t, collab.EntityMessage, collab.ChatMessage{ID: "m1"})); err != nil {
		t.Fatalf("Publish message: %v", err)
	}
	if err := broker.Publish(ctx, "document-comments:doc_1", testEvent(t, collab.EntityComment, collab.Comment{ID: "c1"})); err != nil {
		t.Fatalf("Publish comment: %v", err)
	}

	select {
	case got := <-received:
		if got.Entity != collab.EntityComment {
			t.Fatalf("filter passed wrong entity: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("comment event never delivered")
	}
	select {
	case got := <-received:
		t.Fatalf("unexpected second event: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := setupTestBroker(t)
	ctx := context.Background()

	received := make(chan collab.Event, 1)
	ch, err := broker.Subscribe(ctx, "matter-presence:mat_1", collab.EventFilter{}, func(ev collab.Event) {
		received <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := ch.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	// Second call must be a no-op.
	if err := ch.Unsubscribe(); err != nil {
		t.Fatalf("repeated Unsubscribe failed: %v", err)
	}

	ev := testEvent(t, collab.EntityPresence, collab.Presence{UserID: "u1"})
	if err := broker.Publish(ctx, "matter-presence:mat_1", ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		t.Fatalf("received event after unsubscribe: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}
