package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"docket/api/internal/collab"
	"docket/api/internal/realtime"
	"docket/api/internal/store"
)

func newBrokerService(t *testing.T, st *fakeStore) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	broker := realtime.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = broker.Close() })

	svc := NewService(testConfig(), st, nil, broker, nil, nil, nil, nil)
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func TestSnapshotConvergesOnPublishedChat(t *testing.T) {
	svc := newBrokerService(t, &fakeStore{})
	ctx := context.Background()
	session := attorneySession()

	// First snapshot joins the matter server-side with empty state.
	snap, err := svc.MatterSnapshot(ctx, session, "mat_1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Connected || snap.MatterID != "mat_1" {
		t.Fatalf("expected connected snapshot for mat_1, got %+v", snap)
	}
	if len(snap.Messages) != 0 {
		t.Fatalf("expected empty chat, got %d messages", len(snap.Messages))
	}

	if _, err := svc.SendMessage(ctx, session, "mat_1", collab.MessageDraft{Body: "motion filed"}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// The hosted engine folds the published event asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err = svc.MatterSnapshot(ctx, session, "mat_1")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(snap.Messages) == 1 && snap.Messages[0].Body == "motion filed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never picked up the chat message: %+v", snap.Messages)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotConvergesOnPresenceHeartbeat(t *testing.T) {
	svc := newBrokerService(t, &fakeStore{})
	ctx := context.Background()
	session := attorneySession()

	if _, err := svc.MatterSnapshot(ctx, session, "mat_1"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if _, err := svc.Heartbeat(ctx, session, "mat_1", "doc_1", collab.StatusOnline, nil); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := svc.MatterSnapshot(ctx, session, "mat_1")
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if len(snap.ActiveUsers) == 1 && snap.ActiveUsers[0].UserID == "usr_1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never picked up presence: %+v", snap.ActiveUsers)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotRequiresMembership(t *testing.T) {
	st := &fakeStore{
		getMemberRoleFn: func(context.Context, string, string) (string, error) {
			return "", store.ErrNotFound
		},
	}
	svc := newBrokerService(t, st)

	if _, err := svc.MatterSnapshot(context.Background(), attorneySession(), "mat_1"); err == nil {
		t.Fatal("expected forbidden error")
	}
}

func TestSnapshotWithoutTransportUnavailable(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.MatterSnapshot(context.Background(), attorneySession(), "mat_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "REALTIME_UNAVAILABLE" {
		t.Fatalf("expected REALTIME_UNAVAILABLE, got %v", err)
	}
}
