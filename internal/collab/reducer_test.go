package collab

import (
	"testing"
	"time"
)

func ts(sec int) time.Time {
	return time.Date(2026, 3, 10, 9, 0, sec, 0, time.UTC)
}

func TestFoldPresenceKeepsOneRecordPerUser(t *testing.T) {
	s := newState()
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOnline, LastSeenAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u2", Status: StatusOnline, LastSeenAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusAway, LastSeenAt: ts(2)}})

	if len(s.ActiveUsers) != 2 {
		t.Fatalf("expected 2 users, got %d", len(s.ActiveUsers))
	}
	for _, u := range s.ActiveUsers {
		if u.UserID == "u1" && u.Status != StatusAway {
			t.Fatalf("expected u1 away, got %s", u.Status)
		}
	}
}

func TestFoldPresenceDropsStaleRecord(t *testing.T) {
	s := newState()
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOnline, LastSeenAt: ts(5)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOffline, LastSeenAt: ts(2)}})

	if got := s.ActiveUsers[0].Status; got != StatusOnline {
		t.Fatalf("stale presence overwrote newer one: got %s", got)
	}
	if got := s.ActiveUsers[0].LastSeenAt; !got.Equal(ts(5)) {
		t.Fatalf("last seen moved backwards: got %v", got)
	}
}

func TestFoldPresenceOfflineIsDeparture(t *testing.T) {
	s := newState()
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOnline, LastSeenAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u2", Status: StatusAway, LastSeenAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOffline, LastSeenAt: ts(2)}})

	if len(s.ActiveUsers) != 1 || s.ActiveUsers[0].UserID != "u2" {
		t.Fatalf("expected only u2 after u1 went offline, got %+v", s.ActiveUsers)
	}

	// Offline for an unknown user changes nothing.
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u3", Status: StatusOffline, LastSeenAt: ts(3)}})
	if len(s.ActiveUsers) != 1 {
		t.Fatalf("offline for unknown user changed the list: %+v", s.ActiveUsers)
	}
}

func TestRemoveUserDropsOnlyThatUser(t *testing.T) {
	s := newState()
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", Status: StatusOnline, LastSeenAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u2", Status: StatusOnline, LastSeenAt: ts(1)}})

	s, _ = reduce(s, removeUserAction{UserID: "u1"})
	if len(s.ActiveUsers) != 1 || s.ActiveUsers[0].UserID != "u2" {
		t.Fatalf("expected only u2 after removal, got %+v", s.ActiveUsers)
	}

	s, _ = reduce(s, removeUserAction{UserID: "u9"})
	if len(s.ActiveUsers) != 1 {
		t.Fatalf("removing unknown user changed the list: %+v", s.ActiveUsers)
	}
}

func TestSetPresenceListDedupes(t *testing.T) {
	s := newState()
	s, _ = reduce(s, setPresenceListAction{Users: []Presence{
		{UserID: "u1", LastSeenAt: ts(1)},
		{UserID: "u2", LastSeenAt: ts(1)},
		{UserID: "u1", LastSeenAt: ts(3)},
	}})
	if len(s.ActiveUsers) != 2 {
		t.Fatalf("expected 2 users, got %d", len(s.ActiveUsers))
	}
}

func TestInsertCommentNewestFirstAndIdempotent(t *testing.T) {
	s := newState()
	first := Comment{ID: "c1", Body: "first", CreatedAt: ts(1)}
	second := Comment{ID: "c2", Body: "second", CreatedAt: ts(2)}
	third := Comment{ID: "c3", Body: "third", CreatedAt: ts(3)}

	// Deliver out of order and with a duplicate.
	for _, a := range []action{
		addCommentAction{C: second},
		addCommentAction{C: third},
		addCommentAction{C: first},
		addCommentAction{C: second},
	} {
		s, _ = reduce(s, a)
	}

	if len(s.Comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(s.Comments))
	}
	for i, want := range []string{"c3", "c2", "c1"} {
		if s.Comments[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, s.Comments[i].ID)
		}
	}
}

func TestMergeCommentKeepsFirstResolver(t *testing.T) {
	resolvedAt := ts(4)
	s := newState()
	s, _ = reduce(s, addCommentAction{C: Comment{ID: "c1", Body: "x", CreatedAt: ts(1)}})
	s, _ = reduce(s, updateCommentAction{C: Comment{
		ID: "c1", Body: "x", CreatedAt: ts(1),
		Resolved: true, ResolvedBy: "u1", ResolvedAt: &resolvedAt,
	}})

	laterAt := ts(9)
	s, _ = reduce(s, updateCommentAction{C: Comment{
		ID: "c1", Body: "x", CreatedAt: ts(1),
		Resolved: true, ResolvedBy: "u2", ResolvedAt: &laterAt,
	}})

	got := s.Comments[0]
	if !got.Resolved || got.ResolvedBy != "u1" {
		t.Fatalf("expected first resolver u1 kept, got resolved=%v by %q", got.Resolved, got.ResolvedBy)
	}
	if !got.ResolvedAt.Equal(resolvedAt) {
		t.Fatalf("resolved-at changed: got %v", got.ResolvedAt)
	}
}

func TestMergeCommentIgnoresUnknownID(t *testing.T) {
	s := newState()
	s, _ = reduce(s, addCommentAction{C: Comment{ID: "c1", CreatedAt: ts(1)}})
	s, _ = reduce(s, updateCommentAction{C: Comment{ID: "nope", Body: "ghost"}})
	if len(s.Comments) != 1 || s.Comments[0].ID != "c1" {
		t.Fatalf("unexpected comments after unmatched update: %+v", s.Comments)
	}
}

func TestInsertMessageChronological(t *testing.T) {
	s := newState()
	for _, m := range []ChatMessage{
		{ID: "m2", CreatedAt: ts(2)},
		{ID: "m1", CreatedAt: ts(1)},
		{ID: "m3", CreatedAt: ts(3)},
		{ID: "m2", CreatedAt: ts(2)},
	} {
		s, _ = reduce(s, addMessageAction{M: m})
	}
	if len(s.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(s.Messages))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if s.Messages[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, s.Messages[i].ID)
		}
	}
}

func TestInsertActivityNewestFirst(t *testing.T) {
	s := newState()
	for _, a := range []Activity{
		{ID: "a1", CreatedAt: ts(1)},
		{ID: "a3", CreatedAt: ts(3)},
		{ID: "a2", CreatedAt: ts(2)},
	} {
		s, _ = reduce(s, addActivityAction{A: a})
	}
	for i, want := range []string{"a3", "a2", "a1"} {
		if s.Activities[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, s.Activities[i].ID)
		}
	}
}

func TestRemoveChannelEmitsCloseEffectOnce(t *testing.T) {
	ch := &stubChannel{}
	s := newState()
	s, _ = reduce(s, setChannelAction{Key: "matter-chat:m1", Ch: ch})

	s, effects := reduce(s, removeChannelAction{Key: "matter-chat:m1"})
	if len(effects) != 1 {
		t.Fatalf("expected 1 effect, got %d", len(effects))
	}
	eff, ok := effects[0].(closeChannelEffect)
	if !ok || eff.Key != "matter-chat:m1" {
		t.Fatalf("unexpected effect: %+v", effects[0])
	}

	// Removing an absent key must not emit another close.
	_, effects = reduce(s, removeChannelAction{Key: "matter-chat:m1"})
	if len(effects) != 0 {
		t.Fatalf("expected no effects on second removal, got %d", len(effects))
	}
}

func TestClearMatterResetsEverything(t *testing.T) {
	s := newState()
	s, _ = reduce(s, setMatterAction{ID: "m1"})
	s, _ = reduce(s, setDocumentAction{ID: "d1"})
	s, _ = reduce(s, addCommentAction{C: Comment{ID: "c1", CreatedAt: ts(1)}})
	s, _ = reduce(s, addMessageAction{M: ChatMessage{ID: "m1", CreatedAt: ts(1)}})
	s, _ = reduce(s, upsertPresenceAction{P: Presence{UserID: "u1", LastSeenAt: ts(1)}})

	s, _ = reduce(s, clearMatterAction{})

	if s.Connected || s.MatterID != "" || s.DocumentID != "" {
		t.Fatalf("scope not cleared: %+v", s)
	}
	if len(s.ActiveUsers)+len(s.Comments)+len(s.Activities)+len(s.Messages) != 0 {
		t.Fatalf("entity lists not cleared")
	}
}

func TestClearDocumentKeepsMatterState(t *testing.T) {
	s := newState()
	s, _ = reduce(s, setMatterAction{ID: "m1"})
	s, _ = reduce(s, setDocumentAction{ID: "d1"})
	s, _ = reduce(s, addCommentAction{C: Comment{ID: "c1", CreatedAt: ts(1)}})
	s, _ = reduce(s, addMessageAction{M: ChatMessage{ID: "msg1", CreatedAt: ts(1)}})

	s, _ = reduce(s, clearDocumentAction{})

	if s.DocumentID != "" || len(s.Comments) != 0 {
		t.Fatalf("document state not cleared: %+v", s)
	}
	if !s.Connected || s.MatterID != "m1" || len(s.Messages) != 1 {
		t.Fatalf("matter state lost on document clear: %+v", s)
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := newState()
	s, _ = reduce(s, addCommentAction{C: Comment{ID: "c1", CreatedAt: ts(2)}})
	before := s

	reduce(s, addCommentAction{C: Comment{ID: "c0", CreatedAt: ts(1)}})
	reduce(s, deleteCommentAction{ID: "c1"})

	if len(before.Comments) != 1 || before.Comments[0].ID != "c1" {
		t.Fatalf("input state mutated: %+v", before.Comments)
	}
}

type stubChannel struct {
	unsubscribed int
}

func (s *stubChannel) Unsubscribe() error {
	s.unsubscribed++
	return nil
}
