package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type EntityKind string

const (
	EntityPresence EntityKind = "presence"
	EntityComment  EntityKind = "comment"
	EntityActivity EntityKind = "activity"
	EntityMessage  EntityKind = "message"
)

// Event is one change notification delivered by the transport.
type Event struct {
	Op      Op              `json:"op"`
	Entity  EntityKind      `json:"entity"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// EventFilter restricts a subscription to certain entity kinds. An empty
// filter matches everything.
type EventFilter struct {
	Entities []EntityKind
}

func (f EventFilter) Match(ev Event) bool {
	if len(f.Entities) == 0 {
		return true
	}
	for _, entity := range f.Entities {
		if entity == ev.Entity {
			return true
		}
	}
	return false
}

// normalizeEvent converts a raw transport notification into a typed reducer
// action. Events the engine cannot type are an error; the caller logs and
// drops them rather than folding garbage into state.
func normalizeEvent(ev Event) (action, error) {
	switch ev.Entity {
	case EntityPresence:
		var p Presence
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode presence payload: %w", err)
		}
		switch ev.Op {
		case OpInsert, OpUpdate:
			return upsertPresenceAction{P: p}, nil
		case OpDelete:
			return removeUserAction{UserID: p.UserID}, nil
		}
	case EntityComment:
		var c Comment
		if err := json.Unmarshal(ev.Payload, &c); err != nil {
			return nil, fmt.Errorf("decode comment payload: %w", err)
		}
		switch ev.Op {
		case OpInsert:
			return addCommentAction{C: c}, nil
		case OpUpdate:
			return updateCommentAction{C: c}, nil
		case OpDelete:
			return deleteCommentAction{ID: c.ID}, nil
		}
	case EntityActivity:
		var a Activity
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode activity payload: %w", err)
		}
		if ev.Op == OpInsert {
			return addActivityAction{A: a}, nil
		}
	case EntityMessage:
		var m ChatMessage
		if err := json.Unmarshal(ev.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode message payload: %w", err)
		}
		switch ev.Op {
		case OpInsert:
			return addMessageAction{M: m}, nil
		case OpUpdate:
			return updateMessageAction{M: m}, nil
		}
	}
	return nil, fmt.Errorf("unsupported event %s/%s", ev.Entity, ev.Op)
}
