package collab

// State is the canonical client-side view of one matter's collaboration
// data. It is only ever replaced wholesale by reduce, never mutated in
// place, so snapshots taken at different times stay independent.
type State struct {
	MatterID   string
	DocumentID string
	Connected  bool
	Degraded   bool

	// ActiveUsers holds at most one presence record per user.
	ActiveUsers []Presence
	// Comments for the joined document, newest-created-first.
	Comments []Comment
	// Activities for the joined matter, newest-first.
	Activities []Activity
	// Messages for the joined matter, oldest-first (chronological).
	Messages []ChatMessage

	// Channels maps channel keys to open transport handles. Handles are
	// opaque bookkeeping here; only effects touch them.
	Channels map[string]Channel
}

func newState() State {
	return State{Channels: make(map[string]Channel)}
}

// action is the sealed set of state transitions. Remote events are
// normalized into these; local commands construct them directly.
type action interface{ isAction() }

type setPresenceListAction struct{ Users []Presence }
type upsertPresenceAction struct{ P Presence }
type removeUserAction struct{ UserID string }
type setCommentsAction struct{ Comments []Comment }
type addCommentAction struct{ C Comment }
type updateCommentAction struct{ C Comment }
type deleteCommentAction struct{ ID string }
type setActivitiesAction struct{ Activities []Activity }
type addActivityAction struct{ A Activity }
type setMessagesAction struct{ Messages []ChatMessage }
type addMessageAction struct{ M ChatMessage }
type updateMessageAction struct{ M ChatMessage }

type setChannelAction struct {
	Key string
	Ch  Channel
}
type removeChannelAction struct{ Key string }

type setMatterAction struct{ ID string }
type clearMatterAction struct{}
type setDocumentAction struct{ ID string }
type clearDocumentAction struct{}
type setDegradedAction struct{ Degraded bool }

func (setPresenceListAction) isAction() {}
func (upsertPresenceAction) isAction()  {}
func (removeUserAction) isAction()      {}
func (setCommentsAction) isAction()     {}
func (addCommentAction) isAction()      {}
func (updateCommentAction) isAction()   {}
func (deleteCommentAction) isAction()   {}
func (setActivitiesAction) isAction()   {}
func (addActivityAction) isAction()     {}
func (setMessagesAction) isAction()     {}
func (addMessageAction) isAction()      {}
func (updateMessageAction) isAction()   {}
func (setChannelAction) isAction()      {}
func (removeChannelAction) isAction()   {}
func (setMatterAction) isAction()       {}
func (clearMatterAction) isAction()     {}
func (setDocumentAction) isAction()     {}
func (clearDocumentAction) isAction()   {}
func (setDegradedAction) isAction()     {}

// effect is a side effect the reducer requests but never executes itself;
// the facade runs effects after folding so the reducer stays pure.
type effect interface{ isEffect() }

type closeChannelEffect struct {
	Key string
	Ch  Channel
}

func (closeChannelEffect) isEffect() {}

// reduce folds one action into prior state and returns the next state plus
// any effects to run. It performs no I/O and never mutates its input.
func reduce(s State, a action) (State, []effect) {
	switch act := a.(type) {
	case setPresenceListAction:
		s.ActiveUsers = dedupePresence(act.Users)

	case upsertPresenceAction:
		s.ActiveUsers = foldPresence(s.ActiveUsers, act.P)

	case removeUserAction:
		s.ActiveUsers = removePresence(s.ActiveUsers, act.UserID)

	case setCommentsAction:
		s.Comments = append([]Comment(nil), act.Comments...)

	case addCommentAction:
		s.Comments = insertComment(s.Comments, act.C)

	case updateCommentAction:
		s.Comments = mergeComment(s.Comments, act.C)

	case deleteCommentAction:
		comments := make([]Comment, 0, len(s.Comments))
		for _, c := range s.Comments {
			if c.ID != act.ID {
				comments = append(comments, c)
			}
		}
		s.Comments = comments

	case setActivitiesAction:
		s.Activities = append([]Activity(nil), act.Activities...)

	case addActivityAction:
		s.Activities = insertActivity(s.Activities, act.A)

	case setMessagesAction:
		s.Messages = append([]ChatMessage(nil), act.Messages...)

	case addMessageAction:
		s.Messages = insertMessage(s.Messages, act.M)

	case updateMessageAction:
		s.Messages = mergeMessage(s.Messages, act.M)

	case setChannelAction:
		channels := copyChannels(s.Channels)
		channels[act.Key] = act.Ch
		s.Channels = channels

	case removeChannelAction:
		ch, ok := s.Channels[act.Key]
		if !ok {
			return s, nil
		}
		channels := copyChannels(s.Channels)
		delete(channels, act.Key)
		s.Channels = channels
		return s, []effect{closeChannelEffect{Key: act.Key, Ch: ch}}

	case setMatterAction:
		s.MatterID = act.ID
		s.Connected = true

	case clearMatterAction:
		s.MatterID = ""
		s.DocumentID = ""
		s.Connected = false
		s.ActiveUsers = nil
		s.Comments = nil
		s.Activities = nil
		s.Messages = nil

	case setDocumentAction:
		s.DocumentID = act.ID

	case clearDocumentAction:
		s.DocumentID = ""
		s.Comments = nil

	case setDegradedAction:
		s.Degraded = act.Degraded
	}
	return s, nil
}

// foldPresence replaces any existing record for the same user, keeping the
// list free of duplicates. A record whose last-seen precedes the one already
// held is stale redelivery and is dropped so last-seen never moves backwards.
// An offline record that passes the staleness check is a departure and
// removes the user instead of being held for display.
func foldPresence(users []Presence, incoming Presence) []Presence {
	for i, u := range users {
		if u.UserID != incoming.UserID {
			continue
		}
		if incoming.LastSeenAt.Before(u.LastSeenAt) {
			return users
		}
		if incoming.Status == StatusOffline {
			return removePresence(users, incoming.UserID)
		}
		next := append([]Presence(nil), users...)
		next[i] = incoming
		return next
	}
	if incoming.Status == StatusOffline {
		return users
	}
	return append(append([]Presence(nil), users...), incoming)
}

// removePresence drops the user's record, if any, without mutating input.
func removePresence(users []Presence, userID string) []Presence {
	next := make([]Presence, 0, len(users))
	for _, u := range users {
		if u.UserID != userID {
			next = append(next, u)
		}
	}
	return next
}

func dedupePresence(users []Presence) []Presence {
	out := make([]Presence, 0, len(users))
	for _, u := range users {
		out = foldPresence(out, u)
	}
	return out
}

// insertComment places a comment at its sorted position (newest-first).
// Redelivered ids are dropped so the fold is idempotent.
func insertComment(comments []Comment, c Comment) []Comment {
	for _, existing := range comments {
		if existing.ID == c.ID {
			return comments
		}
	}
	at := len(comments)
	for i, existing := range comments {
		if c.CreatedAt.After(existing.CreatedAt) {
			at = i
			break
		}
	}
	next := make([]Comment, 0, len(comments)+1)
	next = append(next, comments[:at]...)
	next = append(next, c)
	next = append(next, comments[at:]...)
	return next
}

// mergeComment applies a comment update matched by id. Unmatched updates
// are dropped: the entity may belong to a scope no longer tracked. Resolve
// metadata is first-write-wins so a replayed resolve cannot clobber the
// original resolver.
func mergeComment(comments []Comment, incoming Comment) []Comment {
	for i, existing := range comments {
		if existing.ID != incoming.ID {
			continue
		}
		merged := incoming
		if existing.Resolved {
			merged.Resolved = true
			merged.ResolvedBy = existing.ResolvedBy
			merged.ResolvedAt = existing.ResolvedAt
		}
		next := append([]Comment(nil), comments...)
		next[i] = merged
		return next
	}
	return comments
}

func insertActivity(activities []Activity, a Activity) []Activity {
	for _, existing := range activities {
		if existing.ID == a.ID {
			return activities
		}
	}
	at := len(activities)
	for i, existing := range activities {
		if a.CreatedAt.After(existing.CreatedAt) {
			at = i
			break
		}
	}
	next := make([]Activity, 0, len(activities)+1)
	next = append(next, activities[:at]...)
	next = append(next, a)
	next = append(next, activities[at:]...)
	return next
}

// insertMessage keeps chat in chronological (oldest-first) order.
func insertMessage(messages []ChatMessage, m ChatMessage) []ChatMessage {
	for _, existing := range messages {
		if existing.ID == m.ID {
			return messages
		}
	}
	at := len(messages)
	for i, existing := range messages {
		if existing.CreatedAt.After(m.CreatedAt) {
			at = i
			break
		}
	}
	next := make([]ChatMessage, 0, len(messages)+1)
	next = append(next, messages[:at]...)
	next = append(next, m)
	next = append(next, messages[at:]...)
	return next
}

func mergeMessage(messages []ChatMessage, incoming ChatMessage) []ChatMessage {
	for i, existing := range messages {
		if existing.ID != incoming.ID {
			continue
		}
		next := append([]ChatMessage(nil), messages...)
		next[i] = incoming
		return next
	}
	return messages
}

func copyChannels(channels map[string]Channel) map[string]Channel {
	next := make(map[string]Channel, len(channels))
	for key, ch := range channels {
		next[key] = ch
	}
	return next
}
