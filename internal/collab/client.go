package collab

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Store is the durable backend the engine reads and mutates. Implementations
// assign ids and timestamps server-side; every mutation returns the
// authoritative stored entity, which is what gets folded into state.
type Store interface {
	ListPresence(ctx context.Context, matterID string) ([]Presence, error)
	UpsertPresence(ctx context.Context, p Presence) (Presence, error)

	ListComments(ctx context.Context, documentID string) ([]Comment, error)
	InsertComment(ctx context.Context, c Comment) (Comment, error)
	UpdateComment(ctx context.Context, id string, patch CommentPatch) (Comment, error)
	ResolveComment(ctx context.Context, id, resolverID string) (Comment, error)
	DeleteComment(ctx context.Context, id string) error

	ListActivity(ctx context.Context, matterID string, limit int) ([]Activity, error)
	InsertActivity(ctx context.Context, a Activity) (Activity, error)

	ListMessages(ctx context.Context, matterID string, limit int) ([]ChatMessage, error)
	InsertMessage(ctx context.Context, m ChatMessage) (ChatMessage, error)
	UpdateMessage(ctx context.Context, id, body string) (ChatMessage, error)
}

// Transport is the pub/sub primitive delivering change notifications.
// Handlers run one event at a time per channel, in delivery order. There is
// no ordering guarantee across channels.
type Transport interface {
	Subscribe(ctx context.Context, topic string, filter EventFilter, handler func(Event)) (Channel, error)
	Publish(ctx context.Context, topic string, ev Event) error
}

// Channel is an open subscription handle. Unsubscribe is idempotent.
type Channel interface {
	Unsubscribe() error
}

// Identity supplies the current actor, or reports that none is established.
type Identity interface {
	CurrentUser() (User, bool)
}

type ErrorKind string

const (
	// ErrorTransient failures (subscribe, publish) are retried or absorbed;
	// the snapshot is flagged degraded while a channel is down.
	ErrorTransient ErrorKind = "transient"
	// ErrorPermanent failures exhausted their retries or cannot be retried.
	ErrorPermanent ErrorKind = "permanent"
)

// Error is a failure surfaced on the client's error channel.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

const (
	defaultActivityLimit   = 50
	defaultChatLimit       = 100
	defaultRetryBase       = 500 * time.Millisecond
	maxSubscribeAttempts   = 5
	errorChannelBufferSize = 16
)

// Client is the collaboration facade: one instance per connected client,
// owning the subscription map and state tree exclusively. All commands and
// transport callbacks serialize on one mutex, so folds never run
// concurrently with each other.
type Client struct {
	store     Store
	transport Transport
	identity  Identity

	activityLimit int
	chatLimit     int
	retryBase     time.Duration

	mu    sync.Mutex
	state State

	errs   chan Error
	closed chan struct{}
}

// New creates a client with the default initial page sizes (50 activity
// entries, 100 chat messages).
func New(store Store, transport Transport, identity Identity) *Client {
	return NewWithPageSizes(store, transport, identity, defaultActivityLimit, defaultChatLimit)
}

// NewWithPageSizes creates a client with explicit initial page sizes.
func NewWithPageSizes(store Store, transport Transport, identity Identity, activityLimit, chatLimit int) *Client {
	if activityLimit <= 0 {
		activityLimit = defaultActivityLimit
	}
	if chatLimit <= 0 {
		chatLimit = defaultChatLimit
	}
	return &Client{
		store:         store,
		transport:     transport,
		identity:      identity,
		activityLimit: activityLimit,
		chatLimit:     chatLimit,
		retryBase:     defaultRetryBase,
		state:         newState(),
		errs:          make(chan Error, errorChannelBufferSize),
		closed:        make(chan struct{}),
	}
}

// Errors exposes subscription and publish failures the engine absorbed.
// The channel is buffered; when no one drains it, reports are dropped
// rather than blocking the engine.
func (c *Client) Errors() <-chan Error {
	return c.errs
}

// JoinMatter opens the presence, activity and chat channels for the matter,
// loads the initial state and marks the actor online. Joining the
// already-joined matter only refreshes presence. Joining a different matter
// first runs the full LeaveMatter teardown for the old one. When the
// initial load fails the join is torn back down, so a retry repeats it.
func (c *Client) JoinMatter(ctx context.Context, matterID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Connected && c.state.MatterID == matterID {
		c.markOnlineLocked(ctx)
		return nil
	}
	if c.state.Connected {
		c.leaveMatterLocked(ctx, c.state.MatterID)
	}

	c.applyLocked(setMatterAction{ID: matterID})

	for _, kind := range matterScopes {
		if err := c.subscribeLocked(ctx, kind, matterID); err != nil {
			c.reportLocked(ErrorTransient, "subscribe "+channelKey(kind, matterID), err)
			go c.retrySubscribe(kind, matterID)
		}
	}
	c.refreshDegradedLocked()

	if err := c.loadMatterLocked(ctx, matterID); err != nil {
		// Roll the half-open join back so a retry starts clean instead of
		// hitting the already-joined branch with empty state.
		c.leaveMatterLocked(ctx, matterID)
		return err
	}
	c.markOnlineLocked(ctx)
	return nil
}

// LeaveMatter marks the actor offline, tears down every channel keyed under
// the matter (including an open document channel) and clears the joined
// state. Calling it for a matter that is not joined is a no-op.
func (c *Client) LeaveMatter(ctx context.Context, matterID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveMatterLocked(ctx, matterID)
}

// JoinDocument opens the comment channel for the document and loads its
// comments. It requires a joined matter; without one it is a no-op.
func (c *Client) JoinDocument(ctx context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Connected {
		log.Printf("collab: join document %s ignored: no matter joined", documentID)
		return nil
	}
	if c.state.DocumentID == documentID {
		return nil
	}
	if c.state.DocumentID != "" {
		c.leaveDocumentLocked(c.state.DocumentID)
	}

	c.applyLocked(setDocumentAction{ID: documentID})

	if err := c.subscribeLocked(ctx, scopeDocumentComments, documentID); err != nil {
		c.reportLocked(ErrorTransient, "subscribe "+channelKey(scopeDocumentComments, documentID), err)
		go c.retrySubscribe(scopeDocumentComments, documentID)
	}
	c.refreshDegradedLocked()

	comments, err := c.store.ListComments(ctx, documentID)
	if err != nil {
		c.reportLocked(ErrorPermanent, "load comments", err)
		return err
	}
	c.applyLocked(setCommentsAction{Comments: comments})
	c.updatePresenceLocked(ctx, c.state.MatterID, documentID, nil)
	return nil
}

// LeaveDocument closes the document's comment channel and drops the
// document reference from presence. Presence itself remains, scoped to the
// matter.
func (c *Client) LeaveDocument(ctx context.Context, documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.DocumentID != documentID {
		return
	}
	c.leaveDocumentLocked(documentID)
	c.updatePresenceLocked(ctx, c.state.MatterID, "", nil)
}

// Close is the deterministic teardown path: it leaves the joined matter
// (marking the actor offline and releasing every channel) and stops retry
// goroutines. Safe to call more than once.
func (c *Client) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Connected {
		c.leaveMatterLocked(ctx, c.state.MatterID)
	}
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// AddComment persists a new comment and folds the stored result. Without an
// established actor or joined matter this is a no-op.
func (c *Client) AddComment(ctx context.Context, draft CommentDraft) (Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, ok := c.actorLocked("add comment")
	if !ok {
		return Comment{}, nil
	}
	documentID := draft.DocumentID
	if documentID == "" {
		documentID = c.state.DocumentID
	}
	if documentID == "" {
		log.Printf("collab: add comment ignored: no document scope")
		return Comment{}, nil
	}
	kind := draft.Kind
	if kind == "" {
		kind = KindComment
	}

	stored, err := c.store.InsertComment(ctx, Comment{
		DocumentID: documentID,
		ParentID:   draft.ParentID,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		Kind:       kind,
		Body:       draft.Body,
	})
	if err != nil {
		c.reportLocked(ErrorPermanent, "insert comment", err)
		return Comment{}, err
	}
	c.applyLocked(addCommentAction{C: stored})
	c.publishLocked(ctx, channelKey(scopeDocumentComments, documentID), OpInsert, EntityComment, stored)
	return stored, nil
}

// UpdateComment applies a partial update to a comment and folds the stored
// result.
func (c *Client) UpdateComment(ctx context.Context, id string, patch CommentPatch) (Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.actorLocked("update comment"); !ok {
		return Comment{}, nil
	}
	stored, err := c.store.UpdateComment(ctx, id, patch)
	if err != nil {
		c.reportLocked(ErrorPermanent, "update comment", err)
		return Comment{}, err
	}
	c.applyLocked(updateCommentAction{C: stored})
	c.publishLocked(ctx, channelKey(scopeDocumentComments, stored.DocumentID), OpUpdate, EntityComment, stored)
	return stored, nil
}

// ResolveComment marks a comment resolved by the current actor. The store
// keeps the first resolver: resolving an already-resolved comment returns
// it unchanged.
func (c *Client) ResolveComment(ctx context.Context, id string) (Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, ok := c.actorLocked("resolve comment")
	if !ok {
		return Comment{}, nil
	}
	stored, err := c.store.ResolveComment(ctx, id, user.ID)
	if err != nil {
		c.reportLocked(ErrorPermanent, "resolve comment", err)
		return Comment{}, err
	}
	c.applyLocked(updateCommentAction{C: stored})
	c.publishLocked(ctx, channelKey(scopeDocumentComments, stored.DocumentID), OpUpdate, EntityComment, stored)
	return stored, nil
}

// DeleteComment removes a comment from the store and from local state.
func (c *Client) DeleteComment(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.actorLocked("delete comment"); !ok {
		return nil
	}
	documentID := c.state.DocumentID
	for _, existing := range c.state.Comments {
		if existing.ID == id {
			documentID = existing.DocumentID
			break
		}
	}
	if err := c.store.DeleteComment(ctx, id); err != nil {
		c.reportLocked(ErrorPermanent, "delete comment", err)
		return err
	}
	c.applyLocked(deleteCommentAction{ID: id})
	if documentID != "" {
		c.publishLocked(ctx, channelKey(scopeDocumentComments, documentID), OpDelete, EntityComment, Comment{ID: id, DocumentID: documentID})
	}
	return nil
}

// AddActivity appends an entry to the matter's activity log.
func (c *Client) AddActivity(ctx context.Context, draft ActivityDraft) (Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, ok := c.actorLocked("add activity")
	if !ok {
		return Activity{}, nil
	}
	if !c.state.Connected {
		log.Printf("collab: add activity ignored: no matter joined")
		return Activity{}, nil
	}

	stored, err := c.store.InsertActivity(ctx, Activity{
		MatterID:  c.state.MatterID,
		ActorID:   user.ID,
		ActorName: user.Name,
		Kind:      draft.Kind,
		TargetID:  draft.TargetID,
		Detail:    draft.Detail,
	})
	if err != nil {
		c.reportLocked(ErrorPermanent, "insert activity", err)
		return Activity{}, err
	}
	c.applyLocked(addActivityAction{A: stored})
	c.publishLocked(ctx, channelKey(scopeMatterActivity, stored.MatterID), OpInsert, EntityActivity, stored)
	return stored, nil
}

// SendMessage appends a chat message to the matter's conversation.
func (c *Client) SendMessage(ctx context.Context, draft MessageDraft) (ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, ok := c.actorLocked("send message")
	if !ok {
		return ChatMessage{}, nil
	}
	if !c.state.Connected {
		log.Printf("collab: send message ignored: no matter joined")
		return ChatMessage{}, nil
	}
	kind := draft.Kind
	if kind == "" {
		kind = ChatText
	}

	stored, err := c.store.InsertMessage(ctx, ChatMessage{
		MatterID:   c.state.MatterID,
		ThreadID:   draft.ThreadID,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		Kind:       kind,
		Body:       draft.Body,
		FileKey:    draft.FileKey,
	})
	if err != nil {
		c.reportLocked(ErrorPermanent, "insert message", err)
		return ChatMessage{}, err
	}
	c.applyLocked(addMessageAction{M: stored})
	c.publishLocked(ctx, channelKey(scopeMatterChat, stored.MatterID), OpInsert, EntityMessage, stored)
	return stored, nil
}

// EditMessage replaces a message body, marking it edited.
func (c *Client) EditMessage(ctx context.Context, id, body string) (ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.actorLocked("edit message"); !ok {
		return ChatMessage{}, nil
	}
	stored, err := c.store.UpdateMessage(ctx, id, body)
	if err != nil {
		c.reportLocked(ErrorPermanent, "update message", err)
		return ChatMessage{}, err
	}
	c.applyLocked(updateMessageAction{M: stored})
	c.publishLocked(ctx, channelKey(scopeMatterChat, stored.MatterID), OpUpdate, EntityMessage, stored)
	return stored, nil
}

// Snapshot returns a copy of the current state for the UI to read. Entries
// within one entity type keep their fold order; no ordering is implied
// between entity types.
type Snapshot struct {
	MatterID    string
	DocumentID  string
	Connected   bool
	Degraded    bool
	ActiveUsers []Presence
	Comments    []Comment
	Activities  []Activity
	Messages    []ChatMessage
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		MatterID:    c.state.MatterID,
		DocumentID:  c.state.DocumentID,
		Connected:   c.state.Connected,
		Degraded:    c.state.Degraded,
		ActiveUsers: append([]Presence(nil), c.state.ActiveUsers...),
		Comments:    append([]Comment(nil), c.state.Comments...),
		Activities:  append([]Activity(nil), c.state.Activities...),
		Messages:    append([]ChatMessage(nil), c.state.Messages...),
	}
}

// --- internals ---

func (c *Client) actorLocked(op string) (User, bool) {
	user, ok := c.identity.CurrentUser()
	if !ok {
		log.Printf("collab: %s ignored: no actor established", op)
	}
	return user, ok
}

// applyLocked folds one action and runs whatever effects the reducer asked
// for. Must be called with c.mu held.
func (c *Client) applyLocked(a action) {
	next, effects := reduce(c.state, a)
	c.state = next
	for _, eff := range effects {
		switch e := eff.(type) {
		case closeChannelEffect:
			if err := e.Ch.Unsubscribe(); err != nil {
				c.reportLocked(ErrorTransient, "unsubscribe "+e.Key, err)
			}
		}
	}
}

func (c *Client) subscribeLocked(ctx context.Context, kind scopeKind, scopeID string) error {
	key := channelKey(kind, scopeID)
	ch, err := c.transport.Subscribe(ctx, key, filterFor(kind), func(ev Event) {
		c.handleEvent(key, ev)
	})
	if err != nil {
		return err
	}
	c.applyLocked(setChannelAction{Key: key, Ch: ch})
	return nil
}

// handleEvent folds one remote event. Events for channel keys no longer in
// the subscription map are discarded: unsubscribe is not instantaneous, so
// late deliveries for a left scope are expected and must not touch state.
func (c *Client) handleEvent(key string, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.Channels[key]; !ok {
		return
	}
	act, err := normalizeEvent(ev)
	if err != nil {
		log.Printf("collab: dropping event on %s: %v", key, err)
		return
	}
	c.applyLocked(act)
}

func (c *Client) loadMatterLocked(ctx context.Context, matterID string) error {
	users, err := c.store.ListPresence(ctx, matterID)
	if err != nil {
		c.reportLocked(ErrorPermanent, "load presence", err)
		return err
	}
	activities, err := c.store.ListActivity(ctx, matterID, c.activityLimit)
	if err != nil {
		c.reportLocked(ErrorPermanent, "load activity", err)
		return err
	}
	messages, err := c.store.ListMessages(ctx, matterID, c.chatLimit)
	if err != nil {
		c.reportLocked(ErrorPermanent, "load messages", err)
		return err
	}
	c.applyLocked(setPresenceListAction{Users: users})
	c.applyLocked(setActivitiesAction{Activities: activities})
	c.applyLocked(setMessagesAction{Messages: messages})
	return nil
}

func (c *Client) leaveMatterLocked(ctx context.Context, matterID string) {
	if !c.state.Connected || c.state.MatterID != matterID {
		return
	}
	c.setOfflineLocked(ctx)
	if c.state.DocumentID != "" {
		c.applyLocked(removeChannelAction{Key: channelKey(scopeDocumentComments, c.state.DocumentID)})
	}
	for _, kind := range matterScopes {
		c.applyLocked(removeChannelAction{Key: channelKey(kind, matterID)})
	}
	c.applyLocked(clearMatterAction{})
	c.refreshDegradedLocked()
}

func (c *Client) leaveDocumentLocked(documentID string) {
	c.applyLocked(removeChannelAction{Key: channelKey(scopeDocumentComments, documentID)})
	c.applyLocked(clearDocumentAction{})
}

func (c *Client) publishLocked(ctx context.Context, topic string, op Op, entity EntityKind, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.reportLocked(ErrorTransient, "encode event for "+topic, err)
		return
	}
	ev := Event{Op: op, Entity: entity, Payload: payload, At: time.Now()}
	if err := c.transport.Publish(ctx, topic, ev); err != nil {
		c.reportLocked(ErrorTransient, "publish "+topic, err)
	}
}

func (c *Client) reportLocked(kind ErrorKind, op string, err error) {
	log.Printf("collab: %s: %v", op, err)
	select {
	case c.errs <- Error{Op: op, Kind: kind, Err: err}:
	default:
	}
}

// retrySubscribe reopens one failed channel with doubling backoff. It gives
// up once the scope is no longer joined, the client is closed, or the
// attempts run out.
func (c *Client) retrySubscribe(kind scopeKind, scopeID string) {
	delay := c.retryBase
	for attempt := 1; attempt < maxSubscribeAttempts; attempt++ {
		select {
		case <-c.closed:
			return
		case <-time.After(delay):
		}
		delay *= 2

		c.mu.Lock()
		if !c.scopeCurrentLocked(kind, scopeID) {
			c.mu.Unlock()
			return
		}
		err := c.subscribeLocked(context.Background(), kind, scopeID)
		if err == nil {
			c.reloadScopeLocked(context.Background(), kind, scopeID)
			c.refreshDegradedLocked()
			c.mu.Unlock()
			return
		}
		c.reportLocked(ErrorTransient, "resubscribe "+channelKey(kind, scopeID), err)
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.reportLocked(ErrorPermanent, "resubscribe "+channelKey(kind, scopeID), errRetriesExhausted)
	c.mu.Unlock()
}

// reloadScopeLocked re-reads the entity list a recovered channel backs, so
// events missed while the channel was down are not lost forever.
func (c *Client) reloadScopeLocked(ctx context.Context, kind scopeKind, scopeID string) {
	switch kind {
	case scopeMatterPresence:
		if users, err := c.store.ListPresence(ctx, scopeID); err == nil {
			c.applyLocked(setPresenceListAction{Users: users})
		}
	case scopeMatterActivity:
		if activities, err := c.store.ListActivity(ctx, scopeID, c.activityLimit); err == nil {
			c.applyLocked(setActivitiesAction{Activities: activities})
		}
	case scopeMatterChat:
		if messages, err := c.store.ListMessages(ctx, scopeID, c.chatLimit); err == nil {
			c.applyLocked(setMessagesAction{Messages: messages})
		}
	case scopeDocumentComments:
		if comments, err := c.store.ListComments(ctx, scopeID); err == nil {
			c.applyLocked(setCommentsAction{Comments: comments})
		}
	}
}
