package collab

import (
	"context"
	"errors"
	"log"
	"time"
)

var errRetriesExhausted = errors.New("subscribe retries exhausted")

// UpdatePresence records a heartbeat for the current actor: status and
// cursor position in the currently joined scopes. Presence is best-effort,
// so failures are reported on the error channel rather than returned;
// without an actor or joined matter the call is a silent no-op.
func (c *Client) UpdatePresence(ctx context.Context, status PresenceStatus, cursor *Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Connected {
		return
	}
	if status == "" {
		status = StatusOnline
	}
	c.heartbeatLocked(ctx, status, c.state.DocumentID, cursor)
}

// SetOffline marks the current actor offline without leaving the matter.
// LeaveMatter and Close do this implicitly.
func (c *Client) SetOffline(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setOfflineLocked(ctx)
}

func (c *Client) markOnlineLocked(ctx context.Context) {
	c.heartbeatLocked(ctx, StatusOnline, c.state.DocumentID, nil)
}

func (c *Client) setOfflineLocked(ctx context.Context) {
	if !c.state.Connected {
		return
	}
	c.heartbeatLocked(ctx, StatusOffline, "", nil)
}

// updatePresenceLocked re-announces the actor's position after a document
// switch, keeping the current status.
func (c *Client) updatePresenceLocked(ctx context.Context, matterID, documentID string, cursor *Cursor) {
	if matterID == "" {
		return
	}
	c.heartbeatLocked(ctx, c.currentStatusLocked(), documentID, cursor)
}

// currentStatusLocked returns the actor's last announced status, falling
// back to online when no record is held.
func (c *Client) currentStatusLocked() PresenceStatus {
	user, ok := c.identity.CurrentUser()
	if !ok {
		return StatusOnline
	}
	for _, p := range c.state.ActiveUsers {
		if p.UserID == user.ID && p.Status != "" {
			return p.Status
		}
	}
	return StatusOnline
}

// heartbeatLocked writes the presence row and folds the stored result. The
// store enforces the monotonic last-seen rule, so a heartbeat raced by a
// newer one comes back unchanged and the fold is a no-op.
func (c *Client) heartbeatLocked(ctx context.Context, status PresenceStatus, documentID string, cursor *Cursor) {
	user, ok := c.identity.CurrentUser()
	if !ok {
		log.Printf("collab: presence heartbeat ignored: no actor established")
		return
	}
	stored, err := c.store.UpsertPresence(ctx, Presence{
		UserID:     user.ID,
		UserName:   user.Name,
		MatterID:   c.state.MatterID,
		DocumentID: documentID,
		Status:     status,
		Cursor:     cursor,
		LastSeenAt: time.Now().UTC(),
	})
	if err != nil {
		c.reportLocked(ErrorTransient, "presence heartbeat", err)
		return
	}
	c.applyLocked(upsertPresenceAction{P: stored})
	op := OpUpdate
	if stored.Status == StatusOffline {
		// Going offline is a departure; remote clients remove the record
		// rather than hold an offline row until the next bulk load.
		op = OpDelete
	}
	c.publishLocked(ctx, channelKey(scopeMatterPresence, c.state.MatterID), op, EntityPresence, stored)
}
