package collab

// scopeKind names the four channel families the engine opens. A channel key
// is "<kind>:<scope-id>", which doubles as the transport topic, so closing
// one scope's channel can never drop an unrelated one.
type scopeKind string

const (
	scopeMatterPresence   scopeKind = "matter-presence"
	scopeMatterActivity   scopeKind = "matter-activity"
	scopeMatterChat       scopeKind = "matter-chat"
	scopeDocumentComments scopeKind = "document-comments"
)

// matterScopes are the channels opened by JoinMatter, in open order.
var matterScopes = []scopeKind{scopeMatterPresence, scopeMatterActivity, scopeMatterChat}

func channelKey(kind scopeKind, scopeID string) string {
	return string(kind) + ":" + scopeID
}

func filterFor(kind scopeKind) EventFilter {
	switch kind {
	case scopeMatterPresence:
		return EventFilter{Entities: []EntityKind{EntityPresence}}
	case scopeMatterActivity:
		return EventFilter{Entities: []EntityKind{EntityActivity}}
	case scopeMatterChat:
		return EventFilter{Entities: []EntityKind{EntityMessage}}
	case scopeDocumentComments:
		return EventFilter{Entities: []EntityKind{EntityComment}}
	default:
		return EventFilter{}
	}
}

// scopeCurrentLocked reports whether the given scope is still the joined
// one. Retry goroutines check this before reopening a channel so a scope
// left in the meantime is never resurrected.
func (c *Client) scopeCurrentLocked(kind scopeKind, scopeID string) bool {
	switch kind {
	case scopeDocumentComments:
		return c.state.Connected && c.state.DocumentID == scopeID
	default:
		return c.state.Connected && c.state.MatterID == scopeID
	}
}

// expectedKeysLocked lists the channel keys that should be open for the
// currently joined scopes.
func (c *Client) expectedKeysLocked() []string {
	if !c.state.Connected {
		return nil
	}
	keys := make([]string, 0, len(matterScopes)+1)
	for _, kind := range matterScopes {
		keys = append(keys, channelKey(kind, c.state.MatterID))
	}
	if c.state.DocumentID != "" {
		keys = append(keys, channelKey(scopeDocumentComments, c.state.DocumentID))
	}
	return keys
}

// refreshDegradedLocked flips the degraded flag based on whether every
// expected channel is actually open.
func (c *Client) refreshDegradedLocked() {
	degraded := false
	for _, key := range c.expectedKeysLocked() {
		if _, ok := c.state.Channels[key]; !ok {
			degraded = true
			break
		}
	}
	if degraded != c.state.Degraded {
		c.applyLocked(setDegradedAction{Degraded: degraded})
	}
}
