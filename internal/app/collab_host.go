package app

import (
	"context"
	"sync"

	"docket/api/internal/collab"
)

// collabHost keeps one server-side collaboration client per matter. The
// hosted clients subscribe to the matter's channels and fold events like any
// other participant, so their snapshots give new callers the converged view
// without a bulk reload. They run under an anonymous identity: reads only,
// no presence records, no commands.
type collabHost struct {
	store     collab.Store
	transport collab.Transport

	activityLimit int
	chatLimit     int

	mu      sync.Mutex
	clients map[string]*collab.Client
}

func newCollabHost(store collab.Store, transport collab.Transport, activityLimit, chatLimit int) *collabHost {
	return &collabHost{
		store:         store,
		transport:     transport,
		activityLimit: activityLimit,
		chatLimit:     chatLimit,
		clients:       make(map[string]*collab.Client),
	}
}

// anonymousIdentity reports no current actor, which turns all engine
// commands into no-ops and keeps the hosted client out of presence.
type anonymousIdentity struct{}

func (anonymousIdentity) CurrentUser() (collab.User, bool) { return collab.User{}, false }

// snapshot returns the converged matter state, joining the matter on first
// use. Hosted clients stay joined until close; their error channels go
// undrained, which the engine tolerates by dropping reports.
func (h *collabHost) snapshot(ctx context.Context, matterID string) (collab.Snapshot, error) {
	h.mu.Lock()
	client, ok := h.clients[matterID]
	h.mu.Unlock()

	if !ok {
		client = collab.NewWithPageSizes(h.store, h.transport, anonymousIdentity{}, h.activityLimit, h.chatLimit)
		if err := client.JoinMatter(ctx, matterID); err != nil {
			client.Close(ctx)
			return collab.Snapshot{}, err
		}

		h.mu.Lock()
		if existing, raced := h.clients[matterID]; raced {
			h.mu.Unlock()
			client.Close(ctx)
			client = existing
		} else {
			h.clients[matterID] = client
			h.mu.Unlock()
		}
	}
	return client.Snapshot(), nil
}

func (h *collabHost) close(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*collab.Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*collab.Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close(ctx)
	}
}
