// Package broadcast routes change events to connected clients.
//
// Every event goes to the global audience as a coarse cache-invalidation
// signal carrying the full document. A targeted audience computed from
// the entity (project members, task assignees, notification owner,
// affected user) additionally receives a narrow ping without the
// document. Delivery to a user with no channels is a no-op; the client's
// fetch-on-reconnect covers the gap.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/registry"
)

// Named client events.
const (
	EventUserChanged         = "user:changed"
	EventUserDeleted         = "user:deleted"
	EventProjectChanged      = "project:changed"
	EventTaskChanged         = "task:changed"
	EventNotificationChanged = "notification:changed"
	EventNotificationNew     = "notification:new"
	EventResyncRequired      = "resync:required"
)

// Envelope is the wire shape of one delivered event. Document is nil in
// the targeted variant and for deletes.
type Envelope struct {
	Event     string         `json:"event"`
	Operation string         `json:"operation"`
	ID        string         `json:"id"`
	Document  map[string]any `json:"document,omitempty"`
}

// Broadcaster fans events out through the connection registry.
type Broadcaster struct {
	registry *registry.Registry
}

// New creates a Broadcaster over the given registry.
func New(r *registry.Registry) *Broadcaster {
	return &Broadcaster{registry: r}
}

// Broadcast delivers one change event: the full envelope to every
// connected channel, then the narrow envelope to the targeted audience.
// A channel that rejects an enqueue is dead and leaves the registry;
// other channels, including the same user's, are unaffected.
func (b *Broadcaster) Broadcast(ev entity.ChangeEvent) error {
	name, ok := eventName(ev)
	if !ok {
		return nil
	}

	full := Envelope{
		Event:     name,
		Operation: string(ev.Operation),
		ID:        ev.EntityID,
		Document:  ev.After,
	}
	payload, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s/%s: %w", ev.Collection, ev.EntityID, err)
	}

	for _, ch := range b.registry.All() {
		b.send(ch, name, payload)
	}

	audience := targetAudience(ev)
	if len(audience) == 0 {
		return nil
	}
	narrow, err := json.Marshal(Envelope{
		Event:     name,
		Operation: string(ev.Operation),
		ID:        ev.EntityID,
	})
	if err != nil {
		return fmt.Errorf("marshal narrow envelope for %s/%s: %w", ev.Collection, ev.EntityID, err)
	}
	for _, userID := range audience {
		for _, ch := range b.registry.ChannelsFor(userID) {
			b.send(ch, name, narrow)
		}
	}
	return nil
}

// BroadcastResync tells every connected client to refetch a collection
// after the change feed lost continuity.
func (b *Broadcaster) BroadcastResync(collection entity.Collection) error {
	payload, err := json.Marshal(Envelope{
		Event:     EventResyncRequired,
		Operation: "resync",
		ID:        string(collection),
	})
	if err != nil {
		return fmt.Errorf("marshal resync envelope: %w", err)
	}
	for _, ch := range b.registry.All() {
		b.send(ch, EventResyncRequired, payload)
	}
	return nil
}

func (b *Broadcaster) send(ch registry.Channel, event string, payload []byte) {
	if ch.Enqueue(event, payload) {
		return
	}
	// Dead channel: drop it so future fan-outs skip it.
	b.registry.Leave(ch)
	slog.Debug("dropped dead channel", "event", event)
}

// eventName maps a change event to its client event. Comments have no
// client event; their effects arrive as notifications.
func eventName(ev entity.ChangeEvent) (string, bool) {
	switch ev.Collection {
	case entity.CollectionUsers:
		if ev.Operation == entity.OpDelete {
			return EventUserDeleted, true
		}
		return EventUserChanged, true
	case entity.CollectionProjects:
		return EventProjectChanged, true
	case entity.CollectionTasks:
		return EventTaskChanged, true
	case entity.CollectionNotifications:
		if ev.Operation == entity.OpInsert {
			return EventNotificationNew, true
		}
		return EventNotificationChanged, true
	default:
		return "", false
	}
}

// targetAudience computes the interested users from the post-change
// snapshot, falling back to the before image for deletes.
func targetAudience(ev entity.ChangeEvent) []string {
	doc := ev.After
	if doc == nil {
		doc = ev.Before
	}
	if doc == nil {
		return nil
	}

	switch ev.Collection {
	case entity.CollectionUsers:
		return []string{ev.EntityID}
	case entity.CollectionProjects:
		return stringSlice(doc["members"])
	case entity.CollectionTasks:
		return stringSlice(doc["assignedTo"])
	case entity.CollectionNotifications:
		if owner, ok := doc["userId"].(string); ok && owner != "" {
			return []string{owner}
		}
	}
	return nil
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
