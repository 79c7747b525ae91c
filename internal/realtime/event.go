// Package realtime fans committed mutations out to subscribers. Events flow
// from the service through a debouncing coalescer into a channel hub, and
// optionally over a websocket transport to external clients. Delivery is
// at-most-effectively-once per debounce window; subscribers reconcile with
// the per-entity version guard, never by replaying history.
package realtime

import (
	"fmt"
	"time"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Event is the wire form of one committed change. It is ephemeral: nothing
// retains events beyond the debounce window.
type Event struct {
	Type        domain.EntityType `json:"type"`
	ID          string            `json:"id"`
	FactoryID   string            `json:"factoryId"`
	Action      domain.Action     `json:"action"`
	ChangedKeys []string          `json:"changedKeys,omitempty"`
	Version     int               `json:"version,omitempty"`
	Timestamp   time.Time         `json:"ts"`
}

// NewEvent derives the wire event for a committed change.
func NewEvent(change domain.Change, ts time.Time) Event {
	return Event{
		Type:        change.Entity,
		ID:          change.EntityID,
		FactoryID:   change.FactoryID,
		Action:      change.Action,
		ChangedKeys: append([]string(nil), change.ChangedKeys...),
		Version:     change.Version,
		Timestamp:   ts,
	}
}

// DedupKey identifies the coalescing slot for an event. Two events with the
// same key within one debounce window collapse to the highest version.
func (e Event) DedupKey() string {
	return string(e.Type) + "|" + e.ID + "|" + string(e.Action)
}

// Channels lists every channel the event is published on.
func (e Event) Channels() []string {
	return []string{
		FactoryChannel(e.FactoryID),
		DocChannel(e.Type, e.ID),
		ListChannel(e.Type, e.FactoryID),
	}
}

// FactoryChannel names the channel carrying every change inside a factory.
func FactoryChannel(factoryID string) string {
	return "factory:" + factoryID
}

// DocChannel names the channel carrying changes to a single document.
func DocChannel(entity domain.EntityType, id string) string {
	return fmt.Sprintf("doc:%s:%s", entity, id)
}

// ListChannel names the channel carrying list membership changes for an
// entity type within a factory.
func ListChannel(entity domain.EntityType, factoryID string) string {
	return fmt.Sprintf("list:%s:%s", entity, factoryID)
}
