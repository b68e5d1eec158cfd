// Package eventstream publishes memory lifecycle events for downstream
// consumers (analytics, replication, audit).
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is embedded in every event envelope so consumers can
// handle payload evolution.
const SchemaVersion = 1

// Event types.
const (
	TypeMemoryPersisted  = "memory.persisted"
	TypeMemorySuperseded = "memory.superseded"
	TypeRepairInvoked    = "repair.invoked"
)

// Event is the envelope written to the stream. The key for partitioning
// is the owner ID so one owner's events stay ordered.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	OwnerID       string    `json:"owner_id"`
	OccurredAt    time.Time `json:"occurred_at"`

	// MemoryID is set for memory.* events.
	MemoryID string `json:"memory_id,omitempty"`

	// SupersededID is set for memory.superseded events.
	SupersededID string `json:"superseded_id,omitempty"`

	// Fingerprint is set when the memory carries one.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Primitive and Fired describe repair.invoked events.
	Primitive string `json:"primitive,omitempty"`
	Fired     bool   `json:"fired,omitempty"`
}

// MemoryPersisted builds an event for a newly stored memory.
func MemoryPersisted(ownerID, memoryID, fingerprint string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Type:          TypeMemoryPersisted,
		OwnerID:       ownerID,
		OccurredAt:    time.Now().UTC(),
		MemoryID:      memoryID,
		Fingerprint:   fingerprint,
	}
}

// MemorySuperseded builds an event for a supersession.
func MemorySuperseded(ownerID, memoryID, supersededID, fingerprint string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Type:          TypeMemorySuperseded,
		OwnerID:       ownerID,
		OccurredAt:    time.Now().UTC(),
		MemoryID:      memoryID,
		SupersededID:  supersededID,
		Fingerprint:   fingerprint,
	}
}

// RepairInvoked builds an event for a repair layer invocation.
func RepairInvoked(ownerID, primitive string, fired bool) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Type:          TypeRepairInvoked,
		OwnerID:       ownerID,
		OccurredAt:    time.Now().UTC(),
		Primitive:     primitive,
		Fired:         fired,
	}
}
