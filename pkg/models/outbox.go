package models

import (
	"time"
)

// OutboxOperation represents the type of local mutation awaiting replication
type OutboxOperation string

const (
	OutboxOperationCreate OutboxOperation = "create"
	OutboxOperationUpdate OutboxOperation = "update"
	OutboxOperationDelete OutboxOperation = "delete"
)

// OutboxState is the replication state of an outbox entry.
//
// Transitions: pending → processing (dispatched into a push batch) →
// synced (hub acknowledged) or → error (retriable, message recorded).
// Error entries become eligible again on the next dequeue until the
// attempt cap is reached; after that they wait for a manual requeue.
type OutboxState string

const (
	OutboxStatePending    OutboxState = "pending"
	OutboxStateProcessing OutboxState = "processing"
	OutboxStateSynced     OutboxState = "synced"
	OutboxStateError      OutboxState = "error"
)

// OutboxEntry is the durable log record of one pending local mutation.
//
// Entries are created in the same transaction as the mutation they
// describe, carry a full serialized snapshot so replication never has to
// re-read the mutated row, and are owned exclusively by the node: inbound
// sync never writes here (loop prevention).
type OutboxEntry struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType string          `gorm:"not null;index:idx_outbox_entity" json:"entity_type"`
	RecordID   string          `gorm:"not null;index:idx_outbox_entity" json:"record_id"`
	Operation  OutboxOperation `gorm:"not null" json:"operation"`
	Payload    JSONMap         `gorm:"type:jsonb" json:"payload,omitempty"`
	State      OutboxState     `gorm:"not null;default:pending;index" json:"state"`
	RemoteID   string          `json:"remote_id,omitempty"`
	LastError  string          `gorm:"type:text" json:"last_error,omitempty"`
	Attempts   int             `gorm:"default:0" json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TableName returns the table name for outbox entries
func (OutboxEntry) TableName() string {
	return "outbox_entries"
}

// IsTerminal reports whether the entry has reached a terminal state.
// Error is not terminal: it remains eligible for retry.
func (e *OutboxEntry) IsTerminal() bool {
	return e.State == OutboxStateSynced
}
