package models

import (
	"time"
)

// OperationMode controls which phases a sync cycle runs.
type OperationMode string

const (
	// ModeOffline drains the outbox (push) but defers pulling hub changes;
	// used for nodes with long disconnected windows where inbound churn is
	// applied in explicit provisioning passes instead.
	ModeOffline OperationMode = "offline"

	// ModeHybrid runs both push and pull every cycle. This is the normal
	// operating mode for connected nodes.
	ModeHybrid OperationMode = "hybrid"

	// ModeOnDemand runs both phases, but only when a cycle is triggered
	// explicitly; the interval runner skips on-demand nodes.
	ModeOnDemand OperationMode = "on_demand"
)

// SyncStatus is the node-visible outcome of the last cycle.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// NodeSyncConfig is the singleton per-node sync configuration. It is
// mutated only by the orchestrator at cycle boundaries, never concurrently,
// and is passed explicitly into the orchestrator and entity handlers at
// call time rather than read ambiently.
type NodeSyncConfig struct {
	ID             uint64        `gorm:"primaryKey" json:"id"`
	NodeID         string        `gorm:"not null" json:"node_id"`
	NodeName       string        `json:"node_name"`
	HubEndpoint    string        `gorm:"not null" json:"hub_endpoint"`
	AuthToken      string        `json:"auth_token"`
	OperationMode  OperationMode `gorm:"not null;default:hybrid" json:"operation_mode"`
	BatchSize      int           `gorm:"default:100" json:"batch_size"`
	SubBatchSize   int           `gorm:"default:50" json:"sub_batch_size"`
	TimeoutSeconds int           `gorm:"default:30" json:"timeout_seconds"`
	MaxAttempts    int           `gorm:"default:10" json:"max_attempts"`
	LastSyncCursor time.Time     `json:"last_sync_cursor"`
	Status         SyncStatus    `gorm:"default:idle" json:"status"`
	LastError      string        `gorm:"type:text" json:"last_error,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TableName returns the table name for the node sync configuration
func (NodeSyncConfig) TableName() string {
	return "node_sync_config"
}

// EffectiveBatchSize returns the configured batch size with the default
// applied when the row predates the field.
func (c *NodeSyncConfig) EffectiveBatchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

// EffectiveSubBatchSize returns the pull sub-batch size, independent of the
// page size requested from the hub.
func (c *NodeSyncConfig) EffectiveSubBatchSize() int {
	if c.SubBatchSize <= 0 {
		return 50
	}
	return c.SubBatchSize
}

// Timeout returns the per-request transport timeout.
func (c *NodeSyncConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
