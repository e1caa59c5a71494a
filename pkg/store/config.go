package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/edgetill/posbridge/pkg/models"
)

// GetSyncConfig returns the singleton node sync configuration, or nil when
// the node has not been configured yet.
func (s *Store) GetSyncConfig(ctx context.Context) (*models.NodeSyncConfig, error) {
	var cfg models.NodeSyncConfig
	err := s.db.WithContext(ctx).Order("id ASC").First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveSyncConfig persists the node sync configuration. Only the
// orchestrator mutates it, at cycle boundaries.
func (s *Store) SaveSyncConfig(ctx context.Context, cfg *models.NodeSyncConfig) error {
	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("save sync config: %w", err)
	}
	return nil
}

// UpdateSyncStatus persists the terminal status of a cycle on its own
// session, independent of any transaction the cycle held. This is the
// recovery path: even when the cycle's work aborted, the node's visible
// status still lands.
func (s *Store) UpdateSyncStatus(ctx context.Context, id uint64, status models.SyncStatus, lastError string) error {
	return s.db.WithContext(ctx).
		Model(&models.NodeSyncConfig{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"last_error": lastError,
		}).Error
}
