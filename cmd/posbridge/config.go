package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edgetill/posbridge/pkg/models"
)

// NodeConfig is the node section of the configuration file. It seeds the
// stored sync configuration on first provision; afterwards the stored row
// is authoritative.
type NodeConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Database       string `yaml:"database"`
	HubEndpoint    string `yaml:"hub_endpoint"`
	AuthToken      string `yaml:"auth_token"`
	Mode           string `yaml:"mode"`
	BatchSize      int    `yaml:"batch_size"`
	SubBatchSize   int    `yaml:"sub_batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

// HubConfig is the hub section of the configuration file.
type HubConfig struct {
	DSN       string `yaml:"dsn"`
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// Config is the file layout read by every subcommand.
type Config struct {
	Node NodeConfig `yaml:"node"`
	Hub  HubConfig  `yaml:"hub"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *NodeConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Database == "" {
		return fmt.Errorf("node.database is required")
	}
	if c.HubEndpoint == "" {
		return fmt.Errorf("node.hub_endpoint is required")
	}
	switch models.OperationMode(c.Mode) {
	case "", models.ModeOffline, models.ModeHybrid, models.ModeOnDemand:
	default:
		return fmt.Errorf("node.mode %q is not one of offline, hybrid, on_demand", c.Mode)
	}
	return nil
}

// syncConfig converts the file section into the stored singleton.
func (c *NodeConfig) syncConfig() *models.NodeSyncConfig {
	mode := models.OperationMode(c.Mode)
	if mode == "" {
		mode = models.ModeHybrid
	}
	return &models.NodeSyncConfig{
		NodeID:         c.ID,
		NodeName:       c.Name,
		HubEndpoint:    c.HubEndpoint,
		AuthToken:      c.AuthToken,
		OperationMode:  mode,
		BatchSize:      c.BatchSize,
		SubBatchSize:   c.SubBatchSize,
		TimeoutSeconds: c.TimeoutSeconds,
		MaxAttempts:    c.MaxAttempts,
		Status:         models.SyncStatusIdle,
	}
}
