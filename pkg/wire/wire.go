// Package wire defines the JSON contract spoken between nodes and the hub.
//
// Every operation is an HTTP POST carrying a JSON body and a bearer token,
// and returns an envelope with a success flag plus operation-specific
// payload. Record payloads cross the boundary as explicit tagged structs
// with a flexible Fields map; per-entity codecs translate Fields into
// typed local models, making required versus optional fields explicit at
// the serializer boundary instead of scattering map lookups through the
// engine.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Operation tags carried on records.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Envelope is the common response wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Err returns the envelope error as a Go error, or nil on success.
func (e Envelope) Err() error {
	if e.Success {
		return nil
	}
	if e.Error == "" {
		return errors.New("hub reported failure without a message")
	}
	return errors.New(e.Error)
}

// Record is the wire representation of one entity instance. It is
// transient: constructed per message and never persisted as-is.
type Record struct {
	EntityType string         `json:"entity_type"`
	RemoteID   string         `json:"remote_id,omitempty"`
	LocalID    string         `json:"local_id,omitempty"`
	QueueID    uint64         `json:"queue_id,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Fields     map[string]any `json:"fields"`
}

// String returns a string field, or "" when absent or of another type.
func (r Record) String(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a numeric field. JSON numbers decode as float64; integer
// values that arrived through typed Go code are converted.
func (r Record) Float(key string) (float64, bool) {
	switch v := r.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Int returns an integer field, truncating JSON's float64 representation.
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	return int(f), ok
}

// Bool returns a boolean field, defaulting to the given fallback.
func (r Record) Bool(key string, fallback bool) bool {
	if v, ok := r.Fields[key].(bool); ok {
		return v
	}
	return fallback
}

// Time returns an RFC 3339 time field.
func (r Record) Time(key string) (time.Time, bool) {
	s := r.String(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}

// Decode unmarshals the Fields map into an explicit payload struct. This
// is the boundary where loosely-typed wire payloads become per-entity
// schemas; decode errors mean a malformed record, a validation error in
// the taxonomy.
func (r Record) Decode(target any) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("re-encode record fields: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s record: %w", r.EntityType, err)
	}
	return nil
}

// EncodeFields converts an explicit payload struct back into a Fields map.
func EncodeFields(source any) (map[string]any, error) {
	raw, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("encode record fields: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode encoded fields: %w", err)
	}
	return fields, nil
}

// PushRequest carries one entity-type batch from a node to the hub ingest
// endpoint.
type PushRequest struct {
	EntityType string   `json:"entity_type"`
	NodeID     string   `json:"node_id"`
	NodeName   string   `json:"node_name,omitempty"`
	Records    []Record `json:"records"`
}

// RecordResult is the per-record acknowledgement inside a push response.
// QueueID and LocalID echo the request so acknowledgement does not depend
// on response ordering.
type RecordResult struct {
	QueueID uint64 `json:"queue_id"`
	LocalID string `json:"local_id"`
	Success bool   `json:"success"`
	CloudID string `json:"cloud_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PushResponse acknowledges a push batch record by record.
type PushResponse struct {
	Envelope
	Results []RecordResult `json:"results"`
}

// PullRequest asks the hub for changes since the node's cursor.
//
// EntityLimits overrides Limit per entity type. It is a hub-API surface
// for targeted administrative pulls; the node cycle pages every entity at
// the shared Limit because Offset is shared across types and a per-entity
// page size would skew it.
type PullRequest struct {
	NodeID       string         `json:"node_id"`
	Entities     []string       `json:"entities"`
	Cursor       time.Time      `json:"cursor"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
	EntityLimits map[string]int `json:"entity_limits,omitempty"`
}

// PullResponse returns one page of changes plus the global deletions feed.
// HasMore is reported per entity type; SyncDate is the hub-side timestamp
// the node persists as its cursor after a fully successful pull phase.
type PullResponse struct {
	Envelope
	Data      map[string][]Record `json:"data"`
	Deletions map[string][]Record `json:"deletions,omitempty"`
	HasMore   map[string]bool     `json:"has_more"`
	SyncDate  time.Time           `json:"sync_date"`
}

// ManifestRequest asks the hub for the bulk migration manifest.
type ManifestRequest struct {
	NodeID string `json:"node_id"`
}

// ManifestResponse describes the one-time provisioning transfer: per-entity
// record counts, a dependency-respecting order, and a recommended batch
// size.
type ManifestResponse struct {
	Envelope
	Manifest             map[string]int64 `json:"manifest"`
	SyncOrder            []string         `json:"sync_order"`
	RecommendedBatchSize int              `json:"recommended_batch_size"`
}

// BatchRequest asks for one page of a bulk migration transfer.
type BatchRequest struct {
	EntityType string `json:"entity_type"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// BatchResponse returns one page of a bulk migration transfer.
type BatchResponse struct {
	Envelope
	Records []Record `json:"records"`
	HasMore bool     `json:"has_more"`
}
