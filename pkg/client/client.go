// Package client is the HTTP connection a node holds to the hub. It
// implements the sync transport and the bulk migration source over the
// JSON wire contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgetill/posbridge/pkg/wire"
)

// ErrUnauthorized is returned when the hub rejects the bearer token. The
// caller can branch on it to surface a configuration problem instead of
// retrying.
var ErrUnauthorized = errors.New("hub rejected credentials")

// Hub endpoint paths.
const (
	pathPush     = "/api/sync/push"
	pathPull     = "/api/sync/pull"
	pathManifest = "/api/migration/manifest"
	pathBatch    = "/api/migration/batch"
)

// Client talks to one hub endpoint with one bearer token. Safe for
// concurrent use; the underlying http.Client pools connections.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient substitutes the underlying HTTP client. Used by tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a hub client.
func New(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push sends one entity-type batch to the hub ingest endpoint.
func (c *Client) Push(ctx context.Context, req wire.PushRequest) (*wire.PushResponse, error) {
	var resp wire.PushResponse
	if err := c.post(ctx, pathPush, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of hub changes since the node's cursor.
func (c *Client) Pull(ctx context.Context, req wire.PullRequest) (*wire.PullResponse, error) {
	var resp wire.PullResponse
	if err := c.post(ctx, pathPull, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Manifest fetches the bulk migration manifest.
func (c *Client) Manifest(ctx context.Context, req wire.ManifestRequest) (*wire.ManifestResponse, error) {
	var resp wire.ManifestResponse
	if err := c.post(ctx, pathManifest, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullBatch fetches one page of a bulk migration transfer.
func (c *Client) PullBatch(ctx context.Context, req wire.BatchRequest) (*wire.BatchResponse, error) {
	var resp wire.BatchResponse
	if err := c.post(ctx, pathBatch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends one JSON request and decodes the JSON response. Non-2xx
// statuses are errors even when the body decodes; the envelope's own
// success flag is the caller's concern.
func (c *Client) post(ctx context.Context, path string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := "unexpected status"
		var envelope wire.Envelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			message = envelope.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: %s (status %d): %w", path, message, resp.StatusCode, ErrUnauthorized)
		}
		return fmt.Errorf("%s: %s (status %d)", path, message, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
