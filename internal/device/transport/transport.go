// Package transport ships captured events to the ingest endpoint as
// JSON over HTTPS with the shared-secret header. Fire and forget: the
// caller learns success or failure, and the session buffer is cleared
// either way.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/autoscale/internal/device/capture"
	"github.com/okian/autoscale/internal/domain/model"
	"github.com/okian/autoscale/pkg/logger"
)

// secretHeader carries the shared ingest secret.
const secretHeader = "x-function-secret"

// defaultTimeout bounds one upload.
const defaultTimeout = 15 * time.Second

// Client uploads events for one scale.
type Client struct {
	url     string
	secret  string
	scaleID string
	hc      *http.Client
	log     logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates an upload client.
func New(url, secret, scaleID string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		secret:  secret,
		scaleID: scaleID,
		hc:      &http.Client{Timeout: defaultTimeout},
		log:     logger.Get().Named("transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// payload mirrors the ingest wire format.
type payload struct {
	ScaleID   string         `json:"scale_id"`
	T0EpochMS int64          `json:"t0_epoch_ms"`
	Samples   []model.Sample `json:"samples"`
}

// Upload posts one finished session. Non-2xx responses and transport
// errors surface as failures; there is no retry.
func (c *Client) Upload(ctx context.Context, t0 time.Time, s *capture.Session) error {
	body, err := json.Marshal(payload{
		ScaleID:   c.scaleID,
		T0EpochMS: t0.UnixMilli(),
		Samples:   s.Samples,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode)
	}
	return nil
}
