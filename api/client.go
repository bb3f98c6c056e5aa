// Package api implements the SmartRent REST surface: session management
// endpoints are handled by internal/auth, this package covers hub and
// device reads used for discovery and snapshot fetches.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production SmartRent API root.
const DefaultBaseURL = "https://control.smartrent.com/api/v2/"

const defaultTimeout = 30 * time.Second

// TokenProvider supplies bearer tokens for API requests and lets the
// client force a refresh after an unauthorized response.
type TokenProvider interface {
	EnsureFresh(ctx context.Context) error
	AccessToken() string
	Invalidate()
}

// Client is a thin HTTP client for the SmartRent device endpoints.
// It is safe for concurrent use.
type Client struct {
	tokens     TokenProvider
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at a different API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client that signs requests with tokens from the
// given provider.
func NewClient(tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListHubs returns all hubs on the account.
func (c *Client) ListHubs(ctx context.Context) ([]Hub, error) {
	var hubs []Hub
	err := c.withAuthRetry(ctx, func() error {
		return c.getJSON(ctx, c.baseURL+"hubs", &hubs)
	})
	if err != nil {
		return nil, err
	}
	return hubs, nil
}

// ListDevices returns the devices of every hub on the account, in hub
// order. An unauthorized response triggers one token refresh and one
// retry; a second failure is returned to the caller.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := c.withAuthRetry(ctx, func() error {
		devices = devices[:0]

		var hubs []Hub
		if err := c.getJSON(ctx, c.baseURL+"hubs", &hubs); err != nil {
			return err
		}

		for _, hub := range hubs {
			var hubDevices []Device
			url := fmt.Sprintf("%shubs/%d/devices", c.baseURL, hub.ID)
			if err := c.getJSON(ctx, url, &hubDevices); err != nil {
				return err
			}
			for _, d := range hubDevices {
				c.logger.Info().Int("device_id", d.ID).Str("name", d.Name).Str("type", d.Type).Msg("Found device")
				devices = append(devices, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// GetDevice returns a single device snapshot, with the same
// refresh-and-retry-once contract as ListDevices.
func (c *Client) GetDevice(ctx context.Context, id int) (Device, error) {
	var device Device
	err := c.withAuthRetry(ctx, func() error {
		return c.getJSON(ctx, fmt.Sprintf("%sdevices/%d", c.baseURL, id), &device)
	})
	return device, err
}

// withAuthRetry ensures a fresh token, runs fn, and retries it exactly
// once with a refreshed token if the API reported the token as stale.
func (c *Client) withAuthRetry(ctx context.Context, fn func() error) error {
	if err := c.tokens.EnsureFresh(ctx); err != nil {
		return err
	}

	err := fn()
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.logger.Warn().Msg("Unauthorized response, retrying with refreshed token")
	c.tokens.Invalidate()
	if err := c.tokens.EnsureFresh(ctx); err != nil {
		return err
	}
	return fn()
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.tokens.AccessToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.hasCode("unauthorized") {
			return fmt.Errorf("GET %s: %w", url, ErrUnauthorized)
		}
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("GET %s: %w: %v", url, ErrMalformedResponse, err)
	}
	return nil
}
