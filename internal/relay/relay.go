// Package relay forwards prompts verbatim to a private, shared-secret
// authenticated backend (typically a self-hosted model reachable via a
// tunnel). It is a deliberate dumb pass-through: no retry, no response
// normalization.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatgate/internal/models"
)

const (
	// secretHeader carries the shared secret the private backend checks.
	secretHeader = "X-Api-Secret"

	relayTimeout     = 60 * time.Second
	maxResponseBytes = 4 << 20
)

// ErrNotConfigured indicates the relay base URL or shared secret is absent.
var ErrNotConfigured = fmt.Errorf("%w: relay base URL and shared secret are required", models.ErrConfigurationMissing)

// ErrUpstream indicates the private backend did not return a success.
var ErrUpstream = errors.New("relay upstream failure")

// Client forwards prompts to the private backend.
type Client struct {
	generateURL string
	secret      string
	http        *http.Client
	log         zerolog.Logger
}

// New constructs a relay client, failing fast when configuration is
// incomplete rather than at first use.
func New(baseURL, secret string, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(secret) == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}
	return &Client{
		generateURL: strings.TrimRight(baseURL, "/") + "/generate",
		secret:      secret,
		http:        httpClient,
		log:         logger,
	}, nil
}

// Relay forwards the prompt and returns the upstream body verbatim.
func (c *Client) Relay(ctx context.Context, prompt string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal relay payload: %w", err)
	}

	relayCtx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(relayCtx, http.MethodPost, c.generateURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("relay request failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("http_status", resp.StatusCode).Msg("relay upstream rejected request")
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	return json.RawMessage(raw), nil
}
