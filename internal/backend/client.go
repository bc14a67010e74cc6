// Package backend issues single HTTP attempts against a remote
// text-generation endpoint and maps the outcome to a typed result the
// retry controller can branch on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"chatgate/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatgate/0.1"

	// maxResponseBytes bounds a successful body read.
	maxResponseBytes = 4 << 20
	// maxErrorBodyBytes bounds how much of an upstream error body is
	// carried into errors and logs.
	maxErrorBodyBytes = 512

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Client performs one outbound call per invocation. Retry policy lives
// in the controller, not here.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient constructs a backend client around the provided HTTP client.
func NewClient(httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}
	return &Client{http: httpClient, log: logger}, nil
}

// NewHTTPClient builds an HTTP client with tuned transport settings.
// No client-level timeout is set; every attempt carries its own
// deadline from the endpoint configuration.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

type inferencePayload struct {
	Inputs     string                      `json:"inputs"`
	Parameters models.GenerationParameters `json:"parameters,omitempty"`
}

// Call issues a single POST to the endpoint with the canonical
// transcript and sampling parameters, bounded by the endpoint's
// timeout, and classifies the outcome.
func (c *Client) Call(ctx context.Context, ep Endpoint, transcript string, params models.GenerationParameters) models.AttemptResult {
	result := c.call(ctx, ep, transcript, params)

	c.log.Info().
		Str("endpoint", ep.Name).
		Str("model", ep.Model).
		Dur("timeout", ep.Timeout).
		Int("http_status", result.HTTPStatus).
		Stringer("status", result.Status).
		Msg("backend attempt")

	return result
}

func (c *Client) call(ctx context.Context, ep Endpoint, transcript string, params models.GenerationParameters) models.AttemptResult {
	body, err := json.Marshal(inferencePayload{Inputs: transcript, Parameters: params})
	if err != nil {
		return terminal(0, fmt.Errorf("marshal inference payload: %w", err))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, ep.URL(), bytes.NewReader(body))
	if err != nil {
		return terminal(0, fmt.Errorf("construct request: %w", err))
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if ep.RequiresAuth && ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return retryable(0, fmt.Errorf("%w: %s after %s", models.ErrTimeout, ep.Name, ep.Timeout))
		}
		return retryable(0, fmt.Errorf("%w: %v", models.ErrNetwork, err))
	}
	defer resp.Body.Close()

	return classify(resp, ep)
}

func classify(resp *http.Response, ep Endpoint) models.AttemptResult {
	switch {
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retryable(resp.StatusCode, fmt.Errorf("%w: read response body: %v", models.ErrNetwork, err))
		}
		return models.AttemptResult{Status: models.AttemptSuccess, HTTPStatus: resp.StatusCode, Body: raw}

	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return terminal(resp.StatusCode, fmt.Errorf("%w: %s returned status %d", models.ErrAuthOrResource, ep.Name, resp.StatusCode))

	case resp.StatusCode == http.StatusServiceUnavailable:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if wait, ok := estimatedWait(raw); ok {
			cause := &models.WarmingUpError{EstimatedWait: wait}
			return models.AttemptResult{
				Status:     models.AttemptWarmingUp,
				HTTPStatus: resp.StatusCode,
				Body:       raw,
				Cause:      cause,
				RetryAfter: wait,
			}
		}
		return terminal(resp.StatusCode, upstreamError(resp.StatusCode, raw, ep))

	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return terminal(resp.StatusCode, upstreamError(resp.StatusCode, raw, ep))

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return terminal(resp.StatusCode, upstreamError(resp.StatusCode, raw, ep))
	}
}

// estimatedWait parses the "still loading" indicator the inference API
// attaches to cold-start 503 responses.
func estimatedWait(raw []byte) (time.Duration, bool) {
	seconds := gjson.GetBytes(raw, "estimated_time")
	if !seconds.Exists() || seconds.Float() <= 0 {
		return 0, false
	}
	return time.Duration(seconds.Float() * float64(time.Second)), true
}

// upstreamError prefers the backend's own error message; failing that,
// the raw body is carried truncated so errors and logs stay bounded.
func upstreamError(status int, raw []byte, ep Endpoint) error {
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() && msg.String() != "" {
		return fmt.Errorf("%s returned status %d: %s", ep.Name, status, msg.String())
	}
	body := raw
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return fmt.Errorf("%s returned status %d: %s", ep.Name, status, bytes.TrimSpace(body))
}

func retryable(status int, cause error) models.AttemptResult {
	return models.AttemptResult{Status: models.AttemptRetryable, HTTPStatus: status, Cause: cause}
}

func terminal(status int, cause error) models.AttemptResult {
	return models.AttemptResult{Status: models.AttemptTerminal, HTTPStatus: status, Cause: cause}
}
