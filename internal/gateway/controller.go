// Package gateway orchestrates a single generation request across the
// primary and fallback backends: bounded retries with exponential
// backoff against the primary, demotion to the fallback on exhaustion
// or terminal rejection, and normalization of the winning response.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatgate/internal/backend"
	"chatgate/internal/models"
	"chatgate/internal/normalize"
	"chatgate/internal/transcript"
)

// fallbackNote explains to the caller that the secondary model served
// the request, since its answers may differ in quality from the primary.
const fallbackNote = "served by fallback model after primary failure"

// Caller issues one backend attempt. Satisfied by *backend.Client.
type Caller interface {
	Call(ctx context.Context, ep backend.Endpoint, transcript string, params models.GenerationParameters) models.AttemptResult
}

// Controller runs the per-request retry/fallback state machine. It is
// stateless across requests; a single instance serves all concurrent
// traffic.
//
// Worst-case latency is bounded by
// maxPrimaryRetries*primary.Timeout + sum(backoff delays) + fallback.Timeout.
type Controller struct {
	caller            Caller
	primary           backend.Endpoint
	fallback          backend.Endpoint
	maxPrimaryRetries int
	backoffBase       time.Duration
	log               zerolog.Logger
}

// NewController wires the controller with both endpoints and the retry policy.
func NewController(caller Caller, primary, fallback backend.Endpoint, maxPrimaryRetries int, backoffBase time.Duration, logger zerolog.Logger) (*Controller, error) {
	if caller == nil {
		return nil, errors.New("caller must not be nil")
	}
	if maxPrimaryRetries < 1 {
		return nil, fmt.Errorf("max primary retries must be at least 1, got %d", maxPrimaryRetries)
	}
	if backoffBase <= 0 {
		return nil, fmt.Errorf("backoff base must be positive, got %s", backoffBase)
	}
	return &Controller{
		caller:            caller,
		primary:           primary,
		fallback:          fallback,
		maxPrimaryRetries: maxPrimaryRetries,
		backoffBase:       backoffBase,
		log:               logger,
	}, nil
}

// Generate runs the full pipeline for one request: build the canonical
// transcript, attempt the primary with backoff, demote to the fallback,
// and extract the answer from the winning body.
//
// A warming-up primary is surfaced immediately as *models.WarmingUpError
// without consuming retries or touching the fallback: the model will be
// ready shortly and the caller is told when to come back.
func (c *Controller) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	prompt, err := transcript.Build(req)
	if err != nil {
		return nil, err
	}
	params := models.DefaultParameters().Merged(req.Overrides)

	log := c.log.With().Str("request_id", uuid.NewString()).Logger()

	result, primaryErr := c.attemptPrimary(ctx, log, prompt, params)
	if result != nil {
		return result, nil
	}

	var warm *models.WarmingUpError
	if errors.As(primaryErr, &warm) {
		return nil, primaryErr
	}
	if errors.Is(primaryErr, context.Canceled) || errors.Is(primaryErr, context.DeadlineExceeded) {
		return nil, primaryErr
	}

	log.Warn().Err(primaryErr).Str("endpoint", c.fallback.Name).Msg("primary exhausted, demoting to fallback")

	res := c.caller.Call(ctx, c.fallback, prompt, params)
	if res.Status == models.AttemptSuccess {
		return &models.GenerationResult{
			Output:   transcript.Extract(normalize.Normalize(res.Body)),
			ServedBy: c.fallback.Name,
			Note:     fallbackNote,
		}, nil
	}

	log.Error().Err(res.Cause).Msg("fallback failed, request lost")
	return nil, fmt.Errorf("%w: fallback %s failed (%v) after primary %s failed (%v)",
		models.ErrUpstreamFailed, c.fallback.Name, res.Cause, c.primary.Name, primaryErr)
}

// attemptPrimary runs up to maxPrimaryRetries attempts against the
// primary endpoint. It returns a result on success, or the error that
// ends the primary phase: a terminal cause, the last retryable cause
// after exhaustion, a warming-up report, or context cancellation.
func (c *Controller) attemptPrimary(ctx context.Context, log zerolog.Logger, prompt string, params models.GenerationParameters) (*models.GenerationResult, error) {
	var lastCause error

	for n := 1; n <= c.maxPrimaryRetries; n++ {
		res := c.caller.Call(ctx, c.primary, prompt, params)

		switch res.Status {
		case models.AttemptSuccess:
			return &models.GenerationResult{
				Output:   transcript.Extract(normalize.Normalize(res.Body)),
				ServedBy: c.primary.Name,
			}, nil

		case models.AttemptWarmingUp:
			log.Info().Dur("retry_after", res.RetryAfter).Msg("primary model warming up")
			return nil, res.Cause

		case models.AttemptTerminal:
			return nil, res.Cause

		default: // retryable
			lastCause = res.Cause
			if n == c.maxPrimaryRetries {
				break
			}
			delay := c.backoffBase << (n - 1)
			log.Info().Int("attempt", n).Dur("backoff", delay).Err(res.Cause).Msg("primary attempt failed, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, lastCause
}
