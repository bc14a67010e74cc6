package models

import "time"

// Turn is a single conversational exchange in the inbound request.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is the canonical representation of an inbound
// generation call. Exactly one of Prompt or Turns carries the input;
// Overrides are merged key-by-key over the default sampling parameters.
type GenerationRequest struct {
	Prompt    string
	Turns     []Turn
	Overrides map[string]any
}

// GenerationParameters is the sampling parameter set sent to the
// backend. Unknown keys are forwarded opaquely, never validated.
type GenerationParameters map[string]any

// DefaultParameters returns the baseline sampling parameters. Callers
// receive a fresh map and may mutate it freely.
func DefaultParameters() GenerationParameters {
	return GenerationParameters{
		"max_new_tokens":   250,
		"do_sample":        true,
		"temperature":      0.7,
		"top_p":            0.9,
		"return_full_text": false,
	}
}

// Merged returns a copy of p with the override values applied on top.
func (p GenerationParameters) Merged(overrides map[string]any) GenerationParameters {
	out := make(GenerationParameters, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// AttemptStatus classifies the outcome of one backend attempt.
type AttemptStatus int

const (
	AttemptSuccess AttemptStatus = iota
	AttemptRetryable
	AttemptTerminal
	AttemptWarmingUp
)

// String renders the status for log output.
func (s AttemptStatus) String() string {
	switch s {
	case AttemptSuccess:
		return "success"
	case AttemptRetryable:
		return "retryable_failure"
	case AttemptTerminal:
		return "terminal_failure"
	case AttemptWarmingUp:
		return "model_warming_up"
	default:
		return "unknown"
	}
}

// AttemptResult is the typed outcome of a single backend call. It is
// produced by the backend client and consumed only by the retry
// controller; it is never persisted.
type AttemptResult struct {
	Status     AttemptStatus
	HTTPStatus int
	Body       []byte
	Cause      error
	RetryAfter time.Duration
}

// GenerationResult is the final success value of a generation call.
// Note is non-empty only when the fallback backend served the request.
type GenerationResult struct {
	Output   string
	ServedBy string
	Note     string
}
