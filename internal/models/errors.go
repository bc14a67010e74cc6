package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest indicates the client supplied neither a prompt nor
// any usable conversation turns. Never results in a backend call.
var ErrInvalidRequest = errors.New("invalid generation request")

// ErrConfigurationMissing indicates required process configuration is
// absent. It cannot self-heal and is never retried.
var ErrConfigurationMissing = errors.New("configuration missing")

// ErrTimeout indicates a backend attempt exceeded its per-attempt deadline.
var ErrTimeout = errors.New("backend request timed out")

// ErrNetwork indicates a transport-level failure reaching the backend.
var ErrNetwork = errors.New("backend unreachable")

// ErrAuthOrResource indicates the backend rejected the credentials or
// the model identifier. Retrying the same backend cannot succeed.
var ErrAuthOrResource = errors.New("backend rejected credentials or model")

// ErrUpstreamFailed indicates both the primary and fallback backends
// failed to serve the request.
var ErrUpstreamFailed = errors.New("all backends failed")

// WarmingUpError reports a backend cold start together with the wait
// the backend suggested before retrying.
type WarmingUpError struct {
	EstimatedWait time.Duration
}

func (e *WarmingUpError) Error() string {
	return fmt.Sprintf("model is warming up, retry in %s", e.EstimatedWait)
}
