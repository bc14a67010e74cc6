package backend

import (
	"strings"
	"time"
)

// Endpoint identifies one remote text-generation backend. Both
// configured endpoints (primary and fallback) are resolved once at
// startup and read-only afterwards, so concurrent use needs no locking.
type Endpoint struct {
	Name         string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	RequiresAuth bool
	Token        string
}

// URL resolves the model inference URL for this endpoint.
func (e Endpoint) URL() string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + e.Model
}
