package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&http.Client{}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func testEndpoint(t *testing.T, url string) Endpoint {
	t.Helper()
	return Endpoint{
		Name:    "primary",
		BaseURL: url,
		Model:   "test-model",
		Timeout: 2 * time.Second,
	}
}

func TestCallSuccess(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`[{"generated_text": "Assistant: 4"}]`))
	}))
	defer srv.Close()

	ep := testEndpoint(t, srv.URL)
	ep.RequiresAuth = true
	ep.Token = "secret-token"

	params := models.DefaultParameters()
	res := newTestClient(t).Call(context.Background(), ep, "User: 2+2?\nAssistant:", params)

	assert.Equal(t, models.AttemptSuccess, res.Status)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.JSONEq(t, `[{"generated_text": "Assistant: 4"}]`, string(res.Body))

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "User: 2+2?\nAssistant:", gotBody["inputs"])
	assert.Contains(t, gotBody["parameters"], "max_new_tokens")
}

func TestCallOmitsAuthHeaderWhenNotRequired(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ep := testEndpoint(t, srv.URL)
	ep.Token = "secret-token" // present but not required

	res := newTestClient(t).Call(context.Background(), ep, "x", nil)
	assert.Equal(t, models.AttemptSuccess, res.Status)
	assert.Empty(t, gotAuth)
}

func TestCallAuthAndResourceErrorsAreTerminal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)
		srv.Close()

		assert.Equal(t, models.AttemptTerminal, res.Status, "status %d", status)
		assert.Equal(t, status, res.HTTPStatus)
		assert.True(t, errors.Is(res.Cause, models.ErrAuthOrResource))
	}
}

func TestCallColdStartIsWarmingUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "Model test-model is currently loading", "estimated_time": 20.5}`))
	}))
	defer srv.Close()

	res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)

	assert.Equal(t, models.AttemptWarmingUp, res.Status)
	assert.Equal(t, 20500*time.Millisecond, res.RetryAfter)

	var warm *models.WarmingUpError
	require.True(t, errors.As(res.Cause, &warm))
	assert.Equal(t, 20500*time.Millisecond, warm.EstimatedWait)
}

func TestCallServiceUnavailableWithoutIndicatorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "overloaded"}`))
	}))
	defer srv.Close()

	res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)

	assert.Equal(t, models.AttemptTerminal, res.Status)
	assert.Contains(t, res.Cause.Error(), "overloaded")
}

func TestCallCarriesBackendErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "inputs too long"}`))
	}))
	defer srv.Close()

	res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)

	assert.Equal(t, models.AttemptTerminal, res.Status)
	assert.Contains(t, res.Cause.Error(), "inputs too long")
}

func TestCallTruncatesOpaqueErrorBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	defer srv.Close()

	res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)

	assert.Equal(t, models.AttemptTerminal, res.Status)
	assert.Less(t, len(res.Cause.Error()), maxErrorBodyBytes+100)
}

func TestCallTimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ep := testEndpoint(t, srv.URL)
	ep.Timeout = 25 * time.Millisecond

	res := newTestClient(t).Call(context.Background(), ep, "x", nil)

	assert.Equal(t, models.AttemptRetryable, res.Status)
	assert.True(t, errors.Is(res.Cause, models.ErrTimeout))
}

func TestCallConnectionFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	res := newTestClient(t).Call(context.Background(), testEndpoint(t, srv.URL), "x", nil)

	assert.Equal(t, models.AttemptRetryable, res.Status)
	assert.True(t, errors.Is(res.Cause, models.ErrNetwork))
}

func TestEndpointURL(t *testing.T) {
	ep := Endpoint{BaseURL: "https://api-inference.huggingface.co/models/", Model: "distilgpt2"}
	assert.Equal(t, "https://api-inference.huggingface.co/models/distilgpt2", ep.URL())
}
