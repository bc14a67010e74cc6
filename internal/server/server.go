// Package server exposes the gateway over HTTP. It is deliberately thin
// plumbing: decode the inbound body, hand it to the controller or the
// relay, and map the error taxonomy onto status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"chatgate/internal/config"
	"chatgate/internal/gateway"
	"chatgate/internal/models"
	"chatgate/internal/relay"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 120 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg        config.Config
	controller *gateway.Controller
	relay      *relay.Client
	app        *echo.Echo
	address    string
	log        zerolog.Logger
}

// New constructs an HTTP server wired with routing and middleware. The
// relay client may be nil when the private backend is not configured;
// its route then answers with a configuration error.
func New(cfg config.Config, ctrl *gateway.Controller, relayClient *relay.Client, logger zerolog.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("controller must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Str("request_id", v.RequestID).
				Err(v.Error).
				Msg("request")
			return nil
		},
	}))

	srv := &Server{
		cfg:        cfg,
		controller: ctrl,
		relay:      relayClient,
		app:        e,
		address:    fmt.Sprintf(":%d", cfg.Server.Port),
		log:        logger,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the HTTP handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info().Str("addr", s.address).Msg("starting server")

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.log.Info().Msg("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/generate", s.handleGenerate)
	s.app.POST("/api/chat-to-colab", s.handleRelay)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type generateRequest struct {
	Prompt   string         `json:"prompt"`
	Messages []models.Turn  `json:"messages"`
	Params   map[string]any `json:"params"`
}

type generateResponse struct {
	Output string `json:"output"`
	Model  string `json:"model"`
	Note   string `json:"note,omitempty"`
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req generateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	result, err := s.controller.Generate(c.Request().Context(), models.GenerationRequest{
		Prompt:    req.Prompt,
		Turns:     req.Messages,
		Overrides: req.Params,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, generateResponse{
		Output: result.Output,
		Model:  result.ServedBy,
		Note:   result.Note,
	})
}

type relayRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleRelay(c echo.Context) error {
	var req relayRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return requestError{Status: http.StatusBadRequest, Message: "prompt is required"}
	}

	if s.relay == nil {
		return requestError{Status: http.StatusServiceUnavailable, Message: "relay backend is not configured"}
	}

	raw, err := s.relay.Relay(c.Request().Context(), req.Prompt)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{Status: http.StatusBadRequest, Message: "request body is required"}
		}
		return requestError{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid JSON payload: %v", err)}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{Status: http.StatusBadRequest, Message: "request body must contain a single JSON object"}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

// warmingUpBody is the distinct non-error "retry later" surface for a
// cold-starting backend, carrying the wait the backend suggested.
type warmingUpBody struct {
	Status        string  `json:"status"`
	EstimatedTime float64 `json:"estimated_time"`
}

func errorHandler(err error, c echo.Context) {
	var warm *models.WarmingUpError
	if errors.As(err, &warm) {
		_ = c.JSON(http.StatusServiceUnavailable, warmingUpBody{
			Status:        "loading",
			EstimatedTime: warm.EstimatedWait.Seconds(),
		})
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, map[string]string{"error": reqErr.Message})
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, map[string]string{"error": fmt.Sprintf("%v", he.Message)})
		return
	}

	_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// toHTTPError maps the gateway error taxonomy onto HTTP statuses. Final
// upstream failures name the stage and failure class but never carry
// tokens or stack traces.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var warm *models.WarmingUpError
	if errors.As(err, &warm) {
		return err
	}

	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return requestError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, relay.ErrNotConfigured):
		return requestError{Status: http.StatusServiceUnavailable, Message: "relay backend is not configured"}
	case errors.Is(err, models.ErrConfigurationMissing):
		return requestError{Status: http.StatusInternalServerError, Message: err.Error()}
	case errors.Is(err, models.ErrUpstreamFailed), errors.Is(err, relay.ErrUpstream):
		return requestError{Status: http.StatusBadGateway, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		// Client went away; 499-style, nothing useful to send.
		return requestError{Status: http.StatusBadGateway, Message: "request cancelled"}
	default:
		return requestError{Status: http.StatusBadGateway, Message: "upstream backend error"}
	}
}
