package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatgate/internal/backend"
	"chatgate/internal/config"
	"chatgate/internal/gateway"
	"chatgate/internal/relay"
	"chatgate/internal/server"
)

const serveUsage = `Usage:
  chatgate serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to optional YAML configuration file
  --port   int      Override server port from configuration

Model identifiers, the API token and the relay secret are resolved from
the environment (PRIMARY_MODEL, FALLBACK_MODEL, HF_API_TOKEN,
COLAB_BASE_URL, RELAY_SHARED_SECRET); a .env file is loaded when present.`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	// Best effort; running without a .env file is the normal case in
	// production.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cfg.Inference.Token == "" {
		logger.Warn().Msg("no HF_API_TOKEN configured; primary backend calls will likely be rejected")
	}

	primary := backend.Endpoint{
		Name:         "primary",
		BaseURL:      cfg.Inference.BaseURL,
		Model:        cfg.Inference.PrimaryModel,
		Timeout:      cfg.Inference.PrimaryTimeout.Std(),
		RequiresAuth: true,
		Token:        cfg.Inference.Token,
	}
	fallback := backend.Endpoint{
		Name:    "fallback",
		BaseURL: cfg.Inference.BaseURL,
		Model:   cfg.Inference.FallbackModel,
		Timeout: cfg.Inference.FallbackTimeout.Std(),
	}

	httpClient := backend.NewHTTPClient()

	client, err := backend.NewClient(httpClient, logger)
	if err != nil {
		return err
	}

	ctrl, err := gateway.NewController(client, primary, fallback,
		cfg.Inference.MaxPrimaryRetries, cfg.Inference.BackoffBase.Std(), logger)
	if err != nil {
		return err
	}

	var relayClient *relay.Client
	relayClient, err = relay.New(cfg.Relay.BaseURL, cfg.Relay.Secret, httpClient, logger)
	if err != nil {
		if !errors.Is(err, relay.ErrNotConfigured) {
			return err
		}
		logger.Warn().Msg("relay backend not configured; /api/chat-to-colab disabled")
		relayClient = nil
	}

	srv, err := server.New(cfg, ctrl, relayClient, logger)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
