package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/protocol-gateway/internal/gateway"
	"github.com/compresr/protocol-gateway/internal/monitoring"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	configPath string
	debug      bool
	noBanner   bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (.yaml or .toml)")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	cmd.Flags().BoolVar(&opts.noBanner, "no-banner", false, "suppress startup banner")
	return cmd
}

// runServe starts the gateway and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, opts *serveOptions) error {
	if !opts.noBanner {
		printBanner()
	}

	cfg, source, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	level := cfg.Monitoring.LogLevel
	if opts.debug {
		level = "debug"
	}
	logger := monitoring.Global(monitoring.LoggerConfig{
		Level:  level,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	defer logger.Close()

	log.Info().
		Str("version", Version).
		Str("config", source).
		Int("port", cfg.Server.Port).
		Int("endpoints", len(cfg.Endpoints)).
		Int("models", len(cfg.Models)).
		Msg("Protocol Gateway starting")

	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil {
		return err
	}
	<-drained
	log.Info().Msg("Protocol Gateway stopped")
	return nil
}
