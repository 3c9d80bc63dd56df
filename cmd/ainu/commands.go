package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teilomillet/ainu/config"
	"github.com/teilomillet/ainu/prompt"
	"github.com/teilomillet/ainu/server"
	"github.com/teilomillet/ainu/server/handlers"
	"github.com/teilomillet/ainu/server/metrics"
	"github.com/teilomillet/ainu/upstream"
	"go.uber.org/zap"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "v0.1.0-dev"

type options struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ainu",
		Short:         "Ainu - a single-turn chat server with a fixed persona",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(
		&opts.configFile,
		"config",
		"",
		"YAML config file (default: environment variables only)",
	)

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	if opts.configFile == "" {
		return config.FromEnv()
	}
	return config.LoadFile(opts.configFile)
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, notice := range cfg.Notices {
		logger.Warn("Configuration adjusted", zap.String("notice", notice))
	}

	m := metrics.NewMetrics()
	client, err := upstream.NewClient(upstream.ConfigFrom(cfg.Upstream), m.Registry())
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}

	persona := prompt.FromConfig(cfg.Persona)
	chat := handlers.NewChatHandler(persona, client, logger)
	srv := server.NewServer(cfg.Server, server.NewRouter(chat, m, logger), logger)

	logger.Info("Starting ainu",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("model", persona.ModelID),
		zap.String("upstream", cfg.Upstream.URL),
	)
	return srv.Start(ctx)
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintf(out, "  upstream: %s\n", cfg.Upstream.URL)
			fmt.Fprintf(out, "  model:    %s\n", cfg.Persona.ModelID)
			fmt.Fprintf(out, "  port:     %d\n", cfg.Server.Port)
			for _, notice := range cfg.Notices {
				fmt.Fprintf(out, "  note:     %s\n", notice)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ainu %s\n", Version)
			return nil
		},
	}
}
