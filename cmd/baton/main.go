// Package main is the entry point for the baton gateway. One binary runs a
// single transport mode; "auto" picks the first platform with credentials
// and falls back to the interactive CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/common/config"
	"github.com/baton-gw/baton/internal/common/logger"
	"github.com/baton-gw/baton/internal/gateway"
)

var (
	flagMode   string
	flagDir    string
	flagConfig string
	flagLang   string
)

func main() {
	root := &cobra.Command{
		Use:   "baton [mode] [workdir]",
		Short: "Chat-platform gateway for a local coding agent",
		Long: `baton bridges chat platforms (Feishu, Telegram, WhatsApp, Slack,
Discord) to a local coding agent speaking the Agent Client Protocol.

Modes: auto, cli, feishu, telegram, whatsapp, slack, discord.`,
		Args: cobra.MaximumNArgs(2),
		RunE: run,
		// Errors are logged by run; cobra's own echo would duplicate them.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVar(&flagMode, "mode", "", "transport mode (overrides the positional argument)")
	root.Flags().StringVar(&flagDir, "dir", "", "default project directory")
	root.Flags().StringVar(&flagConfig, "config", "", "explicit config file path")
	root.Flags().StringVar(&flagLang, "lang", "", "reply language (en, zh-CN)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	mode := flagMode
	if mode == "" && len(args) > 0 {
		mode = args[0]
	}
	if mode == "" {
		mode = "auto"
	}

	workdir := flagDir
	if workdir == "" && len(args) > 1 {
		workdir = args[1]
	}

	// 1. Load configuration
	cfg, err := config.Load(workdir, flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if workdir != "" {
		cfg.Project.Path = workdir
	}
	if flagLang != "" {
		cfg.Language = flagLang
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	if mode == "auto" {
		mode = gateway.ChooseMode(cfg)
	}
	log.Info("Starting baton...", zap.String("mode", mode))

	// 3. Build the gateway
	gw, err := gateway.New(cfg, mode, log)
	if err != nil {
		log.Error("Failed to build gateway", zap.Error(err))
		return err
	}

	// 4. Run until SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Shutting down baton...")
		cancel()
	}()

	if err := gw.Run(ctx); err != nil {
		log.Error("Gateway failed", zap.Error(err))
		return err
	}
	return nil
}
