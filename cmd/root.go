package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agvflow/agvflow/app"
	"github.com/agvflow/agvflow/config"
	"github.com/agvflow/agvflow/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "agvflow",
	Short: "AGV fleet scheduling service",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	if err := svc.Run(ctx); err != nil {
		logger.New("main").Errorf("service: %v", err)
		return err
	}
	return nil
}
