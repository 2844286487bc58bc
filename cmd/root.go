package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evcharger/app"
	"github.com/kilianp07/evcharger/config"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
	"github.com/kilianp07/evcharger/infra/logger"
	"github.com/kilianp07/evcharger/infra/monitoring"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "evcharger",
	Short:         "OCPP 1.6 charge point",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the central system and run the charger",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := startService(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)
	return svc.Run(ctx)
}

// startService loads the configuration, installs error reporting and dials
// the central system.
func startService(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry, cfg.Station.Identity)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)
	return app.New(ctx, cfg)
}

func closeService(svc *app.Service) {
	if err := svc.Close(); err != nil {
		logger.New("main").Errorf("service close: %v", err)
	}
	coremon.Flush(2 * time.Second)
}
