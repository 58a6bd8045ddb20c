package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ridesync/api/status"
	"github.com/kilianp07/ridesync/app"
	"github.com/kilianp07/ridesync/config"
	"github.com/kilianp07/ridesync/infra/logger"
	"github.com/kilianp07/ridesync/infra/metrics"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "ridesync",
	Short: "Driver-side dispatch sync client",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file, empty for environment only")
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
	log := logger.New("main")
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()

	if addr := cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				log.Errorf("prom server: %v", err)
			}
		}()
	}
	if cfg.Status.Enabled {
		h := status.NewRouter(svc.Session, svc.Journal, cfg.Status.Token)
		go func() {
			if err := status.Serve(ctx, cfg.Status.Address, h); err != nil {
				log.Errorf("status server: %v", err)
			}
		}()
		log.Infof("status api on %s", cfg.Status.Address)
	}
	return svc.Run(ctx)
}
