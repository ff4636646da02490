package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"ipwatch/internal/api"
	"ipwatch/internal/app"
	"ipwatch/internal/config"
	"ipwatch/internal/httpclient"
	"ipwatch/internal/logger"
	"ipwatch/internal/provider"
	"ipwatch/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ipwatch",
		Short: "Track the external IP address of this host",
		Long: `ipwatch keeps track of the host's external IP address with geolocation and
network metadata, refreshes on a timer and on network changes, and notifies when
the address changes.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(
		runCommand(&configPath),
		lookupCommand(&configPath),
		versionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			log, err := logger.New(&cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return run(cfg, log)
		},
	}
}

type component struct {
	name  string
	start func() error
	stop  func() error
}

func run(cfg *config.Config, log *zap.Logger) error {
	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}

	var srv *api.Server
	if cfg.API.Enabled {
		router := api.NewRouter(a, a.Registry(), logger.Component(log, "api"), cfg.Log.Level == "debug")
		srv = api.NewServer(cfg.API.Listen, router, logger.Component(log, "api"))
	}

	// Start components
	components := []component{
		{"agent", a.Start, a.Stop},
	}
	if srv != nil {
		components = append(components, component{"api", srv.Start, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		}})
	}

	for i, c := range components {
		if err := c.start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = components[j].stop()
			}
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal", zap.String("signal", sig.String()))

	// Stop components in reverse order
	log.Info("Starting graceful shutdown")
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.stop(); err != nil {
			log.Error("Failed to stop component",
				zap.String("component", c.name),
				zap.Error(err))
		}
	}

	log.Info("Shutdown complete")
	return nil
}

func lookupCommand(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Run one lookup and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.Refresh.FetchTimeout
			}

			client := httpclient.New(cfg.Provider.ClientConfig(), zap.NewNop())
			defer client.CloseIdleConnections()

			var opts []provider.Option
			if cfg.Provider.MMDBCityPath != "" {
				geoip, err := provider.OpenGeoIP(cfg.Provider.MMDBCityPath, cfg.Provider.MMDBASNPath)
				if err != nil {
					return err
				}
				defer func() { _ = geoip.Close() }()
				opts = append(opts, provider.WithFallback(geoip))
			}

			p := provider.New(cfg.Provider, client, zap.NewNop(), opts...)
			result := p.FetchAll(cmd.Context(), timeout)
			if !result.Usable() {
				return fmt.Errorf("lookup failed: no usable result")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Per-request timeout (defaults to refresh.fetch_timeout)")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
		},
	}
}
