package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/internal/server"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/connector/core"
	"github.com/meridianhq/meridian/pkg/connector/registry"
	"github.com/meridianhq/meridian/pkg/logger"
	"github.com/meridianhq/meridian/pkg/version"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "meridian",
		Short: "Meridian - marketing platform connector service",
		Long: `Meridian dispatches marketing content to external platforms through a
uniform connector abstraction: one capability contract, one error taxonomy,
one rate limiting model across all supported platforms.`,
	}

	root.AddCommand(versionCmd(), listCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Meridian %s (%s)\n", version.Version, version.Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported platforms and their capabilities",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Supported platforms:")
			for _, p := range core.Platforms() {
				m := core.MatrixFor(p)
				fmt.Printf("  %-22s publish=%t schedule=%s update=%t delete=%t insights=%t webhooks=%t\n",
					p, m.Publish, scheduleName(m.Schedule), m.Update, m.Delete, m.Insights, m.Webhooks)
			}
		},
	}
}

func scheduleName(s core.ScheduleSupport) string {
	switch s {
	case core.ScheduleNative:
		return "native"
	case core.ScheduleFallback:
		return "fallback"
	default:
		return "unsupported"
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var bootstrapPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connector dispatch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadService(configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			if err := logger.Init(logger.Config{
				Level:       cfg.Log.Level,
				Encoding:    cfg.Log.Encoding,
				Development: cfg.Log.Development,
			}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			reg := registry.New()
			if bootstrapPath != "" {
				bootstrap, err := config.LoadBootstrap(bootstrapPath)
				if err != nil {
					return fmt.Errorf("load bootstrap file: %w", err)
				}
				for _, spec := range bootstrap.Connectors {
					instance, err := reg.Create(cmd.Context(), spec.Platform, spec.BaseConfig())
					if err != nil {
						reg.Close(cmd.Context())
						return fmt.Errorf("bootstrap connector %s: %w", spec.Platform, err)
					}
					logger.Info("bootstrapped connector",
						zap.String("instance_id", instance.ID),
						zap.String("platform", string(instance.Platform)))
				}
			}

			srv := server.New(cfg, reg)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				logger.Info("shutting down", zap.String("signal", sig.String()))
				return srv.Shutdown(context.Background())
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to service configuration file")
	cmd.Flags().StringVar(&bootstrapPath, "bootstrap", "", "path to a connector bootstrap file provisioned at startup")
	return cmd
}
