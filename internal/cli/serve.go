package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbmigration/keeper/internal/config"
	"github.com/dbmigration/keeper/internal/logbuf"
	"github.com/dbmigration/keeper/internal/logging"
	"github.com/dbmigration/keeper/internal/metrics"
	"github.com/dbmigration/keeper/internal/server"
	"github.com/dbmigration/keeper/internal/supervisor"
	"github.com/dbmigration/keeper/internal/version"
)

func newServeCommand() *cobra.Command {
	var (
		envFile      string
		firebaseFile string
		noStart      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and its control API",
		Long:  "Resolves the deployment configuration, starts the migration analyzer under supervision, and serves the control API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, firebaseFile, noStart)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "explicit .env file (overrides the search paths)")
	cmd.Flags().StringVar(&firebaseFile, "firebase-config", "", "explicit firebase-config.json file")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "serve the control API without starting the service")
	return cmd
}

func runServe(envFile, firebaseFile string, noStart bool) error {
	var loaderOpts []config.LoaderOption
	if envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(envFile))
	}
	if firebaseFile != "" {
		loaderOpts = append(loaderOpts, config.WithFirebaseFile(firebaseFile))
	}
	loader := func() (*config.Resolved, error) {
		return config.Load(loaderOpts...)
	}

	// Fail fast: an incomplete environment is an operator problem that a
	// running daemon cannot fix.
	resolved, err := loader()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  resolved.Get(config.KeyLogLevel),
		Format: resolved.Get(config.KeyLogFormat),
	})
	log.Info("keeper starting", map[string]interface{}{
		"version":  version.GetShortVersion(),
		"env_file": resolved.EnvFile(),
	})

	ctx := context.Background()

	var m *metrics.Metrics
	if endpoint := resolved.Get(config.KeyOTLPEndpoint); endpoint != "" {
		provider, err := metrics.InitMeter(ctx, metrics.MeterConfig{
			ServiceName: "keeper",
			Endpoint:    endpoint,
			Insecure:    true,
		})
		if err != nil {
			return fmt.Errorf("initializing metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()

		if m, err = metrics.New(); err != nil {
			return fmt.Errorf("creating instruments: %w", err)
		}
		log.Info("metrics export enabled", map[string]interface{}{"endpoint": endpoint})
	}

	logs := logbuf.New(0)
	sup := supervisor.New(loader, logs, log, supervisor.WithMetrics(m))

	srv, err := server.New(server.Config{
		Addr:          resolved.Get(config.KeyControlAddr),
		AdminEmail:    resolved.Get(config.KeyAdminEmail),
		AdminPassword: resolved.Get(config.KeyAdminPassword),
		AdminKey:      resolved.Get(config.KeyAdminKey),
	}, sup, logs, loader, log)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if !noStart {
		// A failing service start keeps the daemon alive so operators can
		// inspect and retry through the API.
		if err := sup.Start(ctx); err != nil {
			log.Error("service start failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("control API shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	sup.Shutdown(shutdownCtx)
	return nil
}
