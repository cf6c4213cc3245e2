package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/discord-gate/internal/discord"
	"github.com/giantswarm/discord-gate/internal/gate"
	"github.com/giantswarm/discord-gate/internal/instrumentation"
	"github.com/giantswarm/discord-gate/internal/logging"
	"github.com/giantswarm/discord-gate/internal/server"
	"github.com/giantswarm/discord-gate/internal/session"
)

// newServeCmd creates the Cobra command for starting the gate server.
func newServeCmd() *cobra.Command {
	var (
		envFile     string
		debugMode   bool
		logFormat   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the discord-gate server",
		Long: `Start the discord-gate HTTP server.

The server exposes:
  /_oauth2/login      redirects to Discord's authorization page
  /_oauth2/callback   exchanges the code and issues the session cookie
  /_oauth2/check      admits holders of a valid cookie who are members of
                      GUILD_ID with ROLE_ID, checked against Discord each time
  /healthz, /readyz   liveness and readiness probes

Configuration is read from the environment, seeded from --env-file.
Flags override the corresponding variables when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			environ, err := loadEnvironment(envFile)
			if err != nil {
				return err
			}

			cfg, err := LoadServeConfigFrom(environ)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("debug") {
				cfg.Debug = debugMode
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			instCfg, err := instrumentation.LoadConfigFrom(environ)
			if err != nil {
				return err
			}
			instCfg.ServiceVersion = rootCmd.Version

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, instCfg, rootCmd.Version, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file to seed the environment from (ignored if missing)")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging (overrides DEBUG)")
	cmd.Flags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json (overrides LOG_FORMAT)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics listen address, empty to disable (overrides METRICS_ADDR)")

	return cmd
}

// runServe wires the gate and blocks until ctx is cancelled or a server
// fails. Startup order: instrumentation, Discord client, listeners.
func runServe(ctx context.Context, cfg ServeConfig, instCfg instrumentation.Config, version string, logOut io.Writer) error {
	logger := logging.New(logOut, logging.Options{Level: cfg.LogLevel(), Format: cfg.LogFormat})
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings() {
		logger.Warn("insecure configuration", logging.Reason(w))
	}
	logger.Info("starting discord-gate", slog.String("version", version), slog.Any("config", cfg))

	provider, err := instrumentation.NewProvider(ctx, instCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	if provider.Enabled() {
		logger.Info("instrumentation initialized",
			slog.String("metrics_exporter", instCfg.MetricsExporter),
			slog.String("tracing_exporter", instCfg.TracingExporter))
	}

	client, err := discord.New(cfg.DiscordConfig(),
		discord.WithLogger(logger),
		discord.WithMetrics(provider.Metrics()),
	)
	if err != nil {
		return errors.Join(err, provider.Shutdown(context.Background()))
	}

	codec, err := session.NewCodec([]byte(cfg.JWTSecret))
	if err != nil {
		return errors.Join(err, provider.Shutdown(context.Background()))
	}

	validator, err := gate.NewValidator(codec, client,
		gate.Policy{GuildID: cfg.GuildID, RoleID: cfg.RoleID},
		gate.WithLogger(logger),
		gate.WithMetrics(provider.Metrics()),
	)
	if err != nil {
		return errors.Join(err, provider.Shutdown(context.Background()))
	}

	sc, err := server.NewServerContext(ctx,
		server.WithDiscordClient(client),
		server.WithMinter(codec),
		server.WithValidator(validator),
		server.WithLogger(logger),
		server.WithConfig(cfg.ServerConfig(version)),
		server.WithInstrumentationProvider(provider),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create server context: %w", err), provider.Shutdown(context.Background()))
	}

	if err := client.Init(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to initialize discord client: %w", err), sc.Shutdown(), provider.Shutdown(context.Background()))
	}

	gateServer, err := server.NewGateHTTPServer(sc)
	if err != nil {
		return errors.Join(err, sc.Shutdown(), provider.Shutdown(context.Background()))
	}

	// Metrics are served on their own listener, away from user traffic.
	var metricsServer *server.MetricsServer
	if cfg.MetricsAddr != "" && provider.Enabled() && instCfg.MetricsExporter == instrumentation.ExporterPrometheus {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return errors.Join(err, sc.Shutdown(), provider.Shutdown(context.Background()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := gateServer.Start(sc.Config().Addr())
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, server.ErrServerShutdown) {
			return fmt.Errorf("gate server stopped with error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", metricsServer.Addr()), logging.Endpoint("/metrics"))
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server stopped with error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, stopping servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()

		var errs []error
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		if err := gateServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gate server shutdown: %w", err))
		}
		if err := provider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("instrumentation shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("discord-gate gracefully stopped")
	return nil
}
