// Command tradeguard runs the exchange resilience gateway: the
// orchestrator consumer loop plus the operator status API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/kbukum/tradeguard/component"
	"github.com/kbukum/tradeguard/config"
	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/observability"
	"github.com/kbukum/tradeguard/orchestrator"
	"github.com/kbukum/tradeguard/schedule"
	"github.com/kbukum/tradeguard/signing"
	"github.com/kbukum/tradeguard/statusapi"
	"github.com/kbukum/tradeguard/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tradeguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := pflag.String("config", "", "path to config.yml (default: searched)")
	envFile := pflag.String("env-file", "", "path to .env (default: searched)")
	statusInterval := pflag.Duration("status-interval", time.Minute, "how often to log a status line (0 disables)")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return nil
	}

	cfg, err := config.Load("tradeguard", config.WithConfigFile(*configFile), config.WithEnvFile(*envFile))
	if err != nil {
		return err
	}

	logger.Init(cfg.Logging, cfg.Service.Name)
	log := logger.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Init(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	orch, err := newOrchestrator(cfg)
	if err != nil {
		return multierr.Append(err, telemetry.Shutdown(context.Background()))
	}

	registry := component.NewRegistry(log)
	if err := registry.Register(orch); err != nil {
		return err
	}
	if cfg.StatusAPI.Enabled {
		srv, err := statusapi.New(cfg.StatusAPI, orch)
		if err != nil {
			return err
		}
		if err := registry.Register(srv); err != nil {
			return err
		}
	}

	reporter := schedule.New("status-report")
	if *statusInterval > 0 {
		if err := reporter.Every("log-status", *statusInterval, func(context.Context) { orch.LogStatus() }); err != nil {
			return err
		}
	}

	if err := registry.StartAll(ctx); err != nil {
		return multierr.Append(err, telemetry.Shutdown(context.Background()))
	}
	reporter.Start(ctx)
	log.Info("tradeguard ready", logger.Fields(
		"environment", cfg.Service.Environment,
		"version", version.Get().String(),
		"status_api", cfg.StatusAPI.Enabled,
	))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	reporter.Stop()
	err = registry.StopAll(shutdownCtx)
	return multierr.Append(err, telemetry.Shutdown(shutdownCtx))
}

func newOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	signer, err := signing.New(cfg.Signing, nil)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	opts := []orchestrator.Option{orchestrator.WithLogger(logger.WithComponent("orchestrator"))}
	if signer != nil {
		opts = append(opts, orchestrator.WithSigner(signer))
	}
	return orchestrator.New(cfg.Orchestrator, opts...)
}
