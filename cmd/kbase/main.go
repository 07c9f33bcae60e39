package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/kbase/internal/adapters/driving/api"
	"github.com/custodia-labs/kbase/internal/adapters/driving/cli"
	"github.com/custodia-labs/kbase/internal/app"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.SetVersion(version)
	cli.SetBootstrapper(bootstrapper{})

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// bootstrapper builds the CLI's services from the app package.
type bootstrapper struct{}

func (bootstrapper) Settings(opts cli.Options) (driving.SettingsService, error) {
	svc, err := app.LoadSettings(app.Options{ConfigDir: opts.ConfigDir, Ephemeral: opts.Ephemeral})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (bootstrapper) Services(ctx context.Context, opts cli.Options) (*cli.Services, error) {
	log, err := logger.New(opts.Verbose, os.Getenv("KBASE_LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, app.Options{
		ConfigDir: opts.ConfigDir,
		Ephemeral: opts.Ephemeral,
		Logger:    log,
	})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	checks := make(map[string]api.HealthChecker)
	for name, p := range a.HealthChecks() {
		checks[name] = p
	}

	return &cli.Services{
		Ingestion:    a.Ingestion,
		Search:       a.Search,
		Documents:    a.Documents,
		Progress:     a.Progress,
		Settings:     a.Config,
		HealthChecks: checks,
		Extensions:   a.Extractors.Extensions(),
		Logger:       log,
		Close: func() error {
			err := a.Close()
			_ = log.Sync()
			return err
		},
	}, nil
}
