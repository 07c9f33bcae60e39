package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/kbase/internal/adapters/driving/api"
	"github.com/custodia-labs/kbase/internal/connectors/filesystem"
	"github.com/custodia-labs/kbase/internal/core/domain"
)

var (
	serveAddr     string
	serveWatchDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves the knowledge base over HTTP.

Endpoints:
  POST   /v1/documents               ingest a file ({"path": ..., "wait": true} blocks until done)
  GET    /v1/documents               list documents (?status=indexed)
  GET    /v1/documents/{id}          document metadata
  GET    /v1/documents/{id}/chunks   document passages
  GET    /v1/documents/{id}/status   ingestion status
  DELETE /v1/documents/{id}          delete a document
  POST   /v1/search                  semantic search
  GET    /v1/progress                progress events for all files (SSE)
  GET    /v1/progress/{id}           progress events for one file (SSE)
  GET    /healthz                    liveness and dependency checks
  GET    /metrics                    Prometheus metrics

With --watch the server also keeps the knowledge base in step with a directory.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from settings, "+domain.DefaultServerAddr+")")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "also watch this directory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if ingestionService == nil {
		return errors.New("ingestion service not configured")
	}
	if searchService == nil {
		return errors.New("search service not configured")
	}
	if documentService == nil {
		return errors.New("document service not configured")
	}

	cfg := domain.DefaultSettings().Server
	if settingsService != nil {
		settings, err := settingsService.Get()
		if err != nil {
			return fmt.Errorf("failed to get settings: %w", err)
		}
		cfg = settings.Server
	}
	addr := cfg.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	if err := verifyIntegrity(cmd.Context()); err != nil {
		return err
	}

	server := api.NewServer(api.Ports{
		Ingestion: ingestionService,
		Documents: documentService,
		Search:    searchService,
		Progress:  progressService,
	}, cliLogger, healthOptions()...)

	g, ctx := errgroup.WithContext(cmd.Context())

	if serveWatchDir != "" {
		w, err := newDirWatcher(serveWatchDir, filesystem.DefaultDebounce)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	g.Go(func() error {
		return server.Run(ctx, addr, cfg.ShutdownTimeout.Duration)
	})

	cmd.Printf("Listening on http://%s (Ctrl+C to stop)\n", addr)
	return g.Wait()
}

// healthOptions registers the bootstrapped dependency checks in name order.
func healthOptions() []api.Option {
	names := make([]string, 0, len(healthChecks))
	for name := range healthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]api.Option, 0, len(names))
	for _, name := range names {
		opts = append(opts, api.WithHealthCheck(name, healthChecks[name]))
	}
	return opts
}
