// Package cli implements the kbase command line.
//
// Commands reach the core through package-level driving ports. The binary
// installs a Bootstrapper that builds them before a command runs; tests
// assign the ports directly.
package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/adapters/driving/api"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// version is set at build time via ldflags.
var version = "dev"

// Driving ports used by commands.
var (
	ingestionService driving.IngestionService
	searchService    driving.SearchService
	documentService  driving.DocumentService
	progressService  driving.ProgressService
	settingsService  driving.SettingsService

	healthChecks        map[string]api.HealthChecker
	supportedExtensions []string
	cliLogger           = zap.NewNop()
)

// Options are the global flags.
type Options struct {
	ConfigDir string
	Verbose   bool
	Ephemeral bool
}

// Services is what a Bootstrapper provides to commands.
type Services struct {
	Ingestion driving.IngestionService
	Search    driving.SearchService
	Documents driving.DocumentService
	Progress  driving.ProgressService
	Settings  driving.SettingsService

	// HealthChecks are probed by the HTTP server's /healthz.
	HealthChecks map[string]api.HealthChecker

	// Extensions lists the file extensions that can be ingested.
	Extensions []string

	Logger *zap.Logger

	// Close drains queued work and releases resources.
	Close func() error
}

// Bootstrapper builds services for a command.
type Bootstrapper interface {
	// Settings opens only the settings store.
	Settings(opts Options) (driving.SettingsService, error)

	// Services builds every service. Workers run until Close.
	Services(ctx context.Context, opts Options) (*Services, error)
}

var (
	globalOpts   Options
	bootstrapper Bootstrapper
	closeFn      func() error
)

// Annotation values controlling what a command needs.
const (
	annotationBootstrap = "bootstrap"
	bootstrapNone       = "none"
	bootstrapSettings   = "settings"
)

var rootCmd = &cobra.Command{
	Use:   "kbase",
	Short: "Local document knowledge base with semantic search",
	Long: `kbase ingests PDF, DOCX, Markdown, HTML and plain text files into a local
knowledge base and answers natural-language queries with the most relevant
passages.

Documents are split into overlapping passages, embedded with the configured
provider (Ollama or OpenAI) and stored in SQLite under ~/.kbase.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: bootstrap,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalOpts.ConfigDir, "config", "", "configuration directory (default ~/.kbase)")
	flags.BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&globalOpts.Ephemeral, "ephemeral", false, "keep documents in memory for this run only")
}

// SetBootstrapper installs the service factory used before each command.
func SetBootstrapper(b Bootstrapper) {
	bootstrapper = b
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the command line and releases services afterwards.
func Execute(ctx context.Context) error {
	// cmd.Print* defaults to stderr; results belong on stdout.
	rootCmd.SetOut(os.Stdout)
	err := rootCmd.ExecuteContext(ctx)
	if closeFn != nil {
		err = errors.Join(err, closeFn())
		closeFn = nil
	}
	return err
}

func bootstrap(cmd *cobra.Command, _ []string) error {
	if bootstrapper == nil {
		return nil
	}

	switch bootstrapMode(cmd) {
	case bootstrapNone:
		return nil
	case bootstrapSettings:
		svc, err := bootstrapper.Settings(globalOpts)
		if err != nil {
			return err
		}
		settingsService = svc
		return nil
	}

	svc, err := bootstrapper.Services(cmd.Context(), globalOpts)
	if err != nil {
		return err
	}
	useServices(svc)
	return nil
}

// useServices installs svc as the package ports.
func useServices(svc *Services) {
	ingestionService = svc.Ingestion
	searchService = svc.Search
	documentService = svc.Documents
	progressService = svc.Progress
	settingsService = svc.Settings
	healthChecks = svc.HealthChecks
	supportedExtensions = svc.Extensions
	if svc.Logger != nil {
		cliLogger = svc.Logger
	}
	closeFn = svc.Close
}

// bootstrapMode returns the nearest bootstrap annotation up the command tree.
func bootstrapMode(cmd *cobra.Command) string {
	for c := cmd; c != nil; c = c.Parent() {
		// Cobra's generated help and completion commands.
		if c.Name() == "help" || c.Name() == "completion" {
			return bootstrapNone
		}
		if mode, ok := c.Annotations[annotationBootstrap]; ok {
			return mode
		}
	}
	return ""
}
