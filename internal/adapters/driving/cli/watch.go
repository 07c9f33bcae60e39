package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/adapters/driving/watch"
	"github.com/custodia-labs/kbase/internal/connectors/filesystem"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Keep the knowledge base in step with a directory",
	Long: `Ingests every supported file under the directory that is not yet indexed,
then follows changes until interrupted. New files are added, modified files
are re-ingested and removed files are deleted from the knowledge base.

Hidden files and directories are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", filesystem.DefaultDebounce,
		"wait this long after the last change to a file before applying it")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if ingestionService == nil {
		return errors.New("ingestion service not configured")
	}
	if documentService == nil {
		return errors.New("document service not configured")
	}

	w, err := newDirWatcher(args[0], watchDebounce)
	if err != nil {
		return err
	}
	if err := verifyIntegrity(cmd.Context()); err != nil {
		return err
	}

	cmd.Printf("Watching %s (Ctrl+C to stop)\n", args[0])

	if progressService != nil {
		printer := newProgressPrinter(cmd.OutOrStdout())
		sub := progressService.SubscribeAll()
		defer sub.Unsubscribe()
		stop := make(chan struct{})
		done := printer.follow(sub, stop)
		defer func() {
			close(stop)
			<-done
		}()
	}

	return w.Run(cmd.Context())
}

// newDirWatcher validates dir and builds a watcher that only reports files
// an extractor can handle.
func newDirWatcher(dir string, debounce time.Duration) (*watch.Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	opts := []filesystem.Option{
		filesystem.WithDebounce(debounce),
		filesystem.WithLogger(cliLogger),
	}
	if len(supportedExtensions) > 0 {
		exts := supportedExtensions
		opts = append(opts, filesystem.WithFilter(func(path string) bool {
			return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
		}))
	}

	conn := filesystem.New(abs, opts...)
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return watch.New(conn, ingestionService, documentService, cliLogger), nil
}

// verifyIntegrity clears documents left in indexing by an earlier crash.
// Only long-running commands call it; they own the store while they run.
func verifyIntegrity(ctx context.Context) error {
	if documentService == nil {
		return nil
	}
	purged, err := documentService.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("verify store integrity: %w", err)
	}
	for i := range purged {
		cliLogger.Warn("removed interrupted ingestion",
			zap.String("document_id", purged[i].ID),
			zap.String("title", purged[i].Title))
	}
	return nil
}
