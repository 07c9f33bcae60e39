package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

var (
	addID    string
	addTitle string
	addWait  bool
)

var addCmd = &cobra.Command{
	Use:   "add [files...]",
	Short: "Add documents to the knowledge base",
	Long: `Queues files for ingestion. Each file is extracted, split into passages,
embedded and stored. Supported types: PDF, DOCX, Markdown, HTML and plain text.

With --wait the command prints progress and reports each file's final status.
Without it the command returns once files are queued; queued files are still
finished before the process exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addID, "id", "", "document ID (single file only; default: generated)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "document title (single file only; default: file name)")
	addCmd.Flags().BoolVarP(&addWait, "wait", "w", false, "wait for ingestion to finish and show progress")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	if ingestionService == nil {
		return errors.New("ingestion service not configured")
	}
	if len(args) > 1 && (addID != "" || addTitle != "") {
		return errors.New("--id and --title can only be used with a single file")
	}

	reqs := make([]driving.IngestRequest, 0, len(args))
	for _, arg := range args {
		path, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", arg, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory; use 'kbase watch' to index a folder", arg)
		}
		id := addID
		if id == "" {
			id = uuid.NewString()
		}
		reqs = append(reqs, driving.IngestRequest{
			Path: path,
			Meta: domain.DocumentMeta{ID: id, Title: addTitle},
		})
	}

	ctx := cmd.Context()

	// Subscribe before queueing so the starting events are seen.
	var (
		stop    chan struct{}
		printed <-chan struct{}
		sub     driving.ProgressSubscription
	)
	if addWait && progressService != nil {
		printer := newProgressPrinter(cmd.OutOrStdout())
		for _, req := range reqs {
			printer.track(req.Meta.ID, filepath.Base(req.Path))
		}
		sub = progressService.SubscribeAll()
		defer sub.Unsubscribe()
		stop = make(chan struct{})
		printed = printer.follow(sub, stop)
	}

	metas, addErr := ingestionService.AddDocuments(ctx, reqs)

	if !addWait {
		for _, meta := range metas {
			cmd.Printf("Queued %s (%s)\n", meta.ID, meta.Path)
		}
		return addErr
	}

	for _, meta := range metas {
		if err := ingestionService.Wait(ctx, meta.ID); err != nil {
			return err
		}
	}
	if stop != nil {
		close(stop)
		<-printed
	}

	failed := 0
	for _, meta := range metas {
		status, reason := meta.Status, meta.FailureReason
		if documentService != nil {
			doc, err := documentService.Get(ctx, meta.ID)
			if err != nil {
				return fmt.Errorf("failed to get document %s: %w", meta.ID, err)
			}
			status, reason = doc.Status, doc.FailureReason
		}
		switch status {
		case domain.StatusFailed:
			failed++
			cmd.Printf("Failed  %s  %s: %s\n", meta.ID, meta.Title, reason)
		case domain.StatusIndexed:
			cmd.Printf("Indexed %s  %s\n", meta.ID, meta.Title)
		default:
			cmd.Printf("%s %s  %s\n", status, meta.ID, meta.Title)
		}
	}

	if failed > 0 {
		addErr = errors.Join(addErr, fmt.Errorf("%d of %d documents failed", failed, len(metas)))
	}
	return addErr
}
