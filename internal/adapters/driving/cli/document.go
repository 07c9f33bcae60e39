package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

const timeLayout = "2006-01-02 15:04:05"

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Manage indexed documents",
	Long:    `List, inspect, or delete documents in the knowledge base.`,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentChunksCmd = &cobra.Command{
	Use:   "chunks [doc-id]",
	Short: "Print a document's passages",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentChunks,
}

var documentDeleteCmd = &cobra.Command{
	Use:     "delete [doc-id]",
	Aliases: []string{"rm"},
	Short:   "Delete a document and its passages",
	Long:    `Removes a document from the index. An ingestion in progress is cancelled first.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDocumentDelete,
}

var (
	documentStatusFilter string
	documentJSON         bool
)

func init() {
	documentListCmd.Flags().StringVar(&documentStatusFilter, "status", "", "only list documents in this status (indexing, indexed, failed)")
	documentListCmd.Flags().BoolVar(&documentJSON, "json", false, "output as JSON")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentChunksCmd)
	documentCmd.AddCommand(documentDeleteCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	status := domain.DocumentStatus(documentStatusFilter)
	if status != "" && !status.IsValid() {
		return fmt.Errorf("unknown status %q", documentStatusFilter)
	}

	docs, err := documentService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	filtered := make([]domain.DocumentMeta, 0, len(docs))
	for i := range docs {
		if status == "" || docs[i].Status == status {
			filtered = append(filtered, docs[i])
		}
	}

	if documentJSON {
		data, err := json.MarshalIndent(filtered, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if len(filtered) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	cmd.Println("Documents:")
	cmd.Println()
	for i := range filtered {
		doc := &filtered[i]
		cmd.Printf("  %s\n", doc.ID)
		cmd.Printf("    Title:    %s\n", doc.Title)
		cmd.Printf("    Status:   %s\n", doc.Status)
		cmd.Printf("    Uploaded: %s\n", doc.UploadDate.Local().Format(timeLayout))
		if doc.FailureReason != "" {
			cmd.Printf("    Reason:   %s\n", doc.FailureReason)
		}
		cmd.Println()
	}

	cmd.Printf("Total: %d documents\n", len(filtered))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Title:    %s\n", doc.Title)
	cmd.Printf("  Status:   %s\n", doc.Status)
	cmd.Printf("  Uploaded: %s\n", doc.UploadDate.Local().Format(timeLayout))
	if doc.Path != "" {
		cmd.Printf("  Path:     %s\n", doc.Path)
	}
	if doc.FailureReason != "" {
		cmd.Printf("  Reason:   %s\n", doc.FailureReason)
	}

	if ingestionService != nil && doc.Status == domain.StatusIndexing {
		if st, ok := ingestionService.Status(doc.ID); ok {
			cmd.Printf("  Progress: %s", st.State)
			if st.Total > 0 {
				cmd.Printf(" (%d/%d passages embedded)", st.Embedded, st.Total)
			}
			cmd.Println()
		}
	}

	return nil
}

func runDocumentChunks(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	chunks, err := documentService.Chunks(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get passages: %w", err)
	}

	if len(chunks) == 0 {
		cmd.Println("Document has no passages.")
		return nil
	}

	for i := range chunks {
		c := &chunks[i]
		cmd.Printf("--- passage %d of %d, page %d ---\n", c.ChunkIndex+1, c.TotalChunks, c.PageNumber)
		cmd.Println(c.Text)
		cmd.Println()
	}
	return nil
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	docID := args[0]
	deleted, err := documentService.Delete(cmd.Context(), docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if !deleted {
		return fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}

	cmd.Printf("Document %s deleted.\n", docID)
	return nil
}
