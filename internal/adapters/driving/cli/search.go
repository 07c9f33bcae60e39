package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// snippetRunes bounds the passage text shown per result.
const snippetRunes = 240

var (
	searchLimit     int
	searchMinScore  float64
	searchDocuments []string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Embeds the query and returns the passages most similar to it, ranked by
cosine similarity, together with the document each passage came from.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 = configured default)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results scoring below this")
	searchCmd.Flags().StringSliceVarP(&searchDocuments, "document", "d", nil, "only search these document IDs")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	if searchService == nil {
		return errors.New("search service not configured")
	}
	if searchLimit < 0 {
		return errors.New("--limit must not be negative")
	}

	opts := domain.SearchOptions{
		Limit:       searchLimit,
		DocumentIDs: searchDocuments,
	}
	if cmd.Flags().Changed("min-score") {
		minScore := searchMinScore
		opts.MinScore = &minScore
	}

	results, err := searchService.Search(cmd.Context(), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}

	return outputSearchTable(cmd, results)
}

func outputSearchJSON(cmd *cobra.Command, results []domain.DocSearchResult) error {
	if results == nil {
		results = []domain.DocSearchResult{}
	}
	for i := range results {
		results[i].Chunk.Vector = nil
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []domain.DocSearchResult) error {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i := range results {
		r := &results[i]
		title := r.Metadata.Title
		if title == "" {
			title = r.Metadata.ID
		}

		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, r.Score)
		cmd.Printf("      Page %d, passage %d of %d\n", r.Chunk.PageNumber, r.Chunk.ChunkIndex+1, r.Chunk.TotalChunks)
		if snippet := snippet(r.Chunk.Text, snippetRunes); snippet != "" {
			cmd.Printf("      %s\n", snippet)
		}
		cmd.Println()
	}

	return nil
}

// snippet collapses whitespace and truncates text to n runes.
func snippet(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
