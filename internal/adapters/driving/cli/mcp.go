package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Serves the knowledge base to AI assistants over the Model Context Protocol.

Tools: search_documents, add_document, delete_document, list_documents.
Resources: kbase://documents and kbase://documents/{id}.

The default transport is JSON-RPC over stdio, which is what desktop assistants
launch. With --port the streamable HTTP transport is served instead, which is
handy for the MCP Inspector.

Examples:
  kbase mcp serve
  kbase mcp serve --port 8080

Assistant configuration:
  {
    "mcpServers": {
      "kbase": {
        "command": "/usr/local/bin/kbase",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ports := &mcp.Ports{
		Search:    searchService,
		Ingestion: ingestionService,
		Document:  documentService,
	}

	server, err := mcp.NewServer(ports, cliLogger)
	if err != nil {
		return err
	}

	if err := verifyIntegrity(cmd.Context()); err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		// stdout carries JSON-RPC only in stdio mode.
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}
