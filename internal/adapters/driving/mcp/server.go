package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const instructions = `kbase is a local document knowledge base.
Use search_documents to find passages relevant to a question and cite the
document title and page. add_document ingests a local file; indexing runs in
the background unless wait is set.`

// shutdownTimeout bounds the HTTP transport's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the MCP server for kbase.
type Server struct {
	ports  *Ports
	server *mcp.Server
	logger *zap.Logger
}

// NewServer creates a new MCP server with the given ports.
func NewServer(ports *Ports, log *zap.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	impl := &mcp.Implementation{
		Name:    "kbase",
		Version: Version,
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(impl, &mcp.ServerOptions{Instructions: instructions}),
		logger: logger.OrNop(log),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves a single client over stdio until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Debug("mcp stdio session starting")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is RunHTTP on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp http shutdown: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}
