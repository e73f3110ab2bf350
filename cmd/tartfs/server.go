package main

import (
	"context"
	"fmt"

	"github.com/tartfs/tartfs/pkg/control"
	"github.com/tartfs/tartfs/pkg/transport"

	// Register the gRPC transport with the default registry.
	_ "github.com/tartfs/tartfs/pkg/grpc/transport"
)

// Server wires the control service to a transport from the registry.
type Server struct {
	addr   string
	server transport.Server
}

// NewServer creates a control server for the shell's store.
func NewServer(sh *shell, addr string, appConfig Config) (*Server, error) {
	opts := transport.TransportOptions{
		MaxMessageSize: sh.cfg.MaxMessageSize,
		TLSEnabled:     appConfig.TLSEnabled,
		CertFile:       appConfig.TLSCertFile,
		KeyFile:        appConfig.TLSKeyFile,
	}

	srv, err := transport.GetServer("grpc", addr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport server: %w", err)
	}
	srv.SetRequestHandler(control.NewHandler(sh.store, sh.logger))

	return &Server{addr: addr, server: srv}, nil
}

// Start starts the server without blocking.
func (s *Server) Start() error {
	return s.server.Start()
}

// Serve blocks until the server is stopped.
func (s *Server) Serve() error {
	return s.server.Serve()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Stop(ctx)
}
