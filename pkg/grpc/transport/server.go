package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/transport"
)

var errAlreadyStarted = errors.New("gRPC server already started")

const (
	defaultKeepAliveTime    = 15 * time.Second
	defaultKeepAliveTimeout = 5 * time.Second
	defaultMaxConnIdle      = 60 * time.Second
	defaultMaxConnAge       = 5 * time.Minute
)

// GRPCServer exposes the control service over gRPC. It implements the
// transport.Server interface and forwards every Invoke call to the
// configured request handler.
type GRPCServer struct {
	address  string
	options  transport.TransportOptions
	server   *grpc.Server
	listener net.Listener
	handler  transport.RequestHandler
	logger   log.Logger
	done     chan struct{}
	mu       sync.Mutex
}

var _ transport.Server = (*GRPCServer)(nil)
var _ ControlServiceServer = (*GRPCServer)(nil)

// NewGRPCServer creates a gRPC control server bound to the given address.
func NewGRPCServer(address string, options transport.TransportOptions) (*GRPCServer, error) {
	if address == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	return &GRPCServer{
		address: address,
		options: options,
		logger:  log.GetDefaultLogger().WithField("component", "grpc_server"),
	}, nil
}

// Start starts the server and returns immediately.
func (s *GRPCServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errAlreadyStarted
	}

	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: defaultMaxConnIdle,
			MaxConnectionAge:  defaultMaxConnAge,
			Time:              defaultKeepAliveTime,
			Timeout:           defaultKeepAliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             defaultKeepAliveTime / 2,
			PermitWithoutStream: true,
		}),
	}
	if s.options.MaxMessageSize > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(s.options.MaxMessageSize),
			grpc.MaxSendMsgSize(s.options.MaxMessageSize),
		)
	}
	if s.options.TLSEnabled {
		if s.options.CertFile == "" || s.options.KeyFile == "" {
			return fmt.Errorf("TLS enabled but certificate or key file missing")
		}
		creds, err := credentials.NewServerTLSFromFile(s.options.CertFile, s.options.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.server = grpc.NewServer(serverOpts...)
	RegisterControlServiceServer(s.server, s)
	s.listener = listener
	s.done = make(chan struct{})
	done := s.done

	go func() {
		defer close(done)
		s.logger.Info("gRPC control server listening on %s", listener.Addr())
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("gRPC server stopped: %v", err)
		}
	}()

	return nil
}

// Serve starts the server if needed and blocks until Stop is called.
func (s *GRPCServer) Serve() error {
	if err := s.Start(); err != nil && !errors.Is(err, errAlreadyStarted) {
		return err
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// Stop stops the server, waiting for in-flight requests up to the
// context deadline before forcing termination.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.logger.Info("gRPC control server stopped")
	s.server = nil
	s.listener = nil
	return nil
}

// SetRequestHandler sets the handler for incoming requests.
func (s *GRPCServer) SetRequestHandler(handler transport.RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Invoke dispatches one control call to the request handler.
func (s *GRPCServer) Invoke(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return &ControlResponse{
			Type:  transport.TypeError,
			Error: "no request handler configured",
		}, nil
	}

	resp, err := handler.HandleRequest(ctx, transport.NewRequest(req.Type, req.Payload))
	if err != nil {
		return nil, err
	}

	out := &ControlResponse{
		Type:    resp.Type(),
		Payload: resp.Payload(),
	}
	if respErr := resp.Error(); respErr != nil {
		out.Error = respErr.Error()
	}
	return out, nil
}

func init() {
	transport.RegisterServerTransport("grpc", func(address string, options transport.TransportOptions) (transport.Server, error) {
		return NewGRPCServer(address, options)
	})
}
