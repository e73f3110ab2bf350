package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/tartfs/tartfs/pkg/transport"
)

// GRPCClient implements the transport.Client interface for gRPC.
type GRPCClient struct {
	endpoint string
	options  transport.TransportOptions
	conn     *grpc.ClientConn
	status   transport.TransportStatus
	statusMu sync.RWMutex
}

var _ transport.Client = (*GRPCClient)(nil)

// NewGRPCClient creates a gRPC control client for the given endpoint.
// The connection is established by Connect.
func NewGRPCClient(endpoint string, options transport.TransportOptions) (*GRPCClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	return &GRPCClient{
		endpoint: endpoint,
		options:  options,
		status: transport.TransportStatus{
			Connected: false,
		},
	}, nil
}

// Connect establishes a connection to the server.
func (c *GRPCClient) Connect(ctx context.Context) error {
	callOpts := []grpc.CallOption{
		grpc.CallContentSubtype(CodecName),
	}
	if c.options.MaxMessageSize > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(c.options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(c.options.MaxMessageSize),
		)
	}

	dialOptions := []grpc.DialOption{
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                defaultKeepAliveTime,
			Timeout:             defaultKeepAliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	if c.options.TLSEnabled {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if c.options.CertFile != "" && c.options.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(c.options.CertFile, c.options.KeyFile)
			if err != nil {
				c.setStatus(false, err)
				return fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(c.endpoint, dialOptions...)
	if err != nil {
		c.setStatus(false, err)
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	c.conn = conn
	c.setStatus(true, nil)
	return nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error {
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.setStatus(false, nil)
		return err
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *GRPCClient) IsConnected() bool {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status.Connected
}

// Status returns the current status of the connection.
func (c *GRPCClient) Status() transport.TransportStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *GRPCClient) setStatus(connected bool, err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.status.Connected = connected
	c.status.LastError = err
	if connected {
		c.status.LastConnected = time.Now()
	}
}

func (c *GRPCClient) setLastError(err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.LastError = err
}

func (c *GRPCClient) recordTraffic(sent, received int, rtt time.Duration) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	c.status.BytesSent += uint64(sent)
	c.status.BytesReceived += uint64(received)
	c.status.RTT = rtt
}

// Send sends a request and waits for a response. Operation failures the
// server reports come back as error responses; only transport failures
// return a non-nil error.
func (c *GRPCClient) Send(ctx context.Context, request transport.Request) (transport.Response, error) {
	if !c.IsConnected() {
		return nil, transport.ErrNotConnected
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	in := &ControlRequest{
		Type:    request.Type(),
		Payload: request.Payload(),
	}
	out := new(ControlResponse)

	start := time.Now()
	err := c.conn.Invoke(ctx, invokeMethodName, in, out)
	c.recordTraffic(len(in.Payload), len(out.Payload), time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", transport.ErrTimeout, err)
		}
		c.setLastError(err)
		return nil, err
	}

	if out.Type == transport.TypeError {
		return transport.NewErrorResponse(errors.New(out.Error)), nil
	}
	return transport.NewResponse(out.Type, out.Payload, nil), nil
}

func init() {
	transport.RegisterClientTransport("grpc", func(endpoint string, options transport.TransportOptions) (transport.Client, error) {
		return NewGRPCClient(endpoint, options)
	})
}
