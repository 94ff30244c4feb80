package clusterrpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/flowbase/flowbase/pkg/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientConfig parameterizes Client with the Config-struct idiom used
// across this module.
type ClientConfig struct {
	// Addr is the remote worker's cluster-RPC listen address.
	Addr string
	// TLS mirrors ServerConfig.TLS; nil dials plaintext.
	TLS *tls.Config
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// Client wraps a grpc.ClientConn to a single remote worker and
// implements domain.Router by forwarding packets over DomainTransport.
// pkg/router holds one Client per remote worker a domain graph has
// edges into.
type Client struct {
	conn *grpc.ClientConn
	rpc  DomainTransportClient
}

// Dial connects to the worker at cfg.Addr. The returned Client is safe
// for concurrent use by multiple domains forwarding packets to the
// same remote worker.
func Dial(cfg ClientConfig) (*Client, error) {
	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	ctx := context.Background()
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}

	conn, err := grpc.DialContext(ctx, cfg.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: dial %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn, rpc: NewDomainTransportClient(conn)}, nil
}

// Forward implements domain.Router by sending p to the remote worker.
func (c *Client) Forward(p domain.Packet) error {
	_, err := c.rpc.Forward(context.Background(), &p)
	if err != nil {
		return fmt.Errorf("clusterrpc: forward to %s: %w", c.conn.Target(), err)
	}
	return nil
}

// Lookup sends a point or range read to the remote worker hosting
// req.Node, for pkg/controller's ViewHandle to query a Reader that
// lives in another worker's domain.
func (c *Client) Lookup(req *LookupRequest) (*LookupResponse, error) {
	resp, err := c.rpc.Lookup(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("clusterrpc: lookup on %s: %w", c.conn.Target(), err)
	}
	return resp, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

var _ domain.Router = (*Client)(nil)
