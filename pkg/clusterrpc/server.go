package clusterrpc

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/flowbase/flowbase/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ServerConfig parameterizes Server, following the same Config-struct
// constructor idiom as the rest of this module.
type ServerConfig struct {
	// TLS is the mTLS configuration cross-worker transport runs over
	// in production, built from the deployment's CA; nil runs
	// plaintext, which is only appropriate for local/dev clusters.
	TLS    *tls.Config
	Logger zerolog.Logger
}

// Server wraps a grpc.Server exposing DomainTransport, mirroring the
// teacher's api.Server (NewServer/Start/Stop), generalized from one
// gRPC service (WarrenAPI) to this module's single cluster-RPC
// service.
type Server struct {
	grpc *grpc.Server
	log  zerolog.Logger
}

// NewServer builds a Server that dispatches Forward and Lookup calls to impl.
func NewServer(cfg ServerConfig, impl DomainTransportServer) *Server {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("clusterrpc")
	}

	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	s := grpc.NewServer(grpc.Creds(creds))
	RegisterDomainTransportServer(s, impl)
	return &Server{grpc: s, log: logger}
}

// Serve listens on addr and blocks serving RPCs until Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("clusterrpc: listen %s: %w", addr, err)
	}
	s.log.Info().Str("addr", addr).Msg("cluster RPC server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
