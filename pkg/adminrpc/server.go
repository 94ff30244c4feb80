package adminrpc

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

// ServerConfig parameterizes Server, mirroring clusterrpc.ServerConfig.
type ServerConfig struct {
	TLS    *tls.Config
	Logger zerolog.Logger
}

// Server wraps a grpc.Server exposing the Admin service.
type Server struct {
	grpc *grpc.Server
	log  zerolog.Logger
}

// NewServer builds a Server that dispatches calls to impl.
func NewServer(cfg ServerConfig, impl AdminServer) *Server {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("adminrpc")
	}

	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	s := grpc.NewServer(grpc.Creds(creds))
	RegisterAdminServer(s, impl)
	return &Server{grpc: s, log: logger}
}

// Serve listens on addr and blocks serving RPCs until Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("adminrpc: listen %s: %w", addr, err)
	}
	s.log.Info().Str("addr", addr).Msg("admin RPC server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before returning.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func isZeroLogger(logger zerolog.Logger) bool {
	return logger.GetLevel() == zerolog.Disabled && !logger.Debug().Enabled()
}
