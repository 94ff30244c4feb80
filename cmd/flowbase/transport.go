package main

import (
	"context"

	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/workerrt"
)

// transportServer adapts workerrt.LocalWorker's non-ctx Forward/Lookup
// to the ctx-taking clusterrpc.DomainTransportServer interface the
// gRPC service actually dispatches through. pkg/router.Router's own
// methods are deliberately context-free (matching pkg/domain.Router),
// so this thin shim is cmd/flowbase's job rather than the library's.
type transportServer struct {
	worker *workerrt.LocalWorker
}

func (t transportServer) Forward(ctx context.Context, p *domain.Packet) (*clusterrpc.Ack, error) {
	if err := t.worker.Forward(*p); err != nil {
		return nil, err
	}
	return &clusterrpc.Ack{}, nil
}

func (t transportServer) Lookup(ctx context.Context, req *clusterrpc.LookupRequest) (*clusterrpc.LookupResponse, error) {
	return t.worker.Lookup(req)
}

var _ clusterrpc.DomainTransportServer = transportServer{}
