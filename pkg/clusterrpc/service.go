package clusterrpc

import (
	"context"

	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"google.golang.org/grpc"
)

// Ack is the empty acknowledgement returned by a successful Forward.
type Ack struct{}

// LookupRequest asks the worker hosting Node for the rows materialized
// under Key (spec §6's point-lookup Read API), or for a bounded range
// when Range is true.
type LookupRequest struct {
	Node  graph.NodeID
	Key   flowtype.Key
	Lo    flowtype.Key
	Hi    flowtype.Key
	Range bool
}

// LookupResponse carries the matched rows and the reader's causal
// offset at read time (spec §6 "lookup/range return (rows,
// meta_offset)"), or a structured miss the caller can retry/backfill
// on: NeedsReplay names the missed key, MissingRanges names the
// uncovered sub-intervals of a range read.
type LookupResponse struct {
	Rows           []flowtype.Key
	Offset         flowtype.ReplicationOffset
	NeedsReplayKey flowtype.Key
	Missed         bool
	MissingRanges  []LookupInterval
}

// LookupInterval mirrors flowerr.Interval over the wire.
type LookupInterval struct {
	Low, High flowtype.Key
}

// DomainTransportServer is implemented by whatever owns inbound
// cross-worker packets and reads — cmd/flowbase's transportServer,
// which wraps a workerrt.LocalWorker, in production wiring.
type DomainTransportServer interface {
	Forward(ctx context.Context, p *domain.Packet) (*Ack, error)
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error)
}

// DomainTransportClient is the hand-written equivalent of a
// protoc-generated client stub for the DomainTransport service.
type DomainTransportClient interface {
	Forward(ctx context.Context, p *domain.Packet, opts ...grpc.CallOption) (*Ack, error)
	Lookup(ctx context.Context, req *LookupRequest, opts ...grpc.CallOption) (*LookupResponse, error)
}

const serviceName = "flowbase.clusterrpc.DomainTransport"

// domainTransportServiceDesc stands in for what `protoc --go-grpc_out`
// would generate from a .proto file: the method table grpc.Server
// dispatches incoming calls through.
var domainTransportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DomainTransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Forward",
			Handler:    forwardHandler,
		},
		{
			MethodName: "Lookup",
			Handler:    lookupHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clusterrpc/domaintransport",
}

func forwardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(domain.Packet)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DomainTransportServer).Forward(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Forward"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DomainTransportServer).Forward(ctx, req.(*domain.Packet))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LookupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DomainTransportServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Lookup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DomainTransportServer).Lookup(ctx, req.(*LookupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterDomainTransportServer registers srv against s the same way
// a generated pb.RegisterXServer function would.
func RegisterDomainTransportServer(s grpc.ServiceRegistrar, srv DomainTransportServer) {
	s.RegisterService(&domainTransportServiceDesc, srv)
}

type domainTransportClient struct {
	cc grpc.ClientConnInterface
}

// NewDomainTransportClient builds a client over an existing
// connection, mirroring a generated pb.NewXClient constructor.
func NewDomainTransportClient(cc grpc.ClientConnInterface) DomainTransportClient {
	return &domainTransportClient{cc: cc}
}

func (c *domainTransportClient) Forward(ctx context.Context, p *domain.Packet, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	fullMethod := "/" + serviceName + "/Forward"
	// CallContentSubtype pins this call to gobCodec by name, the
	// client-side half of never needing a .proto-generated codec.
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, fullMethod, p, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *domainTransportClient) Lookup(ctx context.Context, req *LookupRequest, opts ...grpc.CallOption) (*LookupResponse, error) {
	out := new(LookupResponse)
	fullMethod := "/" + serviceName + "/Lookup"
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, fullMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
