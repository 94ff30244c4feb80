// Package adminrpc is FlowBase's control-plane RPC surface: the
// operations flowbasectl needs against a running controller —
// ExtendRecipe, table writes, view reads — none of which belong on
// clusterrpc's DomainTransport (that service is the inter-worker data
// plane, spec §4.5). Hand-rolled against google.golang.org/grpc the
// same way pkg/clusterrpc's DomainTransport service is, with no
// .proto file or protoc step: every request/response is a plain
// exported-field struct encoded with encoding/gob.
package adminrpc

import (
	"context"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"google.golang.org/grpc"
)

// WriteOp distinguishes the three TableHandle operations spec §5
// exposes over a table's write API.
type WriteOp int32

const (
	OpInsert WriteOp = iota
	OpDelete
	OpInsertOrUpdate
)

// ExtendRecipeRequest carries one recipe DDL statement to install.
type ExtendRecipeRequest struct {
	DDL string
}

// ExtendRecipeResponse is empty on success; failures surface as the
// RPC's error.
type ExtendRecipeResponse struct{}

// TableWriteRequest carries one write against a base table.
type TableWriteRequest struct {
	Table string
	Op    WriteOp
	Row   flowtype.Key
}

// TableWriteResponse is empty on success.
type TableWriteResponse struct{}

// ViewLookupRequest asks a view for the rows under Key, or the bounded
// range [Lo, Hi] when Range is true, optionally blocking on a partial
// miss (spec §6's Read API).
type ViewLookupRequest struct {
	View        string
	Key         flowtype.Key
	Lo, Hi      flowtype.Key
	Range       bool
	BlockOnMiss bool
}

// ViewLookupResponse carries the matched rows, or Found=false when a
// non-blocking lookup missed.
type ViewLookupResponse struct {
	Rows  []flowtype.Key
	Found bool
}

// AdminServer is implemented by whatever fronts a live Controller —
// ControllerImpl, in production wiring.
type AdminServer interface {
	ExtendRecipe(ctx context.Context, req *ExtendRecipeRequest) (*ExtendRecipeResponse, error)
	TableWrite(ctx context.Context, req *TableWriteRequest) (*TableWriteResponse, error)
	ViewLookup(ctx context.Context, req *ViewLookupRequest) (*ViewLookupResponse, error)
}

// AdminClient is the hand-written equivalent of a protoc-generated
// client stub for the Admin service.
type AdminClient interface {
	ExtendRecipe(ctx context.Context, req *ExtendRecipeRequest, opts ...grpc.CallOption) (*ExtendRecipeResponse, error)
	TableWrite(ctx context.Context, req *TableWriteRequest, opts ...grpc.CallOption) (*TableWriteResponse, error)
	ViewLookup(ctx context.Context, req *ViewLookupRequest, opts ...grpc.CallOption) (*ViewLookupResponse, error)
}

const serviceName = "flowbase.adminrpc.Admin"

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExtendRecipe", Handler: extendRecipeHandler},
		{MethodName: "TableWrite", Handler: tableWriteHandler},
		{MethodName: "ViewLookup", Handler: viewLookupHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminrpc/admin",
}

func extendRecipeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExtendRecipeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ExtendRecipe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ExtendRecipe"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ExtendRecipe(ctx, req.(*ExtendRecipeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func tableWriteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TableWriteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).TableWrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/TableWrite"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).TableWrite(ctx, req.(*TableWriteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func viewLookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ViewLookupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ViewLookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ViewLookup"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).ViewLookup(ctx, req.(*ViewLookupRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterAdminServer registers srv against s the same way a
// generated pb.RegisterXServer function would.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

type adminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient builds a client over an existing connection,
// mirroring a generated pb.NewXClient constructor.
func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return &adminClient{cc: cc}
}

func (c *adminClient) ExtendRecipe(ctx context.Context, req *ExtendRecipeRequest, opts ...grpc.CallOption) (*ExtendRecipeResponse, error) {
	out := new(ExtendRecipeResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ExtendRecipe", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) TableWrite(ctx context.Context, req *TableWriteRequest, opts ...grpc.CallOption) (*TableWriteResponse, error) {
	out := new(TableWriteResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/TableWrite", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) ViewLookup(ctx context.Context, req *ViewLookupRequest, opts ...grpc.CallOption) (*ViewLookupResponse, error) {
	out := new(ViewLookupResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ViewLookup", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
