/*
Package clusterrpc provides FlowBase's inter-worker gRPC transport
without a protoc-generated stub.

The teacher (and the rest of the example pack) reach for grpc by
compiling a .proto file into a *_grpc.pb.go stub; that toolchain step
is unavailable here. Instead this package registers a custom
grpc/encoding.Codec (gobCodec, see codec.go) that marshals plain Go
structs with encoding/gob instead of protobuf wire format, and defines
the service's RPC surface by hand: a grpc.ServiceDesc listing method
names and handler functions (service.go), plus thin client/server
wrapper types a caller can use exactly like a generated stub. gRPC
itself never requires the protobuf codec — grpc.ServiceDesc and the
codec registry are the only things a generated stub actually produces
on top of plain Go types, so reconstructing them by hand gives an
ordinary .proto-free package the same call shape.

DomainTransport is the one service defined here, with two RPCs: Forward
carries a domain.Packet across a worker boundary, used by pkg/router
to implement domain.Router for cross-worker edges, and Lookup serves
point and range reads against a Reader node on another worker.
*/
package clusterrpc
