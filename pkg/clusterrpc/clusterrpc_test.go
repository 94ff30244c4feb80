package clusterrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/flowbase/flowbase/pkg/domain"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type recordingServer struct {
	received chan *domain.Packet
}

func (s *recordingServer) Forward(ctx context.Context, p *domain.Packet) (*Ack, error) {
	s.received <- p
	return &Ack{}, nil
}

func (s *recordingServer) Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error) {
	return &LookupResponse{}, nil
}

func TestGobCodecRoundTripsPacketOverRealGRPCConn(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	impl := &recordingServer{received: make(chan *domain.Packet, 1)}
	RegisterDomainTransportServer(srv, impl)
	go srv.Serve(lis)
	defer srv.GracefulStop()

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := NewDomainTransportClient(conn)

	delta := flowtype.Delta{Records: []flowtype.Record{
		{Values: []flowtype.Value{flowtype.NewInt64(7), flowtype.NewText("hi")}, Sign: flowtype.Positive},
	}}
	sent := domain.NewRegular(graph.NodeID(3), graph.NodeID(2), delta)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Forward(ctx, &sent)
	require.NoError(t, err)

	select {
	case got := <-impl.received:
		assert.Equal(t, sent.Dest, got.Dest)
		assert.Equal(t, sent.FromEdge, got.FromEdge)
		require.Len(t, got.Delta.Records, 1)
		gotInt, ok := got.Delta.Records[0].Values[0].AsInt()
		require.True(t, ok)
		assert.Equal(t, int64(7), gotInt)
		gotText, ok := got.Delta.Records[0].Values[1].AsText()
		require.True(t, ok)
		assert.Equal(t, "hi", gotText)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received forwarded packet")
	}
}

func TestClientImplementsDomainRouter(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	impl := &recordingServer{received: make(chan *domain.Packet, 1)}
	RegisterDomainTransportServer(srv, impl)
	go srv.Serve(lis)
	defer srv.GracefulStop()

	c, err := Dial(ClientConfig{Addr: lis.Addr().String(), DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	var router domain.Router = c
	err = router.Forward(domain.NewEviction(graph.NodeID(9), []flowtype.Key{{flowtype.NewInt64(1)}}))
	require.NoError(t, err)

	select {
	case got := <-impl.received:
		assert.Equal(t, graph.NodeID(9), got.Dest)
		assert.Equal(t, domain.Eviction, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received eviction packet")
	}
}
