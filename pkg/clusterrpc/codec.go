package clusterrpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated over the wire via the grpc-encoding header;
// registering it under this name is what lets grpc.Dial/grpc.NewServer
// use gobCodec instead of the default proto codec, with no .proto file
// or generated marshaler anywhere in this module.
const codecName = "flowbase-gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/gob. Every RPC payload in this package (Packet, Ack,
// LookupRequest, LookupResponse) is a plain exported-field Go struct,
// so gob needs no registration beyond
// what flowtype.Value already provides via GobEncode/GobDecode.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("clusterrpc: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("clusterrpc: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }
