package adminrpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is distinct from clusterrpc's own gob codec name so the
// two services' codecs never collide in the process-wide
// encoding.RegisterCodec registry, even though both are hosted in the
// same binary.
const codecName = "flowbase-admin-gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("adminrpc: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("adminrpc: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }
