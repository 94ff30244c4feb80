package flowtype

import (
	"bytes"
	"encoding/gob"
)

// wireValue mirrors Value's unexported fields under exported names so
// gob (which cannot see unexported fields) can encode/decode a Value
// for pkg/clusterrpc's wire transport without exposing those fields
// on Value itself — callers still only ever construct a Value through
// its New* constructors.
type wireValue struct {
	Kind  Kind
	I     int64
	F     float64
	Scale int32
	S     string
	B     []byte
}

// GobEncode implements gob.GobEncoder.
func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	w := wireValue{Kind: v.kind, I: v.i, F: v.f, Scale: v.scale, S: v.s, B: v.b}
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(data []byte) error {
	var w wireValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	*v = Value{kind: w.Kind, i: w.I, f: w.F, scale: w.Scale, s: w.S, b: w.B}
	return nil
}
