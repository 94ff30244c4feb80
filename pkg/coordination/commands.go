package coordination

import "encoding/json"

// op names the state change a Command applies to the FSM's key/value
// map, mirroring the teacher's WarrenFSM Command{Op, Data} shape
// (pkg/manager/fsm.go) generalized from Warren's fixed entity types
// down to a single generic byte-slice store.
type op string

const (
	opPut op = "put"
	opCAS op = "cas" // compare-and-set: apply only if current value matches Expected
	opDel op = "del"
)

// Command is the unit appended to the raft log and replayed by every
// node's FSM via Apply. Value and Expected are opaque bytes (JSON
// marshals a []byte as base64), not JSON documents in their own
// right — the FSM never interprets their contents.
type Command struct {
	Op          op     `json:"op"`
	Key         string `json:"key"`
	Value       []byte `json:"value,omitempty"`
	Expected    []byte `json:"expected,omitempty"`
	HadExpected bool   `json:"had_expected,omitempty"` // distinguishes "expected nil" from "expected absent key"
}

func marshalCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

func unmarshalCommand(data []byte) (Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return c, err
}
