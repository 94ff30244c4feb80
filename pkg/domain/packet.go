package domain

import (
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
)

// PacketKind distinguishes the six packet shapes a domain's loop
// dispatches, per spec §4.4.
type PacketKind int

const (
	Regular PacketKind = iota
	Replay
	ReplayRequest
	Control
	Eviction
	Timestamp
)

func (k PacketKind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Replay:
		return "replay"
	case ReplayRequest:
		return "replay_request"
	case Control:
		return "control"
	case Eviction:
		return "eviction"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ControlOp names the control operations a domain accepts outside the
// regular dataflow path (spec §4.4 "Control").
type ControlOp int

const (
	ControlInstallNode ControlOp = iota
	ControlRemoveNode
	ControlAddIndex
	ControlSetOffset
)

// Packet is the unit the domain's priority queue orders and the run
// loop dispatches. Not every field is meaningful for every Kind; see
// the constructors in this file.
type Packet struct {
	Kind PacketKind

	// Dest is the node this packet targets. For Regular/Replay it is
	// the node whose kernel should run; for ReplayRequest it is the
	// upstream hop on the replay path asked to continue the replay.
	Dest     graph.NodeID
	FromEdge graph.NodeID // upstream node the delta arrived from, 0 if none

	Delta flowtype.Delta

	// Tag identifies the replay path for Replay/ReplayRequest packets.
	Tag  graph.Tag
	Keys []flowtype.Key // ReplayRequest: keys being requested

	Offset flowtype.ReplicationOffset // Timestamp, Control(SetOffset)

	Op ControlOp // Control

	// seq breaks ties between packets of equal priority, preserving
	// arrival order (FIFO within a priority class).
	seq uint64
}

// NewRegular builds a Regular packet carrying delta from fromEdge to
// dest.
func NewRegular(dest, fromEdge graph.NodeID, delta flowtype.Delta) Packet {
	return Packet{Kind: Regular, Dest: dest, FromEdge: fromEdge, Delta: delta}
}

// NewReplay builds a Replay packet: a delta flowing along replay path
// tag, destined for dest, with replay-mode kernel semantics.
func NewReplay(dest, fromEdge graph.NodeID, tag graph.Tag, delta flowtype.Delta) Packet {
	return Packet{Kind: Replay, Dest: dest, FromEdge: fromEdge, Tag: tag, Delta: delta}
}

// NewReplayRequest builds a ReplayRequest packet asking for keys to be
// filled along replay path tag, addressed to dest, the upstream hop
// that should answer or pass the request further up.
func NewReplayRequest(dest graph.NodeID, tag graph.Tag, keys []flowtype.Key) Packet {
	return Packet{Kind: ReplayRequest, Dest: dest, Tag: tag, Keys: keys}
}

// NewEviction builds an Eviction packet naming the index keys to drop
// at dest.
func NewEviction(dest graph.NodeID, keys []flowtype.Key) Packet {
	return Packet{Kind: Eviction, Dest: dest, Keys: keys}
}

// NewTimestamp builds a Timestamp packet recording a new durable
// replication offset reaching dest, per spec §4.4 "Timestamp".
func NewTimestamp(dest graph.NodeID, offset flowtype.ReplicationOffset) Packet {
	return Packet{Kind: Timestamp, Dest: dest, Offset: offset}
}
