package coordination

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// authorityFSM applies coordination Commands to an in-memory key/value
// map, the same WarrenFSM shape as the teacher (pkg/manager/fsm.go)
// generalized from five typed entity stores down to one generic store,
// since Authority only ever needs opaque byte values keyed by path.
type authorityFSM struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newAuthorityFSM() *authorityFSM {
	return &authorityFSM{data: make(map[string][]byte)}
}

// get returns a copy of the value at key and whether it exists, safe
// to call from any goroutine (unlike Apply, which raft already
// serializes onto its own FSM-apply goroutine).
func (f *authorityFSM) get(key string) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// scanPrefix returns every key/value pair whose key starts with prefix.
func (f *authorityFSM) scanPrefix(prefix string) map[string][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range f.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}

// Apply applies one raft log entry. Called only on raft's own
// FSM-apply goroutine, one entry at a time, so no separate locking
// discipline is needed beyond what get/scanPrefix use to stay safe
// against concurrent readers.
func (f *authorityFSM) Apply(log *raft.Log) interface{} {
	cmd, err := unmarshalCommand(log.Data)
	if err != nil {
		return fmt.Errorf("coordination: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPut:
		f.data[cmd.Key] = cmd.Value
		return nil
	case opDel:
		delete(f.data, cmd.Key)
		return nil
	case opCAS:
		current, exists := f.data[cmd.Key]
		if cmd.HadExpected {
			if !exists || !bytes.Equal(current, cmd.Expected) {
				return errCASConflict
			}
		} else if exists {
			return errCASConflict
		}
		if cmd.Value == nil {
			delete(f.data, cmd.Key)
		} else {
			f.data[cmd.Key] = cmd.Value
		}
		return nil
	default:
		return fmt.Errorf("coordination: unknown command op %q", cmd.Op)
	}
}

// errCASConflict is returned through raft's ApplyFuture.Response()
// when a CAS command's Expected no longer matches; it is not a raft
// or log-level error, so Apply returns it as a value rather than a
// panic, matching how raft's own docs say non-fatal FSM errors should
// be surfaced (the teacher's WarrenFSM does the same for its
// unmarshal-failure case).
var errCASConflict = fmt.Errorf("coordination: compare-and-set conflict")

// Snapshot captures the full key/value map for raft's periodic log
// compaction.
func (f *authorityFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	clone := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		clone[k] = append([]byte(nil), v...)
	}
	return &authoritySnapshot{data: clone}, nil
}

// Restore replaces the FSM's state with a previously persisted
// snapshot, called on startup when raft has log entries compacted.
func (f *authorityFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var data map[string][]byte
	if err := json.NewDecoder(rc).Decode(&data); err != nil {
		return fmt.Errorf("coordination: decode snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	return nil
}

type authoritySnapshot struct {
	data map[string][]byte
}

func (s *authoritySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *authoritySnapshot) Release() {}
