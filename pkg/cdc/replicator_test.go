package cdc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/stretchr/testify/require"
)

// fakeConnector lets tests script a fixed Snapshot result and a queue
// of NextAction responses, mirroring the Connector interface without a
// real database.
type fakeConnector struct {
	mu sync.Mutex

	snapshotOffset flowtype.ReplicationOffset
	snapshotErr    error
	snapshotCalls  int

	actions []fakeAction
	idx     int

	closed bool
}

type fakeAction struct {
	action Action
	pos    flowtype.ReplicationOffset
	err    error
}

func (c *fakeConnector) Snapshot(ctx context.Context, sink TableSink) (flowtype.ReplicationOffset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotCalls++
	return c.snapshotOffset, c.snapshotErr
}

func (c *fakeConnector) NextAction(ctx context.Context, lastPos flowtype.ReplicationOffset) (Action, flowtype.ReplicationOffset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.actions) {
		return Action{Kind: LogPosition}, lastPos, nil
	}
	a := c.actions[c.idx]
	c.idx++
	return a.action, a.pos, a.err
}

func (c *fakeConnector) Close() error {
	c.closed = true
	return nil
}

// fakeTable records every PerformAll/SetReplicationOffset call for one
// table.
type fakeTable struct {
	mu      sync.Mutex
	records [][]flowtype.Record
	offsets []flowtype.ReplicationOffset
}

func (t *fakeTable) PerformAll(records []flowtype.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records)
	return nil
}

func (t *fakeTable) SetReplicationOffset(offset flowtype.ReplicationOffset) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offsets = append(t.offsets, offset)
	return nil
}

// fakeSink resolves table names to fakeTables, creating them lazily so
// tests don't need to pre-register every table name.
type fakeSink struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
}

func newFakeSink() *fakeSink {
	return &fakeSink{tables: make(map[string]*fakeTable)}
}

func (s *fakeSink) Table(name string) (TableWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &fakeTable{}
		s.tables[name] = t
	}
	return t, nil
}

// fakeSchema records ExtendRecipe calls.
type fakeSchema struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSchema) ExtendRecipe(ddl string, offset *flowtype.ReplicationOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ddl)
	return nil
}

// fakeStore is an in-memory OffsetStore.
type fakeStore struct {
	mu      sync.Mutex
	offsets map[string]flowtype.ReplicationOffset
}

func newFakeStore() *fakeStore {
	return &fakeStore{offsets: make(map[string]flowtype.ReplicationOffset)}
}

func (s *fakeStore) SetOffset(label string, offset flowtype.ReplicationOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[label] = offset
	return nil
}

func (s *fakeStore) Offset(label string) (flowtype.ReplicationOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[label], nil
}

func (s *fakeStore) Offsets() (map[string]flowtype.ReplicationOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]flowtype.ReplicationOffset, len(s.offsets))
	for k, v := range s.offsets {
		out[k] = v
	}
	return out, nil
}

func newTestReplicator(t *testing.T, conn *fakeConnector, sink *fakeSink, schema *fakeSchema, store *fakeStore) *Replicator {
	t.Helper()
	return New(Config{
		Connector: conn,
		Sink:      sink,
		Schema:    schema,
		Store:     store,
	})
}

func TestStartSnapshotsWhenNoOffsetsStored(t *testing.T) {
	conn := &fakeConnector{snapshotOffset: flowtype.ReplicationOffset{Label: "mysql_poll", Position: 10}}
	sink := newFakeSink()
	store := newFakeStore()
	r := newTestReplicator(t, conn, sink, &fakeSchema{}, store)

	require.NoError(t, r.Start(context.Background()))
	r.Stop()

	require.Equal(t, 1, conn.snapshotCalls)
	off, err := store.Offset(schemaOffsetLabel)
	require.NoError(t, err)
	require.Equal(t, uint64(10), off.Position)
}

func TestStartSkipsSnapshotWhenOffsetsAlreadyStored(t *testing.T) {
	conn := &fakeConnector{}
	sink := newFakeSink()
	store := newFakeStore()
	require.NoError(t, store.SetOffset("orders", flowtype.ReplicationOffset{Position: 5}))
	r := newTestReplicator(t, conn, sink, &fakeSchema{}, store)

	require.NoError(t, r.Start(context.Background()))
	r.Stop()

	require.Equal(t, 0, conn.snapshotCalls)
}

func TestHandleActionAppliesTableActionAndPersistsOffset(t *testing.T) {
	sink := newFakeSink()
	store := newFakeStore()
	r := newTestReplicator(t, &fakeConnector{}, sink, &fakeSchema{}, store)

	action := Action{
		Kind:  TableAction,
		Table: "orders",
		Ops:   []RowOp{{Insert: []flowtype.Value{flowtype.NewInt64(1)}}},
	}
	pos := flowtype.ReplicationOffset{Label: "mysql_poll", Position: 42}

	require.NoError(t, r.handleAction(action, pos))

	table := sink.tables["orders"]
	require.NotNil(t, table)
	require.Len(t, table.records, 1)
	require.Len(t, table.offsets, 1)
	require.Equal(t, pos, table.offsets[0])

	stored, err := store.Offset("orders")
	require.NoError(t, err)
	require.Equal(t, pos, stored)
}

func TestHandleActionSkipsTableEventNotNewerThanStoredOffset(t *testing.T) {
	sink := newFakeSink()
	store := newFakeStore()
	r := newTestReplicator(t, &fakeConnector{}, sink, &fakeSchema{}, store)
	r.tableOffsets["orders"] = flowtype.ReplicationOffset{Position: 100}

	action := Action{
		Kind:  TableAction,
		Table: "orders",
		Ops:   []RowOp{{Insert: []flowtype.Value{flowtype.NewInt64(1)}}},
	}
	stalePos := flowtype.ReplicationOffset{Position: 50}

	require.NoError(t, r.handleAction(action, stalePos))

	_, ok := sink.tables["orders"]
	require.False(t, ok, "a skipped event must never touch the table")
}

func TestHandleActionSkipsSchemaEventNotNewerThanStoredOffset(t *testing.T) {
	schema := &fakeSchema{}
	r := newTestReplicator(t, &fakeConnector{}, newFakeSink(), schema, newFakeStore())
	r.schemaOffset = flowtype.ReplicationOffset{Position: 100}
	r.hasSchema = true

	require.NoError(t, r.handleAction(Action{Kind: SchemaChange, DDL: "CREATE TABLE t (...)"}, flowtype.ReplicationOffset{Position: 50}))

	require.Empty(t, schema.calls, "a stale schema event must not be installed")
}

func TestHandleActionInstallsNewerSchemaChange(t *testing.T) {
	schema := &fakeSchema{}
	r := newTestReplicator(t, &fakeConnector{}, newFakeSink(), schema, newFakeStore())
	r.schemaOffset = flowtype.ReplicationOffset{Position: 10}
	r.hasSchema = true

	require.NoError(t, r.handleAction(Action{Kind: SchemaChange, DDL: "ALTER TABLE t ADD COLUMN x INT"}, flowtype.ReplicationOffset{Position: 20}))

	require.Equal(t, []string{"ALTER TABLE t ADD COLUMN x INT"}, schema.calls)
	require.Equal(t, uint64(20), r.schemaOffset.Position)
}

func TestHandleActionUpdateEmitsRetractAndInsert(t *testing.T) {
	sink := newFakeSink()
	r := newTestReplicator(t, &fakeConnector{}, sink, &fakeSchema{}, newFakeStore())

	action := Action{
		Kind:  TableAction,
		Table: "orders",
		Ops: []RowOp{{
			UpdateOld: []flowtype.Value{flowtype.NewInt64(1)},
			UpdateNew: []flowtype.Value{flowtype.NewInt64(2)},
		}},
	}
	require.NoError(t, r.handleAction(action, flowtype.ReplicationOffset{Position: 1}))

	table := sink.tables["orders"]
	require.Len(t, table.records, 1)
	require.Len(t, table.records[0], 2)
	require.Equal(t, flowtype.Negative, table.records[0][0].Sign)
	require.Equal(t, flowtype.Positive, table.records[0][1].Sign)
}

func TestMinOffsetReturnsNotOkWhenEmpty(t *testing.T) {
	r := newTestReplicator(t, &fakeConnector{}, newFakeSink(), &fakeSchema{}, newFakeStore())
	m, err := r.minOffset()
	require.NoError(t, err)
	require.False(t, m.ok)
}

func TestMinOffsetReturnsSmallestAcrossTables(t *testing.T) {
	r := newTestReplicator(t, &fakeConnector{}, newFakeSink(), &fakeSchema{}, newFakeStore())
	r.tableOffsets["orders"] = flowtype.ReplicationOffset{Position: 30}
	r.tableOffsets["users"] = flowtype.ReplicationOffset{Position: 5}

	m, err := r.minOffset()
	require.NoError(t, err)
	require.True(t, m.ok)
	require.Equal(t, uint64(5), m.offset.Position)
}

func TestIsFatalMatchesResnapshotRequired(t *testing.T) {
	require.True(t, isFatal(flowerr.ErrResnapshotRequired))
	require.False(t, isFatal(errors.New("transient")))
}
