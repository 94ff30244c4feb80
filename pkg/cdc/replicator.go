package cdc

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbase/flowbase/pkg/controller"
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/rs/zerolog"
)

// SchemaInstaller is the subset of controller.Controller a SchemaChange
// action needs: installing the DDL it carries, fenced by its own
// offset so a replayed schema event older than what's already
// installed is a no-op.
type SchemaInstaller interface {
	ExtendRecipe(ddl string, offset *flowtype.ReplicationOffset) error
}

// ControllerSink adapts *controller.Controller to this package's
// TableSink/SchemaInstaller interfaces, so Replicator depends only on
// the narrow capability it needs rather than the whole Controller
// surface.
type ControllerSink struct {
	Ctrl *controller.Controller
}

func (s ControllerSink) Table(name string) (TableWriter, error) {
	return s.Ctrl.Table(name)
}

func (s ControllerSink) ExtendRecipe(ddl string, offset *flowtype.ReplicationOffset) error {
	return s.Ctrl.ExtendRecipe(ddl, offset)
}

// OffsetStore is the subset of *controller.Store Replicator needs to
// persist and recover per-table/schema offsets across restarts.
// *controller.Store implements it directly.
type OffsetStore interface {
	SetOffset(label string, offset flowtype.ReplicationOffset) error
	Offset(label string) (flowtype.ReplicationOffset, error)
	Offsets() (map[string]flowtype.ReplicationOffset, error)
}

const schemaOffsetLabel = "__schema__"

// Config parameterizes Replicator with this module's usual
// Config-struct constructor idiom.
type Config struct {
	Connector Connector
	Sink      TableSink
	Schema    SchemaInstaller
	Store     OffsetStore
	Logger    zerolog.Logger
}

// Replicator drives one upstream source's CDC ingestion: snapshot (if
// nothing has been stored yet), then an indefinite streaming loop,
// fencing every event against its table's (or the schema's) last
// persisted offset so a crash-and-resume never re-applies what already
// landed (spec §4.9's invariant).
type Replicator struct {
	cfg Config
	log zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	// tableOffsets/schemaOffset cache the fencing state in memory so the
	// hot path doesn't hit the store on every event; they are seeded
	// from the store at Start and updated alongside every store write.
	tableOffsets map[string]flowtype.ReplicationOffset
	schemaOffset flowtype.ReplicationOffset
	hasSchema    bool
}

// New builds a Replicator. Call Start to begin ingestion, Stop to end
// it.
func New(cfg Config) *Replicator {
	logger := cfg.Logger
	if isZeroLogger(logger) {
		logger = log.WithComponent("cdc")
	}
	return &Replicator{
		cfg:          cfg,
		log:          logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		tableOffsets: make(map[string]flowtype.ReplicationOffset),
	}
}

// Start loads persisted offsets, snapshots if none exist, and launches
// the streaming main loop in a background goroutine.
func (r *Replicator) Start(ctx context.Context) error {
	if err := r.loadOffsets(); err != nil {
		return err
	}

	pos, err := r.minOffset()
	if err != nil {
		return err
	}
	if !pos.ok {
		if err := r.snapshot(ctx); err != nil {
			return fmt.Errorf("cdc: snapshot: %w", err)
		}
		pos, err = r.minOffset()
		if err != nil {
			return err
		}
		if !pos.ok {
			pos = maybeOffset{offset: r.schemaOffset, ok: true}
		}
	}

	go r.mainLoop(ctx, pos.offset)
	return nil
}

// Stop ends the streaming loop and waits for it to exit.
func (r *Replicator) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Replicator) loadOffsets() error {
	offsets, err := r.cfg.Store.Offsets()
	if err != nil {
		return fmt.Errorf("cdc: load offsets: %w", err)
	}
	for label, offset := range offsets {
		if label == schemaOffsetLabel {
			r.schemaOffset = offset
			r.hasSchema = true
			continue
		}
		r.tableOffsets[label] = offset
	}
	return nil
}

type maybeOffset struct {
	offset flowtype.ReplicationOffset
	ok     bool
}

// minOffset returns the minimum of every stored table offset (spec
// §4.9's "resume at the minimum stored offset"), so streaming picks up
// from before the least-caught-up table and lets that table's own
// fencing skip events it's already seen. ok is false when no table has
// a stored offset yet, signaling a snapshot is needed.
func (r *Replicator) minOffset() (maybeOffset, error) {
	if len(r.tableOffsets) == 0 {
		return maybeOffset{}, nil
	}
	var min flowtype.ReplicationOffset
	first := true
	for _, offset := range r.tableOffsets {
		if first {
			min = offset
			first = false
			continue
		}
		min = flowtype.Min(min, offset)
	}
	return maybeOffset{offset: min, ok: true}, nil
}

func (r *Replicator) snapshot(ctx context.Context) error {
	snapshotStart := time.Now()
	metrics.SnapshotStatusTotal.WithLabelValues("*", "started").Inc()
	pos, err := r.cfg.Connector.Snapshot(ctx, r.cfg.Sink)
	status := "successful"
	if err != nil {
		status = "failed"
	}
	metrics.SnapshotStatusTotal.WithLabelValues("*", status).Inc()
	metrics.SnapshotDuration.WithLabelValues("*").Observe(time.Since(snapshotStart).Seconds())
	if err != nil {
		return err
	}
	r.schemaOffset = pos
	r.hasSchema = true
	if err := r.cfg.Store.SetOffset(schemaOffsetLabel, pos); err != nil {
		return fmt.Errorf("cdc: persist schema offset after snapshot: %w", err)
	}
	return nil
}

func (r *Replicator) mainLoop(ctx context.Context, position flowtype.ReplicationOffset) {
	defer close(r.doneCh)
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		action, pos, err := r.cfg.Connector.NextAction(ctx, position)
		if err != nil {
			r.log.Error().Err(err).Msg("connector error")
			if isFatal(err) {
				return
			}
			continue
		}
		position = pos

		if err := r.handleAction(action, pos); err != nil {
			r.log.Error().Err(err).Str("kind", actionKindString(action.Kind)).Msg("failed to apply replication action")
		}
	}
}

func isFatal(err error) bool {
	return err == flowerr.ErrResnapshotRequired
}

func actionKindString(k ActionKind) string {
	switch k {
	case TableAction:
		return "table"
	case SchemaChange:
		return "schema"
	case LogPosition:
		return "log_position"
	default:
		return "unknown"
	}
}

// handleAction applies one action, fencing it against the relevant
// stored offset first (spec §4.9): a schema event is skipped if it's
// not newer than the last installed schema offset; a table event is
// skipped if it's not newer than that table's own stored offset (this
// is what lets catch-up replication after a partial snapshot avoid
// reapplying events tables further along already saw).
func (r *Replicator) handleAction(action Action, pos flowtype.ReplicationOffset) error {
	switch action.Kind {
	case SchemaChange:
		if r.hasSchema && !r.schemaOffset.Less(pos) {
			metrics.ReplicationSkippedTotal.WithLabelValues("*").Inc()
			return nil
		}
		if err := r.cfg.Schema.ExtendRecipe(action.DDL, &pos); err != nil {
			return fmt.Errorf("install schema change: %w", err)
		}
		if err := r.cfg.Store.SetOffset(schemaOffsetLabel, pos); err != nil {
			return fmt.Errorf("persist schema offset: %w", err)
		}
		r.schemaOffset = pos
		r.hasSchema = true
		return nil

	case TableAction:
		if stored, ok := r.tableOffsets[action.Table]; ok && !stored.Less(pos) {
			metrics.ReplicationSkippedTotal.WithLabelValues(action.Table).Inc()
			return nil
		}
		table, err := r.cfg.Sink.Table(action.Table)
		if err != nil {
			r.log.Warn().Str("table", action.Table).Msg("discarding actions for unknown table")
			return nil
		}
		records := make([]flowtype.Record, 0, len(action.Ops)*2)
		for _, op := range action.Ops {
			switch {
			case op.Insert != nil:
				records = append(records, flowtype.NewRecord(flowtype.Positive, op.Insert...))
			case op.Delete != nil:
				records = append(records, flowtype.NewRecord(flowtype.Negative, op.Delete...))
			case op.UpdateNew != nil:
				if op.UpdateOld != nil {
					records = append(records, flowtype.NewRecord(flowtype.Negative, op.UpdateOld...))
				}
				records = append(records, flowtype.NewRecord(flowtype.Positive, op.UpdateNew...))
			}
		}
		if len(records) > 0 {
			if err := table.PerformAll(records); err != nil {
				return fmt.Errorf("apply table action: %w", err)
			}
		}
		if err := table.SetReplicationOffset(pos); err != nil {
			return fmt.Errorf("set table offset: %w", err)
		}
		metrics.ReplicationLagRows.WithLabelValues(action.Table).Add(float64(len(action.Ops)))
		r.tableOffsets[action.Table] = pos
		return r.cfg.Store.SetOffset(action.Table, pos)

	case LogPosition:
		return nil

	default:
		return fmt.Errorf("unknown action kind %d", action.Kind)
	}
}

func isZeroLogger(logger zerolog.Logger) bool {
	return logger.GetLevel() == zerolog.Disabled && !logger.Debug().Enabled()
}
