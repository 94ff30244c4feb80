package cdc

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pq "github.com/lib/pq"
)

// PostgresConnector snapshots and tails a Postgres source via pgx. Its
// streaming phase polls each table ordered by a monotonic column
// rather than decoding pgoutput logical-replication messages (see
// package doc for why); position values carry Label "postgres_poll".
// lib/pq is used only for pq.QuoteIdentifier when building queries;
// nothing in this connector goes through lib/pq's own driver, since
// pgx is the module's Postgres client.
type PostgresConnector struct {
	pool      *pgxpool.Pool
	cursorCol string
	pollEvery time.Duration
	tables    []string
	lastSeen  map[string]int64
}

// PostgresConfig parameterizes PostgresConnector.
type PostgresConfig struct {
	DSN       string // pgx connection string
	Tables    []string
	CursorCol string
	PollEvery time.Duration
}

// NewPostgresConnector opens the upstream connection pool.
func NewPostgresConnector(ctx context.Context, cfg PostgresConfig) (*PostgresConnector, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cdc: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cdc: ping postgres: %w", err)
	}
	pollEvery := cfg.PollEvery
	if pollEvery == 0 {
		pollEvery = time.Second
	}
	return &PostgresConnector{
		pool:      pool,
		cursorCol: cfg.CursorCol,
		pollEvery: pollEvery,
		tables:    cfg.Tables,
		lastSeen:  make(map[string]int64),
	}, nil
}

func (c *PostgresConnector) Close() error {
	c.pool.Close()
	return nil
}

// Snapshot loads every configured table's full contents into sink,
// recording each table's current cursor value as the watermark
// streaming resumes from.
func (c *PostgresConnector) Snapshot(ctx context.Context, sink TableSink) (flowtype.ReplicationOffset, error) {
	var maxCursor int64
	for _, table := range c.tables {
		writer, err := sink.Table(table)
		if err != nil {
			return flowtype.ZeroOffset, fmt.Errorf("cdc: snapshot table %q: no base installed: %w", table, err)
		}
		high, err := c.snapshotTable(ctx, table, writer)
		if err != nil {
			return flowtype.ZeroOffset, fmt.Errorf("cdc: snapshot table %q: %w", table, err)
		}
		c.lastSeen[table] = high
		if high > maxCursor {
			maxCursor = high
		}
	}
	return flowtype.ReplicationOffset{Label: "postgres_poll", Position: uint64(maxCursor)}, nil
}

func (c *PostgresConnector) snapshotTable(ctx context.Context, table string, writer TableWriter) (int64, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(
		"SELECT * FROM %s ORDER BY %s", pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.cursorCol)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	const batchSize = 500
	batch := make([]flowtype.Record, 0, batchSize)
	var high int64
	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, cursor, err := c.scanRow(rows, fields)
		if err != nil {
			return 0, err
		}
		if cursor > high {
			high = cursor
		}
		batch = append(batch, flowtype.NewRecord(flowtype.Positive, vals...))
		if len(batch) == batchSize {
			if err := writer.PerformAll(batch); err != nil {
				return 0, err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(batch) > 0 {
		if err := writer.PerformAll(batch); err != nil {
			return 0, err
		}
	}
	return high, nil
}

// NextAction polls every table for rows past its last-seen cursor
// value, yielding one TableAction per round, or a LogPosition
// heartbeat when nothing changed.
func (c *PostgresConnector) NextAction(ctx context.Context, lastPos flowtype.ReplicationOffset) (Action, flowtype.ReplicationOffset, error) {
	for _, table := range c.tables {
		since := c.lastSeen[table]
		rows, err := c.pool.Query(ctx, fmt.Sprintf(
			"SELECT * FROM %s WHERE %s > $1 ORDER BY %s",
			pq.QuoteIdentifier(table), pq.QuoteIdentifier(c.cursorCol), pq.QuoteIdentifier(c.cursorCol)), since)
		if err != nil {
			return Action{}, lastPos, err
		}

		var ops []RowOp
		high := since
		fields := rows.FieldDescriptions()
		for rows.Next() {
			vals, cursor, err := c.scanRow(rows, fields)
			if err != nil {
				rows.Close()
				return Action{}, lastPos, err
			}
			if cursor > high {
				high = cursor
			}
			ops = append(ops, RowOp{Insert: vals})
		}
		closeErr := rows.Err()
		rows.Close()
		if closeErr != nil {
			return Action{}, lastPos, closeErr
		}

		if len(ops) > 0 {
			c.lastSeen[table] = high
			pos := flowtype.ReplicationOffset{Label: "postgres_poll", Position: uint64(high)}
			return Action{Kind: TableAction, Table: table, Ops: ops}, pos, nil
		}
	}

	select {
	case <-time.After(c.pollEvery):
	case <-ctx.Done():
		return Action{}, lastPos, ctx.Err()
	}
	return Action{Kind: LogPosition}, lastPos, nil
}

func (c *PostgresConnector) scanRow(rows pgx.Rows, fields []pgconn.FieldDescription) ([]flowtype.Value, int64, error) {
	raw, err := rows.Values()
	if err != nil {
		return nil, 0, err
	}

	vals := make([]flowtype.Value, len(raw))
	var cursor int64
	for i, v := range raw {
		vals[i] = toFlowValue(v)
		if i < len(fields) && string(fields[i].Name) == c.cursorCol {
			cursor = valueAsInt64(v)
		}
	}
	return vals, cursor, nil
}

// parseLSN decodes a Postgres WAL position string (e.g. "16/B374D848")
// into a flat integer suitable for flowtype.ReplicationOffset.Position
// with standard LSN arithmetic (a 64-bit value split into hex hi/lo
// halves across a '/' separator).
func parseLSN(lsn string) (uint64, error) {
	var hi, lo uint32
	if _, err := fmt.Sscanf(lsn, "%X/%X", &hi, &lo); err != nil {
		return 0, fmt.Errorf("cdc: parse lsn %q: %w", lsn, err)
	}
	return uint64(hi)<<32 | uint64(lo), nil
}
