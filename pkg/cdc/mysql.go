package cdc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" sql.DB driver
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// MySQLConnector snapshots and tails a MySQL/MariaDB source. Its
// streaming phase polls each table ordered by a monotonic column
// rather than parsing row-based binlog events (see package doc for
// why); position values carry Label "mysql_poll" and a Position that
// is a polled-column value encoded as an integer: for a snapshot, the
// highest value across every table; for a streamed TableAction, the
// highest value in that table's polled batch.
type MySQLConnector struct {
	db         *sql.DB
	cursorCol  string // column polled for new/changed rows, e.g. "updated_at" or an autoincrement id
	pollEvery  time.Duration
	tables     []string
	lastSeen   map[string]int64 // table -> highest cursorCol value already emitted
}

// MySQLConfig parameterizes MySQLConnector.
type MySQLConfig struct {
	DSN       string // go-sql-driver/mysql DSN, e.g. "user:pass@tcp(host:3306)/db"
	Tables    []string
	CursorCol string
	PollEvery time.Duration
}

// NewMySQLConnector opens the upstream connection pool.
func NewMySQLConnector(cfg MySQLConfig) (*MySQLConnector, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cdc: open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cdc: ping mysql: %w", err)
	}
	pollEvery := cfg.PollEvery
	if pollEvery == 0 {
		pollEvery = time.Second
	}
	return &MySQLConnector{
		db:        db,
		cursorCol: cfg.CursorCol,
		pollEvery: pollEvery,
		tables:    cfg.Tables,
		lastSeen:  make(map[string]int64),
	}, nil
}

func (c *MySQLConnector) Close() error { return c.db.Close() }

// Snapshot loads every configured table's full contents into sink in
// batches, then records the current cursor value per table as the
// initial lastSeen watermark so streaming resumes from exactly this
// point.
func (c *MySQLConnector) Snapshot(ctx context.Context, sink TableSink) (flowtype.ReplicationOffset, error) {
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
	return flowtype.ReplicationOffset{Label: "mysql_poll", Position: uint64(maxCursor)}, nil
}

func (c *MySQLConnector) snapshotTable(ctx context.Context, table string, writer TableWriter) (int64, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(table), quoteIdent(c.cursorCol)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	const batchSize = 500
	batch := make([]flowtype.Record, 0, batchSize)
	var high int64
	for rows.Next() {
		vals, cursor, err := c.scanRow(rows)
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

// NextAction polls every table for rows whose cursor column exceeds
// what was last emitted, yielding one TableAction per table with
// pending rows, or a LogPosition heartbeat when nothing changed this
// round.
func (c *MySQLConnector) NextAction(ctx context.Context, lastPos flowtype.ReplicationOffset) (Action, flowtype.ReplicationOffset, error) {
	for _, table := range c.tables {
		since := c.lastSeen[table]
		rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
			"SELECT * FROM %s WHERE %s > ? ORDER BY %s", quoteIdent(table), quoteIdent(c.cursorCol), quoteIdent(c.cursorCol)), since)
		if err != nil {
			return Action{}, lastPos, err
		}

		var ops []RowOp
		high := since
		for rows.Next() {
			vals, cursor, err := c.scanRow(rows)
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
			pos := flowtype.ReplicationOffset{Label: "mysql_poll", Position: uint64(high)}
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

// scanRow reads the current row into flowtype Values plus the cursor
// column's integer value, using a generic any-typed scan so this
// connector needs no compile-time knowledge of each table's schema.
func (c *MySQLConnector) scanRow(rows *sql.Rows) ([]flowtype.Value, int64, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, 0, err
	}

	vals := make([]flowtype.Value, len(cols))
	var cursor int64
	for i, name := range cols {
		v := toFlowValue(raw[i])
		vals[i] = v
		if name == c.cursorCol {
			cursor = valueAsInt64(raw[i])
		}
	}
	return vals, cursor, nil
}

func toFlowValue(v any) flowtype.Value {
	switch x := v.(type) {
	case nil:
		return flowtype.Null
	case int64:
		return flowtype.NewInt64(x)
	case int32:
		return flowtype.NewInt32(x)
	case float64:
		return flowtype.NewDouble(x, 2)
	case bool:
		return flowtype.NewBool(x)
	case []byte:
		return flowtype.NewText(string(x))
	case string:
		return flowtype.NewText(x)
	case time.Time:
		return flowtype.NewDateTime(x)
	default:
		return flowtype.NewText(fmt.Sprintf("%v", x))
	}
}

func valueAsInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case []byte:
		var n int64
		fmt.Sscanf(string(x), "%d", &n)
		return n
	case time.Time:
		return x.Unix()
	default:
		return 0
	}
}

func quoteIdent(s string) string {
	return "`" + s + "`"
}
