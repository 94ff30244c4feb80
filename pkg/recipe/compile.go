package recipe

import (
	"fmt"

	"github.com/flowbase/flowbase/pkg/expr"
	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/flowbase/flowbase/pkg/graph"
)

// Compile parses ddl and plans it against the live graph g, producing
// a graph.Migration the controller can apply. It does not mutate g:
// all resolution against existing tables/views is read-only, matching
// extend_recipe's "validate fully before installing anything" shape
// (spec §4.7).
func Compile(ddl string, g *graph.Graph) (*graph.Migration, error) {
	stmts, err := Parse(ddl)
	if err != nil {
		return nil, err
	}
	c := &compiler{g: g, mig: &graph.Migration{Statement: ddl}}
	for _, st := range stmts {
		if err := c.compileStatement(st); err != nil {
			return nil, err
		}
	}
	return c.mig, nil
}

type compiler struct {
	g   *graph.Graph
	mig *graph.Migration

	// schemas of nodes this migration itself creates, keyed by name,
	// since they aren't yet resolvable through g.NodeByName.
	pending map[string]*flowtype.ColumnSet

	// lookupColumn is set by compileFilter when a WHERE predicate's
	// RHS is "?", naming the column the enclosing CREATE CACHE's
	// Reader should key its lookups/replays on.
	lookupColumn string
}

func (c *compiler) compileStatement(st Statement) error {
	if c.pending == nil {
		c.pending = make(map[string]*flowtype.ColumnSet)
	}
	switch s := st.(type) {
	case *CreateTableStmt:
		return c.compileCreateTable(s)
	case *CreateViewStmt:
		_, _, err := c.compileSelect(s.Name, s.Select)
		return err
	case *CreateCacheStmt:
		return c.compileCreateCache(s)
	default:
		return fmt.Errorf("recipe: unsupported statement %T", st)
	}
}

func sqlKind(typ string) flowtype.Kind {
	switch typ {
	case "INT", "INTEGER":
		return flowtype.KindInt32
	case "BIGINT":
		return flowtype.KindInt64
	case "SMALLINT":
		return flowtype.KindInt32
	case "DOUBLE", "FLOAT":
		return flowtype.KindDouble
	case "DECIMAL", "NUMERIC":
		return flowtype.KindDecimal
	case "TEXT", "VARCHAR", "CHAR":
		return flowtype.KindText
	case "BOOLEAN", "BOOL":
		return flowtype.KindBool
	case "DATETIME", "TIMESTAMP":
		return flowtype.KindDateTime
	case "DATE":
		return flowtype.KindDate
	default:
		return flowtype.KindText
	}
}

func literalValue(kind flowtype.Kind, tok string) flowtype.Value {
	switch kind {
	case flowtype.KindInt32, flowtype.KindInt64, flowtype.KindUint32, flowtype.KindUint64:
		e, err := expr.ParseNumericLiteral(tok)
		if err == nil {
			if lit, ok := e.(expr.Literal); ok {
				return lit.Value
			}
		}
		return flowtype.NewInt64(0)
	case flowtype.KindDouble, flowtype.KindDecimal:
		e, err := expr.ParseNumericLiteral(tok)
		if err == nil {
			if lit, ok := e.(expr.Literal); ok {
				return lit.Value
			}
		}
		return flowtype.NewDouble(0, 0)
	case flowtype.KindBool:
		return flowtype.NewBool(tok == "TRUE" || tok == "1")
	default:
		return flowtype.NewText(tok)
	}
}

func (c *compiler) compileCreateTable(s *CreateTableStmt) error {
	if _, ok := c.g.NodeByName(s.Name); ok {
		return fmt.Errorf("recipe: table %q already exists", s.Name)
	}

	var primaryKey []int
	autoIncrement := false
	var specs []flowtype.ColumnSpec
	for i, col := range s.Columns {
		kind := sqlKind(col.Type)
		spec := flowtype.ColumnSpec{Name: col.Name, Kind: kind, Nullable: col.Nullable}
		if col.HasDefault {
			spec.HasDefault = true
			spec.Default = literalValue(kind, col.Default)
		}
		specs = append(specs, spec)
		if col.PrimaryKey {
			primaryKey = append(primaryKey, i)
		}
		if col.AutoIncrement {
			autoIncrement = true
		}
	}
	for _, key := range s.Keys {
		if key.Kind != "PRIMARY" {
			continue
		}
		primaryKey = nil
		for _, colName := range key.Columns {
			idx := columnIndex(s.Columns, colName)
			if idx < 0 {
				return &flowerr.UnknownColumnError{Name: colName}
			}
			primaryKey = append(primaryKey, idx)
		}
	}

	schema := flowtype.NewColumnSet(specs...)
	c.pending[s.Name] = schema

	base := graph.OperatorKind{
		Kind: graph.KindBase,
		Base: &graph.BaseConfig{
			PrimaryKey:    primaryKey,
			AutoIncrement: autoIncrement,
			Columns:       schema,
			LogRef:        s.Name,
		},
	}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{
		Name:         s.Name,
		Operator:     base,
		Schema:       schema,
		Materialized: true,
		Partial:      false,
	})
	c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: graph.SourceRef, To: s.Name, Materialized: false})
	return nil
}

func columnIndex(cols []ColumnDef, name string) int {
	for i, c := range cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// source describes where compileSelect should read columns from: a
// base table/view already in the graph (pre-existing), or a node this
// same migration is creating (pending).
type source struct {
	name   string
	schema *flowtype.ColumnSet
}

func (c *compiler) resolveSource(name string) (source, error) {
	if schema, ok := c.pending[name]; ok {
		return source{name: name, schema: schema}, nil
	}
	if n, ok := c.g.NodeByName(name); ok {
		return source{name: name, schema: n.Schema}, nil
	}
	return source{}, &flowerr.UnknownTableError{Name: name}
}

// compileSelect plans sel's operator chain, naming the final node
// viewName, and returns that name plus its output schema. It appends
// PendingNodes/PendingEdges to c.mig and registers viewName in
// c.pending for later CREATE CACHE / nested-view references.
func (c *compiler) compileSelect(viewName string, sel *SelectStmt) (string, *flowtype.ColumnSet, error) {
	left, err := c.resolveSource(sel.From)
	if err != nil {
		return "", nil, err
	}

	cur := left
	if sel.Join != nil {
		cur, err = c.compileJoin(viewName, cur, sel.Join)
		if err != nil {
			return "", nil, err
		}
	}

	if len(sel.Where) > 0 {
		cur, err = c.compileFilter(viewName, cur, sel.Where)
		if err != nil {
			return "", nil, err
		}
	}

	if len(sel.GroupBy) > 0 {
		cur, err = c.compileAggregate(viewName, cur, sel)
		if err != nil {
			return "", nil, err
		}
	}

	if len(sel.OrderBy) > 0 && sel.HasLimit {
		cur, err = c.compileTopK(viewName, cur, sel)
		if err != nil {
			return "", nil, err
		}
	}

	cur, err = c.compileProject(viewName, cur, sel)
	if err != nil {
		return "", nil, err
	}

	c.pending[viewName] = cur.schema
	return cur.name, cur.schema, nil
}

func (c *compiler) nodeName(viewName, suffix string) string {
	return fmt.Sprintf("%s$%s", viewName, suffix)
}

func (c *compiler) compileJoin(viewName string, left source, j *JoinClause) (source, error) {
	right, err := c.resolveSource(j.Table)
	if err != nil {
		return source{}, err
	}

	leftCol, err := schemaColumnIndex(left.schema, unqualify(j.OnL))
	if err != nil {
		return source{}, err
	}
	rightCol, err := schemaColumnIndex(right.schema, unqualify(j.OnR))
	if err != nil {
		return source{}, err
	}

	kind := graph.JoinInner
	if j.Left {
		kind = graph.JoinLeft
	}

	outSchema := mergeSchemas(left.schema, right.schema)
	name := c.nodeName(viewName, "join")
	op := graph.OperatorKind{
		Kind: graph.KindJoin,
		Join: &graph.JoinConfig{
			Kind:      kind,
			OnLeft:    []int{leftCol},
			OnRight:   []int{rightCol},
			LeftCols:  len(left.schema.Live()),
			RightCols: len(right.schema.Live()),
		},
	}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{Name: name, Operator: op, Schema: outSchema})
	c.mig.Edges = append(c.mig.Edges,
		graph.PendingEdge{From: left.name, To: name},
		graph.PendingEdge{From: right.name, To: name},
	)
	return source{name: name, schema: outSchema}, nil
}

func unqualify(colRef string) string {
	for i := len(colRef) - 1; i >= 0; i-- {
		if colRef[i] == '.' {
			return colRef[i+1:]
		}
	}
	return colRef
}

func schemaColumnIndex(schema *flowtype.ColumnSet, name string) (int, error) {
	idx := schema.IndexOf(name)
	if idx < 0 {
		return 0, &flowerr.UnknownColumnError{Name: name}
	}
	return idx, nil
}

func mergeSchemas(left, right *flowtype.ColumnSet) *flowtype.ColumnSet {
	var specs []flowtype.ColumnSpec
	for _, c := range left.Live() {
		specs = append(specs, flowtype.ColumnSpec{Name: c.Name, Kind: c.Kind, Nullable: c.Nullable})
	}
	for _, c := range right.Live() {
		specs = append(specs, flowtype.ColumnSpec{Name: c.Name, Kind: c.Kind, Nullable: c.Nullable})
	}
	return flowtype.NewColumnSet(specs...)
}

// compileFilter builds one Filter node per predicate, AND-chained,
// except a predicate whose RHS is "?" — that one names the terminal
// reader's lookup/replay key column instead of producing a Filter
// node (spec §6 `where id = ?`), and is returned via out.schema
// unchanged plus recorded on the compiler for compileCreateCache to consume.
func (c *compiler) compileFilter(viewName string, in source, preds []Predicate) (source, error) {
	cur := in
	for i, pred := range preds {
		if pred.RHS == "?" {
			c.lookupColumn = unqualify(pred.Column)
			continue
		}
		idx, err := schemaColumnIndex(cur.schema, unqualify(pred.Column))
		if err != nil {
			return source{}, err
		}
		predExpr, err := buildPredicateExpr(cur.schema, idx, pred)
		if err != nil {
			return source{}, err
		}
		name := c.nodeName(viewName, fmt.Sprintf("filter%d", i))
		op := graph.OperatorKind{Kind: graph.KindFilter, Filter: &graph.FilterConfig{Predicate: predExpr}}
		c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{Name: name, Operator: op, Schema: cur.schema})
		c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: cur.name, To: name})
		cur = source{name: name, schema: cur.schema}
	}
	return cur, nil
}

func buildPredicateExpr(schema *flowtype.ColumnSet, colIdx int, pred Predicate) (expr.Expr, error) {
	col := schema.Live()[colIdx]
	lit, err := literalExprFor(col.Kind, pred.RHS)
	if err != nil {
		return nil, err
	}
	op, err := compareOp(pred.Op)
	if err != nil {
		return nil, err
	}
	return expr.Binary{Op: op, Left: expr.ColumnRef{Index: colIdx}, Right: lit}, nil
}

func literalExprFor(kind flowtype.Kind, tok string) (expr.Expr, error) {
	switch kind {
	case flowtype.KindText, flowtype.KindDate, flowtype.KindDateTime:
		return expr.TextLit(tok), nil
	case flowtype.KindBool:
		return expr.BoolLit(tok == "TRUE" || tok == "1"), nil
	default:
		return expr.ParseNumericLiteral(tok)
	}
}

func compareOp(op string) (expr.BinOp, error) {
	switch op {
	case "=":
		return expr.OpEq, nil
	case "!=":
		return expr.OpNeq, nil
	case "<":
		return expr.OpLt, nil
	case "<=":
		return expr.OpLte, nil
	case ">":
		return expr.OpGt, nil
	case ">=":
		return expr.OpGte, nil
	case "LIKE":
		return expr.OpLike, nil
	case "ILIKE":
		return expr.OpILike, nil
	default:
		return 0, fmt.Errorf("recipe: unsupported comparison operator %q", op)
	}
}

func (c *compiler) compileAggregate(viewName string, in source, sel *SelectStmt) (source, error) {
	var groupBy []int
	for _, colName := range sel.GroupBy {
		idx, err := schemaColumnIndex(in.schema, unqualify(colName))
		if err != nil {
			return source{}, err
		}
		groupBy = append(groupBy, idx)
	}

	var aggItem *SelectItem
	for i := range sel.Columns {
		if sel.Columns[i].Agg != "" {
			aggItem = &sel.Columns[i]
			break
		}
	}
	if aggItem == nil {
		return source{}, fmt.Errorf("recipe: GROUP BY requires an aggregate column in the select list")
	}

	fn, err := aggFunc(aggItem.Agg)
	if err != nil {
		return source{}, err
	}
	inputColumn := -1
	if aggItem.Column != "*" {
		inputColumn, err = schemaColumnIndex(in.schema, unqualify(aggItem.Column))
		if err != nil {
			return source{}, err
		}
	}

	var specs []flowtype.ColumnSpec
	live := in.schema.Live()
	for _, idx := range groupBy {
		specs = append(specs, flowtype.ColumnSpec{Name: live[idx].Name, Kind: live[idx].Kind})
	}
	outKind := flowtype.KindInt64
	if fn != graph.AggCount {
		if inputColumn >= 0 {
			outKind = live[inputColumn].Kind
		}
	}
	resultName := aggItem.Alias
	if resultName == "" {
		resultName = aggItem.Agg
	}
	specs = append(specs, flowtype.ColumnSpec{Name: resultName, Kind: outKind})
	outSchema := flowtype.NewColumnSet(specs...)

	name := c.nodeName(viewName, "agg")
	op := graph.OperatorKind{
		Kind: graph.KindAggregate,
		Aggregate: &graph.AggregateConfig{
			GroupBy:     groupBy,
			Function:    fn,
			InputColumn: inputColumn,
		},
	}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{Name: name, Operator: op, Schema: outSchema, Materialized: true, Partial: true})
	c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: in.name, To: name})
	return source{name: name, schema: outSchema}, nil
}

func aggFunc(name string) (graph.AggFunc, error) {
	switch name {
	case "COUNT":
		return graph.AggCount, nil
	case "SUM":
		return graph.AggSum, nil
	case "MIN":
		return graph.AggMin, nil
	case "MAX":
		return graph.AggMax, nil
	case "AVG":
		return graph.AggAvg, nil
	default:
		return 0, fmt.Errorf("recipe: unsupported aggregate function %q", name)
	}
}

func (c *compiler) compileTopK(viewName string, in source, sel *SelectStmt) (source, error) {
	var groupBy []int
	for _, colName := range sel.GroupBy {
		idx, err := schemaColumnIndex(in.schema, unqualify(colName))
		if err != nil {
			return source{}, err
		}
		groupBy = append(groupBy, idx)
	}
	var orderBy []graph.OrderKey
	for _, item := range sel.OrderBy {
		idx, err := schemaColumnIndex(in.schema, unqualify(item.Column))
		if err != nil {
			return source{}, err
		}
		orderBy = append(orderBy, graph.OrderKey{Column: idx, Desc: item.Desc})
	}

	name := c.nodeName(viewName, "topk")
	op := graph.OperatorKind{
		Kind: graph.KindTopK,
		TopK: &graph.TopKConfig{GroupBy: groupBy, OrderBy: orderBy, K: sel.Limit},
	}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{Name: name, Operator: op, Schema: in.schema, Materialized: true, Partial: true})
	c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: in.name, To: name})
	return source{name: name, schema: in.schema}, nil
}

// compileProject handles the select list. A bare "SELECT * FROM t" (no
// other clauses, single star item) needs no Project node at all — it
// passes its input through unchanged, matching the teacher pattern of
// not inserting identity operators where a pipeline stage is a no-op.
func (c *compiler) compileProject(viewName string, in source, sel *SelectStmt) (source, error) {
	if len(sel.Columns) == 1 && sel.Columns[0].Star {
		return in, nil
	}

	live := in.schema.Live()
	var emit []int
	var computed []expr.Expr
	var specs []flowtype.ColumnSpec
	for _, item := range sel.Columns {
		if item.Star {
			for i, col := range live {
				emit = append(emit, i)
				computed = append(computed, nil)
				specs = append(specs, flowtype.ColumnSpec{Name: col.Name, Kind: col.Kind})
			}
			continue
		}
		if item.Agg != "" {
			// Aggregate output columns are already materialized by
			// compileAggregate and appear at the end of in.schema;
			// treat this like a plain column reference by name.
			idx, err := schemaColumnIndex(in.schema, item.Alias)
			if err != nil {
				idx, err = schemaColumnIndex(in.schema, item.Agg)
				if err != nil {
					return source{}, err
				}
			}
			emit = append(emit, idx)
			computed = append(computed, nil)
			specs = append(specs, live[idx])
			continue
		}
		idx, err := schemaColumnIndex(in.schema, unqualify(item.Column))
		if err != nil {
			return source{}, err
		}
		name := item.Column
		if item.Alias != "" {
			name = item.Alias
		}
		emit = append(emit, idx)
		computed = append(computed, nil)
		specs = append(specs, flowtype.ColumnSpec{Name: name, Kind: live[idx].Kind})
	}

	outSchema := flowtype.NewColumnSet(specs...)
	name := c.nodeName(viewName, "project")
	op := graph.OperatorKind{Kind: graph.KindProject, Project: &graph.ProjectConfig{Emit: emit, Computed: computed}}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{Name: name, Operator: op, Schema: outSchema})
	c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: in.name, To: name})
	return source{name: name, schema: outSchema}, nil
}

func (c *compiler) compileCreateCache(s *CreateCacheStmt) error {
	var finalName string
	var schema *flowtype.ColumnSet
	var err error

	if s.Select != nil {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("cache_%d", len(c.mig.Nodes))
		}
		finalName, schema, err = c.compileSelect(name, s.Select)
		if err != nil {
			return err
		}
	} else {
		src, rerr := c.resolveSource(s.Query)
		if rerr != nil {
			return rerr
		}
		finalName, schema = src.name, src.schema
	}

	readerConfig := &graph.ReaderConfig{}
	if c.lookupColumn != "" {
		idx, err := schemaColumnIndex(schema, c.lookupColumn)
		if err != nil {
			return err
		}
		readerConfig.KeyColumns = []int{idx}
		readerConfig.ReplayKeyColumn = idx
		readerConfig.HasReplayKey = true
	}

	readerName := s.Name
	if readerName == "" {
		readerName = fmt.Sprintf("%s$reader", finalName)
	}
	op := graph.OperatorKind{Kind: graph.KindReader, Reader: readerConfig}
	c.mig.Nodes = append(c.mig.Nodes, graph.PendingNode{
		Name:         readerName,
		Operator:     op,
		Schema:       schema,
		Materialized: true,
		Partial:      !s.Always,
	})
	c.mig.Edges = append(c.mig.Edges, graph.PendingEdge{From: finalName, To: readerName, Materialized: true})
	return nil
}
