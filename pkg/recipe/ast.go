package recipe

// Statement is the parsed form of one semicolon-terminated DDL/SELECT
// statement accepted by spec §6's grammar subset.
type Statement interface{ stmt() }

// ColumnDef is one column of a CREATE TABLE statement.
type ColumnDef struct {
	Name          string
	Type          string // normalized SQL type keyword: INT, BIGINT, DOUBLE, DECIMAL, TEXT, VARCHAR, BOOLEAN, DATETIME, DATE
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	HasDefault    bool
	Default       string // raw literal token text; interpreted against Type at compile time
}

// TableKey mirrors nom-sql/create.rs's key-clause variants: a CREATE
// TABLE may carry zero or more named key clauses beyond inline column
// PRIMARY KEY markers. The dataflow core itself only ever enforces the
// primary key (it needs one to index the Base node's state); the other
// kinds are parsed and retained for fidelity with the accepted SQL
// surface but carry no runtime behavior, since uniqueness/foreign-key/
// check-constraint enforcement is general-purpose OLTP machinery spec
// §1 places out of scope.
type TableKey struct {
	Kind    string // PRIMARY, UNIQUE, FULLTEXT, FOREIGN, CHECK
	Name    string
	Columns []string
}

// CreateTableStmt is `CREATE TABLE name (col type ..., KEY clauses...)`.
type CreateTableStmt struct {
	Name    string
	Columns []ColumnDef
	Keys    []TableKey
}

func (*CreateTableStmt) stmt() {}

// CreateViewStmt is `CREATE VIEW name AS <select>`. A view is compiled
// into its computation nodes but is not itself queryable — spec §6's
// read API operates on readers, which CREATE CACHE installs.
type CreateViewStmt struct {
	Name   string
	Select *SelectStmt
}

func (*CreateViewStmt) stmt() {}

// CreateCacheStmt is `CREATE CACHE [ALWAYS] [name] FROM <select|id>`,
// grounded in nom-sql/create.rs's CacheInner (a cached query is either
// an inline SELECT or a reference to an already-named view/query).
// ALWAYS requests full (non-partial) materialization.
type CreateCacheStmt struct {
	Always bool
	Name   string // may be empty; compiler synthesizes one from the query
	Select *SelectStmt
	Query  string // set instead of Select when FROM names an existing view
}

func (*CreateCacheStmt) stmt() {}

// SelectItem is one entry of a SELECT's column list.
type SelectItem struct {
	Star   bool
	Table  string // optional qualifier, e.g. "t" in "t.a"
	Column string
	Agg    string // "" or COUNT/SUM/MIN/MAX/AVG
	Alias  string
}

// Predicate is one `column op literal` comparison. RHS "?" denotes a
// lookup parameter bound at query time (spec §6 "select ... where id =
// ?"), which becomes the reader's replay key column rather than a
// Filter literal.
type Predicate struct {
	Column string
	Op     string // =, !=, <, <=, >, >=, LIKE, ILIKE
	RHS    string // literal token text, or "?" for a bind parameter
}

// JoinClause is `JOIN table ON left.col = right.col`.
type JoinClause struct {
	Left  bool // true for LEFT JOIN, false for plain/INNER JOIN
	Table string
	OnL   string // qualified "table.col"
	OnR   string
}

// OrderItem is one ORDER BY column.
type OrderItem struct {
	Column string
	Desc   bool
}

// SelectStmt is the grammar subset of spec §6's SELECT:
// `SELECT ... FROM ... [JOIN ... ON ...] [WHERE ...] [GROUP BY ...]
// [ORDER BY ...] [LIMIT ... OFFSET ...]`. WHERE supports a conjunction
// (AND only) of simple Predicates; full boolean expression trees are
// evaluated at runtime by pkg/expr but are not needed by this grammar
// subset's WHERE clause, which in practice names lookup/filter keys.
type SelectStmt struct {
	Columns    []SelectItem
	From       string
	Join       *JoinClause
	Where      []Predicate
	GroupBy    []string
	OrderBy    []OrderItem
	Limit      int
	HasLimit   bool
	Offset     int
	HasOffset  bool
}

func (*SelectStmt) stmt() {}
