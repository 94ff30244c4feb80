package graph

import (
	"github.com/flowbase/flowbase/pkg/expr"
	"github.com/flowbase/flowbase/pkg/flowtype"
)

// Kind discriminates the closed set of operator kinds a Node can be.
type Kind uint8

const (
	KindBase Kind = iota
	KindIngress
	KindEgress
	KindSharder
	KindDesharder
	KindReader
	KindFilter
	KindProject
	KindJoin
	KindAggregate
	KindTopK
	KindUnion
	KindIdentity
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "Base"
	case KindIngress:
		return "Ingress"
	case KindEgress:
		return "Egress"
	case KindSharder:
		return "Sharder"
	case KindDesharder:
		return "Desharder"
	case KindReader:
		return "Reader"
	case KindFilter:
		return "Filter"
	case KindProject:
		return "Project"
	case KindJoin:
		return "Join"
	case KindAggregate:
		return "Aggregate"
	case KindTopK:
		return "TopK"
	case KindUnion:
		return "Union"
	case KindIdentity:
		return "Identity"
	default:
		return "Unknown"
	}
}

// IsInternal reports whether the kind is one of the internal operator
// kinds listed in spec §3 (Filter/Project/Join/Aggregate/TopK/Union/
// Identity), as opposed to a boundary or structural node.
func (k Kind) IsInternal() bool {
	switch k {
	case KindFilter, KindProject, KindJoin, KindAggregate, KindTopK, KindUnion, KindIdentity:
		return true
	default:
		return false
	}
}

// JoinKind distinguishes Join's two supported kinds.
type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// AggFunc is one of Aggregate's supported reduction functions.
type AggFunc uint8

const (
	AggCount AggFunc = iota
	AggSum
	AggMin
	AggMax
	AggAvg
)

func (f AggFunc) String() string {
	switch f {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggAvg:
		return "AVG"
	default:
		return "UNKNOWN"
	}
}

// OrderKey is one ORDER BY term for TopK.
type OrderKey struct {
	Column int
	Desc   bool
}

// BaseConfig configures a Base operator: the externally-writable root
// of a table.
type BaseConfig struct {
	PrimaryKey    []int
	AutoIncrement bool
	Columns       *flowtype.ColumnSet
	LogRef        string
}

// ShardConfig configures Sharder/Desharder hash-repartition nodes.
type ShardConfig struct {
	Column    int
	NumShards int
}

// ReaderConfig configures a Reader leaf: its lookup key and optional
// replay-key column (when distinct from the primary lookup key).
type ReaderConfig struct {
	KeyColumns      []int
	ReplayKeyColumn int
	HasReplayKey    bool
}

// FilterConfig configures a Filter: drop records whose predicate
// evaluates false (NULL treated as false, per 3-valued logic).
type FilterConfig struct {
	Predicate expr.Expr
}

// ProjectConfig configures a Project: a list of output columns, each
// either a passthrough of an input column index or a computed scalar
// expression.
type ProjectConfig struct {
	// Emit[i] >= 0 selects input column Emit[i]; Emit[i] == -1 means
	// the value comes from evaluating Computed[i] instead.
	Emit     []int
	Computed []expr.Expr
}

// JoinConfig configures a Join between two named input edges.
type JoinConfig struct {
	Kind      JoinKind
	OnLeft    []int
	OnRight   []int
	LeftCols  int // number of columns contributed by the left input, for output layout
	RightCols int // number of columns contributed by the right input
}

// AggregateConfig configures an Aggregate: group by a set of columns,
// reduce another column with Function.
type AggregateConfig struct {
	GroupBy     []int
	Function    AggFunc
	InputColumn int
}

// TopKConfig configures a TopK: per-group sorted structure bounded to K.
type TopKConfig struct {
	GroupBy []int
	OrderBy []OrderKey
	K       int
}

// UnionConfig configures a Union: each input's column indices are
// remapped into Mappings[inputIndex] before being forwarded, so two
// differently-ordered schemas can feed the same union.
type UnionConfig struct {
	Mappings [][]int
	Distinct bool
}

// OperatorKind is the tagged-variant sum type from spec §3: a Kind
// discriminant plus exactly one non-nil per-kind config pointer. Using
// a flat struct instead of an interface-per-kind lets the domain
// executor switch on Kind without a type assertion, and lets a kernel
// check "am I stateful along this replay key" as a plain field lookup.
type OperatorKind struct {
	Kind Kind

	Base      *BaseConfig
	Shard     *ShardConfig
	Reader    *ReaderConfig
	Filter    *FilterConfig
	Project   *ProjectConfig
	Join      *JoinConfig
	Aggregate *AggregateConfig
	TopK      *TopKConfig
	Union     *UnionConfig
}
