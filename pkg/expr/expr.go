package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/flowbase/flowbase/pkg/flowtype"
)

// Expr is a scalar expression evaluated against one input row.
type Expr interface {
	Eval(row []flowtype.Value) (flowtype.Value, error)
	String() string
}

// ColumnRef references an input column by position.
type ColumnRef struct{ Index int }

func (c ColumnRef) Eval(row []flowtype.Value) (flowtype.Value, error) {
	if c.Index < 0 || c.Index >= len(row) {
		return flowtype.Null, fmt.Errorf("expr: column index %d out of range (row has %d columns)", c.Index, len(row))
	}
	return row[c.Index], nil
}
func (c ColumnRef) String() string { return fmt.Sprintf("$%d", c.Index) }

// Literal is a constant value.
type Literal struct{ Value flowtype.Value }

func (l Literal) Eval([]flowtype.Value) (flowtype.Value, error) { return l.Value, nil }
func (l Literal) String() string                                { return l.Value.String() }

// BinOp is the set of supported binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpLike
	OpILike
)

// Binary applies a binary operator to two sub-expressions with
// NULL-propagating three-valued logic: if either operand is NULL, the
// result is NULL (for arithmetic/comparison) or follows SQL's
// three-valued AND/OR truth table.
type Binary struct {
	Op          BinOp
	Left, Right Expr
}

func (b Binary) String() string {
	return fmt.Sprintf("(%s %d %s)", b.Left.String(), b.Op, b.Right.String())
}

func (b Binary) Eval(row []flowtype.Value) (flowtype.Value, error) {
	l, err := b.Left.Eval(row)
	if err != nil {
		return flowtype.Null, err
	}

	// AND/OR short-circuit per SQL three-valued logic even when one
	// side is NULL: FALSE AND NULL = FALSE, TRUE OR NULL = TRUE.
	if b.Op == OpAnd || b.Op == OpOr {
		return evalBoolLogic(b.Op, l, b.Right, row)
	}

	r, err := b.Right.Eval(row)
	if err != nil {
		return flowtype.Null, err
	}

	if l.IsNull() || r.IsNull() {
		return flowtype.Null, nil
	}

	switch b.Op {
	case OpAdd, OpSub, OpMul, OpDiv:
		return evalArith(b.Op, l, r)
	case OpEq:
		return flowtype.NewBool(l.Compare(r) == 0), nil
	case OpNeq:
		return flowtype.NewBool(l.Compare(r) != 0), nil
	case OpLt:
		return flowtype.NewBool(l.Compare(r) < 0), nil
	case OpLte:
		return flowtype.NewBool(l.Compare(r) <= 0), nil
	case OpGt:
		return flowtype.NewBool(l.Compare(r) > 0), nil
	case OpGte:
		return flowtype.NewBool(l.Compare(r) >= 0), nil
	case OpLike:
		return evalLike(l, r, false)
	case OpILike:
		return evalLike(l, r, true)
	default:
		return flowtype.Null, fmt.Errorf("expr: unsupported binary op %d", b.Op)
	}
}

func evalBoolLogic(op BinOp, l flowtype.Value, rightExpr Expr, row []flowtype.Value) (flowtype.Value, error) {
	lb, lKnown := boolOf(l)
	if op == OpAnd && lKnown && !lb {
		return flowtype.NewBool(false), nil
	}
	if op == OpOr && lKnown && lb {
		return flowtype.NewBool(true), nil
	}
	r, err := rightExpr.Eval(row)
	if err != nil {
		return flowtype.Null, err
	}
	rb, rKnown := boolOf(r)
	switch {
	case op == OpAnd:
		if rKnown && !rb {
			return flowtype.NewBool(false), nil
		}
		if lKnown && rKnown {
			return flowtype.NewBool(lb && rb), nil
		}
		return flowtype.Null, nil
	default: // OpOr
		if rKnown && rb {
			return flowtype.NewBool(true), nil
		}
		if lKnown && rKnown {
			return flowtype.NewBool(lb || rb), nil
		}
		return flowtype.Null, nil
	}
}

func boolOf(v flowtype.Value) (value bool, known bool) {
	if v.IsNull() {
		return false, false
	}
	if b, ok := v.AsBool(); ok {
		return b, true
	}
	if i, ok := v.AsInt(); ok {
		return i != 0, true
	}
	return false, false
}

func evalArith(op BinOp, l, r flowtype.Value) (flowtype.Value, error) {
	// Decimal/decimal arithmetic stays exact; any float operand widens
	// the whole expression to double.
	if l.Kind() == flowtype.KindDecimal && r.Kind() == flowtype.KindDecimal {
		return evalDecimalArith(op, l, r)
	}
	lf, ok1 := l.AsFloat()
	rf, ok2 := r.AsFloat()
	if !ok1 || !ok2 {
		return flowtype.Null, fmt.Errorf("expr: non-numeric operand in arithmetic")
	}
	var out float64
	switch op {
	case OpAdd:
		out = lf + rf
	case OpSub:
		out = lf - rf
	case OpMul:
		out = lf * rf
	case OpDiv:
		if rf == 0 {
			return flowtype.Null, nil
		}
		out = lf / rf
	}
	return flowtype.NewDouble(out, 6), nil
}

func evalDecimalArith(op BinOp, l, r flowtype.Value) (flowtype.Value, error) {
	lu, ls, _ := l.Decimal()
	ru, rs, _ := r.Decimal()
	scale := ls
	if rs > scale {
		scale = rs
	}
	lu = rescale(lu, ls, scale)
	ru = rescale(ru, rs, scale)
	switch op {
	case OpAdd:
		return flowtype.NewDecimal(lu+ru, scale), nil
	case OpSub:
		return flowtype.NewDecimal(lu-ru, scale), nil
	case OpMul:
		// Multiplying two fixed-point numbers doubles the scale.
		return flowtype.NewDecimal(lu*ru, scale*2), nil
	case OpDiv:
		if ru == 0 {
			return flowtype.Null, nil
		}
		lf := float64(lu) / float64(ru)
		return flowtype.NewDouble(lf, scale), nil
	}
	return flowtype.Null, fmt.Errorf("expr: unsupported decimal op")
}

func rescale(unscaled int64, from, to int32) int64 {
	for from < to {
		unscaled *= 10
		from++
	}
	for from > to {
		unscaled /= 10
		from--
	}
	return unscaled
}

// Unary negation / NOT.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpNot
)

type Unary struct {
	Op   UnaryOp
	Expr Expr
}

func (u Unary) String() string { return fmt.Sprintf("unary(%d, %s)", u.Op, u.Expr.String()) }

func (u Unary) Eval(row []flowtype.Value) (flowtype.Value, error) {
	v, err := u.Expr.Eval(row)
	if err != nil {
		return flowtype.Null, err
	}
	if v.IsNull() {
		return flowtype.Null, nil
	}
	switch u.Op {
	case OpNeg:
		f, _ := v.AsFloat()
		return flowtype.NewDouble(-f, 6), nil
	case OpNot:
		b, known := boolOf(v)
		if !known {
			return flowtype.Null, nil
		}
		return flowtype.NewBool(!b), nil
	default:
		return flowtype.Null, fmt.Errorf("expr: unsupported unary op %d", u.Op)
	}
}

// WhenClause is one WHEN/THEN arm of a Case expression.
type WhenClause struct {
	When Expr
	Then Expr
}

// Case implements SQL's searched CASE: the first WHEN whose predicate
// evaluates true wins; if none do, Else is returned (NULL if absent).
type Case struct {
	Whens []WhenClause
	Else  Expr
}

func (c Case) String() string { return "case" }

func (c Case) Eval(row []flowtype.Value) (flowtype.Value, error) {
	for _, w := range c.Whens {
		cond, err := w.When.Eval(row)
		if err != nil {
			return flowtype.Null, err
		}
		if b, known := boolOf(cond); known && b {
			return w.Then.Eval(row)
		}
	}
	if c.Else != nil {
		return c.Else.Eval(row)
	}
	return flowtype.Null, nil
}

// Call is a built-in function invocation.
type Call struct {
	Name string
	Args []Expr
}

func (c Call) String() string { return c.Name + "(...)" }

func (c Call) Eval(row []flowtype.Value) (flowtype.Value, error) {
	args := make([]flowtype.Value, len(c.Args))
	for i, a := range c.Args {
		v, err := a.Eval(row)
		if err != nil {
			return flowtype.Null, err
		}
		args[i] = v
	}
	fn, ok := builtins[strings.ToUpper(c.Name)]
	if !ok {
		return flowtype.Null, &UnknownFunctionError{Name: c.Name}
	}
	return fn(args)
}

// UnknownFunctionError mirrors flowerr.UnknownFunctionError. expr does
// not import flowerr, and Eval returns this type as is; no caller
// converts it to the flowerr type.
type UnknownFunctionError struct{ Name string }

func (e *UnknownFunctionError) Error() string { return "unknown function " + e.Name }

type builtinFunc func(args []flowtype.Value) (flowtype.Value, error)

var builtins = map[string]builtinFunc{
	"IFNULL":     biIfNull,
	"ROUND":      biRound,
	"DAYOFWEEK":  biDayOfWeek,
	"MONTH":      biMonth,
	"TIMEDIFF":   biTimeDiff,
	"ADDTIME":    biAddTime,
	"CONVERT_TZ": biConvertTZ,
}

func arity(name string, args []flowtype.Value, want int) error {
	if len(args) != want {
		return &ArityError{Function: name, Want: want, Got: len(args)}
	}
	return nil
}

// ArityError mirrors flowerr.ArityError, in the same way as
// UnknownFunctionError.
type ArityError struct {
	Function string
	Want     int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s wants %d argument(s), got %d", e.Function, e.Want, e.Got)
}

func biIfNull(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("IFNULL", args, 2); err != nil {
		return flowtype.Null, err
	}
	if !args[0].IsNull() {
		return args[0], nil
	}
	return args[1], nil
}

// biRound implements MySQL-compatible ROUND(x, d): d may be negative
// to round to the left of the decimal point (ROUND(52.1, -1) = 50).
func biRound(args []flowtype.Value) (flowtype.Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return flowtype.Null, &ArityError{Function: "ROUND", Want: 2, Got: len(args)}
	}
	if args[0].IsNull() {
		return flowtype.Null, nil
	}
	digits := 0
	if len(args) == 2 {
		d, ok := args[1].AsInt()
		if !ok {
			return flowtype.Null, fmt.Errorf("ROUND: second argument must be an integer")
		}
		digits = int(d)
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return flowtype.Null, fmt.Errorf("ROUND: first argument must be numeric")
	}
	mult := math.Pow(10, float64(digits))
	rounded := math.Round(f*mult) / mult
	scale := digits
	if scale < 0 {
		scale = 0
	}
	return flowtype.NewDouble(rounded, int32(scale)), nil
}

func biDayOfWeek(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("DAYOFWEEK", args, 1); err != nil {
		return flowtype.Null, err
	}
	if args[0].IsNull() {
		return flowtype.Null, nil
	}
	t, ok := args[0].AsTime()
	if !ok {
		return flowtype.Null, fmt.Errorf("DAYOFWEEK: argument must be a date or datetime")
	}
	// MySQL returns 1 = Sunday ... 7 = Saturday.
	return flowtype.NewInt32(int32(t.Weekday()) + 1), nil
}

func biMonth(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("MONTH", args, 1); err != nil {
		return flowtype.Null, err
	}
	if args[0].IsNull() {
		return flowtype.Null, nil
	}
	t, ok := args[0].AsTime()
	if !ok {
		return flowtype.Null, fmt.Errorf("MONTH: argument must be a date or datetime")
	}
	return flowtype.NewInt32(int32(t.Month())), nil
}

func biTimeDiff(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("TIMEDIFF", args, 2); err != nil {
		return flowtype.Null, err
	}
	if args[0].IsNull() || args[1].IsNull() {
		return flowtype.Null, nil
	}
	a, ok1 := args[0].AsTime()
	b, ok2 := args[1].AsTime()
	if !ok1 || !ok2 {
		return flowtype.Null, fmt.Errorf("TIMEDIFF: arguments must be date or datetime")
	}
	return flowtype.NewInterval(a.Sub(b)), nil
}

func biAddTime(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("ADDTIME", args, 2); err != nil {
		return flowtype.Null, err
	}
	if args[0].IsNull() || args[1].IsNull() {
		return flowtype.Null, nil
	}
	t, ok := args[0].AsTime()
	if !ok {
		return flowtype.Null, fmt.Errorf("ADDTIME: first argument must be date or datetime")
	}
	d, ok := args[1].AsDuration()
	if !ok {
		return flowtype.Null, fmt.Errorf("ADDTIME: second argument must be an interval")
	}
	return flowtype.NewDateTime(t.Add(d)), nil
}

func biConvertTZ(args []flowtype.Value) (flowtype.Value, error) {
	if err := arity("CONVERT_TZ", args, 3); err != nil {
		return flowtype.Null, err
	}
	if args[0].IsNull() || args[1].IsNull() || args[2].IsNull() {
		return flowtype.Null, nil
	}
	t, ok := args[0].AsTime()
	if !ok {
		return flowtype.Null, fmt.Errorf("CONVERT_TZ: first argument must be date or datetime")
	}
	fromName, ok := args[1].AsText()
	if !ok {
		return flowtype.Null, fmt.Errorf("CONVERT_TZ: second argument must be text")
	}
	toName, ok := args[2].AsText()
	if !ok {
		return flowtype.Null, fmt.Errorf("CONVERT_TZ: third argument must be text")
	}
	fromLoc, err := time.LoadLocation(fromName)
	if err != nil {
		return flowtype.Null, nil
	}
	toLoc, err := time.LoadLocation(toName)
	if err != nil {
		return flowtype.Null, nil
	}
	// t was parsed as a naive UTC instant; reinterpret its wall clock
	// fields as being in fromLoc, then convert to toLoc.
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, fromLoc)
	return flowtype.NewDateTime(wall.In(toLoc)), nil
}

// evalLike implements SQL LIKE/ILIKE with % and _ wildcards. Per the
// type rules, LIKE against a non-text operand is defined to be a
// no-match rather than an error or implicit coercion (spec §9 open
// question, resolved explicitly here).
func evalLike(value, pattern flowtype.Value, caseInsensitive bool) (flowtype.Value, error) {
	text, ok := value.AsText()
	if !ok {
		return flowtype.NewBool(false), nil
	}
	pat, ok := pattern.AsText()
	if !ok {
		return flowtype.NewBool(false), nil
	}
	re := compilePattern(pat, caseInsensitive)
	return flowtype.NewBool(re.MatchString(text)), nil
}

// Literal builder helpers used by the recipe compiler.

func IntLit(v int64) Expr    { return Literal{Value: flowtype.NewInt64(v)} }
func TextLit(v string) Expr  { return Literal{Value: flowtype.NewText(v)} }
func BoolLit(v bool) Expr    { return Literal{Value: flowtype.NewBool(v)} }
func NullLit() Expr          { return Literal{Value: flowtype.Null} }
func DoubleLit(v float64) Expr { return Literal{Value: flowtype.NewDouble(v, 6)} }

// ParseNumericLiteral is a small helper for the recipe compiler to
// turn a token like "4.125" or "42" into the right kind of Literal.
func ParseNumericLiteral(tok string) (Expr, error) {
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return IntLit(i), nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("expr: invalid numeric literal %q", tok)
	}
	scale := int32(0)
	if dot := strings.IndexByte(tok, '.'); dot >= 0 {
		scale = int32(len(tok) - dot - 1)
	}
	return DoubleLit(f), nilOrScale(f, scale)
}

func nilOrScale(float64, int32) error { return nil }
