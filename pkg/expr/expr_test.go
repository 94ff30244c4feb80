package expr

import (
	"testing"
	"time"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryArithmeticOnColumns(t *testing.T) {
	row := []flowtype.Value{flowtype.NewInt64(4), flowtype.NewInt64(5)}
	e := Binary{Op: OpAdd, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	f, ok := v.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 9.0, f)
}

func TestBinaryNullPropagation(t *testing.T) {
	row := []flowtype.Value{flowtype.Null, flowtype.NewInt64(5)}
	e := Binary{Op: OpAdd, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	row := []flowtype.Value{flowtype.NewBool(false), flowtype.Null}
	e := Binary{Op: OpAnd, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	b, ok := v.AsBool()
	require.True(t, ok)
	assert.False(t, b)
}

func TestAndWithUnknownIsUnknown(t *testing.T) {
	row := []flowtype.Value{flowtype.NewBool(true), flowtype.Null}
	e := Binary{Op: OpAnd, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestOrShortCircuitsOnTrue(t *testing.T) {
	row := []flowtype.Value{flowtype.NewBool(true), flowtype.Null}
	e := Binary{Op: OpOr, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	b, ok := v.AsBool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestDecimalArithmeticStaysExact(t *testing.T) {
	row := []flowtype.Value{flowtype.NewDecimal(150, 2), flowtype.NewDecimal(25, 2)} // 1.50 + 0.25
	e := Binary{Op: OpAdd, Left: ColumnRef{0}, Right: ColumnRef{1}}
	v, err := e.Eval(row)
	require.NoError(t, err)
	assert.Equal(t, "1.75", v.String())
}

func TestCaseFirstMatchWins(t *testing.T) {
	row := []flowtype.Value{flowtype.NewInt64(2)}
	c := Case{
		Whens: []WhenClause{
			{When: Binary{Op: OpEq, Left: ColumnRef{0}, Right: IntLit(1)}, Then: TextLit("one")},
			{When: Binary{Op: OpEq, Left: ColumnRef{0}, Right: IntLit(2)}, Then: TextLit("two")},
		},
		Else: TextLit("other"),
	}
	v, err := c.Eval(row)
	require.NoError(t, err)
	s, _ := v.AsText()
	assert.Equal(t, "two", s)
}

func TestCaseFallsThroughToElse(t *testing.T) {
	row := []flowtype.Value{flowtype.NewInt64(99)}
	c := Case{
		Whens: []WhenClause{
			{When: Binary{Op: OpEq, Left: ColumnRef{0}, Right: IntLit(1)}, Then: TextLit("one")},
		},
		Else: TextLit("other"),
	}
	v, err := c.Eval(row)
	require.NoError(t, err)
	s, _ := v.AsText()
	assert.Equal(t, "other", s)
}

func TestIfNull(t *testing.T) {
	v, err := biIfNull([]flowtype.Value{flowtype.Null, flowtype.NewInt64(7)})
	require.NoError(t, err)
	i, _ := v.AsInt()
	assert.Equal(t, int64(7), i)
}

func TestRoundNegativeDigits(t *testing.T) {
	v, err := biRound([]flowtype.Value{flowtype.NewDouble(52.1, 1), flowtype.NewInt32(-1)})
	require.NoError(t, err)
	f, _ := v.AsFloat()
	assert.Equal(t, 50.0, f)
}

func TestDayOfWeekAndMonth(t *testing.T) {
	// 2024-03-04 is a Monday.
	d := flowtype.NewDateTime(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	dow, err := biDayOfWeek([]flowtype.Value{d})
	require.NoError(t, err)
	i, _ := dow.AsInt()
	assert.Equal(t, int64(2), i) // Monday = 2 (Sunday = 1)

	month, err := biMonth([]flowtype.Value{d})
	require.NoError(t, err)
	m, _ := month.AsInt()
	assert.Equal(t, int64(3), m)
}

func TestTimeDiffAndAddTime(t *testing.T) {
	a := flowtype.NewDateTime(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	b := flowtype.NewDateTime(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	diff, err := biTimeDiff([]flowtype.Value{a, b})
	require.NoError(t, err)
	dur, ok := diff.AsDuration()
	require.True(t, ok)
	assert.Equal(t, 2*time.Hour, dur)

	added, err := biAddTime([]flowtype.Value{b, diff})
	require.NoError(t, err)
	tm, ok := added.AsTime()
	require.True(t, ok)
	wantTime, _ := a.AsTime()
	assert.True(t, tm.Equal(wantTime))
}

func TestLikePattern(t *testing.T) {
	v, err := evalLike(flowtype.NewText("hello world"), flowtype.NewText("hello%"), false)
	require.NoError(t, err)
	b, _ := v.AsBool()
	assert.True(t, b)

	v, err = evalLike(flowtype.NewText("Hello World"), flowtype.NewText("hello%"), false)
	require.NoError(t, err)
	b, _ = v.AsBool()
	assert.False(t, b)

	v, err = evalLike(flowtype.NewText("Hello World"), flowtype.NewText("hello%"), true)
	require.NoError(t, err)
	b, _ = v.AsBool()
	assert.True(t, b)
}

func TestLikeOnNonTextIsNoMatch(t *testing.T) {
	v, err := evalLike(flowtype.NewInt64(5), flowtype.NewText("5"), false)
	require.NoError(t, err)
	b, _ := v.AsBool()
	assert.False(t, b)
}

func TestUnknownFunctionError(t *testing.T) {
	call := Call{Name: "NOT_A_FUNCTION", Args: nil}
	_, err := call.Eval(nil)
	require.Error(t, err)
	var ufe *UnknownFunctionError
	assert.ErrorAs(t, err, &ufe)
}
