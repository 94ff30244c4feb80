package flowtype

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the SQL scalar kind a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindDouble
	KindDecimal
	KindText
	KindBlob
	KindDate
	KindDateTime
	KindInterval
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt32:
		return "INT32"
	case KindInt64:
		return "INT64"
	case KindUint32:
		return "UINT32"
	case KindUint64:
		return "UINT64"
	case KindDouble:
		return "DOUBLE"
	case KindDecimal:
		return "DECIMAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	case KindDate:
		return "DATE"
	case KindDateTime:
		return "DATETIME"
	case KindInterval:
		return "INTERVAL"
	case KindBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// numericRank orders numeric kinds for widening comparisons; a larger
// rank can represent every value of a smaller one.
var numericRank = map[Kind]int{
	KindInt32:   1,
	KindUint32:  2,
	KindInt64:   3,
	KindUint64:  4,
	KindDouble:  5,
	KindDecimal: 5,
}

func isNumeric(k Kind) bool {
	_, ok := numericRank[k]
	return ok
}

// Value is a tagged union over the SQL scalar kinds FlowBase supports.
// The zero Value is NULL. Values are immutable once constructed.
type Value struct {
	kind  Kind
	i     int64  // Int32/Int64/Uint32/Uint64 bit pattern, Bool (0/1), Date/DateTime (unix seconds), Interval (nanoseconds)
	f     float64
	scale int32 // decimal places for Double/Decimal
	s     string
	b     []byte
}

// Null is the NULL value.
var Null = Value{kind: KindNull}

func NewInt32(v int32) Value  { return Value{kind: KindInt32, i: int64(v)} }
func NewInt64(v int64) Value  { return Value{kind: KindInt64, i: v} }
func NewUint32(v uint32) Value { return Value{kind: KindUint32, i: int64(v)} }
func NewUint64(v uint64) Value { return Value{kind: KindUint64, i: int64(v)} }
func NewBool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// NewDouble constructs an IEEE-754 double with a display scale (number
// of fractional digits used when rendering, not precision loss).
func NewDouble(v float64, scale int32) Value {
	return Value{kind: KindDouble, f: v, scale: scale}
}

// NewDecimal constructs a fixed-point decimal from an unscaled integer
// and a scale, i.e. the value is unscaled * 10^-scale.
func NewDecimal(unscaled int64, scale int32) Value {
	return Value{kind: KindDecimal, i: unscaled, scale: scale}
}

func NewText(v string) Value { return Value{kind: KindText, s: v} }
func NewBlob(v []byte) Value { return Value{kind: KindBlob, b: append([]byte(nil), v...)} }

// NewDate constructs a date value from the whole-day count since the
// Unix epoch.
func NewDate(t time.Time) Value {
	days := t.Truncate(24 * time.Hour).Unix() / 86400
	return Value{kind: KindDate, i: days}
}

// NewDateTime constructs a datetime value with second resolution in UTC.
func NewDateTime(t time.Time) Value {
	return Value{kind: KindDateTime, i: t.UTC().Unix()}
}

// NewInterval constructs a time interval from a duration.
func NewInterval(d time.Duration) Value {
	return Value{kind: KindInterval, i: int64(d)}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt32, KindInt64, KindUint32, KindUint64, KindBool:
		return v.i, true
	case KindDouble:
		return int64(v.f), true
	case KindDecimal:
		return v.i / pow10(v.scale), true
	default:
		return 0, false
	}
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt32, KindInt64, KindUint32, KindUint64, KindBool:
		return float64(v.i), true
	case KindDouble:
		return v.f, true
	case KindDecimal:
		return float64(v.i) / math.Pow10(int(v.scale)), true
	default:
		return 0, false
	}
}

func (v Value) AsText() (string, bool) {
	if v.kind == KindText {
		return v.s, true
	}
	return "", false
}

func (v Value) AsBlob() ([]byte, bool) {
	if v.kind == KindBlob {
		return v.b, true
	}
	return nil, false
}

func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.i != 0, true
	}
	return false, false
}

// AsTime recovers a time.Time for Date or DateTime kinds; any other
// kind reports false.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindDate:
		return time.Unix(v.i*86400, 0).UTC(), true
	case KindDateTime:
		return time.Unix(v.i, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func (v Value) AsDuration() (time.Duration, bool) {
	if v.kind == KindInterval {
		return time.Duration(v.i), true
	}
	return 0, false
}

func pow10(n int32) int64 {
	r := int64(1)
	for i := int32(0); i < n; i++ {
		r *= 10
	}
	return r
}

// Decimal returns the unscaled mantissa and scale of a Decimal value.
func (v Value) Decimal() (unscaled int64, scale int32, ok bool) {
	if v.kind != KindDecimal {
		return 0, 0, false
	}
	return v.i, v.scale, true
}

// String renders the value for logging and text coercion. NULL
// renders as the empty string, matching SQL's NULL-to-string behavior
// used by built-ins like CONCAT that the caller must special-case.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindUint32, KindUint64:
		return fmt.Sprintf("%d", uint64(v.i))
	case KindBool:
		return fmt.Sprintf("%t", v.i != 0)
	case KindDouble:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.*f", v.scale, v.f), "0"), ".")
	case KindDecimal:
		return formatDecimal(v.i, v.scale)
	case KindText:
		return v.s
	case KindBlob:
		return string(v.b)
	case KindDate:
		t, _ := v.AsTime()
		return t.Format("2006-01-02")
	case KindDateTime:
		t, _ := v.AsTime()
		return t.Format("2006-01-02 15:04:05")
	case KindInterval:
		d, _ := v.AsDuration()
		return d.String()
	default:
		return ""
	}
}

func formatDecimal(unscaled int64, scale int32) string {
	if scale <= 0 {
		return fmt.Sprintf("%d", unscaled*pow10(-scale))
	}
	neg := unscaled < 0
	if neg {
		unscaled = -unscaled
	}
	s := fmt.Sprintf("%0*d", scale+1, unscaled)
	whole, frac := s[:len(s)-int(scale)], s[len(s)-int(scale):]
	out := whole + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

// Compare orders two values totally within a kind, coercing across
// numeric kinds (widening) and falling back to lexicographic order
// for text. NULL sorts before every other value; two NULLs compare
// equal. Cross-kind comparisons that are neither numeric-numeric nor
// text-text compare by Kind as a last resort, which keeps Compare a
// total order suitable for sorted indices (TopK, range scans) even
// though such comparisons rarely occur in practice.
func (v Value) Compare(other Value) int {
	if v.kind == KindNull || other.kind == KindNull {
		switch {
		case v.kind == KindNull && other.kind == KindNull:
			return 0
		case v.kind == KindNull:
			return -1
		default:
			return 1
		}
	}

	if isNumeric(v.kind) && isNumeric(other.kind) {
		a, _ := v.AsFloat()
		b, _ := other.AsFloat()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	if v.kind == KindText && other.kind == KindText {
		return strings.Compare(v.s, other.s)
	}

	if v.kind != other.kind {
		if v.kind < other.kind {
			return -1
		}
		return 1
	}

	switch v.kind {
	case KindBool:
		return int(v.i - other.i)
	case KindBlob:
		return strings.Compare(string(v.b), string(other.b))
	case KindDate, KindDateTime, KindInterval:
		switch {
		case v.i < other.i:
			return -1
		case v.i > other.i:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Equal is Compare(other) == 0.
func (v Value) Equal(other Value) bool { return v.Compare(other) == 0 }

// Hash returns a stable hash used for sharding and hash-indexed
// lookups. Values that Compare equal across numeric kinds do NOT
// necessarily hash equal (a HashBy sharder only ever sees one declared
// column kind at a time in practice); values of the same kind and
// textual representation always hash equal.
func (v Value) Hash() uint64 {
	h := xxhash.New()
	_, _ = h.Write([]byte{byte(v.kind)})
	switch v.kind {
	case KindNull:
	case KindText:
		_, _ = h.WriteString(v.s)
	case KindBlob:
		_, _ = h.Write(v.b)
	case KindDouble:
		var buf [8]byte
		putUint64(&buf, math.Float64bits(v.f))
		_, _ = h.Write(buf[:])
	default:
		var buf [8]byte
		putUint64(&buf, uint64(v.i))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(buf *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
