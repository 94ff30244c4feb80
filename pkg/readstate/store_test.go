package readstate

import (
	"testing"

	"github.com/flowbase/flowbase/pkg/flowerr"
	"github.com/flowbase/flowbase/pkg/flowtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(id int64) Row { return Row{flowtype.NewInt64(id)} }
func row(id int64, name string) Row { return Row{flowtype.NewInt64(id), flowtype.NewText(name)} }

func TestGetOnUnfilledKeyReturnsNeedsReplay(t *testing.T) {
	st := NewStore()
	_, err := st.Get(key(42))
	require.Error(t, err)
	var nr *flowerr.NeedsReplay
	require.ErrorAs(t, err, &nr)
}

func TestPutThenPublishThenGet(t *testing.T) {
	st := NewStore()
	st.Put(key(42), true, row(42, "Alice"))
	st.MarkFilled(key(42))
	st.Publish()

	rows, err := st.Get(key(42))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row(42, "Alice"), rows[0])
}

func TestReadsDuringWriteSeeOldSnapshot(t *testing.T) {
	st := NewStore()
	st.Put(key(1), true, row(1, "a"))
	st.MarkFilled(key(1))
	st.Publish()

	before, err := st.Get(key(1))
	require.NoError(t, err)

	// Buffer more writes without publishing yet.
	st.Put(key(1), true, row(1, "b"))

	after, err := st.Get(key(1))
	require.NoError(t, err)
	assert.Equal(t, before, after, "unpublished writes must not be visible")

	st.Publish()
	final, err := st.Get(key(1))
	require.NoError(t, err)
	assert.Len(t, final, 2)
}

func TestEvictUncoversKey(t *testing.T) {
	st := NewStore()
	st.Put(key(1), true, row(1, "a"))
	st.MarkFilled(key(1))
	st.Publish()

	st.Evict(key(1))
	st.Publish()

	_, err := st.Get(key(1))
	require.Error(t, err)
}

func TestRangeReportsExactMissingSubintervals(t *testing.T) {
	st := NewStore()
	st.MarkFilledRange(key(1), key(5))
	st.Publish()

	_, err := st.Range(key(1), key(10))
	require.Error(t, err)
	var ur *flowerr.UncoveredRange
	require.ErrorAs(t, err, &ur)
	require.Len(t, ur.Missing, 1)
}

func TestRangeFullyCoveredReturnsAllRows(t *testing.T) {
	st := NewStore()
	st.Put(key(1), true, row(1, "a"))
	st.Put(key(2), true, row(2, "b"))
	st.MarkFilledRange(key(1), key(2))
	st.Publish()

	rows, err := st.Range(key(1), key(2))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestInsertThenDeleteRoundTripLeavesBagEmpty(t *testing.T) {
	st := NewStore()
	r := row(1, "a")
	st.Put(key(1), true, r)
	st.MarkFilled(key(1))
	st.Publish()

	st.Put(key(1), false, r)
	st.Publish()

	rows, err := st.Get(key(1))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
