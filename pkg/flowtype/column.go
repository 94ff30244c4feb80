package flowtype

// ColumnSpec describes one column of a base table. ColumnID is an
// absolute identifier assigned once at creation and never reused or
// renumbered: it survives ADD COLUMN / DROP COLUMN so that downstream
// operators which captured a ColumnID before a schema change keep
// referring to the same logical column (or correctly detect that it
// is now dropped), rather than silently reinterpreting a
// positionally-shifted column.
type ColumnSpec struct {
	ColumnID uint64
	Name     string
	Kind     Kind
	Nullable bool
	HasDefault bool
	Default  Value
	Dropped  bool
}

// ColumnSet is an ordered, append-only list of ColumnSpecs for one
// base table. Position in Columns is the current ordinal used to index
// Record.Values; ColumnID is stable across schema changes.
type ColumnSet struct {
	Columns []ColumnSpec
	nextID  uint64
}

// NewColumnSet builds a ColumnSet from an initial column list,
// assigning ColumnIDs in order starting at 1 (0 is reserved to mean
// "no column").
func NewColumnSet(cols ...ColumnSpec) *ColumnSet {
	cs := &ColumnSet{}
	for _, c := range cols {
		cs.nextID++
		c.ColumnID = cs.nextID
		cs.Columns = append(cs.Columns, c)
	}
	return cs
}

// Add appends a new column, assigning it the next ColumnID. Used by
// ALTER TABLE ADD COLUMN.
func (cs *ColumnSet) Add(name string, kind Kind, nullable bool, def Value, hasDefault bool) ColumnSpec {
	cs.nextID++
	c := ColumnSpec{
		ColumnID:   cs.nextID,
		Name:       name,
		Kind:       kind,
		Nullable:   nullable,
		HasDefault: hasDefault,
		Default:    def,
	}
	cs.Columns = append(cs.Columns, c)
	return c
}

// Drop marks a column dropped in place; it is never removed from
// Columns so that ColumnID lookups against older captured specs remain
// meaningful (they resolve to a dropped column rather than panicking).
func (cs *ColumnSet) Drop(name string) bool {
	for i := range cs.Columns {
		if cs.Columns[i].Name == name && !cs.Columns[i].Dropped {
			cs.Columns[i].Dropped = true
			return true
		}
	}
	return false
}

// Live returns the non-dropped columns in declaration order.
func (cs *ColumnSet) Live() []ColumnSpec {
	out := make([]ColumnSpec, 0, len(cs.Columns))
	for _, c := range cs.Columns {
		if !c.Dropped {
			out = append(out, c)
		}
	}
	return out
}

// IndexOf returns the positional index of a live column by name
// within Live(), or -1 if not found or dropped.
func (cs *ColumnSet) IndexOf(name string) int {
	i := 0
	for _, c := range cs.Columns {
		if c.Dropped {
			continue
		}
		if c.Name == name {
			return i
		}
		i++
	}
	return -1
}

// ByID returns a column spec by its stable ColumnID, including dropped
// columns, so callers can distinguish "never existed" from "existed,
// now dropped."
func (cs *ColumnSet) ByID(id uint64) (ColumnSpec, bool) {
	for _, c := range cs.Columns {
		if c.ColumnID == id {
			return c, true
		}
	}
	return ColumnSpec{}, false
}
