package domain

// Column is one persisted column of an entity table. Type is the SQL type used
// when rendering the table; it is passed to the store verbatim.
type Column struct {
	Name string `validate:"required"`
	Type string `validate:"required"`
}

// HistoryTable names the history table of a single tracked field.
type HistoryTable struct {
	Field string
	Table string
	Type  string
}

// TableSet holds the physical layout of one clocked entity type.
type TableSet struct {
	Schema      string
	Entity      string
	Columns     []Column
	Clock       string
	History     map[string]HistoryTable
	Tracked     []string
	HasActivity bool
	// ActivityTable, when set, is referenced by the clock table's activity_id.
	ActivityTable string
}

// HistoryFor returns the history table of field.
func (t TableSet) HistoryFor(field string) (HistoryTable, bool) {
	h, ok := t.History[field]
	return h, ok
}

// ColumnNames lists the entity columns in declaration order.
func (t TableSet) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// EntityRow is a persisted entity row: its identity, clock and column values.
type EntityRow struct {
	Tick   int64
	Values map[string]any
}
