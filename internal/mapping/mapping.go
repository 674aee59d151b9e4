// Package mapping builds and serves the source-to-target identifier tables
// for databases, tables, fields and cards. The database/table/field tables
// are built once per import run from the source and target catalogs plus the
// user-supplied database map, and are read-only afterwards. The card table
// starts empty and is populated incrementally as cards are created on the
// target, in dependency order.
package mapping

import (
	"sort"

	"github.com/harlier/metamove/internal/catalog"
)

// Table holds the identifier mapping tables. A lookup miss is a typed
// error, never a silent pass-through: an unmapped identifier in migrated
// content silently corrupts a query.
type Table struct {
	databases map[int]int
	tables    map[int]int
	fields    map[int]int
	cards     map[int]int

	dbNames map[int]string // source database id -> name, for diagnostics
	misses  []error
}

// NewTable returns an empty mapping table. Useful for tests and for native
// queries that reference no structured entities.
func NewTable() *Table {
	return &Table{
		databases: make(map[int]int),
		tables:    make(map[int]int),
		fields:    make(map[int]int),
		cards:     make(map[int]int),
		dbNames:   make(map[int]string),
	}
}

// Build constructs the database, table and field tables by matching the
// source catalog against the target catalog under the supplied database map.
//
// Databases resolve through the map (by id, then by name); each mapped
// database's tables match by exact name within the target database scope,
// and fields by exact name within the matched table scope. Misses are
// recorded per entity and reported through Misses; they do not abort the
// build, since only content depending on the missing entity is affected.
func Build(src, tgt *catalog.Catalog, dbMap *DatabaseMap) *Table {
	t := NewTable()

	for _, db := range src.All(catalog.KindDatabase) {
		t.dbNames[db.NativeID] = db.Name

		targetDB, ok := dbMap.Resolve(db.NativeID, db.Name)
		if !ok {
			t.misses = append(t.misses, &UnmappedDatabaseError{SourceID: db.NativeID, Name: db.Name})
			continue
		}
		t.databases[db.NativeID] = targetDB

		for _, table := range src.Children(catalog.KindTable, db.NativeID) {
			targetTable, ok := tgt.Lookup(catalog.KindTable, table.Name, targetDB)
			if !ok {
				t.misses = append(t.misses, &UnmappedTableError{
					SourceID:   table.NativeID,
					Name:       table.Name,
					DatabaseID: db.NativeID,
				})
				continue
			}
			t.tables[table.NativeID] = targetTable.NativeID

			for _, field := range src.Children(catalog.KindField, table.NativeID) {
				targetField, ok := tgt.Lookup(catalog.KindField, field.Name, targetTable.NativeID)
				if !ok {
					t.misses = append(t.misses, &UnmappedFieldError{
						SourceID: field.NativeID,
						Name:     field.Name,
						TableID:  table.NativeID,
					})
					continue
				}
				t.fields[field.NativeID] = targetField.NativeID
			}
		}
	}

	return t
}

// Database resolves a source database ID.
func (t *Table) Database(sourceID int) (int, error) {
	if target, ok := t.databases[sourceID]; ok {
		return target, nil
	}
	return 0, &UnmappedDatabaseError{SourceID: sourceID, Name: t.dbNames[sourceID]}
}

// Table resolves a source table ID.
func (t *Table) Table(sourceID int) (int, error) {
	if target, ok := t.tables[sourceID]; ok {
		return target, nil
	}
	return 0, &UnmappedTableError{SourceID: sourceID}
}

// Field resolves a source field ID.
func (t *Table) Field(sourceID int) (int, error) {
	if target, ok := t.fields[sourceID]; ok {
		return target, nil
	}
	return 0, &UnmappedFieldError{SourceID: sourceID}
}

// Card resolves a source card ID through the incrementally-populated card
// table.
func (t *Table) Card(sourceID int) (int, error) {
	if target, ok := t.cards[sourceID]; ok {
		return target, nil
	}
	return 0, &UnmappedCardError{SourceID: sourceID}
}

// HasCard reports whether a source card has been mapped yet.
func (t *Table) HasCard(sourceID int) bool {
	_, ok := t.cards[sourceID]
	return ok
}

// SetCard records a card mapping as the card is created or matched on the
// target.
func (t *Table) SetCard(sourceID, targetID int) {
	t.cards[sourceID] = targetID
}

// SetDatabase seeds a database mapping directly. Used by tests and by
// native-only flows that bypass catalog matching.
func (t *Table) SetDatabase(sourceID, targetID int) {
	t.databases[sourceID] = targetID
}

// SetTable seeds a table mapping directly.
func (t *Table) SetTable(sourceID, targetID int) {
	t.tables[sourceID] = targetID
}

// SetField seeds a field mapping directly.
func (t *Table) SetField(sourceID, targetID int) {
	t.fields[sourceID] = targetID
}

// Databases returns the resolved source-to-target database pairs.
func (t *Table) Databases() map[int]int {
	out := make(map[int]int, len(t.databases))
	for src, tgt := range t.databases {
		out[src] = tgt
	}
	return out
}

// DatabaseName returns the source database's name when known.
func (t *Table) DatabaseName(sourceID int) string {
	return t.dbNames[sourceID]
}

// Misses returns every mapping miss recorded during Build, in a stable
// order (databases, then tables, then fields, each by source ID).
func (t *Table) Misses() []error {
	out := make([]error, len(t.misses))
	copy(out, t.misses)
	sort.SliceStable(out, func(i, j int) bool {
		return missRank(out[i]) < missRank(out[j])
	})
	return out
}

func missRank(err error) int {
	switch e := err.(type) {
	case *UnmappedDatabaseError:
		return e.SourceID
	case *UnmappedTableError:
		return 1<<20 + e.SourceID
	case *UnmappedFieldError:
		return 1<<24 + e.SourceID
	default:
		return 1 << 30
	}
}

// UnmappedDatabases returns the source IDs of databases that failed to
// resolve, ascending. Import validation aborts before touching the target
// when this is non-empty and in-scope cards depend on one of them.
func (t *Table) UnmappedDatabases() []int {
	var out []int
	for _, err := range t.misses {
		if e, ok := err.(*UnmappedDatabaseError); ok {
			out = append(out, e.SourceID)
		}
	}
	sort.Ints(out)
	return out
}
