package mapping

import "fmt"

// UnmappedDatabaseError means a source database has neither an id nor a name
// entry in the database map. Fatal for content depending on that database,
// but other content proceeds.
type UnmappedDatabaseError struct {
	SourceID int
	Name     string
}

func (e *UnmappedDatabaseError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unmapped database %d (%q): no by_id or by_name entry", e.SourceID, e.Name)
	}
	return fmt.Sprintf("unmapped database %d: no by_id or by_name entry", e.SourceID)
}

// UnmappedTableError means a source table has no exact-name match in the
// mapped target database.
type UnmappedTableError struct {
	SourceID   int
	Name       string
	DatabaseID int // source database scope
}

func (e *UnmappedTableError) Error() string {
	return fmt.Sprintf("unmapped table %d (%q) in database %d: no matching table in target", e.SourceID, e.Name, e.DatabaseID)
}

// UnmappedFieldError means a source field has no exact-name match in its
// mapped target table.
type UnmappedFieldError struct {
	SourceID int
	Name     string
	TableID  int // source table scope
}

func (e *UnmappedFieldError) Error() string {
	return fmt.Sprintf("unmapped field %d (%q) in table %d: no matching field in target", e.SourceID, e.Name, e.TableID)
}

// UnmappedCardError means a card reference points at a card that has not
// been created or matched on the target yet.
type UnmappedCardError struct {
	SourceID int
}

func (e *UnmappedCardError) Error() string {
	return fmt.Sprintf("unmapped card %d: not created or matched on target", e.SourceID)
}
