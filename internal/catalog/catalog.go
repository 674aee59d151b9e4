// Package catalog holds the per-instance inventory of databases, tables and
// fields discovered while walking content during export or import. Entries
// are keyed by name within their parent scope so the identifier mapper can
// match entities across instances that share no identifier space.
package catalog

// Kind identifies the class of a catalog entry.
type Kind string

const (
	KindDatabase Kind = "database"
	KindTable    Kind = "table"
	KindField    Kind = "field"
)

// Entry is one recorded database, table or field.
//
// Parent is the native ID of the enclosing scope: 0 for databases, the
// database ID for tables, the table ID for fields.
type Entry struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Parent   int    `json:"parent,omitempty"`
	NativeID int    `json:"native_id"`
}

type entryKey struct {
	kind   Kind
	parent int
	name   string
}

// Catalog is an insertion-ordered inventory of entries. It is built once
// during a run and read-only afterwards; it is not safe for concurrent
// mutation.
type Catalog struct {
	entries []Entry
	index   map[entryKey]int // position in entries
	byID    map[Kind]map[int]int
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		index: make(map[entryKey]int),
		byID:  make(map[Kind]map[int]int),
	}
}

// Record adds an entry. Recording the same (kind, name, parent) twice
// overwrites the native ID rather than erroring: the same table is commonly
// observed from several queries.
func (c *Catalog) Record(kind Kind, name string, parent, nativeID int) {
	key := entryKey{kind: kind, parent: parent, name: name}
	if pos, ok := c.index[key]; ok {
		old := c.entries[pos].NativeID
		delete(c.byID[kind], old)
		c.entries[pos].NativeID = nativeID
	} else {
		c.index[key] = len(c.entries)
		c.entries = append(c.entries, Entry{Kind: kind, Name: name, Parent: parent, NativeID: nativeID})
	}
	if c.byID[kind] == nil {
		c.byID[kind] = make(map[int]int)
	}
	c.byID[kind][nativeID] = c.index[key]
}

// All returns the entries of the given kind in insertion order.
func (c *Catalog) All(kind Kind) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Children returns entries of the given kind under the given parent scope,
// in insertion order.
func (c *Catalog) Children(kind Kind, parent int) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Kind == kind && e.Parent == parent {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds an entry by (kind, name) within the given parent scope.
// When the same name was recorded more than once it returns the surviving
// entry (last native ID wins, per Record semantics).
func (c *Catalog) Lookup(kind Kind, name string, parent int) (Entry, bool) {
	pos, ok := c.index[entryKey{kind: kind, parent: parent, name: name}]
	if !ok {
		return Entry{}, false
	}
	return c.entries[pos], true
}

// ByID finds an entry of the given kind by its native ID.
func (c *Catalog) ByID(kind Kind, nativeID int) (Entry, bool) {
	pos, ok := c.byID[kind][nativeID]
	if !ok {
		return Entry{}, false
	}
	return c.entries[pos], true
}

// Len reports the total number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
