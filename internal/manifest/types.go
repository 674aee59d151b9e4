// Package manifest provides the canonical JSON manifest written alongside an
// export bundle.
//
// The manifest is a deterministic JSON representation of everything an import
// needs: the source schema catalog, the exported collections, cards and
// dashboards, and the dependency edges between cards. It carries a
// self-checksum so a tampered or truncated bundle is rejected before any
// write hits the target.
package manifest

import (
	"time"
)

// Manifest is the root document of an export bundle.
type Manifest struct {
	Meta         Meta              `json:"meta"`
	Databases    []DatabaseEntry   `json:"databases,omitempty"`
	Collections  []CollectionEntry `json:"collections,omitempty"`
	Cards        []CardEntry       `json:"cards,omitempty"`
	Dashboards   []DashboardEntry  `json:"dashboards,omitempty"`
	Dependencies map[string][]int  `json:"dependencies,omitempty"`
}

// Meta contains manifest metadata. ManifestRev is the sha256 of the
// canonical encoding with the rev field itself blank.
type Meta struct {
	SchemaVersion int    `json:"schema_version"`
	ManifestRev   string `json:"manifest_rev,omitempty"`
	GeneratedAt   string `json:"generated_at,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	ToolVersion   string `json:"tool_version,omitempty"`
}

// DatabaseEntry records one source database and its schema as seen at
// export time. Import matches these by name against the target.
type DatabaseEntry struct {
	ID     int          `json:"id"`
	Name   string       `json:"name"`
	Engine string       `json:"engine,omitempty"`
	Tables []TableEntry `json:"tables,omitempty"`
}

// TableEntry records one table within a database.
type TableEntry struct {
	ID     int          `json:"id"`
	Name   string       `json:"name"`
	Schema string       `json:"schema,omitempty"`
	Fields []FieldEntry `json:"fields,omitempty"`
}

// FieldEntry records one field within a table.
type FieldEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	BaseType string `json:"base_type,omitempty"`
}

// CollectionEntry records one exported collection. ParentID is nil for
// collections directly under the export root.
type CollectionEntry struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ParentID    *int   `json:"parent_id,omitempty"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
}

// CardEntry records one exported card. File is the bundle-relative path of
// the raw payload; Checksum is the sha256 of that file's bytes.
type CardEntry struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	DatabaseID   int    `json:"database_id,omitempty"`
	Model        string `json:"model,omitempty"`
	File         string `json:"file"`
	Checksum     string `json:"checksum"`
}

// DashboardEntry records one exported dashboard.
type DashboardEntry struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	CollectionID *int   `json:"collection_id,omitempty"`
	File         string `json:"file"`
	Checksum     string `json:"checksum"`
}

// Filename is the manifest file name inside an export bundle.
const Filename = "manifest.json"

// SchemaVersion is the current manifest schema version.
const SchemaVersion = 1

// FormatTimestamp formats a time.Time as ISO-8601 with Z suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
