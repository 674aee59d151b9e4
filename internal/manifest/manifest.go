package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/harlier/metamove/internal/catalog"
)

// ChecksumMismatchError reports a bundle whose recorded hash does not match
// the bytes on disk.
type ChecksumMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: manifest records %s, computed %s", e.Path, e.Want, e.Got)
}

// Finalize computes the manifest rev and returns the canonical bytes with
// the rev embedded. The rev is the hash of the canonical encoding with the
// rev field itself blank, so verification can reproduce it.
func Finalize(m *Manifest) ([]byte, error) {
	m.Meta.ManifestRev = ""
	data, err := CanonicalJSON(m)
	if err != nil {
		return nil, err
	}
	m.Meta.ManifestRev = ComputeManifestRev(data)

	data, err = CanonicalJSON(m)
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate canonical JSON: %w", err)
	}
	return data, nil
}

// WriteFile finalizes the manifest and writes it into dir. It returns the
// computed rev.
func WriteFile(dir string, m *Manifest) (string, error) {
	data, err := Finalize(m)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return m.Meta.ManifestRev, nil
}

// ReadFile loads and verifies the manifest from dir. A manifest whose rev
// does not reproduce is rejected.
func ReadFile(dir string) (*Manifest, error) {
	path := filepath.Join(dir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Meta.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported manifest schema version %d", m.Meta.SchemaVersion)
	}
	if err := Verify(&m, path); err != nil {
		return nil, err
	}
	return &m, nil
}

// Verify recomputes the manifest rev and compares it against the recorded
// one. The path is only used in the error message.
func Verify(m *Manifest, path string) error {
	recorded := m.Meta.ManifestRev
	if recorded == "" {
		return fmt.Errorf("manifest %s carries no rev", path)
	}

	m.Meta.ManifestRev = ""
	data, err := CanonicalJSON(m)
	m.Meta.ManifestRev = recorded
	if err != nil {
		return err
	}

	computed := ComputeManifestRev(data)
	if computed != recorded {
		return &ChecksumMismatchError{Path: path, Want: recorded, Got: computed}
	}
	return nil
}

// VerifyPayload checks an item payload file against the checksum recorded
// in the manifest.
func VerifyPayload(path string, data []byte, want string) error {
	got := ComputeChecksum(data)
	if got != want {
		return &ChecksumMismatchError{Path: path, Want: want, Got: got}
	}
	return nil
}

// DatabasesFromCatalog converts a schema catalog into manifest database
// entries, nesting tables and fields under their parents.
func DatabasesFromCatalog(c *catalog.Catalog) []DatabaseEntry {
	var dbs []DatabaseEntry
	for _, db := range c.All(catalog.KindDatabase) {
		entry := DatabaseEntry{ID: db.NativeID, Name: db.Name}
		for _, tbl := range c.Children(catalog.KindTable, db.NativeID) {
			tableEntry := TableEntry{ID: tbl.NativeID, Name: tbl.Name}
			for _, fld := range c.Children(catalog.KindField, tbl.NativeID) {
				tableEntry.Fields = append(tableEntry.Fields, FieldEntry{ID: fld.NativeID, Name: fld.Name})
			}
			entry.Tables = append(entry.Tables, tableEntry)
		}
		dbs = append(dbs, entry)
	}
	return dbs
}

// CatalogFromDatabases rebuilds the source schema catalog recorded in the
// manifest, for name matching against the target at import time.
func CatalogFromDatabases(dbs []DatabaseEntry) *catalog.Catalog {
	c := catalog.New()
	for _, db := range dbs {
		c.Record(catalog.KindDatabase, db.Name, 0, db.ID)
		for _, tbl := range db.Tables {
			c.Record(catalog.KindTable, tbl.Name, db.ID, tbl.ID)
			for _, fld := range tbl.Fields {
				c.Record(catalog.KindField, fld.Name, tbl.ID, fld.ID)
			}
		}
	}
	return c
}

// DependencyKey converts a card ID to its manifest dependency-map key.
func DependencyKey(cardID int) string {
	return strconv.Itoa(cardID)
}

// DependencySource exposes the manifest's dependency edges to the resolver.
// Cards absent from the map have no dependencies.
func (m *Manifest) DependencySource() func(id int) ([]int, error) {
	return func(id int) ([]int, error) {
		return m.Dependencies[DependencyKey(id)], nil
	}
}
