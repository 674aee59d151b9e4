package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// CanonicalJSON produces a deterministic JSON encoding following JCS-like rules:
// - Keys sorted lexicographically
// - Entries sorted by ID
// - No insignificant whitespace
// - UTF-8 encoding
// - Consistent null/empty handling (omitted via omitempty tags)
func CanonicalJSON(m *Manifest) ([]byte, error) {
	ordered := buildOrderedManifest(m)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(ordered); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	// Remove trailing newline added by Encode
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	return result, nil
}

// ComputeManifestRev computes the sha256 hash of canonical JSON bytes.
// Returns "sha256:<hex>" format.
func ComputeManifestRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// ComputeChecksum hashes a payload file's bytes in the same format.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// orderedMap is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type orderedMap []keyValue

type keyValue struct {
	Key   string
	Value interface{}
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// buildOrderedManifest creates an ordered map structure for canonical JSON.
// Order: meta, databases, collections, cards, dashboards, dependencies
func buildOrderedManifest(m *Manifest) orderedMap {
	result := make(orderedMap, 0, 6)

	result = append(result, keyValue{"meta", buildOrderedMeta(&m.Meta)})

	if len(m.Databases) > 0 {
		result = append(result, keyValue{"databases", buildOrderedDatabases(m.Databases)})
	}
	if len(m.Collections) > 0 {
		result = append(result, keyValue{"collections", buildOrderedCollections(m.Collections)})
	}
	if len(m.Cards) > 0 {
		result = append(result, keyValue{"cards", buildOrderedCards(m.Cards)})
	}
	if len(m.Dashboards) > 0 {
		result = append(result, keyValue{"dashboards", buildOrderedDashboards(m.Dashboards)})
	}
	if len(m.Dependencies) > 0 {
		result = append(result, keyValue{"dependencies", buildOrderedDependencies(m.Dependencies)})
	}

	return result
}

func buildOrderedMeta(m *Meta) orderedMap {
	result := make(orderedMap, 0, 5)

	// Fields in lexicographic order
	if m.GeneratedAt != "" {
		result = append(result, keyValue{"generated_at", m.GeneratedAt})
	}
	if m.ManifestRev != "" {
		result = append(result, keyValue{"manifest_rev", m.ManifestRev})
	}
	result = append(result, keyValue{"schema_version", m.SchemaVersion})
	if m.SourceURL != "" {
		result = append(result, keyValue{"source_url", m.SourceURL})
	}
	if m.ToolVersion != "" {
		result = append(result, keyValue{"tool_version", m.ToolVersion})
	}

	return result
}

func buildOrderedDatabases(dbs []DatabaseEntry) []orderedMap {
	sorted := make([]DatabaseEntry, len(dbs))
	copy(sorted, dbs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		result = append(result, buildOrderedDatabase(&sorted[i]))
	}
	return result
}

func buildOrderedDatabase(d *DatabaseEntry) orderedMap {
	result := make(orderedMap, 0, 4)

	if d.Engine != "" {
		result = append(result, keyValue{"engine", d.Engine})
	}
	result = append(result, keyValue{"id", d.ID})
	result = append(result, keyValue{"name", d.Name})
	if len(d.Tables) > 0 {
		result = append(result, keyValue{"tables", buildOrderedTables(d.Tables)})
	}

	return result
}

func buildOrderedTables(tables []TableEntry) []orderedMap {
	sorted := make([]TableEntry, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		t := &sorted[i]
		entry := make(orderedMap, 0, 4)
		if len(t.Fields) > 0 {
			entry = append(entry, keyValue{"fields", buildOrderedFields(t.Fields)})
		}
		entry = append(entry, keyValue{"id", t.ID})
		entry = append(entry, keyValue{"name", t.Name})
		if t.Schema != "" {
			entry = append(entry, keyValue{"schema", t.Schema})
		}
		result = append(result, entry)
	}
	return result
}

func buildOrderedFields(fields []FieldEntry) []orderedMap {
	sorted := make([]FieldEntry, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		f := &sorted[i]
		entry := make(orderedMap, 0, 3)
		if f.BaseType != "" {
			entry = append(entry, keyValue{"base_type", f.BaseType})
		}
		entry = append(entry, keyValue{"id", f.ID})
		entry = append(entry, keyValue{"name", f.Name})
		result = append(result, entry)
	}
	return result
}

func buildOrderedCollections(cols []CollectionEntry) []orderedMap {
	sorted := make([]CollectionEntry, len(cols))
	copy(sorted, cols)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		c := &sorted[i]
		entry := make(orderedMap, 0, 6)
		if c.Archived {
			entry = append(entry, keyValue{"archived", c.Archived})
		}
		if c.Description != "" {
			entry = append(entry, keyValue{"description", c.Description})
		}
		entry = append(entry, keyValue{"id", c.ID})
		entry = append(entry, keyValue{"name", c.Name})
		if c.ParentID != nil {
			entry = append(entry, keyValue{"parent_id", *c.ParentID})
		}
		if c.Slug != "" {
			entry = append(entry, keyValue{"slug", c.Slug})
		}
		result = append(result, entry)
	}
	return result
}

func buildOrderedCards(cards []CardEntry) []orderedMap {
	sorted := make([]CardEntry, len(cards))
	copy(sorted, cards)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		c := &sorted[i]
		entry := make(orderedMap, 0, 7)
		entry = append(entry, keyValue{"checksum", c.Checksum})
		if c.CollectionID != nil {
			entry = append(entry, keyValue{"collection_id", *c.CollectionID})
		}
		if c.DatabaseID != 0 {
			entry = append(entry, keyValue{"database_id", c.DatabaseID})
		}
		entry = append(entry, keyValue{"file", c.File})
		entry = append(entry, keyValue{"id", c.ID})
		if c.Model != "" {
			entry = append(entry, keyValue{"model", c.Model})
		}
		entry = append(entry, keyValue{"name", c.Name})
		result = append(result, entry)
	}
	return result
}

func buildOrderedDashboards(dashes []DashboardEntry) []orderedMap {
	sorted := make([]DashboardEntry, len(dashes))
	copy(sorted, dashes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	result := make([]orderedMap, 0, len(sorted))
	for i := range sorted {
		d := &sorted[i]
		entry := make(orderedMap, 0, 5)
		entry = append(entry, keyValue{"checksum", d.Checksum})
		if d.CollectionID != nil {
			entry = append(entry, keyValue{"collection_id", *d.CollectionID})
		}
		entry = append(entry, keyValue{"file", d.File})
		entry = append(entry, keyValue{"id", d.ID})
		entry = append(entry, keyValue{"name", d.Name})
		result = append(result, entry)
	}
	return result
}

func buildOrderedDependencies(deps map[string][]int) orderedMap {
	// Keys are decimal card IDs, sorted numerically for stable output.
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	result := make(orderedMap, 0, len(keys))
	for _, k := range keys {
		ids := make([]int, len(deps[k]))
		copy(ids, deps[k])
		sort.Ints(ids)
		result = append(result, keyValue{k, ids})
	}
	return result
}
