package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// DatabaseMap is the user-supplied database mapping. Keys of ByID are
// source database IDs as strings (JSON objects cannot have integer keys);
// ByName keys are source database names. ByID wins when both match.
type DatabaseMap struct {
	ByID   map[string]int `json:"by_id"`
	ByName map[string]int `json:"by_name"`
}

// LoadDatabaseMap reads a database map from a JSON file.
func LoadDatabaseMap(path string) (*DatabaseMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database map: %w", err)
	}
	var m DatabaseMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse database map %s: %w", path, err)
	}
	return &m, nil
}

// Resolve maps a source database to a target database ID, trying the id
// table first, then the name table. The second return reports whether a
// mapping exists.
func (m *DatabaseMap) Resolve(sourceID int, sourceName string) (int, bool) {
	if m.ByID != nil {
		if target, ok := m.ByID[strconv.Itoa(sourceID)]; ok {
			return target, true
		}
	}
	if m.ByName != nil && sourceName != "" {
		if target, ok := m.ByName[sourceName]; ok {
			return target, true
		}
	}
	return 0, false
}
