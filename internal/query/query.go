// Package query rewrites card and dashboard queries so that every embedded
// identifier resolves against the target instance. It handles both query
// representations (native SQL with card reference tags, and structured MBQL
// trees) and both structured schema generations, detecting the generation
// from the tree's shape rather than from configuration.
package query

import (
	"strconv"
	"strings"
)

// Generation identifies the structural schema of a dataset query.
type Generation int

const (
	// GenUnknown means the query shape matched neither generation.
	GenUnknown Generation = iota
	// GenFlat is the older shape: one flat structured query (or one native
	// block), a singular "filter" key, card references encoded as
	// "card__<id>" strings.
	GenFlat
	// GenStaged is the newer shape: an ordered "stages" sequence of
	// self-contained queries, a plural "filters" key, card references
	// optionally carried as typed integers under "source-card".
	GenStaged
)

func (g Generation) String() string {
	switch g {
	case GenFlat:
		return "flat"
	case GenStaged:
		return "staged"
	default:
		return "unknown"
	}
}

// Detect classifies a dataset query by shape. The same manifest may contain
// content authored before and after a platform upgrade boundary, so the
// generation is never taken from configuration.
func Detect(datasetQuery map[string]any) Generation {
	if datasetQuery == nil {
		return GenUnknown
	}
	if _, ok := datasetQuery["stages"]; ok {
		return GenStaged
	}
	if libType, _ := datasetQuery["lib/type"].(string); libType == "mbql/query" {
		return GenStaged
	}
	switch datasetQuery["type"] {
	case "query", "native":
		return GenFlat
	}
	if _, ok := datasetQuery["query"]; ok {
		return GenFlat
	}
	if _, ok := datasetQuery["native"]; ok {
		return GenFlat
	}
	return GenUnknown
}

// asInt extracts an integer from a JSON-decoded value. Numbers arrive as
// float64 from encoding/json; integers can appear directly in tests.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// cardRefID parses the "card__<id>" string encoding of a card reference.
func cardRefID(s string) (int, bool) {
	rest, ok := strings.CutPrefix(s, "card__")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// cardRef formats a card reference in the string encoding.
func cardRef(id int) string {
	return "card__" + strconv.Itoa(id)
}

// deepCopy clones a JSON-shaped value (maps, slices, primitives). The
// rewriter never mutates its input.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// fieldRefID inspects a list-shaped MBQL element and returns the position
// of its raw field ID if the element is a field reference. Both known
// layouts are recognized: ["field", <id>, <opts>] (and the legacy
// ["field-id", <id>]), and the richer ["field", <opts-map>, <id>].
func fieldRefID(elem []any) (idx int, id int, ok bool) {
	if len(elem) < 2 {
		return 0, 0, false
	}
	tag, _ := elem[0].(string)
	if tag != "field" && tag != "field-id" {
		return 0, 0, false
	}
	if id, ok := asInt(elem[1]); ok {
		return 1, id, true
	}
	if len(elem) >= 3 {
		if _, isMap := elem[1].(map[string]any); isMap {
			if id, ok := asInt(elem[2]); ok {
				return 2, id, true
			}
		}
	}
	return 0, 0, false
}
