package query

import "sort"

// Dependencies scans a raw card payload and returns the IDs of every card
// its query references directly, sorted ascending. Both representations and
// both structured generations are covered: "card__N" source tables, typed
// integer source-card fields, joins, template tags of type "card", and
// {{#id-slug}} tags embedded in native SQL.
func Dependencies(payload map[string]any) []int {
	found := make(map[int]struct{})

	dq, _ := payload["dataset_query"].(map[string]any)
	if dq == nil {
		return nil
	}

	switch Detect(dq) {
	case GenFlat:
		if native, ok := dq["native"].(map[string]any); ok {
			if sql, ok := native["query"].(string); ok {
				nativeTagDependencies(sql, found)
			}
			if tags, ok := native["template-tags"].(map[string]any); ok {
				templateTagDependencies(tags, found)
			}
		}
		if inner, ok := dq["query"].(map[string]any); ok {
			structuredDependencies(inner, found)
		}
	case GenStaged:
		stages, _ := dq["stages"].([]any)
		for _, raw := range stages {
			stage, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if sql, ok := stage["native"].(string); ok {
				nativeTagDependencies(sql, found)
				if tags, ok := stage["template-tags"].(map[string]any); ok {
					templateTagDependencies(tags, found)
				}
				continue
			}
			structuredDependencies(stage, found)
		}
	}

	if len(found) == 0 {
		return nil
	}
	out := make([]int, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// structuredDependencies collects card references from one structured query
// or stage, including its joins.
func structuredDependencies(q map[string]any, into map[int]struct{}) {
	if s, ok := q["source-table"].(string); ok {
		if id, ok := cardRefID(s); ok {
			into[id] = struct{}{}
		}
	}
	if id, ok := asInt(q["source-card"]); ok {
		into[id] = struct{}{}
	}
	if joins, ok := q["joins"].([]any); ok {
		for _, raw := range joins {
			if join, ok := raw.(map[string]any); ok {
				structuredDependencies(join, into)
			}
		}
	}
}
