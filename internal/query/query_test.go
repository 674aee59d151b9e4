package query

import (
	"encoding/json"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		dq   string
		want Generation
	}{
		{"flat structured", `{"type":"query","database":1,"query":{"source-table":10}}`, GenFlat},
		{"flat native", `{"type":"native","database":1,"native":{"query":"SELECT 1"}}`, GenFlat},
		{"flat without type tag", `{"database":1,"query":{"source-table":10}}`, GenFlat},
		{"staged by stages key", `{"database":1,"stages":[{"source-table":10}]}`, GenStaged},
		{"staged by lib type", `{"lib/type":"mbql/query","database":1,"stages":[]}`, GenStaged},
		{"unknown", `{"database":1}`, GenUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dq map[string]any
			if err := json.Unmarshal([]byte(tt.dq), &dq); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			if got := Detect(dq); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCardRefID(t *testing.T) {
	if id, ok := cardRefID("card__123"); !ok || id != 123 {
		t.Errorf("cardRefID(card__123) = %d, %v", id, ok)
	}
	for _, bad := range []string{"card__", "card__x", "table__5", ""} {
		if _, ok := cardRefID(bad); ok {
			t.Errorf("cardRefID(%q) = true, want false", bad)
		}
	}
}

func TestFieldRefID(t *testing.T) {
	// ["field", 201, {...}]
	if idx, id, ok := fieldRefID([]any{"field", float64(201), map[string]any{}}); !ok || idx != 1 || id != 201 {
		t.Errorf("fieldRefID(field,201,opts) = %d, %d, %v", idx, id, ok)
	}
	// legacy ["field-id", 7]
	if idx, id, ok := fieldRefID([]any{"field-id", float64(7)}); !ok || idx != 1 || id != 7 {
		t.Errorf("fieldRefID(field-id,7) = %d, %d, %v", idx, id, ok)
	}
	// richer ["field", {...}, 33]
	if idx, id, ok := fieldRefID([]any{"field", map[string]any{"base-type": "type/Integer"}, float64(33)}); !ok || idx != 2 || id != 33 {
		t.Errorf("fieldRefID(field,opts,33) = %d, %d, %v", idx, id, ok)
	}
	// not a field ref
	if _, _, ok := fieldRefID([]any{"=", []any{"field", float64(1)}, "x"}); ok {
		t.Error("fieldRefID on comparison clause = true, want false")
	}
	// field ref by name, not id
	if _, _, ok := fieldRefID([]any{"field", "CREATED_AT", map[string]any{}}); ok {
		t.Error("fieldRefID on name-based ref = true, want false")
	}
}

func TestRemapTagName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"50-filtered-dataset", "406-filtered-dataset"},
		{"#50-filtered-dataset", "#406-filtered-dataset"},
		{"#50 Filtered Dataset", "#406 Filtered Dataset"},
		{"50", "406"},
		{"500-other", "500-other"},   // different id, untouched
		{"start_date", "start_date"}, // not a card tag name
	}
	for _, tt := range tests {
		if got := remapTagName(tt.in, 50, 406); got != tt.want {
			t.Errorf("remapTagName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeepCopyIsDetached(t *testing.T) {
	orig := map[string]any{"a": []any{map[string]any{"b": 1}}}
	clone := deepCopy(orig).(map[string]any)
	clone["a"].([]any)[0].(map[string]any)["b"] = 2
	if orig["a"].([]any)[0].(map[string]any)["b"] != 1 {
		t.Error("deepCopy shares structure with the original")
	}
}
