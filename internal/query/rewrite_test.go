package query

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/harlier/metamove/internal/mapping"
)

// testTable builds a mapping table with databases 1->100, tables 10->20,
// 11->21, fields 201->301, 202->302, and cards 50->500, 60->600.
func testTable() *mapping.Table {
	ids := mapping.NewTable()
	ids.SetDatabase(1, 100)
	ids.SetTable(10, 20)
	ids.SetTable(11, 21)
	ids.SetField(201, 301)
	ids.SetField(202, 302)
	ids.SetCard(50, 500)
	ids.SetCard(60, 600)
	return ids
}

func parse(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return out
}

func TestRewriteFlatStructuredQuery(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"table_id": 10,
		"dataset_query": {
			"type": "query",
			"database": 1,
			"query": {
				"source-table": 10,
				"filter": ["and", ["=", ["field", 201, null], "CUSTOMER"], [">", ["field", 202, {"temporal-unit": "month"}], 5]],
				"aggregation": [["sum", ["field", 202, null]]],
				"breakout": [["field", 201, null]],
				"order-by": [["asc", ["field", 201, null]]]
			}
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}

	if got["database_id"] != 100 {
		t.Errorf("database_id = %v, want 100", got["database_id"])
	}
	if got["table_id"] != 20 {
		t.Errorf("table_id = %v, want 20", got["table_id"])
	}
	dq := got["dataset_query"].(map[string]any)
	if dq["database"] != 100 {
		t.Errorf("dataset_query.database = %v, want 100", dq["database"])
	}
	inner := dq["query"].(map[string]any)
	if inner["source-table"] != 20 {
		t.Errorf("source-table = %v, want 20", inner["source-table"])
	}
	filter := inner["filter"].([]any)
	eq := filter[1].([]any)
	if eq[1].([]any)[1] != 301 {
		t.Errorf("filter field = %v, want 301", eq[1].([]any)[1])
	}
	gt := filter[2].([]any)
	fieldRef := gt[1].([]any)
	if fieldRef[1] != 302 {
		t.Errorf("filter field = %v, want 302", fieldRef[1])
	}
	if opts := fieldRef[2].(map[string]any); opts["temporal-unit"] != "month" {
		t.Errorf("field options not preserved: %v", opts)
	}
	if len(r.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", r.Warnings())
	}
	// Input untouched.
	if card["database_id"] != float64(1) {
		t.Error("RewriteCard mutated its input")
	}
}

func TestRewriteFlatCardSource(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "query",
			"database": 1,
			"query": {
				"source-table": "card__50",
				"filter": ["=", ["field", 999, null], 1]
			}
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	inner := got["dataset_query"].(map[string]any)["query"].(map[string]any)
	if inner["source-table"] != "card__500" {
		t.Errorf("source-table = %v, want card__500 (string encoding preserved)", inner["source-table"])
	}
	// Field 999 is under a card scope: left as-is even though unmapped.
	filter := inner["filter"].([]any)
	if filter[1].([]any)[1] != float64(999) {
		t.Errorf("card-scoped field = %v, want untouched 999", filter[1].([]any)[1])
	}
}

func TestRewriteStagedQueryTypedCardRef(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"lib/type": "mbql/query",
			"database": 1,
			"stages": [{
				"lib/type": "mbql.stage/mbql",
				"source-card": 50,
				"filters": [["=", ["field", 999, null], 1]]
			}]
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	stage := got["dataset_query"].(map[string]any)["stages"].([]any)[0].(map[string]any)
	if stage["source-card"] != 500 {
		t.Errorf("source-card = %v (%T), want typed integer 500", stage["source-card"], stage["source-card"])
	}
	// Card scope: field refs stay as-is.
	filters := stage["filters"].([]any)
	if filters[0].([]any)[1].([]any)[1] != float64(999) {
		t.Errorf("card-scoped field = %v, want untouched 999", filters[0].([]any)[1].([]any)[1])
	}
}

func TestRewriteStagedQueryTableScope(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"lib/type": "mbql/query",
			"database": 1,
			"stages": [
				{
					"lib/type": "mbql.stage/mbql",
					"source-table": 10,
					"filters": [["=", ["field", 201, null], "x"]],
					"joins": [{"source-table": "card__60", "condition": ["=", ["field", 202, null], ["field", 888, null]]}]
				},
				{
					"lib/type": "mbql.stage/mbql",
					"filters": [["=", ["field", 777, null], 1]]
				}
			]
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	stages := got["dataset_query"].(map[string]any)["stages"].([]any)
	first := stages[0].(map[string]any)
	if first["source-table"] != 20 {
		t.Errorf("stage 0 source-table = %v, want 20", first["source-table"])
	}
	if first["filters"].([]any)[0].([]any)[1].([]any)[1] != 301 {
		t.Error("stage 0 filter field not remapped")
	}
	join := first["joins"].([]any)[0].(map[string]any)
	if join["source-table"] != "card__600" {
		t.Errorf("join source-table = %v, want card__600", join["source-table"])
	}
	// Second stage chains off the first stage's output: fields left as-is.
	second := stages[1].(map[string]any)
	if second["filters"].([]any)[0].([]any)[1].([]any)[1] != float64(777) {
		t.Error("chained-stage field should be left as-is")
	}
}

func TestRewriteStagedNativeStage(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"lib/type": "mbql/query",
			"database": 1,
			"stages": [{
				"lib/type": "mbql.stage/native",
				"native": "SELECT * FROM {{#50-my-model}}",
				"template-tags": {
					"#50-my-model": {
						"type": "card",
						"card-id": 50,
						"name": "#50-my-model",
						"display-name": "#50 My Model",
						"id": "896131a3-6d4f-4399-83e8-7833dae83233"
					}
				}
			}]
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	stage := got["dataset_query"].(map[string]any)["stages"].([]any)[0].(map[string]any)
	if !strings.Contains(stage["native"].(string), "{{#500-my-model}}") {
		t.Errorf("native = %q, want remapped tag", stage["native"])
	}
	tags := stage["template-tags"].(map[string]any)
	tag, ok := tags["#500-my-model"].(map[string]any)
	if !ok {
		t.Fatalf("template tag key not remapped: %v", tags)
	}
	if tag["card-id"] != 500 {
		t.Errorf("card-id = %v, want 500", tag["card-id"])
	}
	if tag["name"] != "#500-my-model" {
		t.Errorf("name = %v, want #500-my-model", tag["name"])
	}
	if tag["display-name"] != "#500 My Model" {
		t.Errorf("display-name = %v, want #500 My Model", tag["display-name"])
	}
	if tag["id"] != "896131a3-6d4f-4399-83e8-7833dae83233" {
		t.Errorf("tag UUID changed: %v", tag["id"])
	}
}

func TestRewriteNativeFlatQuery(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "native",
			"database": 1,
			"native": {
				"query": "SELECT a.*, b.v FROM {{#50-model-a}} a JOIN {{#60-model-b}} b ON a.id = b.a_id WHERE d > {{start_date}}",
				"template-tags": {
					"50-model-a": {"type": "card", "card-id": 50, "name": "50-model-a"},
					"60-model-b": {"type": "card", "card-id": 60, "name": "60-model-b"},
					"start_date": {"type": "date", "name": "start_date"}
				}
			}
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	native := got["dataset_query"].(map[string]any)["native"].(map[string]any)
	sql := native["query"].(string)
	if !strings.Contains(sql, "{{#500-model-a}}") || !strings.Contains(sql, "{{#600-model-b}}") {
		t.Errorf("sql not remapped: %q", sql)
	}
	if strings.Contains(sql, "{{#50-") || strings.Contains(sql, "{{#60-") {
		t.Errorf("stale tags remain: %q", sql)
	}
	if !strings.Contains(sql, "{{start_date}}") {
		t.Errorf("plain template tag disturbed: %q", sql)
	}
	tags := native["template-tags"].(map[string]any)
	if _, ok := tags["500-model-a"]; !ok {
		t.Error("tag key 50-model-a not remapped")
	}
	if date, ok := tags["start_date"].(map[string]any); !ok || date["type"] != "date" {
		t.Error("non-card tag not preserved")
	}
}

func TestRewriteNativeUnmappedTagWarns(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "native",
			"database": 1,
			"native": {
				"query": "SELECT * FROM {{#999-unknown-model}}",
				"template-tags": {"999-unknown-model": {"type": "card", "card-id": 999}}
			}
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v, want warning not failure", err)
	}
	native := got["dataset_query"].(map[string]any)["native"].(map[string]any)
	if !strings.Contains(native["query"].(string), "{{#999-unknown-model}}") {
		t.Error("unmapped tag should be preserved")
	}
	if len(r.Warnings()) == 0 {
		t.Error("expected a warning for the unmapped tag")
	}
}

func TestRewriteUnmappedStructuredRefFails(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "query",
			"database": 1,
			"query": {"source-table": 77}
		}
	}`)

	r := NewRewriter(testTable())
	_, err := r.RewriteCard(card)
	var remap *RemapError
	if !errors.As(err, &remap) {
		t.Fatalf("error = %v, want RemapError", err)
	}
	if remap.Path != "dataset_query.query.source-table" {
		t.Errorf("Path = %q, want dataset_query.query.source-table", remap.Path)
	}
	var tableErr *mapping.UnmappedTableError
	if !errors.As(err, &tableErr) || tableErr.SourceID != 77 {
		t.Errorf("cause = %v, want UnmappedTableError{77}", err)
	}
}

func TestRewriteUnmappedStructuredCardRefFails(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"lib/type": "mbql/query",
			"database": 1,
			"stages": [{"lib/type": "mbql.stage/mbql", "source-card": 42}]
		}
	}`)

	r := NewRewriter(testTable())
	_, err := r.RewriteCard(card)
	var remap *RemapError
	if !errors.As(err, &remap) {
		t.Fatalf("error = %v, want RemapError", err)
	}
	if remap.Path != "dataset_query.stages[0].source-card" {
		t.Errorf("Path = %q", remap.Path)
	}
}

func TestRewriteUnmappedDatabaseFails(t *testing.T) {
	card := parse(t, `{
		"database_id": 9,
		"dataset_query": {"type": "query", "database": 9, "query": {"source-table": 10}}
	}`)

	r := NewRewriter(testTable())
	_, err := r.RewriteCard(card)
	var dbErr *mapping.UnmappedDatabaseError
	if !errors.As(err, &dbErr) || dbErr.SourceID != 9 {
		t.Fatalf("error = %v, want UnmappedDatabaseError{9}", err)
	}
}

func TestRewriteEquivalenceAcrossGenerations(t *testing.T) {
	// The same logical query in both shapes must produce semantically
	// equivalent rewrites from one mapping table.
	flat := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "query",
			"database": 1,
			"query": {"source-table": "card__50"}
		}
	}`)
	staged := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"lib/type": "mbql/query",
			"database": 1,
			"stages": [{"lib/type": "mbql.stage/mbql", "source-card": 50, "filters": []}]
		}
	}`)

	r := NewRewriter(testTable())
	gotFlat, err := r.RewriteCard(flat)
	if err != nil {
		t.Fatalf("flat rewrite: %v", err)
	}
	gotStaged, err := r.RewriteCard(staged)
	if err != nil {
		t.Fatalf("staged rewrite: %v", err)
	}

	flatSource := gotFlat["dataset_query"].(map[string]any)["query"].(map[string]any)["source-table"]
	stagedSource := gotStaged["dataset_query"].(map[string]any)["stages"].([]any)[0].(map[string]any)["source-card"]
	if flatSource != "card__500" {
		t.Errorf("flat source = %v, want card__500", flatSource)
	}
	if stagedSource != 500 {
		t.Errorf("staged source = %v, want 500", stagedSource)
	}
}

func TestRewriteResultMetadata(t *testing.T) {
	card := parse(t, `{
		"database_id": 1,
		"table_id": 10,
		"dataset_query": {"type": "query", "database": 1, "query": {"source-table": 10}},
		"result_metadata": [
			{"id": 201, "table_id": 10, "field_ref": ["field", 201, null], "display_name": "Total"},
			{"field_ref": ["field", "expr", {"base-type": "type/Float"}], "display_name": "Computed"}
		]
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("RewriteCard() error = %v", err)
	}
	meta := got["result_metadata"].([]any)
	first := meta[0].(map[string]any)
	if first["id"] != 301 || first["table_id"] != 20 {
		t.Errorf("metadata ids = %v/%v, want 301/20", first["id"], first["table_id"])
	}
	if first["field_ref"].([]any)[1] != 301 {
		t.Errorf("field_ref = %v, want remapped", first["field_ref"])
	}
	second := meta[1].(map[string]any)
	if second["field_ref"].([]any)[1] != "expr" {
		t.Error("name-based field_ref should be untouched")
	}
}

func TestRewriteTotalForLeafCards(t *testing.T) {
	// A card with no card references and fully-mapped table/field ids
	// rewrites without error, and every structured id lands on the target
	// side of the table.
	card := parse(t, `{
		"database_id": 1,
		"dataset_query": {
			"type": "query",
			"database": 1,
			"query": {
				"source-table": 11,
				"fields": [["field", 201, null], ["field", 202, null]],
				"filter": ["=", ["field", 201, null], 1]
			}
		}
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteCard(card)
	if err != nil {
		t.Fatalf("rewrite of leaf card must be total, got %v", err)
	}
	inner := got["dataset_query"].(map[string]any)["query"].(map[string]any)
	targets := map[any]bool{21: true, 301: true, 302: true}
	if !targets[inner["source-table"]] {
		t.Errorf("source-table = %v not on target side", inner["source-table"])
	}
	for _, f := range inner["fields"].([]any) {
		if !targets[f.([]any)[1]] {
			t.Errorf("field %v not on target side", f.([]any)[1])
		}
	}
}

func TestRewriteDashboardParameters(t *testing.T) {
	dash := parse(t, `{
		"name": "Ops",
		"parameters": [{
			"id": "abc",
			"values_source_config": {"card_id": 50, "value_field": ["field", 201, null]}
		}]
	}`)

	r := NewRewriter(testTable())
	got, err := r.RewriteDashboard(dash)
	if err != nil {
		t.Fatalf("RewriteDashboard() error = %v", err)
	}
	vsc := got["parameters"].([]any)[0].(map[string]any)["values_source_config"].(map[string]any)
	if vsc["card_id"] != 500 {
		t.Errorf("card_id = %v, want 500", vsc["card_id"])
	}
	if vsc["value_field"].([]any)[1] != 301 {
		t.Errorf("value_field = %v, want remapped", vsc["value_field"])
	}
}

func TestRewriteParameterMappings(t *testing.T) {
	raw := parse(t, `{"mappings": [{
		"card_id": 50,
		"parameter_id": "p1",
		"target": ["dimension", ["field", 201, {"base-type": "type/Text"}]]
	}]}`)

	r := NewRewriter(testTable())
	got := r.RewriteParameterMappings(raw["mappings"].([]any), "dashcards[0].parameter_mappings")
	pm := got[0].(map[string]any)
	if pm["card_id"] != 500 {
		t.Errorf("card_id = %v, want 500", pm["card_id"])
	}
	if pm["target"].([]any)[1].([]any)[1] != 301 {
		t.Errorf("target = %v, want remapped field", pm["target"])
	}
}
