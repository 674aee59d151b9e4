package query

import (
	"errors"
	"fmt"

	"github.com/harlier/metamove/internal/mapping"
)

// sourceScope classifies what a structured query or stage reads from. Field
// references are only remapped under a real-table scope: a card reference
// carries its own already-rewritten field references, and a stage chained
// onto the previous stage's output references synthetic columns.
type sourceScope int

const (
	scopeTable sourceScope = iota
	scopeCard
	scopeNative
	scopePrevious
)

// Rewriter produces rewritten queries whose identifiers are valid in the
// target scope. It never mutates its input and fails loudly (RemapError) on
// any structured identifier the mapping table cannot resolve; unresolved
// native card tags are recorded as warnings instead, since the platform
// resolves those loosely by slug.
type Rewriter struct {
	ids      *mapping.Table
	warnings []string
}

// NewRewriter returns a rewriter over the given mapping table.
func NewRewriter(ids *mapping.Table) *Rewriter {
	return &Rewriter{ids: ids}
}

// Warnings returns the warnings accumulated so far, in order.
func (r *Rewriter) Warnings() []string {
	return r.warnings
}

// ResetWarnings clears accumulated warnings; the importer calls this at
// each item boundary so warnings attribute to one item.
func (r *Rewriter) ResetWarnings() {
	r.warnings = nil
}

func (r *Rewriter) warnf(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// RewriteCard returns a copy of a raw card payload with every embedded
// identifier remapped: the database, the card-level table_id, the dataset
// query (either representation, either generation), result_metadata and
// visualization_settings.
func (r *Rewriter) RewriteCard(payload map[string]any) (map[string]any, error) {
	card, _ := deepCopy(payload).(map[string]any)
	if card == nil {
		return nil, remapErr("", errors.New("card payload is not an object"))
	}

	dq, _ := card["dataset_query"].(map[string]any)
	if dq == nil {
		return nil, remapErr("dataset_query", errors.New("missing dataset query"))
	}

	sourceDB, ok := asInt(card["database_id"])
	if !ok {
		sourceDB, ok = asInt(dq["database"])
	}
	if !ok {
		return nil, remapErr("dataset_query.database", errors.New("card has no database reference"))
	}
	targetDB, err := r.ids.Database(sourceDB)
	if err != nil {
		return nil, remapErr("dataset_query.database", err)
	}
	dq["database"] = targetDB
	if _, present := card["database_id"]; present {
		card["database_id"] = targetDB
	}

	gen := Detect(dq)
	switch gen {
	case GenFlat:
		if err := r.rewriteFlat(dq); err != nil {
			return nil, err
		}
	case GenStaged:
		if err := r.rewriteStages(dq); err != nil {
			return nil, err
		}
	default:
		return nil, remapErr("dataset_query", errors.New("unrecognized query shape"))
	}

	scope := primaryScope(dq, gen)

	if tableID, ok := asInt(card["table_id"]); ok && scope == scopeTable {
		target, err := r.ids.Table(tableID)
		if err != nil {
			return nil, remapErr("table_id", err)
		}
		card["table_id"] = target
	}

	r.rewriteResultMetadata(card, scope)

	if viz, ok := card["visualization_settings"]; ok && scope == scopeTable {
		card["visualization_settings"], _ = r.remapFieldRefs(viz, "visualization_settings", false)
	}

	return card, nil
}

// rewriteFlat handles the flat generation: one native block and/or one
// structured query under the singular "query" key.
func (r *Rewriter) rewriteFlat(dq map[string]any) error {
	if native, ok := dq["native"].(map[string]any); ok {
		if sql, ok := native["query"].(string); ok {
			native["query"] = r.rewriteNativeSQL(sql, "dataset_query.native.query")
		}
		if tags, ok := native["template-tags"].(map[string]any); ok {
			native["template-tags"] = r.rewriteTemplateTags(tags, "dataset_query.native.template-tags")
		}
	}
	if inner, ok := dq["query"].(map[string]any); ok {
		return r.rewriteStructured(inner, "dataset_query.query")
	}
	return nil
}

// rewriteStages handles the staged generation: each stage is a
// self-contained structured query or native block.
func (r *Rewriter) rewriteStages(dq map[string]any) error {
	stages, ok := dq["stages"].([]any)
	if !ok {
		return remapErr("dataset_query.stages", errors.New("stages is not a sequence"))
	}
	for i, raw := range stages {
		stage, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("dataset_query.stages[%d]", i)
		if sql, ok := stage["native"].(string); ok {
			stage["native"] = r.rewriteNativeSQL(sql, path+".native")
			if tags, ok := stage["template-tags"].(map[string]any); ok {
				stage["template-tags"] = r.rewriteTemplateTags(tags, path+".template-tags")
			}
			continue
		}
		if err := r.rewriteStructured(stage, path); err != nil {
			return err
		}
	}
	return nil
}

// rewriteStructured applies the generation-agnostic rewrite rule to one
// structured query, stage, or join: map table references, map card
// references preserving their encoding (string "card__N" or typed
// integer), and map field references when the enclosing scope is a real
// table.
func (r *Rewriter) rewriteStructured(q map[string]any, path string) error {
	scope := scopeOf(q)

	if err := r.rewriteSource(q, path); err != nil {
		return err
	}

	if joins, ok := q["joins"].([]any); ok {
		for i, raw := range joins {
			join, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			jpath := fmt.Sprintf("%s.joins[%d]", path, i)
			if err := r.rewriteSource(join, jpath); err != nil {
				return err
			}
			// Join conditions mix fields from both sides; remap leniently so
			// a card-side field reference stays as-is instead of failing.
			if scopeOf(join) == scopeTable {
				for _, key := range []string{"condition", "fields"} {
					if v, ok := join[key]; ok {
						nv, err := r.remapFieldRefs(v, jpath+"."+key, false)
						if err != nil {
							return err
						}
						join[key] = nv
					}
				}
			}
		}
	}

	if scope != scopeTable {
		return nil
	}
	for _, key := range []string{"filter", "filters", "aggregation", "breakout", "order-by", "fields", "expressions"} {
		if v, ok := q[key]; ok {
			nv, err := r.remapFieldRefs(v, path+"."+key, true)
			if err != nil {
				return err
			}
			q[key] = nv
		}
	}
	return nil
}

// rewriteSource remaps the source reference of a query, stage or join.
// The encoding found on the node is preserved: "card__N" strings stay
// strings, typed integers under "source-card" stay integers.
func (r *Rewriter) rewriteSource(q map[string]any, path string) error {
	if st, present := q["source-table"]; present {
		switch v := st.(type) {
		case string:
			if id, ok := cardRefID(v); ok {
				target, err := r.ids.Card(id)
				if err != nil {
					return remapErr(path+".source-table", err)
				}
				q["source-table"] = cardRef(target)
			}
		default:
			if id, ok := asInt(v); ok {
				target, err := r.ids.Table(id)
				if err != nil {
					return remapErr(path+".source-table", err)
				}
				q["source-table"] = target
			}
		}
	}
	if sc, present := q["source-card"]; present {
		if id, ok := asInt(sc); ok {
			target, err := r.ids.Card(id)
			if err != nil {
				return remapErr(path+".source-card", err)
			}
			q["source-card"] = target
		}
	}
	return nil
}

// remapFieldRefs walks an arbitrary MBQL fragment and rewrites every field
// reference it finds. In strict mode an unmappable field is a RemapError;
// in lenient mode it is recorded as a warning and left unchanged (used for
// join conditions, result metadata and display settings, where a reference
// can legitimately point outside the table scope).
func (r *Rewriter) remapFieldRefs(v any, path string, strict bool) (any, error) {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		copy(out, val)
		if idx, id, ok := fieldRefID(val); ok {
			target, err := r.ids.Field(id)
			if err != nil {
				if strict {
					return nil, remapErr(path, err)
				}
				r.warnf("%s: %v; left unchanged", path, err)
			} else {
				out[idx] = target
			}
			for i := range val {
				if i == idx {
					continue
				}
				nv, err := r.remapFieldRefs(val[i], fmt.Sprintf("%s[%d]", path, i), strict)
				if err != nil {
					return nil, err
				}
				out[i] = nv
			}
			return out, nil
		}
		for i := range val {
			nv, err := r.remapFieldRefs(val[i], fmt.Sprintf("%s[%d]", path, i), strict)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			nv, err := r.remapFieldRefs(item, path+"."+k, strict)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// rewriteResultMetadata remaps the stored column metadata of a card whose
// query reads from a real table. Misses here are warnings: the platform
// regenerates result metadata on first run, so a stale entry degrades
// rather than corrupts.
func (r *Rewriter) rewriteResultMetadata(card map[string]any, scope sourceScope) {
	if scope != scopeTable {
		return
	}
	items, ok := card["result_metadata"].([]any)
	if !ok {
		return
	}
	for i, raw := range items {
		meta, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("result_metadata[%d]", i)
		if ref, ok := meta["field_ref"]; ok {
			meta["field_ref"], _ = r.remapFieldRefs(ref, path+".field_ref", false)
		}
		if id, ok := asInt(meta["id"]); ok {
			if target, err := r.ids.Field(id); err == nil {
				meta["id"] = target
			} else {
				r.warnf("%s.id: %v; left unchanged", path, err)
			}
		}
		if tableID, ok := asInt(meta["table_id"]); ok {
			if target, err := r.ids.Table(tableID); err == nil {
				meta["table_id"] = target
			} else {
				r.warnf("%s.table_id: %v; left unchanged", path, err)
			}
		}
	}
}

// RewriteDashboard returns a copy of a raw dashboard payload with its
// top-level parameters remapped (linked card sources and value fields).
// Dashcards are handled by the importer, which owns the card map ordering.
func (r *Rewriter) RewriteDashboard(payload map[string]any) (map[string]any, error) {
	dash, _ := deepCopy(payload).(map[string]any)
	if dash == nil {
		return nil, remapErr("", errors.New("dashboard payload is not an object"))
	}
	params, ok := dash["parameters"].([]any)
	if !ok {
		return dash, nil
	}
	for i, raw := range params {
		param, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		path := fmt.Sprintf("parameters[%d]", i)
		if vsc, ok := param["values_source_config"].(map[string]any); ok {
			if id, ok := asInt(vsc["card_id"]); ok {
				if target, err := r.ids.Card(id); err == nil {
					vsc["card_id"] = target
				} else {
					r.warnf("%s.values_source_config.card_id: %v; left unchanged", path, err)
				}
			}
			if vf, ok := vsc["value_field"]; ok {
				vsc["value_field"], _ = r.remapFieldRefs(vf, path+".values_source_config.value_field", false)
			}
		}
	}
	return dash, nil
}

// RewriteParameterMappings remaps a dashcard's parameter mappings: the
// card_id each mapping points at, and the field references inside its
// target (for example ["dimension", ["field", 3, nil]]).
func (r *Rewriter) RewriteParameterMappings(mappings []any, path string) []any {
	out := make([]any, 0, len(mappings))
	for i, raw := range mappings {
		pm, ok := raw.(map[string]any)
		if !ok {
			out = append(out, raw)
			continue
		}
		clone, _ := deepCopy(pm).(map[string]any)
		mpath := fmt.Sprintf("%s[%d]", path, i)
		if id, ok := asInt(clone["card_id"]); ok {
			if target, err := r.ids.Card(id); err == nil {
				clone["card_id"] = target
			} else {
				r.warnf("%s.card_id: %v; left unchanged", mpath, err)
			}
		}
		if target, ok := clone["target"]; ok {
			clone["target"], _ = r.remapFieldRefs(target, mpath+".target", false)
		}
		out = append(out, clone)
	}
	return out
}

// primaryScope reports the scope of the query's primary source: the flat
// structured query, or the first stage of a staged query.
func primaryScope(dq map[string]any, gen Generation) sourceScope {
	switch gen {
	case GenFlat:
		if inner, ok := dq["query"].(map[string]any); ok {
			return scopeOf(inner)
		}
		return scopeNative
	case GenStaged:
		if stages, ok := dq["stages"].([]any); ok && len(stages) > 0 {
			if first, ok := stages[0].(map[string]any); ok {
				return scopeOf(first)
			}
		}
	}
	return scopePrevious
}

// scopeOf classifies a structured query, stage or join by its source
// reference.
func scopeOf(q map[string]any) sourceScope {
	if _, ok := q["native"]; ok {
		return scopeNative
	}
	if sc, ok := q["source-card"]; ok {
		if _, isInt := asInt(sc); isInt {
			return scopeCard
		}
	}
	switch v := q["source-table"].(type) {
	case string:
		if _, ok := cardRefID(v); ok {
			return scopeCard
		}
	default:
		if _, ok := asInt(v); ok {
			return scopeTable
		}
	}
	return scopePrevious
}
