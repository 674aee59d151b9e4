package imports

import (
	"context"
	"fmt"
	"sort"

	"github.com/harlier/metamove/internal/depgraph"
	"github.com/harlier/metamove/internal/domain"
	"github.com/harlier/metamove/internal/manifest"
	"github.com/harlier/metamove/internal/query"
)

// cardPayloadKeys is what a create or update sends; everything else in the
// exported payload is server-side state.
var cardPayloadKeys = []string{
	"name",
	"description",
	"display",
	"dataset_query",
	"visualization_settings",
	"result_metadata",
	"type",
	"parameters",
	"parameter_mappings",
	"cache_ttl",
}

// importCards applies the bundle's cards in dependency order, so a card's
// referenced cards always have a target ID by the time it is rewritten.
// Failures are per-card: a failed card fails its dependents but nothing else.
func (imp *Importer) importCards(ctx context.Context) {
	byID := make(map[int]manifest.CardEntry, len(imp.m.Cards))
	roots := make([]int, 0, len(imp.m.Cards))
	for _, card := range imp.m.Cards {
		byID[card.ID] = card
		roots = append(roots, card.ID)
	}
	sort.Ints(roots)

	order, cycles, err := depgraph.Closure(depgraph.SourceFunc(imp.m.DependencySource()), roots)
	if err != nil {
		imp.report.warnf("dependency resolution: %v", err)
		order = roots
	}
	for _, c := range cycles {
		imp.report.warnf("%v", c)
	}

	failed := make(map[int]bool)
	for _, id := range order {
		entry, inBundle := byID[id]
		if !inBundle {
			if imp.ids.HasCard(id) {
				// Already on the target from an earlier run.
				continue
			}
			imp.report.warnf("card %d is referenced but not in the bundle", id)
			failed[id] = true
			continue
		}
		imp.importCard(ctx, entry, failed)
	}
}

func (imp *Importer) importCard(ctx context.Context, entry manifest.CardEntry, failed map[int]bool) {
	fail := func(err error) {
		failed[entry.ID] = true
		imp.report.add(ItemResult{
			Type: domain.EntityCard, SourceID: entry.ID, Name: entry.Name,
			Status: domain.StatusFailed, Error: err.Error(),
		})
	}

	for _, dep := range imp.m.Dependencies[manifest.DependencyKey(entry.ID)] {
		if failed[dep] {
			fail(fmt.Errorf("dependency card %d failed", dep))
			return
		}
		if !imp.ids.HasCard(dep) {
			fail(fmt.Errorf("dependency card %d has no target mapping", dep))
			return
		}
	}

	payload, err := imp.readPayload(entry.File, entry.Checksum)
	if err != nil {
		fail(err)
		return
	}

	rw := query.NewRewriter(imp.ids)
	rewritten, err := rw.RewriteCard(payload)
	if err != nil {
		fail(err)
		return
	}
	for _, w := range rw.Warnings() {
		imp.report.warnf("card %d %q: %s", entry.ID, entry.Name, w)
	}

	collectionID := imp.targetCollection(entry.CollectionID)
	body := pickKeys(rewritten, cardPayloadKeys)
	if collectionID != 0 {
		body["collection_id"] = collectionID
	} else {
		body["collection_id"] = nil
	}

	// A mapping remembered from an earlier run wins over name matching.
	if imp.ids.HasCard(entry.ID) {
		targetID, _ := imp.ids.Card(entry.ID)
		if imp.opts.Conflict == domain.ConflictSkip {
			imp.report.add(ItemResult{
				Type: domain.EntityCard, SourceID: entry.ID, TargetID: targetID,
				Name: entry.Name, Status: domain.StatusSkipped,
			})
			return
		}
		if _, err := imp.tgt.UpdateCard(ctx, targetID, body); err != nil {
			fail(err)
			return
		}
		imp.saveCardMapping(entry.ID, targetID)
		imp.report.add(ItemResult{
			Type: domain.EntityCard, SourceID: entry.ID, TargetID: targetID,
			Name: entry.Name, Status: domain.StatusUpdated,
		})
		return
	}

	existingID, found, err := imp.findExisting(ctx, collectionID, "card", entry.Name)
	if err != nil {
		fail(err)
		return
	}

	if found {
		switch imp.opts.Conflict {
		case domain.ConflictSkip:
			imp.ids.SetCard(entry.ID, existingID)
			imp.saveCardMapping(entry.ID, existingID)
			imp.report.add(ItemResult{
				Type: domain.EntityCard, SourceID: entry.ID, TargetID: existingID,
				Name: entry.Name, Status: domain.StatusSkipped,
			})
			return
		case domain.ConflictOverwrite:
			if _, err := imp.tgt.UpdateCard(ctx, existingID, body); err != nil {
				fail(err)
				return
			}
			imp.ids.SetCard(entry.ID, existingID)
			imp.saveCardMapping(entry.ID, existingID)
			imp.report.add(ItemResult{
				Type: domain.EntityCard, SourceID: entry.ID, TargetID: existingID,
				Name: entry.Name, Status: domain.StatusUpdated,
			})
			return
		case domain.ConflictRename:
			body["name"] = renamed(entry.Name)
		}
	}

	created, err := imp.tgt.CreateCard(ctx, body)
	if err != nil {
		fail(err)
		return
	}
	targetID, ok := asInt(created["id"])
	if !ok {
		fail(fmt.Errorf("create card %q: target returned no id", entry.Name))
		return
	}
	imp.ids.SetCard(entry.ID, targetID)
	imp.saveCardMapping(entry.ID, targetID)
	imp.rememberItem(collectionID, "card", str(body["name"]), targetID)
	imp.report.add(ItemResult{
		Type: domain.EntityCard, SourceID: entry.ID, TargetID: targetID,
		Name: entry.Name, Status: domain.StatusCreated,
	})
}

func (imp *Importer) saveCardMapping(sourceID, targetID int) {
	if imp.opts.Store == nil || imp.opts.TargetURL == "" {
		return
	}
	if err := imp.opts.Store.SaveMapping(imp.opts.TargetURL, string(domain.EntityCard), sourceID, targetID, imp.report.RunID); err != nil {
		imp.report.warnf("failed to persist card mapping %d -> %d: %v", sourceID, targetID, err)
	}
}

// pickKeys copies the listed keys that are present.
func pickKeys(src map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}

// asInt accepts the numeric shapes JSON decoding produces.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
