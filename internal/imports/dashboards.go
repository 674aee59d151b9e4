package imports

import (
	"context"
	"fmt"
	"sort"

	"github.com/harlier/metamove/internal/domain"
	"github.com/harlier/metamove/internal/manifest"
	"github.com/harlier/metamove/internal/query"
)

var dashboardPayloadKeys = []string{
	"name",
	"description",
	"parameters",
	"cache_ttl",
	"auto_apply_filters",
	"width",
}

var dashcardKeys = []string{
	"row",
	"col",
	"size_x",
	"size_y",
	"visualization_settings",
	"parameter_mappings",
}

// importDashboards runs after cards so every dashcard reference can resolve.
func (imp *Importer) importDashboards(ctx context.Context) {
	dashboards := make([]manifest.DashboardEntry, len(imp.m.Dashboards))
	copy(dashboards, imp.m.Dashboards)
	sort.Slice(dashboards, func(i, j int) bool { return dashboards[i].ID < dashboards[j].ID })

	for _, entry := range dashboards {
		imp.importDashboard(ctx, entry)
	}
}

func (imp *Importer) importDashboard(ctx context.Context, entry manifest.DashboardEntry) {
	fail := func(err error) {
		imp.report.add(ItemResult{
			Type: domain.EntityDashboard, SourceID: entry.ID, Name: entry.Name,
			Status: domain.StatusFailed, Error: err.Error(),
		})
	}

	payload, err := imp.readPayload(entry.File, entry.Checksum)
	if err != nil {
		fail(err)
		return
	}

	rw := query.NewRewriter(imp.ids)
	rewritten, err := rw.RewriteDashboard(payload)
	if err != nil {
		fail(err)
		return
	}

	dashcards := imp.remapDashcards(rewritten, rw, entry.ID)
	for _, w := range rw.Warnings() {
		imp.report.warnf("dashboard %d %q: %s", entry.ID, entry.Name, w)
	}

	collectionID := imp.targetCollection(entry.CollectionID)
	body := pickKeys(rewritten, dashboardPayloadKeys)
	if collectionID != 0 {
		body["collection_id"] = collectionID
	} else {
		body["collection_id"] = nil
	}

	// A mapping remembered from an earlier run wins over name matching.
	if targetID, ok := imp.savedDashboard(entry.ID); ok {
		if imp.opts.Conflict == domain.ConflictSkip {
			imp.report.add(ItemResult{
				Type: domain.EntityDashboard, SourceID: entry.ID, TargetID: targetID,
				Name: entry.Name, Status: domain.StatusSkipped,
			})
			return
		}
		body["dashcards"] = dashcards
		if _, err := imp.tgt.UpdateDashboard(ctx, targetID, body); err != nil {
			fail(err)
			return
		}
		imp.report.add(ItemResult{
			Type: domain.EntityDashboard, SourceID: entry.ID, TargetID: targetID,
			Name: entry.Name, Status: domain.StatusUpdated,
		})
		return
	}

	existingID, found, err := imp.findExisting(ctx, collectionID, "dashboard", entry.Name)
	if err != nil {
		fail(err)
		return
	}

	if found {
		switch imp.opts.Conflict {
		case domain.ConflictSkip:
			imp.saveDashboardMapping(entry.ID, existingID)
			imp.report.add(ItemResult{
				Type: domain.EntityDashboard, SourceID: entry.ID, TargetID: existingID,
				Name: entry.Name, Status: domain.StatusSkipped,
			})
			return
		case domain.ConflictOverwrite:
			body["dashcards"] = dashcards
			if _, err := imp.tgt.UpdateDashboard(ctx, existingID, body); err != nil {
				fail(err)
				return
			}
			imp.saveDashboardMapping(entry.ID, existingID)
			imp.report.add(ItemResult{
				Type: domain.EntityDashboard, SourceID: entry.ID, TargetID: existingID,
				Name: entry.Name, Status: domain.StatusUpdated,
			})
			return
		case domain.ConflictRename:
			body["name"] = renamed(entry.Name)
		}
	}

	created, err := imp.tgt.CreateDashboard(ctx, body)
	if err != nil {
		fail(err)
		return
	}
	targetID, ok := asInt(created["id"])
	if !ok {
		fail(fmt.Errorf("create dashboard %q: target returned no id", entry.Name))
		return
	}

	// Dashcards go in a second call: the create endpoint ignores them.
	if _, err := imp.tgt.UpdateDashboard(ctx, targetID, map[string]any{"dashcards": dashcards}); err != nil {
		fail(fmt.Errorf("attach dashcards: %w", err))
		return
	}

	imp.saveDashboardMapping(entry.ID, targetID)
	imp.rememberItem(collectionID, "dashboard", str(body["name"]), targetID)
	imp.report.add(ItemResult{
		Type: domain.EntityDashboard, SourceID: entry.ID, TargetID: targetID,
		Name: entry.Name, Status: domain.StatusCreated,
	})
}

// savedDashboard consults the state store for a dashboard created by an
// earlier run against this target.
func (imp *Importer) savedDashboard(sourceID int) (int, bool) {
	if imp.opts.Store == nil || imp.opts.TargetURL == "" {
		return 0, false
	}
	targetID, ok, err := imp.opts.Store.LookupMapping(imp.opts.TargetURL, string(domain.EntityDashboard), sourceID)
	if err != nil {
		imp.report.warnf("failed to look up dashboard mapping %d: %v", sourceID, err)
		return 0, false
	}
	return targetID, ok
}

func (imp *Importer) saveDashboardMapping(sourceID, targetID int) {
	if imp.opts.Store == nil || imp.opts.TargetURL == "" {
		return
	}
	if err := imp.opts.Store.SaveMapping(imp.opts.TargetURL, string(domain.EntityDashboard), sourceID, targetID, imp.report.RunID); err != nil {
		imp.report.warnf("failed to persist dashboard mapping %d -> %d: %v", sourceID, targetID, err)
	}
}

// remapDashcards rebuilds the dashcard list against target card IDs. A
// dashcard whose card never made it to the target is dropped with a warning
// rather than failing the whole dashboard.
func (imp *Importer) remapDashcards(payload map[string]any, rw *query.Rewriter, dashboardID int) []any {
	raw, _ := payload["dashcards"].([]any)
	if raw == nil {
		// Older payloads call them ordered_cards.
		raw, _ = payload["ordered_cards"].([]any)
	}

	out := make([]any, 0, len(raw))
	for i, item := range raw {
		dc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		mapped := pickKeys(dc, dashcardKeys)

		if srcCard, ok := asInt(dc["card_id"]); ok {
			tgtCard, err := imp.ids.Card(srcCard)
			if err != nil {
				imp.report.warnf("dashboard %d: dropping dashcard %d: %v", dashboardID, i, err)
				continue
			}
			mapped["card_id"] = tgtCard
		}

		if mappings, ok := mapped["parameter_mappings"].([]any); ok {
			path := fmt.Sprintf("dashcards[%d].parameter_mappings", i)
			mapped["parameter_mappings"] = rw.RewriteParameterMappings(mappings, path)
		}

		if series, ok := dc["series"].([]any); ok {
			var keep []any
			for _, s := range series {
				sm, ok := s.(map[string]any)
				if !ok {
					continue
				}
				srcID, ok := asInt(sm["id"])
				if !ok {
					continue
				}
				tgtID, err := imp.ids.Card(srcID)
				if err != nil {
					imp.report.warnf("dashboard %d: dropping series card %d: %v", dashboardID, srcID, err)
					continue
				}
				keep = append(keep, map[string]any{"id": tgtID})
			}
			if len(keep) > 0 {
				mapped["series"] = keep
			}
		}

		out = append(out, mapped)
	}
	return out
}
