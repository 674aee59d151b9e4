package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/harlier/metamove/internal/depgraph"
	"github.com/harlier/metamove/internal/domain"
	"github.com/harlier/metamove/internal/manifest"
	"github.com/harlier/metamove/internal/query"
)

// Action is one step a real import would take.
type Action struct {
	Type     domain.EntityType `json:"type"`
	Op       string            `json:"op"` // create, update, skip, rename, fail
	SourceID int               `json:"source_id"`
	TargetID int               `json:"target_id,omitempty"`
	Name     string            `json:"name"`
	// Diff is a unified diff of the payload an update would replace.
	// Empty when the target payload cannot be computed yet, e.g. when a
	// dependency would only exist after the import.
	Diff  string `json:"diff,omitempty"`
	Error string `json:"error,omitempty"`
}

// Plan is the result of a dry run. Nothing on the target is touched.
type Plan struct {
	BundleDir   string   `json:"bundle_dir"`
	ManifestRev string   `json:"manifest_rev"`
	Actions     []Action `json:"actions"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Plan computes what Run would do without writing to the target.
func (imp *Importer) Plan(ctx context.Context) (*Plan, error) {
	if err := imp.prepare(ctx); err != nil {
		return nil, err
	}

	plan := &Plan{
		BundleDir:   imp.opts.BundleDir,
		ManifestRev: imp.m.Meta.ManifestRev,
	}
	defer func() { plan.Warnings = append(plan.Warnings, imp.report.Warnings...) }()

	plannedCols, err := imp.planCollections(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := imp.planCards(ctx, plan, plannedCols); err != nil {
		return nil, err
	}
	if err := imp.planDashboards(ctx, plan, plannedCols); err != nil {
		return nil, err
	}
	return plan, nil
}

// planCollections resolves the collection tree against the target without
// creating anything. Returns the set of source collections that would be
// created.
func (imp *Importer) planCollections(ctx context.Context, plan *Plan) (map[int]bool, error) {
	existing, err := imp.targetCollectionIndex(ctx)
	if err != nil {
		return nil, err
	}

	planned := make(map[int]bool)
	pending := make([]manifest.CollectionEntry, len(imp.m.Collections))
	copy(pending, imp.m.Collections)

	for len(pending) > 0 {
		var next []manifest.CollectionEntry
		progressed := false
		for _, col := range pending {
			var parentPlanned bool
			var targetParent int
			switch {
			case col.ParentID == nil:
				targetParent = imp.opts.RootCollection
			case planned[*col.ParentID]:
				parentPlanned = true
			default:
				tgt, ok := imp.colMap[*col.ParentID]
				if !ok {
					next = append(next, col)
					continue
				}
				targetParent = tgt
			}
			progressed = true

			if !parentPlanned {
				if tgtID, found := existing[collectionKey{parent: targetParent, name: col.Name}]; found {
					imp.colMap[col.ID] = tgtID
					plan.Actions = append(plan.Actions, Action{
						Type: domain.EntityCollection, Op: "skip",
						SourceID: col.ID, TargetID: tgtID, Name: col.Name,
					})
					continue
				}
			}
			planned[col.ID] = true
			plan.Actions = append(plan.Actions, Action{
				Type: domain.EntityCollection, Op: "create",
				SourceID: col.ID, Name: col.Name,
			})
		}
		if !progressed {
			return nil, fmt.Errorf("collection tree has unresolvable parents")
		}
		pending = next
	}
	return planned, nil
}

func (imp *Importer) planCards(ctx context.Context, plan *Plan, plannedCols map[int]bool) error {
	byID := make(map[int]manifest.CardEntry, len(imp.m.Cards))
	roots := make([]int, 0, len(imp.m.Cards))
	for _, card := range imp.m.Cards {
		byID[card.ID] = card
		roots = append(roots, card.ID)
	}
	sort.Ints(roots)

	order, cycles, err := depgraph.Closure(depgraph.SourceFunc(imp.m.DependencySource()), roots)
	if err != nil {
		return err
	}
	for _, c := range cycles {
		plan.Warnings = append(plan.Warnings, c.Error())
	}

	plannedCards := make(map[int]bool)
	for _, id := range order {
		entry, inBundle := byID[id]
		if !inBundle {
			continue
		}
		imp.planCard(ctx, plan, entry, plannedCols, plannedCards)
	}
	return nil
}

func (imp *Importer) planCard(ctx context.Context, plan *Plan, entry manifest.CardEntry, plannedCols, plannedCards map[int]bool) {
	action := Action{Type: domain.EntityCard, SourceID: entry.ID, Name: entry.Name}
	defer func() { plan.Actions = append(plan.Actions, action) }()

	depsResolved := true
	for _, dep := range imp.m.Dependencies[manifest.DependencyKey(entry.ID)] {
		if !imp.ids.HasCard(dep) {
			depsResolved = false
		}
	}

	collectionPlanned := entry.CollectionID != nil && plannedCols[*entry.CollectionID]
	if collectionPlanned {
		// The enclosing collection does not exist yet, so neither can
		// the card.
		action.Op = "create"
		plannedCards[entry.ID] = true
		return
	}

	collectionID := imp.targetCollection(entry.CollectionID)

	if imp.ids.HasCard(entry.ID) {
		targetID, _ := imp.ids.Card(entry.ID)
		action.TargetID = targetID
		if imp.opts.Conflict == domain.ConflictSkip {
			action.Op = "skip"
			return
		}
		action.Op = "update"
		action.Diff = imp.cardDiff(ctx, entry, targetID, depsResolved)
		return
	}

	existingID, found, err := imp.findExisting(ctx, collectionID, "card", entry.Name)
	if err != nil {
		action.Op = "fail"
		action.Error = err.Error()
		return
	}
	if !found {
		action.Op = "create"
		plannedCards[entry.ID] = true
		return
	}

	action.TargetID = existingID
	switch imp.opts.Conflict {
	case domain.ConflictSkip:
		action.Op = "skip"
		imp.ids.SetCard(entry.ID, existingID)
	case domain.ConflictOverwrite:
		action.Op = "update"
		action.Diff = imp.cardDiff(ctx, entry, existingID, depsResolved)
		imp.ids.SetCard(entry.ID, existingID)
	case domain.ConflictRename:
		action.Op = "rename"
		action.Name = renamed(entry.Name)
		plannedCards[entry.ID] = true
	}
}

// cardDiff renders what an overwrite would change.
func (imp *Importer) cardDiff(ctx context.Context, entry manifest.CardEntry, targetID int, depsResolved bool) string {
	if !depsResolved {
		return ""
	}
	payload, err := imp.readPayload(entry.File, entry.Checksum)
	if err != nil {
		return ""
	}
	rw := query.NewRewriter(imp.ids)
	rewritten, err := rw.RewriteCard(payload)
	if err != nil {
		return ""
	}
	current, err := imp.tgt.GetCard(ctx, targetID)
	if err != nil {
		return ""
	}

	a := prettyPayload(pickKeys(current, cardPayloadKeys))
	b := prettyPayload(pickKeys(rewritten, cardPayloadKeys))
	if a == b {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "current",
		ToFile:   "incoming",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func (imp *Importer) planDashboards(ctx context.Context, plan *Plan, plannedCols map[int]bool) error {
	dashboards := make([]manifest.DashboardEntry, len(imp.m.Dashboards))
	copy(dashboards, imp.m.Dashboards)
	sort.Slice(dashboards, func(i, j int) bool { return dashboards[i].ID < dashboards[j].ID })

	for _, entry := range dashboards {
		action := Action{Type: domain.EntityDashboard, SourceID: entry.ID, Name: entry.Name}

		if entry.CollectionID != nil && plannedCols[*entry.CollectionID] {
			action.Op = "create"
			plan.Actions = append(plan.Actions, action)
			continue
		}

		if targetID, ok := imp.savedDashboard(entry.ID); ok {
			action.TargetID = targetID
			if imp.opts.Conflict == domain.ConflictSkip {
				action.Op = "skip"
			} else {
				action.Op = "update"
			}
			plan.Actions = append(plan.Actions, action)
			continue
		}

		collectionID := imp.targetCollection(entry.CollectionID)
		existingID, found, err := imp.findExisting(ctx, collectionID, "dashboard", entry.Name)
		if err != nil {
			return err
		}
		switch {
		case !found:
			action.Op = "create"
		case imp.opts.Conflict == domain.ConflictOverwrite:
			action.Op = "update"
			action.TargetID = existingID
		case imp.opts.Conflict == domain.ConflictRename:
			action.Op = "rename"
			action.Name = renamed(entry.Name)
		default:
			action.Op = "skip"
			action.TargetID = existingID
		}
		plan.Actions = append(plan.Actions, action)
	}
	return nil
}

func prettyPayload(v map[string]any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}
