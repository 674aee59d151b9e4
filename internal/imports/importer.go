// Package imports applies an export bundle to a target instance: it matches
// schema identifiers by name, rewrites every query, creates the collection
// tree, and imports cards in dependency order followed by dashboards.
//
// Imports are idempotent: an item that already exists in the target (matched
// by name within its collection, or remembered in the state store from an
// earlier run) is skipped, overwritten or renamed per the configured
// conflict strategy instead of duplicated.
package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harlier/metamove/internal/catalog"
	"github.com/harlier/metamove/internal/client"
	"github.com/harlier/metamove/internal/domain"
	"github.com/harlier/metamove/internal/manifest"
	"github.com/harlier/metamove/internal/mapping"
	"github.com/harlier/metamove/internal/state"
)

// TargetAPI is the slice of the client an import needs. *client.Client
// satisfies it; tests substitute a fake server.
type TargetAPI interface {
	ListDatabases(ctx context.Context) ([]client.Database, error)
	GetDatabaseMetadata(ctx context.Context, id int) (*client.DatabaseMetadata, error)
	ListCollections(ctx context.Context) ([]client.Collection, error)
	ListCollectionItems(ctx context.Context, collectionID int, models ...string) ([]client.CollectionItem, error)
	CreateCollection(ctx context.Context, payload map[string]any) (int, error)
	GetCard(ctx context.Context, id int) (map[string]any, error)
	CreateCard(ctx context.Context, payload map[string]any) (map[string]any, error)
	UpdateCard(ctx context.Context, id int, payload map[string]any) (map[string]any, error)
	GetDashboard(ctx context.Context, id int) (map[string]any, error)
	CreateDashboard(ctx context.Context, payload map[string]any) (map[string]any, error)
	UpdateDashboard(ctx context.Context, id int, payload map[string]any) (map[string]any, error)
}

// Options configures one import run.
type Options struct {
	BundleDir string
	DBMap     *mapping.DatabaseMap
	Conflict  domain.ConflictStrategy

	// RootCollection is the target collection the bundle lands under.
	// 0 means the instance root.
	RootCollection int

	// Store, when set, persists the source-to-target ID map across runs
	// keyed by TargetURL.
	Store     *state.Store
	TargetURL string
}

// PreflightError aborts an import before any write reaches the target.
type PreflightError struct {
	Problems []string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("import preflight failed:\n  %s", strings.Join(e.Problems, "\n  "))
}

// Importer applies bundles to one target instance.
type Importer struct {
	tgt  TargetAPI
	opts Options

	m      *manifest.Manifest
	ids    *mapping.Table
	colMap map[int]int // source collection ID -> target collection ID

	// itemIndex caches target collection listings: collection ID ->
	// model -> name -> target item ID.
	itemIndex map[int]map[string]map[string]int

	report *Report
}

// New returns an importer for the given target.
func New(tgt TargetAPI, opts Options) *Importer {
	if opts.Conflict == "" {
		opts.Conflict = domain.ConflictSkip
	}
	return &Importer{tgt: tgt, opts: opts}
}

// Run applies the bundle and returns the per-item report. A returned error
// means the run aborted before touching content; item-level failures are
// reported in the Report instead.
func (imp *Importer) Run(ctx context.Context) (*Report, error) {
	if err := imp.prepare(ctx); err != nil {
		return nil, err
	}

	var run *state.Run
	if imp.opts.Store != nil {
		var err error
		run, err = imp.opts.Store.BeginRun("import", imp.opts.BundleDir, imp.m.Meta.ManifestRev)
		if err != nil {
			return nil, err
		}
		imp.report.RunID = run.ID
	}

	if err := imp.importCollections(ctx); err != nil {
		return nil, imp.finishRun(run, err)
	}
	imp.importCards(ctx)
	imp.importDashboards(ctx)

	imp.report.FinishedAt = formatTimestamp(time.Now())
	if _, err := imp.report.Write(); err != nil {
		imp.report.warnf("failed to write report: %v", err)
	}
	return imp.report, imp.finishRun(run, nil)
}

func (imp *Importer) finishRun(run *state.Run, cause error) error {
	if run == nil {
		return cause
	}
	status := "completed"
	detail := imp.report.Detail()
	if cause != nil {
		status = "failed"
		detail = cause.Error()
	} else if imp.report.Failed() {
		status = "failed"
	}
	if err := imp.opts.Store.FinishRun(run.ID, status, detail); err != nil && cause == nil {
		return err
	}
	return cause
}

// prepare loads the manifest, builds the identifier mapping against the live
// target schema, and rejects the run when a database an exported card needs
// has no target counterpart.
func (imp *Importer) prepare(ctx context.Context) error {
	m, err := manifest.ReadFile(imp.opts.BundleDir)
	if err != nil {
		return err
	}
	imp.m = m
	imp.report = &Report{
		RunID:       uuid.NewString(),
		BundleDir:   imp.opts.BundleDir,
		ManifestRev: m.Meta.ManifestRev,
		TargetURL:   imp.opts.TargetURL,
		StartedAt:   formatTimestamp(time.Now()),
	}

	srcCat := manifest.CatalogFromDatabases(m.Databases)
	tgtCat, err := imp.buildTargetCatalog(ctx)
	if err != nil {
		return err
	}

	dbMap := imp.opts.DBMap
	if dbMap == nil {
		dbMap = &mapping.DatabaseMap{}
	}
	imp.ids = mapping.Build(srcCat, tgtCat, dbMap)

	if err := imp.preflight(srcCat, tgtCat); err != nil {
		return err
	}

	for _, miss := range imp.ids.Misses() {
		imp.report.warnf("%v", miss)
	}

	// Cards created by earlier runs against this target are reused, not
	// duplicated.
	if imp.opts.Store != nil && imp.opts.TargetURL != "" {
		saved, err := imp.opts.Store.Mappings(imp.opts.TargetURL, string(domain.EntityCard))
		if err != nil {
			return err
		}
		for src, tgt := range saved {
			imp.ids.SetCard(src, tgt)
		}
	}

	imp.colMap = make(map[int]int)
	imp.itemIndex = make(map[int]map[string]map[string]int)
	return nil
}

func (imp *Importer) buildTargetCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat := catalog.New()
	dbs, err := imp.tgt.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		cat.Record(catalog.KindDatabase, db.Name, 0, db.ID)
		meta, err := imp.tgt.GetDatabaseMetadata(ctx, db.ID)
		if err != nil {
			return nil, fmt.Errorf("target database %q: %w", db.Name, err)
		}
		for _, tbl := range meta.Tables {
			cat.Record(catalog.KindTable, tbl.Name, db.ID, tbl.ID)
			for _, fld := range tbl.Fields {
				cat.Record(catalog.KindField, fld.Name, tbl.ID, fld.ID)
			}
		}
	}
	return cat, nil
}

// preflight rejects the run before any write when the database map points at
// a target database that does not exist, or when an unmapped source database
// still has cards depending on it. An unmapped database nothing references
// is only a warning.
func (imp *Importer) preflight(srcCat, tgtCat *catalog.Catalog) error {
	var problems []string

	mapped := imp.ids.Databases()
	srcIDs := make([]int, 0, len(mapped))
	for srcID := range mapped {
		srcIDs = append(srcIDs, srcID)
	}
	sort.Ints(srcIDs)
	for _, srcID := range srcIDs {
		tgtID := mapped[srcID]
		if _, ok := tgtCat.ByID(catalog.KindDatabase, tgtID); ok {
			continue
		}
		name := fmt.Sprintf("database %d", srcID)
		if dbName := imp.ids.DatabaseName(srcID); dbName != "" {
			name = fmt.Sprintf("database %d %q", srcID, dbName)
		}
		problems = append(problems, fmt.Sprintf("%s maps to target database %d, which does not exist on the target", name, tgtID))
	}

	for _, dbID := range imp.ids.UnmappedDatabases() {
		var dependents []string
		for _, card := range imp.m.Cards {
			if card.DatabaseID == dbID {
				dependents = append(dependents, fmt.Sprintf("card %d %q", card.ID, card.Name))
			}
		}
		name := fmt.Sprintf("database %d", dbID)
		if entry, ok := srcCat.ByID(catalog.KindDatabase, dbID); ok {
			name = fmt.Sprintf("database %d %q", dbID, entry.Name)
		}
		if len(dependents) == 0 {
			imp.report.warnf("%s has no target match but nothing in the bundle uses it", name)
			continue
		}
		sort.Strings(dependents)
		problems = append(problems, fmt.Sprintf("%s has no target match; required by %s", name, strings.Join(dependents, ", ")))
	}
	if len(problems) > 0 {
		return &PreflightError{Problems: problems}
	}
	return nil
}

// importCollections creates the collection tree, parents first. Existing
// target collections with the same name under the same parent are reused.
func (imp *Importer) importCollections(ctx context.Context) error {
	existing, err := imp.targetCollectionIndex(ctx)
	if err != nil {
		return err
	}

	pending := make([]manifest.CollectionEntry, len(imp.m.Collections))
	copy(pending, imp.m.Collections)

	for len(pending) > 0 {
		progressed := false
		var next []manifest.CollectionEntry
		for _, col := range pending {
			targetParent, ok := imp.targetParent(col)
			if !ok {
				next = append(next, col)
				continue
			}
			progressed = true

			if tgtID, found := existing[collectionKey{parent: targetParent, name: col.Name}]; found {
				imp.colMap[col.ID] = tgtID
				imp.report.add(ItemResult{
					Type: domain.EntityCollection, SourceID: col.ID, TargetID: tgtID,
					Name: col.Name, Status: domain.StatusSkipped,
				})
				continue
			}

			payload := map[string]any{"name": col.Name}
			if col.Description != "" {
				payload["description"] = col.Description
			}
			if targetParent != 0 {
				payload["parent_id"] = targetParent
			}
			tgtID, err := imp.tgt.CreateCollection(ctx, payload)
			if err != nil {
				return fmt.Errorf("create collection %q: %w", col.Name, err)
			}
			imp.colMap[col.ID] = tgtID
			existing[collectionKey{parent: targetParent, name: col.Name}] = tgtID
			imp.report.add(ItemResult{
				Type: domain.EntityCollection, SourceID: col.ID, TargetID: tgtID,
				Name: col.Name, Status: domain.StatusCreated,
			})
		}
		if !progressed {
			var names []string
			for _, col := range next {
				names = append(names, col.Name)
			}
			return fmt.Errorf("collection tree has unresolvable parents: %s", strings.Join(names, ", "))
		}
		pending = next
	}
	return nil
}

type collectionKey struct {
	parent int
	name   string
}

func (imp *Importer) targetCollectionIndex(ctx context.Context) (map[collectionKey]int, error) {
	all, err := imp.tgt.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[collectionKey]int, len(all))
	for _, col := range all {
		if int(col.ID) == 0 {
			continue
		}
		index[collectionKey{parent: col.ParentID(), name: col.Name}] = int(col.ID)
	}
	return index, nil
}

// targetParent resolves where a manifest collection lands in the target
// tree. Bundles re-root under RootCollection.
func (imp *Importer) targetParent(col manifest.CollectionEntry) (int, bool) {
	if col.ParentID == nil {
		return imp.opts.RootCollection, true
	}
	tgt, ok := imp.colMap[*col.ParentID]
	return tgt, ok
}

// targetCollection maps a source collection reference to the target
// collection an item should land in.
func (imp *Importer) targetCollection(srcID *int) int {
	if srcID == nil {
		return imp.opts.RootCollection
	}
	if tgt, ok := imp.colMap[*srcID]; ok {
		return tgt
	}
	return imp.opts.RootCollection
}

// findExisting looks up a target item by name within a collection, caching
// listings per collection.
func (imp *Importer) findExisting(ctx context.Context, collectionID int, model, name string) (int, bool, error) {
	byModel, ok := imp.itemIndex[collectionID]
	if !ok {
		items, err := imp.tgt.ListCollectionItems(ctx, collectionID, "card", "dashboard")
		if err != nil {
			return 0, false, fmt.Errorf("list target collection %d: %w", collectionID, err)
		}
		byModel = make(map[string]map[string]int)
		for _, item := range items {
			m := item.Model
			if m == "dataset" {
				m = "card"
			}
			if byModel[m] == nil {
				byModel[m] = make(map[string]int)
			}
			byModel[m][item.Name] = item.ID
		}
		imp.itemIndex[collectionID] = byModel
	}
	id, found := byModel[model][name]
	return id, found, nil
}

func (imp *Importer) rememberItem(collectionID int, model, name string, id int) {
	byModel := imp.itemIndex[collectionID]
	if byModel == nil {
		return
	}
	if byModel[model] == nil {
		byModel[model] = make(map[string]int)
	}
	byModel[model][name] = id
}

// readPayload loads and checksum-verifies one item file from the bundle.
func (imp *Importer) readPayload(file, checksum string) (map[string]any, error) {
	path := filepath.Join(imp.opts.BundleDir, filepath.FromSlash(file))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if err := manifest.VerifyPayload(file, data, checksum); err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return payload, nil
}

// renamed derives the name used by the rename conflict strategy.
func renamed(name string) string {
	return name + " (imported)"
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
