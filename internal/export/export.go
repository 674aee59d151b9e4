// Package export walks a source instance and writes a self-contained bundle:
// per-item JSON payloads plus a checksummed manifest. The bundle includes the
// dependency closure of every exported card, so an import never references a
// card the bundle does not carry.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/harlier/metamove/internal/catalog"
	"github.com/harlier/metamove/internal/client"
	"github.com/harlier/metamove/internal/depgraph"
	"github.com/harlier/metamove/internal/manifest"
	"github.com/harlier/metamove/internal/query"
)

// SourceAPI is the slice of the client an export needs. *client.Client
// satisfies it; tests substitute a fake.
type SourceAPI interface {
	ListDatabases(ctx context.Context) ([]client.Database, error)
	GetDatabaseMetadata(ctx context.Context, id int) (*client.DatabaseMetadata, error)
	ListCollections(ctx context.Context) ([]client.Collection, error)
	ListCollectionItems(ctx context.Context, collectionID int, models ...string) ([]client.CollectionItem, error)
	GetCard(ctx context.Context, id int) (map[string]any, error)
	GetDashboard(ctx context.Context, id int) (map[string]any, error)
}

// Options configures one export run.
type Options struct {
	// CollectionIDs restricts the export to these collections and their
	// descendants. Empty means every collection.
	CollectionIDs []int
	// IncludeArchived also exports archived collections and their content.
	IncludeArchived bool
}

// Result summarizes a completed export.
type Result struct {
	BundleDir       string   `json:"bundle_dir"`
	ManifestRev     string   `json:"manifest_rev"`
	DatabaseCount   int      `json:"databases"`
	CollectionCount int      `json:"collections"`
	CardCount       int      `json:"cards"`
	DashboardCount  int      `json:"dashboards"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Exporter writes bundles from one source instance.
type Exporter struct {
	src         SourceAPI
	dir         string
	sourceURL   string
	toolVersion string

	cards        map[int]manifest.CardEntry
	dashboards   map[int]manifest.DashboardEntry
	dependencies map[string][]int
	failed       map[int]bool // card fetches that failed; never retried
	warnings     []string
}

// New returns an exporter writing into dir.
func New(src SourceAPI, dir, sourceURL, toolVersion string) *Exporter {
	return &Exporter{
		src:         src,
		dir:         dir,
		sourceURL:   sourceURL,
		toolVersion: toolVersion,
	}
}

// Run performs the export and writes the manifest last, so a bundle with a
// manifest is always complete.
func (e *Exporter) Run(ctx context.Context, opts Options) (*Result, error) {
	e.cards = make(map[int]manifest.CardEntry)
	e.dashboards = make(map[int]manifest.DashboardEntry)
	e.dependencies = make(map[string][]int)
	e.failed = make(map[int]bool)
	e.warnings = nil

	cat, err := e.buildCatalog(ctx)
	if err != nil {
		return nil, err
	}

	collections, err := e.selectCollections(ctx, opts)
	if err != nil {
		return nil, err
	}

	selected := make(map[int]bool, len(collections))
	for _, col := range collections {
		selected[int(col.ID)] = true
	}

	for _, col := range collections {
		items, err := e.src.ListCollectionItems(ctx, int(col.ID), "card", "dashboard")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			switch item.Model {
			case "card", "dataset":
				if err := e.exportCard(ctx, item.ID, false); err != nil {
					return nil, err
				}
			case "dashboard":
				if err := e.exportDashboard(ctx, item.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	// Close over card dependencies. Cards pulled in here live outside the
	// selected collections; they are still part of the bundle so imports
	// stay self-contained.
	if err := e.closeDependencies(ctx); err != nil {
		return nil, err
	}
	e.checkCycles()

	m := &manifest.Manifest{
		Meta: manifest.Meta{
			SchemaVersion: manifest.SchemaVersion,
			GeneratedAt:   manifest.FormatTimestamp(time.Now()),
			SourceURL:     e.sourceURL,
			ToolVersion:   e.toolVersion,
		},
		Databases:    manifest.DatabasesFromCatalog(cat),
		Dependencies: e.dependencies,
	}
	for _, col := range collections {
		entry := manifest.CollectionEntry{
			ID:          int(col.ID),
			Name:        col.Name,
			Slug:        col.Slug,
			Description: col.Description,
			Archived:    col.Archived,
		}
		// A parent outside the selection is dropped: the collection
		// re-roots under the import destination.
		if parent := col.ParentID(); parent != 0 && selected[parent] {
			p := parent
			entry.ParentID = &p
		}
		m.Collections = append(m.Collections, entry)
	}
	for _, card := range e.cards {
		m.Cards = append(m.Cards, card)
	}
	for _, dash := range e.dashboards {
		m.Dashboards = append(m.Dashboards, dash)
	}

	rev, err := manifest.WriteFile(e.dir, m)
	if err != nil {
		return nil, err
	}

	return &Result{
		BundleDir:       e.dir,
		ManifestRev:     rev,
		DatabaseCount:   len(m.Databases),
		CollectionCount: len(m.Collections),
		CardCount:       len(m.Cards),
		DashboardCount:  len(m.Dashboards),
		Warnings:        e.warnings,
	}, nil
}

// buildCatalog fetches every database's schema into a catalog for the
// manifest.
func (e *Exporter) buildCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cat := catalog.New()
	dbs, err := e.src.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	for _, db := range dbs {
		cat.Record(catalog.KindDatabase, db.Name, 0, db.ID)
		meta, err := e.src.GetDatabaseMetadata(ctx, db.ID)
		if err != nil {
			return nil, fmt.Errorf("database %q: %w", db.Name, err)
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

// selectCollections returns the collections to export, parents before
// children.
func (e *Exporter) selectCollections(ctx context.Context, opts Options) ([]client.Collection, error) {
	all, err := e.src.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]client.Collection, len(all))
	children := make(map[int][]int)
	for _, col := range all {
		if int(col.ID) == 0 {
			// The root pseudo-collection is the destination, not content.
			continue
		}
		byID[int(col.ID)] = col
		children[col.ParentID()] = append(children[col.ParentID()], int(col.ID))
	}
	for _, ids := range children {
		sort.Ints(ids)
	}

	roots := opts.CollectionIDs
	if len(roots) == 0 {
		roots = children[0]
	}

	var out []client.Collection
	seen := make(map[int]bool)
	var walk func(id int)
	walk = func(id int) {
		if seen[id] {
			return
		}
		seen[id] = true
		col, ok := byID[id]
		if !ok {
			e.warnf("collection %d not found, skipping", id)
			return
		}
		if col.Archived && !opts.IncludeArchived {
			return
		}
		out = append(out, col)
		for _, child := range children[id] {
			walk(child)
		}
	}
	for _, id := range roots {
		walk(id)
	}
	return out, nil
}

// exportCard fetches and writes one card. A failed fetch is contained: the
// card is recorded as failed and skipped, leaving the rest of the run
// intact.
func (e *Exporter) exportCard(ctx context.Context, id int, isDependency bool) error {
	if _, done := e.cards[id]; done {
		return nil
	}
	if e.failed[id] {
		return nil
	}

	payload, err := e.src.GetCard(ctx, id)
	if err != nil {
		e.failed[id] = true
		e.warnf("card %d: %v; items depending on it may fail to import", id, err)
		return nil
	}

	file := filepath.Join("cards", fmt.Sprintf("%d.json", id))
	sum, err := e.writePayload(file, payload)
	if err != nil {
		return err
	}

	entry := manifest.CardEntry{
		ID:       id,
		Name:     str(payload["name"]),
		Model:    str(payload["type"]),
		File:     filepath.ToSlash(file),
		Checksum: sum,
	}
	if dbID, ok := asInt(payload["database_id"]); ok {
		entry.DatabaseID = dbID
	}
	if colID, ok := asInt(payload["collection_id"]); ok {
		entry.CollectionID = &colID
	}
	e.cards[id] = entry
	slog.Debug("exported card", slog.Int("id", id), slog.String("name", entry.Name))

	if isDependency {
		e.warnf("card %d %q pulled in as a dependency from outside the selected collections", id, entry.Name)
	}

	if deps := query.Dependencies(payload); len(deps) > 0 {
		e.dependencies[manifest.DependencyKey(id)] = deps
	}
	return nil
}

func (e *Exporter) exportDashboard(ctx context.Context, id int) error {
	if _, done := e.dashboards[id]; done {
		return nil
	}

	payload, err := e.src.GetDashboard(ctx, id)
	if err != nil {
		e.warnf("dashboard %d: %v", id, err)
		return nil
	}

	file := filepath.Join("dashboards", fmt.Sprintf("%d.json", id))
	sum, err := e.writePayload(file, payload)
	if err != nil {
		return err
	}

	entry := manifest.DashboardEntry{
		ID:       id,
		Name:     str(payload["name"]),
		File:     filepath.ToSlash(file),
		Checksum: sum,
	}
	if colID, ok := asInt(payload["collection_id"]); ok {
		entry.CollectionID = &colID
	}
	e.dashboards[id] = entry

	// A dashboard's cards must travel with it.
	for _, cardID := range dashboardCardIDs(payload) {
		if err := e.exportCard(ctx, cardID, false); err != nil {
			return err
		}
	}
	return nil
}

// closeDependencies exports cards referenced by exported queries until the
// set is closed.
func (e *Exporter) closeDependencies(ctx context.Context) error {
	for {
		var missing []int
		for _, deps := range e.dependencies {
			for _, dep := range deps {
				if e.failed[dep] {
					continue
				}
				if _, done := e.cards[dep]; !done {
					missing = append(missing, dep)
				}
			}
		}
		if len(missing) == 0 {
			return nil
		}
		sort.Ints(missing)
		for _, id := range missing {
			if err := e.exportCard(ctx, id, true); err != nil {
				return err
			}
		}
	}
}

func (e *Exporter) checkCycles() {
	ids := make([]int, 0, len(e.cards))
	for id := range e.cards {
		ids = append(ids, id)
	}
	src := depgraph.SourceFunc(func(id int) ([]int, error) {
		return e.dependencies[manifest.DependencyKey(id)], nil
	})
	_, cycles, err := depgraph.Closure(src, ids)
	if err != nil {
		e.warnf("dependency check: %v", err)
		return
	}
	for _, c := range cycles {
		e.warnf("%v", c)
	}
}

// writePayload writes one item file and returns its checksum.
func (e *Exporter) writePayload(file string, payload map[string]any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", file, err)
	}
	path := filepath.Join(e.dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return manifest.ComputeChecksum(data), nil
}

func (e *Exporter) warnf(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

// dashboardCardIDs collects the card IDs a dashboard references via its
// dashcards, series and parameter sources.
func dashboardCardIDs(payload map[string]any) []int {
	set := make(map[int]struct{})

	cards, _ := payload["dashcards"].([]any)
	if cards == nil {
		// Older payloads call them ordered_cards.
		cards, _ = payload["ordered_cards"].([]any)
	}
	for _, raw := range cards {
		dc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := asInt(dc["card_id"]); ok {
			set[id] = struct{}{}
		}
		series, _ := dc["series"].([]any)
		for _, s := range series {
			sm, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := asInt(sm["id"]); ok {
				set[id] = struct{}{}
			}
		}
	}

	params, _ := payload["parameters"].([]any)
	for _, raw := range params {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cfg, ok := p["values_source_config"].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := asInt(cfg["card_id"]); ok {
			set[id] = struct{}{}
		}
	}

	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
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
