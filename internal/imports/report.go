package imports

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/harlier/metamove/internal/domain"
)

// ItemResult records the outcome of one imported item.
type ItemResult struct {
	Type     domain.EntityType `json:"type"`
	SourceID int               `json:"source_id"`
	TargetID int               `json:"target_id,omitempty"`
	Name     string            `json:"name"`
	Status   domain.ItemStatus `json:"status"`
	Error    string            `json:"error,omitempty"`
}

// Summary counts item outcomes.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Report is the full record of one import run. It is written into the
// bundle's reports directory and returned to the caller.
type Report struct {
	RunID       string       `json:"run_id"`
	BundleDir   string       `json:"bundle_dir"`
	ManifestRev string       `json:"manifest_rev"`
	TargetURL   string       `json:"target_url,omitempty"`
	StartedAt   string       `json:"started_at"`
	FinishedAt  string       `json:"finished_at"`
	Items       []ItemResult `json:"items"`
	Summary     Summary      `json:"summary"`
	Warnings    []string     `json:"warnings,omitempty"`
}

func (r *Report) add(item ItemResult) {
	r.Items = append(r.Items, item)
	switch item.Status {
	case domain.StatusCreated:
		r.Summary.Created++
	case domain.StatusUpdated:
		r.Summary.Updated++
	case domain.StatusSkipped:
		r.Summary.Skipped++
	case domain.StatusFailed:
		r.Summary.Failed++
	}
	slog.Debug("imported item",
		slog.String("type", string(item.Type)),
		slog.Int("source_id", item.SourceID),
		slog.String("status", string(item.Status)),
		slog.String("name", item.Name))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Write persists the report as JSON under the bundle's reports directory
// and returns the file path.
func (r *Report) Write() (string, error) {
	dir := filepath.Join(r.BundleDir, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run-%s.json", r.RunID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Failed reports whether any item failed.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0
}

// Detail renders the one-line summary recorded in run history.
func (r *Report) Detail() string {
	return fmt.Sprintf("%d created, %d updated, %d skipped, %d failed",
		r.Summary.Created, r.Summary.Updated, r.Summary.Skipped, r.Summary.Failed)
}
