package state

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "metamove.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	var count int
	if err := s.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied migrations = %d, want 1", count)
	}
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metamove.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	// Reopening must not re-run migrations.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	run, err := s.BeginRun("import", "export/finance", "sha256:abc")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if run.ID == "" || run.Status != "running" {
		t.Fatalf("run = %+v", run)
	}

	if err := s.FinishRun(run.ID, "completed", "12 created, 3 skipped"); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != "completed" || got.FinishedAt == "" {
		t.Fatalf("run = %+v", got)
	}
	if got.Detail != "12 created, 3 skipped" {
		t.Fatalf("detail = %q", got.Detail)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := openTestStore(t)
	if err := s.FinishRun("no-such-run", "failed", ""); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestMappingUpsert(t *testing.T) {
	s := openTestStore(t)
	target := "https://bi.target.example"

	run, err := s.BeginRun("import", "export", "")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	if err := s.SaveMapping(target, "card", 50, 500, run.ID); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	id, ok, err := s.LookupMapping(target, "card", 50)
	if err != nil || !ok || id != 500 {
		t.Fatalf("LookupMapping = %d, %v, %v", id, ok, err)
	}

	// Re-saving overwrites.
	if err := s.SaveMapping(target, "card", 50, 501, run.ID); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	id, ok, err = s.LookupMapping(target, "card", 50)
	if err != nil || !ok || id != 501 {
		t.Fatalf("LookupMapping after upsert = %d, %v, %v", id, ok, err)
	}
}

func TestMappingScopedByTargetAndType(t *testing.T) {
	s := openTestStore(t)
	run, _ := s.BeginRun("import", "export", "")

	s.SaveMapping("https://a.example", "card", 50, 500, run.ID)
	s.SaveMapping("https://b.example", "card", 50, 900, run.ID)
	s.SaveMapping("https://a.example", "collection", 50, 7, run.ID)

	id, ok, _ := s.LookupMapping("https://a.example", "card", 50)
	if !ok || id != 500 {
		t.Fatalf("a/card = %d, %v", id, ok)
	}
	id, ok, _ = s.LookupMapping("https://b.example", "card", 50)
	if !ok || id != 900 {
		t.Fatalf("b/card = %d, %v", id, ok)
	}

	all, err := s.Mappings("https://a.example", "card")
	if err != nil {
		t.Fatalf("Mappings: %v", err)
	}
	if len(all) != 1 || all[50] != 500 {
		t.Fatalf("mappings = %v", all)
	}

	_, ok, _ = s.LookupMapping("https://a.example", "dashboard", 50)
	if ok {
		t.Fatal("unexpected dashboard mapping")
	}
}
