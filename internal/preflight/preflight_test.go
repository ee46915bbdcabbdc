package preflight

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"animeindex/internal/config"
	"animeindex/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	r := CheckDirectoryAccess("Test", dir)
	if !r.Passed {
		t.Fatalf("expected pass, got: %s", r.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	r := CheckDirectoryAccess("Test", "/nonexistent/path/abc123")
	if r.Passed {
		t.Fatal("expected failure for nonexistent path")
	}
	if !strings.Contains(r.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", r.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := CheckDirectoryAccess("Test", f)
	if r.Passed {
		t.Fatal("expected failure for non-directory")
	}
}

func TestLaneSources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	got := LaneSources(cfg, []string{config.KindResolveID, config.KindFetchFacts, config.KindGenerateScore})
	want := []string{config.SourceAniList, config.SourceJikan, config.SourceTMDB, "llm"}
	if !slices.Equal(got, want) {
		t.Fatalf("LaneSources = %v, want %v", got, want)
	}
	if got := LaneSources(cfg, []string{config.KindCheckAvailability}); !slices.Equal(got, []string{config.SourceTMDB}) {
		t.Fatalf("availability sources = %v", got)
	}
}

func TestRunAllReportsMissingCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTMDBKey(""))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(cfg, []string{config.KindResolveID})
	if len(results) != 5 {
		t.Fatalf("expected 2 directory and 3 source results, got %+v", results)
	}
	err := Err(results)
	if err == nil || !strings.Contains(err.Error(), "tmdb.api_key is required") {
		t.Fatalf("expected tmdb credential error, got %v", err)
	}

	if err := Err(RunAll(cfg, []string{config.KindFetchFacts})); err != nil {
		t.Fatalf("anilist facts need no credentials: %v", err)
	}
}

func TestRunAllDefaultsToLaneKinds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.LLM.APIKey = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	err := Err(RunAll(cfg, nil))
	if err == nil || !strings.Contains(err.Error(), "llm") {
		t.Fatalf("expected scoring lane to need llm credentials, got %v", err)
	}
}
