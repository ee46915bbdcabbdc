package main

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"animeindex/internal/api"
	"animeindex/internal/catalog"
	"animeindex/internal/testsupport"
)

func TestCatalogAddSetLinkShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out := env.run(t, "catalog", "add", "Mushishi")
	requireContains(t, out, "Added work 1: Mushishi")

	out = env.run(t, "catalog", "set", "1", "episodes", "26")
	requireContains(t, out, "Set episodes on work 1")
	out = env.run(t, "catalog", "set", "1", "studio", "Artland")
	requireContains(t, out, "Set studio on work 1")

	out = env.run(t, "catalog", "link", "1", "JIKAN", "457")
	requireContains(t, out, "Link jikan:457 on work 1 created")

	out = env.run(t, "catalog", "show", "1", "--json")
	var resp api.WorkResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode show output: %v\n%s", err, out)
	}
	if resp.Work.Title != "Mushishi" || len(resp.Work.Links) != 1 {
		t.Fatalf("unexpected work %+v", resp.Work)
	}
	if link := resp.Work.Links[0]; link.ExternalID != "457" || link.Provenance != string(catalog.ProvenanceManual) {
		t.Fatalf("unexpected link %+v", link)
	}
	values := map[string]string{}
	for _, attr := range resp.Work.Attributes {
		if attr.Provenance != string(catalog.ProvenanceManual) {
			t.Fatalf("expected manual provenance on %s, got %s", attr.Name, attr.Provenance)
		}
		values[attr.Name] = string(attr.Value)
	}
	if values["episodes"] != "26" || values["studio"] != `"Artland"` {
		t.Fatalf("unexpected attribute values %v", values)
	}

	out = env.run(t, "catalog", "show", "1")
	requireContains(t, out, "Work 1: Mushishi")
	requireContains(t, out, "Artland")

	out = env.run(t, "catalog", "unlink", "1", "jikan")
	requireContains(t, out, "Removed jikan link from work 1")
	out = env.run(t, "catalog", "unlink", "1", "jikan")
	requireContains(t, out, "Work 1 has no jikan link")
}

func TestCatalogLinkReportsConflict(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.catalog(t)
	first := testsupport.NewWork(t, store, "Mushishi")
	second := testsupport.NewWork(t, store, "Mushi-Shi")
	if _, err := store.Link(context.Background(), first.ID, "jikan", "457", catalog.ProvenanceAuto); err != nil {
		t.Fatalf("Link: %v", err)
	}

	_, _, err := runCLI(t, []string{"catalog", "link", strconv.FormatInt(second.ID, 10), "jikan", "457"}, env.configPath)
	if err == nil {
		t.Fatal("expected conflicting link to fail")
	}
	requireContains(t, err.Error(), "link refused")
	requireContains(t, err.Error(), "already linked to work 1")
}

func TestCatalogSearchAndCandidates(t *testing.T) {
	env := setupCLITestEnv(t)
	store := env.catalog(t)
	work := testsupport.NewWork(t, store, "Shingeki no Kyojin")
	testsupport.NewWork(t, store, "Mushishi")
	err := store.SaveCandidates(context.Background(), work.ID, "anilist", "shingeki no kyojin", "deferred", []catalog.Candidate{
		{ExternalID: "16498", Names: []string{"Attack on Titan"}, Score: 0.91},
		{ExternalID: "20958", Names: []string{"Attack on Titan Season 2"}, Score: 0.88},
	})
	if err != nil {
		t.Fatalf("SaveCandidates: %v", err)
	}

	out := env.run(t, "catalog", "search", "kyojin")
	requireContains(t, out, "Shingeki no Kyojin")
	requireNotContains(t, out, "Mushishi")

	out = env.run(t, "catalog", "search", "zzzz")
	requireContains(t, out, "No matches")

	out = env.run(t, "catalog", "candidates", "--outcome", "deferred")
	requireContains(t, out, "16498")
	requireContains(t, out, "Attack on Titan Season 2")

	out = env.run(t, "catalog", "candidates", "--outcome", "duplicate")
	requireContains(t, out, "No candidates")

	// A manual link settles the work and drops its candidates.
	env.run(t, "catalog", "link", strconv.FormatInt(work.ID, 10), "anilist", "16498")
	out = env.run(t, "catalog", "candidates")
	requireContains(t, out, "No candidates")
}
