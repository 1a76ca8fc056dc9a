package engine

import (
	"context"
	"testing"
	"time"

	"github.com/breezedrive/breezedrive/pkg/models"
)

func waitForSearchDone(t *testing.T, e *Engine) []*models.FileItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results, searching := e.SearchResults()
		if !searching {
			return results
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("backend search did not complete")
	return nil
}

func TestSearchTwoPhases(t *testing.T) {
	e, backend := newTestEngine(t)

	// A backend-only hit in a folder the client never loaded.
	backend.searchHits["d2"] = []*models.FileItem{
		{ID: "srv-deep", Name: "report-archive.pdf", Kind: models.KindDocument, ParentID: "f10", DiskID: "d2"},
	}

	e.Search(context.Background(), "report")

	// Phase one is synchronous: the loaded tree already matches.
	results, searching := e.SearchResults()
	if !searching {
		t.Error("backend phase should be pending right after Search")
	}
	if len(results) != 1 || results[0].ID != "f6" {
		t.Fatalf("local phase results = %v", ids(results))
	}

	// Phase two merges the backend hit without duplicating f6.
	final := waitForSearchDone(t, e)
	got := ids(final)
	if len(final) != 2 || !got["f6"] || !got["srv-deep"] {
		t.Errorf("merged results = %v", got)
	}
}

func TestSearchDedupesBackendOverlap(t *testing.T) {
	e, backend := newTestEngine(t)

	// The backend also returns an item the local phase already found.
	backend.searchHits["d1"] = []*models.FileItem{
		{ID: "f6", Name: "report.md", Kind: models.KindNote, ParentID: "f5", DiskID: "d1"},
	}

	e.Search(context.Background(), "report")
	final := waitForSearchDone(t, e)
	if len(final) != 1 || final[0].ID != "f6" {
		t.Errorf("results = %v", ids(final))
	}
}

func TestSearchEmptyQueryClears(t *testing.T) {
	e, _ := newTestEngine(t)

	e.Search(context.Background(), "report")
	waitForSearchDone(t, e)

	e.Search(context.Background(), "")
	results, searching := e.SearchResults()
	if searching {
		t.Error("empty query should clear synchronously")
	}
	if len(results) != 0 {
		t.Errorf("results = %v", ids(results))
	}
}

func TestSearchNewQuerySupersedesOld(t *testing.T) {
	e, backend := newTestEngine(t)
	backend.searchHits["d1"] = []*models.FileItem{
		{ID: "srv-a", Name: "report-a.pdf", Kind: models.KindDocument, DiskID: "d1"},
		{ID: "srv-b", Name: "photo-b.png", Kind: models.KindPicture, DiskID: "d1"},
	}

	e.Search(context.Background(), "report")
	e.Search(context.Background(), "photo")

	final := waitForSearchDone(t, e)
	got := ids(final)
	if got["srv-a"] || got["f6"] {
		t.Errorf("stale query results leaked: %v", got)
	}
	if !got["srv-b"] || !got["f8"] {
		t.Errorf("results = %v", got)
	}
}

func TestSearchCachedIsLocalOnly(t *testing.T) {
	e, backend := newTestEngine(t)
	backend.searchHits["d1"] = []*models.FileItem{
		{ID: "srv-x", Name: "report-x.pdf", Kind: models.KindDocument, DiskID: "d1"},
	}

	results := e.SearchCached("report")
	got := ids(results)
	if !got["f6"] || got["srv-x"] {
		t.Errorf("cached search results = %v", got)
	}
	if _, searching := e.SearchResults(); searching {
		t.Error("SearchCached must not start a backend search")
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	e, _ := newTestEngine(t)
	results := e.SearchCached("REPORT")
	if len(results) != 1 || results[0].ID != "f6" {
		t.Errorf("results = %v", ids(results))
	}
}

func ids(items []*models.FileItem) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item.ID] = true
	}
	return out
}
