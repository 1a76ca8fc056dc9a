package tree

import (
	"testing"

	"github.com/breezedrive/breezedrive/pkg/models"
)

func item(id, parentID string, folder bool) *models.FileItem {
	return &models.FileItem{ID: id, Name: id, ParentID: parentID, IsFolder: folder, DiskID: "d1"}
}

func TestBuildNests(t *testing.T) {
	flat := []*models.FileItem{
		item("root", "", true),
		item("a", "root", false),
		item("sub", "root", true),
		item("b", "sub", false),
	}

	roots := Build(flat)
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	root := roots[0]
	if len(root.Children) != 2 {
		t.Fatalf("root has %d children, want 2", len(root.Children))
	}
	if root.Children[0].ID != "a" || root.Children[1].ID != "sub" {
		t.Errorf("child order not preserved: %s, %s", root.Children[0].ID, root.Children[1].ID)
	}
	if len(root.Children[1].Children) != 1 || root.Children[1].Children[0].ID != "b" {
		t.Error("nested child missing")
	}
}

func TestBuildEmptyFolderHasChildrenSlice(t *testing.T) {
	roots := Build([]*models.FileItem{item("f", "", true)})
	if roots[0].Children == nil {
		t.Error("folder should carry a non-nil Children slice")
	}
}

func TestBuildPromotesOrphans(t *testing.T) {
	flat := []*models.FileItem{
		item("a", "missing-parent", false),
		item("b", "", true),
	}
	roots := Build(flat)
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2 (orphan promoted)", len(roots))
	}
}

func TestBuildBreaksCycles(t *testing.T) {
	flat := []*models.FileItem{
		item("x", "y", true),
		item("y", "x", true),
		item("leaf", "y", false),
		item("self", "self", true),
	}
	roots := Build(flat)

	flatAgain := Flatten(roots)
	if len(flatAgain) != len(flat) {
		t.Fatalf("cycle dropped items: got %d, want %d", len(flatAgain), len(flat))
	}
}

func TestRoundTrip(t *testing.T) {
	flat := []*models.FileItem{
		item("r1", "", true),
		item("r2", "", false),
		item("c1", "r1", true),
		item("c2", "c1", false),
		item("orphan", "gone", false),
	}

	out := Flatten(Build(flat))
	if len(out) != len(flat) {
		t.Fatalf("round trip changed count: got %d, want %d", len(out), len(flat))
	}
	want := make(map[string]*models.FileItem)
	for _, it := range flat {
		want[it.ID] = it
	}
	for _, got := range out {
		orig, ok := want[got.ID]
		if !ok {
			t.Fatalf("round trip invented item %q", got.ID)
		}
		if got.Children != nil {
			t.Errorf("flat item %q has children", got.ID)
		}
		if got.Name != orig.Name || got.IsFolder != orig.IsFolder || got.DiskID != orig.DiskID {
			t.Errorf("item %q fields changed in round trip", got.ID)
		}
		delete(want, got.ID)
	}
	if len(want) != 0 {
		t.Errorf("round trip dropped %d items", len(want))
	}
}

func TestClosure(t *testing.T) {
	flat := []*models.FileItem{
		item("top", "", true),
		item("mid", "top", true),
		item("deep", "mid", true),
		item("leaf", "deep", false),
		item("other", "", false),
	}

	set := Closure(flat, []string{"mid"})
	for _, id := range []string{"mid", "deep", "leaf"} {
		if !set[id] {
			t.Errorf("closure missing %q", id)
		}
	}
	if set["top"] || set["other"] {
		t.Error("closure included non-descendants")
	}
}

func TestClosureTerminatesOnCycle(t *testing.T) {
	flat := []*models.FileItem{
		item("x", "y", true),
		item("y", "x", true),
	}
	set := Closure(flat, []string{"x"})
	if !set["x"] || !set["y"] {
		t.Error("closure over cycle incomplete")
	}
}

func TestPathTo(t *testing.T) {
	flat := []*models.FileItem{
		item("root", "", true),
		item("docs", "root", true),
		item("file", "docs", false),
	}

	got := PathTo(flat, "file")
	if len(got) != 2 || got[0] != "root" || got[1] != "docs" {
		t.Errorf("PathTo = %v, want [root docs]", got)
	}
	if PathTo(flat, "root") != nil {
		t.Error("root item should have empty path")
	}
	if PathTo(flat, "nope") != nil {
		t.Error("unknown id should return nil")
	}
}

func TestFindByID(t *testing.T) {
	roots := Build([]*models.FileItem{
		item("root", "", true),
		item("inner", "root", false),
	})
	if FindByID(roots, "inner") == nil {
		t.Error("FindByID(inner) = nil")
	}
	if FindByID(roots, "missing") != nil {
		t.Error("FindByID(missing) != nil")
	}
}
