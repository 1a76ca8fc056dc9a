package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breezedrive/breezedrive/internal/api"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/tree"
)

// fakeBackend is an in-memory Backend. It maintains real flat listings per
// disk so engine re-fetches after mutations observe consistent state.
type fakeBackend struct {
	mu     sync.Mutex
	nextID int
	disks  []*models.Disk
	items  map[string][]*models.FileItem

	failCreate bool
	failUpload bool
	failDelete bool
	failRename bool
	failPin    bool
	failMove   bool
	failCopy   bool

	searchHits  map[string][]*models.FileItem
	uploadCalls int
	deleteCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items:      make(map[string][]*models.FileItem),
		searchHits: make(map[string][]*models.FileItem),
	}
}

func (f *fakeBackend) addDisk(id, name string, totalGB, usedGB float64) {
	f.disks = append(f.disks, &models.Disk{
		ID:   id,
		Name: name,
		Usage: models.Usage{
			Total: totalGB,
			Used:  usedGB,
			Unit:  models.UnitGB,
		},
	})
	f.items[id] = nil
}

func (f *fakeBackend) addItem(item *models.FileItem) {
	f.items[item.DiskID] = append(f.items[item.DiskID], item)
}

func (f *fakeBackend) newID() string {
	f.nextID++
	return fmt.Sprintf("srv-%d", f.nextID)
}

func (f *fakeBackend) closureLocked(diskID string, ids []string) map[string]bool {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	for changed := true; changed; {
		changed = false
		for _, item := range f.items[diskID] {
			if !in[item.ID] && in[item.ParentID] {
				in[item.ID] = true
				changed = true
			}
		}
	}
	return in
}

func (f *fakeBackend) ListDisks(context.Context) ([]*models.Disk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Disk, len(f.disks))
	for i, d := range f.disks {
		c := *d
		c.Files = nil
		out[i] = &c
	}
	return out, nil
}

func (f *fakeBackend) ListFiles(_ context.Context, diskID, parentID string) ([]*models.FileItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FileItem
	for _, item := range f.items[diskID] {
		if item.ParentID == parentID {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (f *fakeBackend) ListAllFiles(_ context.Context, diskID string) ([]*models.FileItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FileItem
	for _, item := range f.items[diskID] {
		out = append(out, item.Clone())
	}
	return out, nil
}

func (f *fakeBackend) GetFile(_ context.Context, id string) (*models.FileItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, items := range f.items {
		for _, item := range items {
			if item.ID == id {
				return item.Clone(), nil
			}
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeBackend) create(name string, kind models.ItemKind, isFolder bool, parentID, diskID string) (*models.FileItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, errors.New("create rejected")
	}
	item := &models.FileItem{
		ID:       f.newID(),
		Name:     name,
		Kind:     kind,
		IsFolder: isFolder,
		ParentID: parentID,
		DiskID:   diskID,
	}
	f.items[diskID] = append(f.items[diskID], item)
	return item.Clone(), nil
}

func (f *fakeBackend) CreateFolder(_ context.Context, name, parentID, diskID string) (*models.FileItem, error) {
	return f.create(name, models.KindFolder, true, parentID, diskID)
}

func (f *fakeBackend) CreateNote(_ context.Context, name, _, parentID, diskID string) (*models.FileItem, error) {
	return f.create(name, models.KindNote, false, parentID, diskID)
}

func (f *fakeBackend) CreateURL(_ context.Context, name, _, parentID, diskID string) (*models.FileItem, error) {
	return f.create(name, models.KindURL, false, parentID, diskID)
}

func (f *fakeBackend) UploadWithPresignedURL(_ context.Context, content []byte, name, diskID, parentID, deviceID string, onProgress func(done, total int64)) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.failUpload {
		return "", errors.New("upload rejected")
	}
	item := &models.FileItem{
		ID:       f.newID(),
		Name:     name,
		Kind:     models.KindForName(name),
		Size:     float64(len(content)),
		SizeUnit: models.UnitB,
		ParentID: parentID,
		DiskID:   diskID,
		DeviceID: deviceID,
	}
	f.items[diskID] = append(f.items[diskID], item)
	if onProgress != nil {
		onProgress(int64(len(content)), int64(len(content)))
	}
	return item.ID, nil
}

func (f *fakeBackend) DeleteFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failDelete {
		return errors.New("delete rejected")
	}
	for diskID, items := range f.items {
		closure := f.closureLocked(diskID, []string{id})
		var next []*models.FileItem
		for _, item := range items {
			if !closure[item.ID] {
				next = append(next, item)
			}
		}
		f.items[diskID] = next
	}
	return nil
}

func (f *fakeBackend) RenameFile(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRename {
		return errors.New("rename rejected")
	}
	for _, items := range f.items {
		for _, item := range items {
			if item.ID == id {
				item.Name = name
			}
		}
	}
	return nil
}

func (f *fakeBackend) PinFile(_ context.Context, id string, pinned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPin {
		return errors.New("pin rejected")
	}
	for _, items := range f.items {
		for _, item := range items {
			if item.ID == id {
				item.IsPinned = pinned
			}
		}
	}
	return nil
}

func (f *fakeBackend) MoveFiles(_ context.Context, req api.TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMove {
		return errors.New("move rejected")
	}
	rootSet := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		rootSet[id] = true
	}
	for diskID, items := range f.items {
		if diskID == req.TargetDiskID {
			continue
		}
		closure := f.closureLocked(diskID, req.IDs)
		var remaining []*models.FileItem
		for _, item := range items {
			if !closure[item.ID] {
				remaining = append(remaining, item)
				continue
			}
			item.DiskID = req.TargetDiskID
			if rootSet[item.ID] {
				item.ParentID = req.TargetParentID
			}
			f.items[req.TargetDiskID] = append(f.items[req.TargetDiskID], item)
		}
		f.items[diskID] = remaining
	}
	for _, item := range f.items[req.TargetDiskID] {
		if rootSet[item.ID] {
			item.ParentID = req.TargetParentID
		}
	}
	return nil
}

func (f *fakeBackend) CopyFiles(_ context.Context, req api.TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCopy {
		return errors.New("copy rejected")
	}
	rootSet := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		rootSet[id] = true
	}
	remap := make(map[string]string)
	var copies []*models.FileItem
	for diskID := range f.items {
		closure := f.closureLocked(diskID, req.IDs)
		for _, item := range f.items[diskID] {
			if !closure[item.ID] {
				continue
			}
			remap[item.ID] = f.newID()
			c := item.Clone()
			c.DiskID = req.TargetDiskID
			copies = append(copies, c)
		}
	}
	for _, c := range copies {
		oldID := c.ID
		c.ID = remap[oldID]
		if rootSet[oldID] {
			c.ParentID = req.TargetParentID
		} else if mapped, ok := remap[c.ParentID]; ok {
			c.ParentID = mapped
		}
		f.items[req.TargetDiskID] = append(f.items[req.TargetDiskID], c)
	}
	return nil
}

func (f *fakeBackend) SearchFiles(_ context.Context, diskID, query string) ([]*models.FileItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FileItem
	for _, item := range f.searchHits[diskID] {
		if strings.Contains(strings.ToLower(item.Name), strings.ToLower(query)) {
			out = append(out, item.Clone())
		}
	}
	return out, nil
}

func (f *fakeBackend) CreateDisk(_ context.Context, name string, total float64, unit models.SizeUnit) (*models.Disk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	disk := &models.Disk{
		ID:    f.newID(),
		Name:  name,
		Usage: models.Usage{Total: total, Unit: unit},
	}
	f.disks = append(f.disks, disk)
	f.items[disk.ID] = nil
	c := *disk
	return &c, nil
}

func (f *fakeBackend) DeleteDisk(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next []*models.Disk
	for _, d := range f.disks {
		if d.ID != id {
			next = append(next, d)
		}
	}
	f.disks = next
	delete(f.items, id)
	return nil
}

func (f *fakeBackend) FormatDisk(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = nil
	return nil
}

func (f *fakeBackend) RenameDisk(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.disks {
		if d.ID == id {
			d.Name = name
		}
	}
	return nil
}

func (f *fakeBackend) ResizeDisk(_ context.Context, id string, total float64, unit models.SizeUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.disks {
		if d.ID == id {
			d.Usage.Total = total
			d.Usage.Unit = unit
		}
	}
	return nil
}

func (f *fakeBackend) MergeDisks(_ context.Context, sourceID, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items[sourceID] {
		item.DiskID = targetID
		f.items[targetID] = append(f.items[targetID], item)
	}
	delete(f.items, sourceID)
	var next []*models.Disk
	for _, d := range f.disks {
		if d.ID != sourceID {
			next = append(next, d)
		}
	}
	f.disks = next
	return nil
}

// newTestEngine seeds two disks:
//
//	d1: folder f5 (children f6 note, f7 folder), file f8 at root
//	d2: folder f10 at root
func newTestEngine(t *testing.T) (*Engine, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	backend.addDisk("d1", "Main", 10, 0)
	backend.addDisk("d2", "Archive", 10, 0)
	backend.addItem(&models.FileItem{ID: "f5", Name: "projects", Kind: models.KindFolder, IsFolder: true, DiskID: "d1"})
	backend.addItem(&models.FileItem{ID: "f6", Name: "report.md", Kind: models.KindNote, Size: 2048, SizeUnit: models.UnitMB, ParentID: "f5", DiskID: "d1"})
	backend.addItem(&models.FileItem{ID: "f7", Name: "drafts", Kind: models.KindFolder, IsFolder: true, ParentID: "f5", DiskID: "d1"})
	backend.addItem(&models.FileItem{ID: "f8", Name: "photo.jpg", Kind: models.KindPicture, Size: 4096, SizeUnit: models.UnitB, DiskID: "d1"})
	backend.addItem(&models.FileItem{ID: "f10", Name: "old", Kind: models.KindFolder, IsFolder: true, DiskID: "d2"})

	e := New(Options{
		Backend:        backend,
		Fingerprint:    "device-test",
		SearchDebounce: 5 * time.Millisecond,
	})
	t.Cleanup(e.Close)

	ctx := context.Background()
	if err := e.LoadDisks(ctx); err != nil {
		t.Fatalf("LoadDisks: %v", err)
	}
	for _, id := range []string{"d1", "d2"} {
		if err := e.RefreshDisk(ctx, id); err != nil {
			t.Fatalf("RefreshDisk(%s): %v", id, err)
		}
	}
	return e, backend
}

func flatIDs(e *Engine, diskID string) map[string]*models.FileItem {
	out := make(map[string]*models.FileItem)
	for _, disk := range e.Disks() {
		if disk.ID != diskID {
			continue
		}
		for _, item := range tree.Flatten(disk.Files) {
			out[item.ID] = item
		}
	}
	return out
}

func TestLoadDisksAndRefresh(t *testing.T) {
	e, _ := newTestEngine(t)

	items := flatIDs(e, "d1")
	if len(items) != 4 {
		t.Fatalf("d1 has %d items, want 4", len(items))
	}
	if items["f6"].ParentID != "f5" {
		t.Errorf("f6 parent = %q", items["f6"].ParentID)
	}
	folder := e.GetFileByID("f5")
	if folder == nil || len(folder.Children) != 2 {
		t.Errorf("f5 not nested: %+v", folder)
	}
}

func TestTreeVersionAdvancesOnMutation(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.TreeVersion()
	if err := e.Rename(context.Background(), "f8", "renamed.jpg"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if e.TreeVersion() <= before {
		t.Errorf("version did not advance: %d -> %d", before, e.TreeVersion())
	}
}

func TestGetPathForFile(t *testing.T) {
	e, _ := newTestEngine(t)
	path := e.GetPathForFile("f6")
	if len(path) != 1 || path[0] != "f5" {
		t.Errorf("path = %v, want [f5]", path)
	}
	if e.GetPathForFile("missing") != nil {
		t.Error("unknown id should yield nil path")
	}
}

func TestTypeFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SelectDisk(context.Background(), "d1"); err != nil {
		t.Fatalf("SelectDisk: %v", err)
	}

	e.SetTypeFilter(models.KindPicture)
	files := e.GetCurrentFolderFiles()
	if len(files) != 1 || files[0].ID != "f8" {
		t.Fatalf("filtered = %v", files)
	}

	e.ClearTypeFilter()
	if got := e.GetCurrentFolderFiles(); len(got) == 1 && got[0].ID == "f8" && !got[0].IsFolder {
		t.Error("filter not cleared")
	}
}

func TestDiskLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	disk, err := e.CreateDisk(ctx, "Scratch", 5, models.UnitGB)
	if err != nil {
		t.Fatalf("CreateDisk: %v", err)
	}
	if len(e.Disks()) != 3 {
		t.Fatalf("disk count = %d", len(e.Disks()))
	}

	if err := e.RenameDisk(ctx, disk.ID, "Scratch2"); err != nil {
		t.Fatalf("RenameDisk: %v", err)
	}
	if err := e.ResizeDisk(ctx, disk.ID, 8, models.UnitGB); err != nil {
		t.Fatalf("ResizeDisk: %v", err)
	}
	if err := e.DeleteDisk(ctx, disk.ID); err != nil {
		t.Fatalf("DeleteDisk: %v", err)
	}
	if len(e.Disks()) != 2 {
		t.Errorf("disk count after delete = %d", len(e.Disks()))
	}
}

func TestResizeBelowUsedRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	var vErr *ValidationError
	err := e.ResizeDisk(context.Background(), "d1", 0.000001, models.UnitGB)
	if !errors.As(err, &vErr) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestMergeDisks(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.MergeDisks(context.Background(), "d1", "d2"); err != nil {
		t.Fatalf("MergeDisks: %v", err)
	}
	if len(e.Disks()) != 1 {
		t.Fatalf("disk count = %d", len(e.Disks()))
	}
	items := flatIDs(e, "d2")
	for _, id := range []string{"f5", "f6", "f7", "f8", "f10"} {
		if items[id] == nil {
			t.Errorf("item %s missing after merge", id)
		}
	}
}

func TestFormatDisk(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.FormatDisk(context.Background(), "d1"); err != nil {
		t.Fatalf("FormatDisk: %v", err)
	}
	if items := flatIDs(e, "d1"); len(items) != 0 {
		t.Errorf("d1 still has %d items", len(items))
	}
}
