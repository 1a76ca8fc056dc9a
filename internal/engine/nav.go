package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/breezedrive/breezedrive/internal/foldercache"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/statestore"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/tree"
)

// CurrentDisk returns the selected disk id, or "".
func (e *Engine) CurrentDisk() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentDiskID
}

// CurrentPath returns the folder-id path from the disk root to the current
// folder.
func (e *Engine) CurrentPath() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.currentPath...)
}

// SelectDisk switches to a disk and loads its root listing. An empty id
// clears the selection entirely. Cached listings for the disk being left are
// dropped so the next visit refetches.
func (e *Engine) SelectDisk(ctx context.Context, diskID string) error {
	e.mu.Lock()
	if diskID != "" && e.diskByID(diskID) == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", diskID)}
	}
	previous := e.currentDiskID
	e.currentDiskID = diskID
	e.currentPath = nil
	e.mu.Unlock()

	if previous != "" && previous != diskID {
		e.cache.Invalidate(previous)
	}
	e.persistNav()
	e.publishNav()
	if diskID == "" {
		return nil
	}
	return e.loadFolder(ctx, diskID, foldercache.RootParent, false)
}

// EnterFolder descends into a folder of the current disk.
func (e *Engine) EnterFolder(ctx context.Context, folderID string) error {
	e.mu.Lock()
	disk := e.diskByID(e.currentDiskID)
	if disk == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: "no disk selected"}
	}
	folder := tree.FindByID(disk.Files, folderID)
	if folder == nil || !folder.IsFolder {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("folder %q does not exist", folderID)}
	}
	e.currentPath = append(e.currentPath, folderID)
	diskID := e.currentDiskID
	recent := e.displayPathLocked(disk)
	e.mu.Unlock()

	e.persistNav()
	if e.store != nil {
		if err := e.store.AddRecentPath(recent, statestore.DefaultRecentLimit); err != nil {
			logging.Warn("record recent path failed", logging.Err(err))
		}
	}
	e.publishNav()
	return e.loadFolder(ctx, diskID, folderID, false)
}

// GoBack pops one level off the current path. Returning to the disk root
// refetches the root listing so the view is fresh.
func (e *Engine) GoBack(ctx context.Context) error {
	e.mu.Lock()
	if len(e.currentPath) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.currentPath = e.currentPath[:len(e.currentPath)-1]
	diskID := e.currentDiskID
	atRoot := len(e.currentPath) == 0
	var parentID string
	if !atRoot {
		parentID = e.currentPath[len(e.currentPath)-1]
	}
	e.mu.Unlock()

	e.persistNav()
	e.publishNav()
	if atRoot {
		return e.loadFolder(ctx, diskID, foldercache.RootParent, true)
	}
	return e.loadFolder(ctx, diskID, parentID, false)
}

// RestoreNavigation re-applies the persisted disk and path after a restart.
// The persisted location is validated segment by segment against the
// backend's current listing; any mismatch discards the whole path rather
// than landing somewhere partially restored.
func (e *Engine) RestoreNavigation(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	diskID, path, err := e.store.LoadNav()
	if err != nil {
		return fmt.Errorf("load nav: %w", err)
	}
	if diskID == "" {
		return nil
	}

	e.mu.RLock()
	known := e.diskByID(diskID) != nil
	e.mu.RUnlock()
	if !known {
		return nil
	}

	flat, err := e.backend.ListAllFiles(ctx, diskID)
	if err != nil {
		return fmt.Errorf("restore navigation: %w", err)
	}
	byID := make(map[string]*models.FileItem, len(flat))
	for _, item := range flat {
		byID[item.ID] = item
	}
	parent := foldercache.RootParent
	valid := true
	for _, seg := range path {
		folder, ok := byID[seg]
		if !ok || !folder.IsFolder || folder.ParentID != parent {
			valid = false
			break
		}
		parent = seg
	}
	if !valid {
		path = nil
	}

	e.mu.Lock()
	if disk := e.diskByID(diskID); disk != nil {
		e.commitFlat(disk, flat, false)
	}
	e.currentDiskID = diskID
	e.currentPath = path
	e.mu.Unlock()

	e.persistNav()
	e.publishNav()
	e.publishTree(diskID)
	return nil
}

// RecentPaths returns the recently visited folder paths, most recent first.
func (e *Engine) RecentPaths(limit int) ([]string, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.RecentPaths(limit)
}

// loadFolder serves a folder's children from the cache or fetches them and
// merges the listing into the disk tree.
func (e *Engine) loadFolder(ctx context.Context, diskID, parentID string, force bool) error {
	if !force {
		if _, ok := e.cache.Get(diskID, parentID); ok {
			return nil
		}
	}

	items, err := e.backend.ListFiles(ctx, diskID, parentID)
	if err != nil {
		return fmt.Errorf("load folder %s/%s: %w", diskID, parentID, err)
	}
	e.cache.Set(diskID, parentID, items)

	e.mu.Lock()
	disk := e.diskByID(diskID)
	if disk == nil {
		e.mu.Unlock()
		return nil
	}
	// Replace the folder's direct children with the fresh listing, keeping
	// everything else already loaded.
	flat := tree.Flatten(disk.Files)
	merged := make([]*models.FileItem, 0, len(flat)+len(items))
	for _, item := range flat {
		if item.ParentID != parentID {
			merged = append(merged, item)
		}
	}
	for _, item := range items {
		c := item.Clone()
		c.ParentID = parentID
		if c.DiskID == "" {
			c.DiskID = diskID
		}
		merged = append(merged, c)
	}
	e.commitFlat(disk, merged, false)
	e.mu.Unlock()

	e.publishTree(diskID)
	return nil
}

// displayPathLocked renders "/DiskName/Folder/Sub" for the current location.
// Lock held by caller.
func (e *Engine) displayPathLocked(disk *models.Disk) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(disk.Name)
	for _, seg := range e.currentPath {
		if folder := tree.FindByID(disk.Files, seg); folder != nil {
			b.WriteString("/")
			b.WriteString(folder.Name)
		}
	}
	return b.String()
}

func (e *Engine) persistNav() {
	if e.store == nil {
		return
	}
	e.mu.RLock()
	diskID := e.currentDiskID
	path := append([]string(nil), e.currentPath...)
	e.mu.RUnlock()
	if err := e.store.SaveNav(diskID, path); err != nil {
		logging.Warn("persist navigation failed", logging.Err(err))
	}
}
