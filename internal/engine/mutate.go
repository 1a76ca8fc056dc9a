package engine

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/breezedrive/breezedrive/internal/api"
	"github.com/breezedrive/breezedrive/internal/imageprep"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/internal/usage"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/tree"
)

// validateParent checks that a non-root parent exists in the disk and is a
// folder. Lock held by caller.
func validateParent(disk *models.Disk, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent := tree.FindByID(disk.Files, parentID)
	if parent == nil || !parent.IsFolder {
		return &ValidationError{Reason: fmt.Sprintf("destination folder %q does not exist", parentID)}
	}
	return nil
}

// insertOptimistic appends a placeholder to a disk's flat list and commits.
func (e *Engine) insertOptimistic(diskID string, item *models.FileItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	disk := e.diskByID(diskID)
	if disk == nil {
		return &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", diskID)}
	}
	if err := validateParent(disk, item.ParentID); err != nil {
		return err
	}
	flat := append(tree.Flatten(disk.Files), item)
	e.commitFlat(disk, flat, true)
	return nil
}

// removeOptimistic drops a placeholder by id and commits.
func (e *Engine) removeOptimistic(diskID, tempID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	disk := e.diskByID(diskID)
	if disk == nil {
		return
	}
	flat := tree.Flatten(disk.Files)
	next := flat[:0]
	for _, item := range flat {
		if item.ID != tempID {
			next = append(next, item)
		}
	}
	e.commitFlat(disk, next, true)
}

// confirmOptimistic swaps a placeholder for the backend-confirmed node in a
// single state transition. Items concurrently created under the placeholder
// are re-parented to the real id; nothing else is disturbed.
func (e *Engine) confirmOptimistic(diskID, tempID string, confirmed *models.FileItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	disk := e.diskByID(diskID)
	if disk == nil {
		return
	}
	flat := tree.Flatten(disk.Files)
	for i, item := range flat {
		switch {
		case item.ID == tempID:
			node := confirmed.Clone()
			if node.DiskID == "" {
				node.DiskID = item.DiskID
			}
			if node.ParentID == "" {
				node.ParentID = item.ParentID
			}
			flat[i] = node
		case item.ParentID == tempID:
			item.ParentID = confirmed.ID
		}
	}
	e.commitFlat(disk, flat, true)
}

// createEntry is the shared optimistic create/confirm/rollback cycle for
// folders, notes, and urls.
func (e *Engine) createEntry(ctx context.Context, op string, temp *models.FileItem,
	call func(ctx context.Context) (*models.FileItem, error)) (*models.FileItem, error) {

	if err := e.insertOptimistic(temp.DiskID, temp); err != nil {
		return nil, err
	}
	e.publishTree(temp.DiskID)

	confirmed, err := call(ctx)
	if err != nil {
		e.removeOptimistic(temp.DiskID, temp.ID)
		e.publishTree(temp.DiskID)
		metrics.RecordMutation(op, "rollback")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	e.confirmOptimistic(temp.DiskID, temp.ID, confirmed)
	e.publishTree(temp.DiskID)
	metrics.RecordMutation(op, "ok")
	return confirmed, nil
}

// CreateFolder optimistically inserts a folder and confirms it with the
// backend.
func (e *Engine) CreateFolder(ctx context.Context, name, parentID, diskID string) (*models.FileItem, error) {
	now := time.Now()
	temp := &models.FileItem{
		ID:         newTempID(),
		Name:       name,
		Kind:       models.KindFolder,
		IsFolder:   true,
		CreatedAt:  now,
		ModifiedAt: now,
		ParentID:   parentID,
		DiskID:     diskID,
	}
	return e.createEntry(ctx, "create_folder", temp, func(ctx context.Context) (*models.FileItem, error) {
		return e.backend.CreateFolder(ctx, name, parentID, diskID)
	})
}

// CreateNote optimistically inserts a note item.
func (e *Engine) CreateNote(ctx context.Context, name, content, parentID, diskID string) (*models.FileItem, error) {
	now := time.Now()
	temp := &models.FileItem{
		ID:         newTempID(),
		Name:       name,
		Kind:       models.KindNote,
		Size:       float64(len(content)),
		SizeUnit:   models.UnitB,
		CreatedAt:  now,
		ModifiedAt: now,
		ParentID:   parentID,
		DiskID:     diskID,
	}
	item, err := e.createEntry(ctx, "create_note", temp, func(ctx context.Context) (*models.FileItem, error) {
		return e.backend.CreateNote(ctx, name, content, parentID, diskID)
	})
	if err == nil {
		e.syncUsage(ctx)
	}
	return item, err
}

// CreateURL optimistically inserts a url bookmark item.
func (e *Engine) CreateURL(ctx context.Context, name, target, parentID, diskID string) (*models.FileItem, error) {
	now := time.Now()
	temp := &models.FileItem{
		ID:         newTempID(),
		Name:       name,
		Kind:       models.KindURL,
		URL:        target,
		CreatedAt:  now,
		ModifiedAt: now,
		ParentID:   parentID,
		DiskID:     diskID,
	}
	return e.createEntry(ctx, "create_url", temp, func(ctx context.Context) (*models.FileItem, error) {
		return e.backend.CreateURL(ctx, name, target, parentID, diskID)
	})
}

// Upload validates, optionally recompresses, optimistically inserts, and
// uploads a file. The local placeholder blob is released exactly once, on
// either confirmation or rollback.
func (e *Engine) Upload(ctx context.Context, name string, content []byte, diskID, parentID string, onProgress func(done, total int64)) (*models.FileItem, error) {
	if !imageprep.ExtensionAllowed(name) {
		return nil, &ValidationError{Reason: fmt.Sprintf("file type of %q is not allowed", name)}
	}
	if e.maxUploadSize > 0 && int64(len(content)) > e.maxUploadSize {
		return nil, &ValidationError{Reason: fmt.Sprintf("%q exceeds the upload size limit", name)}
	}

	kind := models.KindForName(name)
	if kind == models.KindPicture {
		content = imageprep.Prepare(content, name)
	}

	// Advisory client-side quota check; the backend stays the authority.
	neededGB := usage.Convert(float64(len(content)), models.UnitB, models.UnitGB)
	e.mu.RLock()
	disk := e.diskByID(diskID)
	var availableGB float64
	if disk != nil {
		availableGB = usage.Convert(disk.Usage.Total-disk.Usage.Used, disk.Usage.Unit, models.UnitGB)
	}
	e.mu.RUnlock()
	if disk == nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", diskID)}
	}
	if neededGB > availableGB {
		return nil, &QuotaError{NeededGB: usage.Round2(neededGB), AvailableGB: usage.Round2(availableGB)}
	}

	now := time.Now()
	temp := &models.FileItem{
		ID:         newTempID(),
		Name:       name,
		Kind:       kind,
		Size:       float64(len(content)),
		SizeUnit:   models.UnitB,
		CreatedAt:  now,
		ModifiedAt: now,
		ParentID:   parentID,
		DiskID:     diskID,
		DeviceID:   e.fingerprint,
	}

	// Local placeholder so the item previews immediately.
	placeholderStored := false
	if e.blobs != nil {
		if _, err := e.blobs.Put(temp.ID, bytes.NewReader(content)); err != nil {
			logging.Warn("placeholder blob store failed", logging.Err(err))
		} else {
			placeholderStored = true
		}
	}
	releasePlaceholder := func(confirmedID string) {
		if !placeholderStored {
			return
		}
		placeholderStored = false
		if confirmedID != "" {
			if err := e.blobs.Rekey(temp.ID, confirmedID); err != nil {
				logging.Warn("placeholder rekey failed", logging.Err(err))
			}
			return
		}
		e.blobs.Delete(temp.ID)
	}

	if err := e.insertOptimistic(diskID, temp); err != nil {
		releasePlaceholder("")
		return nil, err
	}
	e.publishTree(diskID)

	fileID, err := e.backend.UploadWithPresignedURL(ctx, content, name, diskID, parentID, e.fingerprint, onProgress)
	if err != nil {
		e.removeOptimistic(diskID, temp.ID)
		releasePlaceholder("")
		e.publishTree(diskID)
		e.syncUsage(ctx)
		metrics.RecordMutation("upload", "rollback")
		return nil, fmt.Errorf("upload: %w", err)
	}

	confirmed, err := e.backend.GetFile(ctx, fileID)
	if err != nil || confirmed == nil {
		// Upload landed; fall back to the placeholder fields under the
		// real id rather than dropping the node.
		logging.Warn("fetch of confirmed upload failed", logging.Err(err))
		confirmed = temp.Clone()
		confirmed.ID = fileID
	}

	e.confirmOptimistic(diskID, temp.ID, confirmed)
	releasePlaceholder(confirmed.ID)
	e.publishTree(diskID)
	e.syncUsage(ctx)
	metrics.RecordUpload(int64(len(content)))
	metrics.RecordMutation("upload", "ok")
	return confirmed, nil
}

// Delete removes an item and its full descendant closure, rolling back to
// the prior snapshot if the backend rejects it.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	disk := e.diskContaining(id)
	if disk == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("item %q does not exist", id)}
	}
	snapshot := tree.Flatten(disk.Files)
	closure := tree.Closure(snapshot, []string{id})
	next := make([]*models.FileItem, 0, len(snapshot))
	for _, item := range snapshot {
		if !closure[item.ID] {
			next = append(next, item)
		}
	}
	diskID := disk.ID
	e.commitFlat(disk, next, true)
	e.mu.Unlock()
	e.publishTree(diskID)

	if err := e.backend.DeleteFile(ctx, id); err != nil {
		e.mu.Lock()
		if disk := e.diskByID(diskID); disk != nil {
			e.commitFlat(disk, snapshot, true)
		}
		e.mu.Unlock()
		e.publishTree(diskID)
		e.syncUsage(ctx)
		metrics.RecordMutation("delete", "rollback")
		return fmt.Errorf("delete: %w", err)
	}

	e.syncUsage(ctx)
	metrics.RecordMutation("delete", "ok")
	return nil
}

// patchItem applies a single-field optimistic patch with snapshot rollback.
func (e *Engine) patchItem(ctx context.Context, op, id string,
	patch func(item *models.FileItem), call func(ctx context.Context) error) error {

	e.mu.Lock()
	disk := e.diskContaining(id)
	if disk == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("item %q does not exist", id)}
	}
	snapshot := tree.Flatten(disk.Files)
	next := tree.Flatten(disk.Files)
	for _, item := range next {
		if item.ID == id {
			patch(item)
			item.ModifiedAt = time.Now()
		}
	}
	diskID := disk.ID
	e.commitFlat(disk, next, true)
	e.mu.Unlock()
	e.publishTree(diskID)

	if err := call(ctx); err != nil {
		e.mu.Lock()
		if disk := e.diskByID(diskID); disk != nil {
			e.commitFlat(disk, snapshot, true)
		}
		e.mu.Unlock()
		e.publishTree(diskID)
		metrics.RecordMutation(op, "rollback")
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordMutation(op, "ok")
	return nil
}

// Rename applies an optimistic rename.
func (e *Engine) Rename(ctx context.Context, id, name string) error {
	return e.patchItem(ctx, "rename", id,
		func(item *models.FileItem) { item.Name = name },
		func(ctx context.Context) error { return e.backend.RenameFile(ctx, id, name) })
}

// TogglePin flips an item's pinned flag optimistically.
func (e *Engine) TogglePin(ctx context.Context, id string) error {
	item := e.GetFileByID(id)
	if item == nil {
		return &ValidationError{Reason: fmt.Sprintf("item %q does not exist", id)}
	}
	pinned := !item.IsPinned
	return e.patchItem(ctx, "pin", id,
		func(item *models.FileItem) { item.IsPinned = pinned },
		func(ctx context.Context) error { return e.backend.PinFile(ctx, id, pinned) })
}

// CutFiles stages ids for a move paste.
func (e *Engine) CutFiles(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clipboard = models.Clipboard{IDs: append([]string(nil), ids...), Op: models.ClipboardCut}
}

// CopyFiles stages ids for a copy paste.
func (e *Engine) CopyFiles(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clipboard = models.Clipboard{IDs: append([]string(nil), ids...), Op: models.ClipboardCopy}
}

// ClearClipboard drops any staged ids.
func (e *Engine) ClearClipboard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clipboard = models.Clipboard{Op: models.ClipboardNone}
}

// Clipboard returns the staged ids and operation.
func (e *Engine) Clipboard() models.Clipboard {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clipboard
}

// PasteFiles applies the staged clipboard operation into a target folder.
func (e *Engine) PasteFiles(ctx context.Context, targetParentID, targetDiskID string) error {
	e.mu.RLock()
	clip := e.clipboard
	e.mu.RUnlock()

	switch clip.Op {
	case models.ClipboardCut:
		return e.moveFiles(ctx, clip.IDs, targetParentID, targetDiskID)
	case models.ClipboardCopy:
		return e.copyFiles(ctx, clip.IDs, targetParentID, targetDiskID)
	default:
		return &ValidationError{Reason: "nothing to paste"}
	}
}

// moveFiles moves the id closure to the target. Root-set items are
// re-parented; descendants move implicitly with their ancestor. A backend
// failure triggers a silent full re-fetch of every touched disk, since a
// partial backend failure cannot be assumed all-or-nothing.
func (e *Engine) moveFiles(ctx context.Context, ids []string, targetParentID, targetDiskID string) error {
	rootSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		rootSet[id] = true
	}

	e.mu.Lock()
	target := e.diskByID(targetDiskID)
	if target == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", targetDiskID)}
	}
	if err := validateParent(target, targetParentID); err != nil {
		e.mu.Unlock()
		return err
	}

	// A folder cannot be moved into itself or its own subtree.
	for _, disk := range e.disks {
		flat := tree.Flatten(disk.Files)
		var present []string
		for _, item := range flat {
			if rootSet[item.ID] {
				present = append(present, item.ID)
			}
		}
		if len(present) == 0 {
			continue
		}
		if tree.Closure(flat, present)[targetParentID] {
			e.mu.Unlock()
			return &ValidationError{Reason: "destination folder is inside the items being moved"}
		}
	}

	var moved []*models.FileItem
	touched := []string{targetDiskID}
	for _, disk := range e.disks {
		flat := tree.Flatten(disk.Files)
		var present []string
		for _, id := range ids {
			for _, item := range flat {
				if item.ID == id {
					present = append(present, id)
					break
				}
			}
		}
		if len(present) == 0 {
			continue
		}
		closure := tree.Closure(flat, present)

		remaining := make([]*models.FileItem, 0, len(flat))
		for _, item := range flat {
			if !closure[item.ID] {
				remaining = append(remaining, item)
				continue
			}
			m := item.Clone()
			m.DiskID = targetDiskID
			if rootSet[m.ID] {
				m.ParentID = targetParentID
			}
			moved = append(moved, m)
		}
		if disk.ID != targetDiskID {
			e.commitFlat(disk, remaining, true)
			touched = append(touched, disk.ID)
		} else {
			// Same-disk move: the target commit below re-adds the subtree.
			e.commitFlat(disk, remaining, true)
		}
	}

	targetFlat := append(tree.Flatten(target.Files), moved...)
	e.commitFlat(target, targetFlat, true)
	e.mu.Unlock()
	e.publishTree(targetDiskID)

	err := e.backend.MoveFiles(ctx, api.TransferRequest{
		IDs:            ids,
		TargetDiskID:   targetDiskID,
		TargetParentID: targetParentID,
	})
	if err != nil {
		for _, diskID := range touched {
			if refreshErr := e.RefreshDisk(ctx, diskID); refreshErr != nil {
				logging.Error("re-sync after failed move",
					logging.String("disk", diskID), logging.Err(refreshErr))
			}
		}
		e.syncUsage(ctx)
		metrics.RecordMutation("move", "resync")
		return fmt.Errorf("move: %w", err)
	}

	e.ClearClipboard()
	e.syncUsage(ctx)
	metrics.RecordMutation("move", "ok")
	return nil
}

// copyFiles inserts a re-keyed clone of the id closure under the target,
// preserving the subtree's internal structure via an id remap table.
func (e *Engine) copyFiles(ctx context.Context, ids []string, targetParentID, targetDiskID string) error {
	rootSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		rootSet[id] = true
	}

	e.mu.Lock()
	target := e.diskByID(targetDiskID)
	if target == nil {
		e.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", targetDiskID)}
	}
	if err := validateParent(target, targetParentID); err != nil {
		e.mu.Unlock()
		return err
	}

	remap := make(map[string]string)
	var copies []*models.FileItem
	for _, disk := range e.disks {
		flat := tree.Flatten(disk.Files)
		var present []string
		for _, item := range flat {
			if rootSet[item.ID] {
				present = append(present, item.ID)
			}
		}
		if len(present) == 0 {
			continue
		}
		closure := tree.Closure(flat, present)
		for _, item := range flat {
			if !closure[item.ID] {
				continue
			}
			remap[item.ID] = newTempID()
			c := item.Clone()
			c.DiskID = targetDiskID
			copies = append(copies, c)
		}
	}
	for _, c := range copies {
		oldID := c.ID
		c.ID = remap[oldID]
		if rootSet[oldID] {
			c.ParentID = targetParentID
		} else if mapped, ok := remap[c.ParentID]; ok {
			c.ParentID = mapped
		}
	}

	snapshot := tree.Flatten(target.Files)
	targetFlat := append(tree.Flatten(target.Files), copies...)
	e.commitFlat(target, targetFlat, true)
	e.mu.Unlock()
	e.publishTree(targetDiskID)

	err := e.backend.CopyFiles(ctx, api.TransferRequest{
		IDs:            ids,
		TargetDiskID:   targetDiskID,
		TargetParentID: targetParentID,
	})
	if err != nil {
		e.mu.Lock()
		if disk := e.diskByID(targetDiskID); disk != nil {
			e.commitFlat(disk, snapshot, true)
		}
		e.mu.Unlock()
		e.publishTree(targetDiskID)
		metrics.RecordMutation("copy", "rollback")
		return fmt.Errorf("copy: %w", err)
	}

	// The backend assigned real ids to the copies; replace the temporary
	// subtree with the authoritative listing.
	if err := e.RefreshDisk(ctx, targetDiskID); err != nil {
		logging.Warn("refresh after copy failed", logging.Err(err))
	}
	e.ClearClipboard()
	e.syncUsage(ctx)
	metrics.RecordMutation("copy", "ok")
	return nil
}
