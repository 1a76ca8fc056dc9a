package engine

import (
	"context"
	"fmt"

	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/internal/usage"
	"github.com/breezedrive/breezedrive/pkg/models"
)

// CreateDisk provisions a new disk and adds it to the local set.
func (e *Engine) CreateDisk(ctx context.Context, name string, total float64, unit models.SizeUnit) (*models.Disk, error) {
	disk, err := e.backend.CreateDisk(ctx, name, total, unit)
	if err != nil {
		return nil, fmt.Errorf("create disk: %w", err)
	}

	e.mu.Lock()
	e.disks = append(e.disks, disk)
	e.mu.Unlock()
	e.publishTree(disk.ID)
	metrics.RecordMutation("create_disk", "ok")
	return disk, nil
}

// DeleteDisk removes a disk and everything on it. The current location moves
// off the disk if it was selected.
func (e *Engine) DeleteDisk(ctx context.Context, id string) error {
	if err := e.backend.DeleteDisk(ctx, id); err != nil {
		metrics.RecordMutation("delete_disk", "rollback")
		return fmt.Errorf("delete disk: %w", err)
	}

	e.mu.Lock()
	next := e.disks[:0]
	for _, disk := range e.disks {
		if disk.ID != id {
			next = append(next, disk)
		}
	}
	e.disks = next
	if e.currentDiskID == id {
		e.currentDiskID = ""
		e.currentPath = nil
	}
	e.mu.Unlock()

	e.cache.Invalidate(id)
	e.persistNav()
	e.publishTree(id)
	e.publishNav()
	e.syncUsage(ctx)
	metrics.RecordMutation("delete_disk", "ok")
	return nil
}

// FormatDisk wipes a disk's contents, keeping the disk itself.
func (e *Engine) FormatDisk(ctx context.Context, id string) error {
	if err := e.backend.FormatDisk(ctx, id); err != nil {
		metrics.RecordMutation("format_disk", "rollback")
		return fmt.Errorf("format disk: %w", err)
	}

	e.mu.Lock()
	if disk := e.diskByID(id); disk != nil {
		e.commitFlat(disk, nil, true)
	}
	if e.currentDiskID == id {
		e.currentPath = nil
	}
	e.mu.Unlock()

	e.persistNav()
	e.publishTree(id)
	e.syncUsage(ctx)
	metrics.RecordMutation("format_disk", "ok")
	return nil
}

// RenameDisk renames a disk.
func (e *Engine) RenameDisk(ctx context.Context, id, name string) error {
	if err := e.backend.RenameDisk(ctx, id, name); err != nil {
		metrics.RecordMutation("rename_disk", "rollback")
		return fmt.Errorf("rename disk: %w", err)
	}

	e.mu.Lock()
	if disk := e.diskByID(id); disk != nil {
		disk.Name = name
	}
	e.mu.Unlock()
	e.publishTree(id)
	metrics.RecordMutation("rename_disk", "ok")
	return nil
}

// ResizeDisk changes a disk's capacity. Shrinking below the used space is
// rejected locally before any network call.
func (e *Engine) ResizeDisk(ctx context.Context, id string, total float64, unit models.SizeUnit) error {
	e.mu.RLock()
	disk := e.diskByID(id)
	var usedInNewUnit float64
	if disk != nil {
		usedInNewUnit = usage.Convert(disk.Usage.Used, disk.Usage.Unit, unit)
	}
	e.mu.RUnlock()
	if disk == nil {
		return &ValidationError{Reason: fmt.Sprintf("disk %q does not exist", id)}
	}
	if total < usedInNewUnit {
		return &ValidationError{Reason: "new capacity is smaller than the space in use"}
	}

	if err := e.backend.ResizeDisk(ctx, id, total, unit); err != nil {
		metrics.RecordMutation("resize_disk", "rollback")
		return fmt.Errorf("resize disk: %w", err)
	}

	e.mu.Lock()
	if disk := e.diskByID(id); disk != nil {
		disk.Usage.Used = usage.Convert(disk.Usage.Used, disk.Usage.Unit, unit)
		disk.Usage.Total = total
		disk.Usage.Unit = unit
	}
	e.mu.Unlock()
	e.publishTree(id)
	e.syncUsage(ctx)
	metrics.RecordMutation("resize_disk", "ok")
	return nil
}

// MergeDisks moves everything from the source disk into the target's root
// and deletes the source.
func (e *Engine) MergeDisks(ctx context.Context, sourceID, targetID string) error {
	e.mu.RLock()
	src := e.diskByID(sourceID)
	dst := e.diskByID(targetID)
	e.mu.RUnlock()
	if src == nil || dst == nil {
		return &ValidationError{Reason: "both disks must exist"}
	}

	if err := e.backend.MergeDisks(ctx, sourceID, targetID); err != nil {
		metrics.RecordMutation("merge_disks", "rollback")
		return fmt.Errorf("merge disks: %w", err)
	}

	// The backend owns id assignment for the merged items; re-fetch the
	// target rather than guessing.
	if err := e.RefreshDisk(ctx, targetID); err != nil {
		return err
	}

	e.mu.Lock()
	next := e.disks[:0]
	for _, disk := range e.disks {
		if disk.ID != sourceID {
			next = append(next, disk)
		}
	}
	e.disks = next
	if e.currentDiskID == sourceID {
		e.currentDiskID = targetID
		e.currentPath = nil
	}
	e.mu.Unlock()

	e.cache.Invalidate(sourceID)
	e.persistNav()
	e.publishTree(targetID)
	e.syncUsage(ctx)
	metrics.RecordMutation("merge_disks", "ok")
	return nil
}
