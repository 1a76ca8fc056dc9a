// Package usage computes disk and user storage accounting.
package usage

import (
	"context"
	"math"

	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/pkg/models"
)

// QuotaStore is the external user quota store. Total represents an
// externally granted allocation and is never derived from disks.
type QuotaStore interface {
	GetUsage(ctx context.Context) (models.Usage, error)
	SetUsage(ctx context.Context, u models.Usage) error
}

// Convert converts a size between units.
func Convert(size float64, from, to models.SizeUnit) float64 {
	if from == to {
		return size
	}
	return size * from.Bytes() / to.Bytes()
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeDiskUsed sums non-folder item sizes of a tree, converted into the
// disk's unit and rounded to two decimals.
func ComputeDiskUsed(files []*models.FileItem, unit models.SizeUnit) float64 {
	var total float64
	var walk func(items []*models.FileItem)
	walk = func(items []*models.FileItem) {
		for _, item := range items {
			if !item.IsFolder {
				total += Convert(item.Size, item.SizeUnit, unit)
			}
			walk(item.Children)
		}
	}
	walk(files)
	return Round2(total)
}

// SyncUserUsage recomputes total used across all disks and pushes only the
// Used field to the quota store. A store without a baseline (no unit yet)
// makes the sync a no-op; it is retried on the next mutation.
func SyncUserUsage(ctx context.Context, disks []*models.Disk, store QuotaStore) error {
	current, err := store.GetUsage(ctx)
	if err != nil || current.Unit == "" {
		logging.Debug("quota baseline unavailable, skipping usage sync")
		return nil
	}

	var used float64
	for _, disk := range disks {
		used += Convert(disk.Usage.Used, disk.Usage.Unit, current.Unit)
	}

	current.Used = Round2(used)
	if err := store.SetUsage(ctx, current); err != nil {
		return err
	}
	return nil
}
