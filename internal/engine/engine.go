// Package engine is the client-side state container for the drive: it owns
// the disk trees, navigation, clipboard, and search state, applies
// optimistic mutations, and reconciles them with the backend.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breezedrive/breezedrive/internal/api"
	"github.com/breezedrive/breezedrive/internal/blobstore"
	"github.com/breezedrive/breezedrive/internal/events"
	"github.com/breezedrive/breezedrive/internal/foldercache"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/statestore"
	"github.com/breezedrive/breezedrive/internal/usage"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/tree"
)

// Backend is the remote storage API surface the engine depends on.
// *api.Client satisfies it; tests substitute a fake.
type Backend interface {
	ListDisks(ctx context.Context) ([]*models.Disk, error)
	ListFiles(ctx context.Context, diskID, parentID string) ([]*models.FileItem, error)
	ListAllFiles(ctx context.Context, diskID string) ([]*models.FileItem, error)
	GetFile(ctx context.Context, id string) (*models.FileItem, error)
	CreateFolder(ctx context.Context, name, parentID, diskID string) (*models.FileItem, error)
	CreateNote(ctx context.Context, name, content, parentID, diskID string) (*models.FileItem, error)
	CreateURL(ctx context.Context, name, target, parentID, diskID string) (*models.FileItem, error)
	UploadWithPresignedURL(ctx context.Context, content []byte, name, diskID, parentID, deviceID string, onProgress func(done, total int64)) (string, error)
	DeleteFile(ctx context.Context, id string) error
	RenameFile(ctx context.Context, id, name string) error
	PinFile(ctx context.Context, id string, pinned bool) error
	MoveFiles(ctx context.Context, req api.TransferRequest) error
	CopyFiles(ctx context.Context, req api.TransferRequest) error
	SearchFiles(ctx context.Context, diskID, query string) ([]*models.FileItem, error)
	CreateDisk(ctx context.Context, name string, total float64, unit models.SizeUnit) (*models.Disk, error)
	DeleteDisk(ctx context.Context, id string) error
	FormatDisk(ctx context.Context, id string) error
	RenameDisk(ctx context.Context, id, name string) error
	ResizeDisk(ctx context.Context, id string, total float64, unit models.SizeUnit) error
	MergeDisks(ctx context.Context, sourceID, targetID string) error
}

// Options configures an Engine.
type Options struct {
	Backend        Backend
	Quota          usage.QuotaStore  // nil disables user usage sync
	Store          *statestore.Store // nil disables persistence
	Blobs          *blobstore.Store  // nil disables local upload placeholders
	Fingerprint    string
	SearchDebounce time.Duration
	MaxUploadSize  int64
}

type searchState struct {
	query      string
	results    []*models.FileItem
	searching  bool
	generation uint64
	timer      *time.Timer
}

// Engine is the single serialized state container. Every mutation reads the
// latest state, transforms it via flatten/build, and commits atomically;
// backend confirmations and rollbacks are applied the same way.
type Engine struct {
	backend Backend
	quota   usage.QuotaStore
	store   *statestore.Store
	blobs   *blobstore.Store
	cache   *foldercache.Cache
	events  *events.Broadcaster

	fingerprint    string
	searchDebounce time.Duration
	maxUploadSize  int64

	mu            sync.RWMutex
	disks         []*models.Disk
	currentDiskID string
	currentPath   []string
	clipboard     models.Clipboard
	search        searchState
}

// New constructs an Engine. Call Close on shutdown.
func New(opts Options) *Engine {
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = 300 * time.Millisecond
	}
	return &Engine{
		backend:        opts.Backend,
		quota:          opts.Quota,
		store:          opts.Store,
		blobs:          opts.Blobs,
		cache:          foldercache.New(),
		events:         events.NewBroadcaster(),
		fingerprint:    opts.Fingerprint,
		searchDebounce: opts.SearchDebounce,
		maxUploadSize:  opts.MaxUploadSize,
		clipboard:      models.Clipboard{Op: models.ClipboardNone},
	}
}

// Close stops pending timers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.search.timer != nil {
		e.search.timer.Stop()
		e.search.timer = nil
	}
	e.mu.Unlock()
}

// Subscribe returns a channel of engine change events.
func (e *Engine) Subscribe() chan events.Event {
	return e.events.Subscribe()
}

// Unsubscribe releases a subscriber channel.
func (e *Engine) Unsubscribe(ch chan events.Event) {
	e.events.Unsubscribe(ch)
}

// TreeVersion returns the monotonically increasing tree version.
func (e *Engine) TreeVersion() uint64 {
	return e.cache.Version()
}

// ValidationError rejects an operation before any network activity.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// QuotaError rejects an upload that does not fit the disk's free space.
type QuotaError struct {
	NeededGB    float64
	AvailableGB float64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("insufficient space: need %.2f GB, %.2f GB available", e.NeededGB, e.AvailableGB)
}

const tempIDPrefix = "tmp-"

func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether an id belongs to an unconfirmed optimistic node.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// LoadDisks fetches the disk list. Trees are loaded lazily per folder.
func (e *Engine) LoadDisks(ctx context.Context) error {
	disks, err := e.backend.ListDisks(ctx)
	if err != nil {
		return fmt.Errorf("load disks: %w", err)
	}

	e.mu.Lock()
	e.disks = disks
	e.mu.Unlock()
	e.cache.InvalidateAll()
	e.publishTree("")
	return nil
}

// RefreshDisk replaces one disk's tree with the backend's full listing.
func (e *Engine) RefreshDisk(ctx context.Context, diskID string) error {
	flat, err := e.backend.ListAllFiles(ctx, diskID)
	if err != nil {
		return fmt.Errorf("refresh disk %s: %w", diskID, err)
	}

	e.mu.Lock()
	if disk := e.diskByID(diskID); disk != nil {
		e.commitFlat(disk, flat, true)
	}
	e.mu.Unlock()
	e.publishTree(diskID)
	return nil
}

// Disks returns the current disk slice. Callers must not mutate it.
func (e *Engine) Disks() []*models.Disk {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*models.Disk(nil), e.disks...)
}

// GetFileByID finds an item anywhere in the loaded trees.
func (e *Engine) GetFileByID(id string) *models.FileItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, disk := range e.disks {
		if found := tree.FindByID(disk.Files, id); found != nil {
			return found
		}
	}
	return nil
}

// GetPathForFile returns the folder ids from the disk root down to the
// item's parent, or nil when the id is unknown.
func (e *Engine) GetPathForFile(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, disk := range e.disks {
		if tree.FindByID(disk.Files, id) != nil {
			return tree.PathTo(tree.Flatten(disk.Files), id)
		}
	}
	return nil
}

// GetCurrentFolderFiles returns the items of the current folder, or the
// flat filtered list while a kind filter is active.
func (e *Engine) GetCurrentFolderFiles() []*models.FileItem {
	e.mu.RLock()
	defer e.mu.RUnlock()

	disk := e.diskByID(e.currentDiskID)
	if disk == nil {
		return nil
	}
	if disk.FilteredFiles != nil {
		return disk.FilteredFiles
	}

	items := disk.Files
	for _, seg := range e.currentPath {
		folder := tree.FindByID(items, seg)
		if folder == nil {
			return nil
		}
		items = folder.Children
	}
	return items
}

// SetTypeFilter replaces the current disk's read view with a flat list of
// items of one kind.
func (e *Engine) SetTypeFilter(kind models.ItemKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	disk := e.diskByID(e.currentDiskID)
	if disk == nil {
		return
	}
	filtered := []*models.FileItem{}
	for _, item := range tree.Flatten(disk.Files) {
		if item.Kind == kind {
			filtered = append(filtered, item)
		}
	}
	disk.FilteredFiles = filtered
}

// ClearTypeFilter restores the normal tree view.
func (e *Engine) ClearTypeFilter() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if disk := e.diskByID(e.currentDiskID); disk != nil {
		disk.FilteredFiles = nil
	}
}

// diskByID returns the disk or nil. Lock held by caller.
func (e *Engine) diskByID(id string) *models.Disk {
	for _, disk := range e.disks {
		if disk.ID == id {
			return disk
		}
	}
	return nil
}

// diskContaining returns the disk holding an item id. Lock held by caller.
func (e *Engine) diskContaining(id string) *models.Disk {
	for _, disk := range e.disks {
		if tree.FindByID(disk.Files, id) != nil {
			return disk
		}
	}
	return nil
}

// commitFlat rebuilds a disk's tree from a flat list and recomputes its
// used space. Lock held by caller. invalidate is true on write paths; pure
// backend loads keep the folder cache intact.
func (e *Engine) commitFlat(disk *models.Disk, flat []*models.FileItem, invalidate bool) {
	disk.Files = tree.Build(flat)
	disk.FilteredFiles = nil
	disk.Usage.Used = usage.ComputeDiskUsed(disk.Files, disk.Usage.Unit)
	if invalidate {
		e.cache.Invalidate(disk.ID)
	}
}

// syncUsage pushes recomputed user usage to the quota store. Failures are
// logged and retried on the next mutation.
func (e *Engine) syncUsage(ctx context.Context) {
	if e.quota == nil {
		return
	}
	e.mu.RLock()
	disks := append([]*models.Disk(nil), e.disks...)
	e.mu.RUnlock()

	if err := usage.SyncUserUsage(ctx, disks, e.quota); err != nil {
		logging.Warn("usage sync failed", logging.Err(err))
		return
	}
	e.events.Publish(events.Event{Type: events.EventUsage})
}

func (e *Engine) publishTree(diskID string) {
	e.events.Publish(events.Event{
		Type:        events.EventTree,
		DiskID:      diskID,
		TreeVersion: e.cache.Version(),
	})
}

func (e *Engine) publishNav() {
	e.events.Publish(events.Event{Type: events.EventNav})
}
