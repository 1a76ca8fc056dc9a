// Package localfile resolves item content, preferring a device-local blob
// over a possibly expired remote URL.
package localfile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/breezedrive/breezedrive/internal/blobstore"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/pkg/models"
)

// ErrUnavailable is the terminal state after the refresh budget is spent.
// Callers fall back to a manual download/open affordance.
var ErrUnavailable = errors.New("file content unavailable")

const maxRefreshAttempts = 2

// URLRefresher requests fresh content URLs for an item.
type URLRefresher interface {
	RefreshFileURL(ctx context.Context, id string) (url, thumbnail string, err error)
}

// Source points at resolvable content for an item.
type Source struct {
	Local     bool   // true when Path points at a local blob
	Path      string // local blob path, when Local
	URL       string // remote URL otherwise
	Thumbnail string
}

// Resolver picks the best content source for an item and handles expired
// remote URLs with a bounded refresh-and-retry.
type Resolver struct {
	blobs       *blobstore.Store
	refresher   URLRefresher
	fingerprint string

	mu       sync.Mutex
	attempts map[string]int
}

// NewResolver creates a resolver for the current device fingerprint.
func NewResolver(blobs *blobstore.Store, refresher URLRefresher, fingerprint string) *Resolver {
	return &Resolver{
		blobs:       blobs,
		refresher:   refresher,
		fingerprint: fingerprint,
		attempts:    make(map[string]int),
	}
}

// Resolve returns the preferred source for an item: the local blob when the
// item was uploaded from this device and is still cached, the remote URL
// otherwise.
func (r *Resolver) Resolve(item *models.FileItem) Source {
	if item.DeviceID != "" && item.DeviceID == r.fingerprint {
		if path, ok := r.blobs.Get(item.ID); ok {
			return Source{Local: true, Path: path, Thumbnail: item.Thumbnail}
		}
	}
	return Source{URL: item.URL, Thumbnail: item.Thumbnail}
}

// OnLoadFailure handles a failed remote load (expired signed URL, 403) by
// requesting fresh URLs, at most twice per item per view. After the budget
// is spent it returns ErrUnavailable.
func (r *Resolver) OnLoadFailure(ctx context.Context, item *models.FileItem) (Source, error) {
	r.mu.Lock()
	attempts := r.attempts[item.ID]
	if attempts >= maxRefreshAttempts {
		r.mu.Unlock()
		return Source{}, ErrUnavailable
	}
	r.attempts[item.ID] = attempts + 1
	r.mu.Unlock()

	metrics.RecordURLRefresh()
	url, thumbnail, err := r.refresher.RefreshFileURL(ctx, item.ID)
	if err != nil {
		logging.Warn("url refresh failed",
			logging.String("id", item.ID), logging.Err(err))
		return Source{}, fmt.Errorf("refresh url: %w", err)
	}

	item.URL = url
	if thumbnail != "" {
		item.Thumbnail = thumbnail
	}
	return Source{URL: url, Thumbnail: item.Thumbnail}, nil
}

// ResetAttempts clears the refresh budget for an item, called when a view
// is reopened.
func (r *Resolver) ResetAttempts(id string) {
	r.mu.Lock()
	delete(r.attempts, id)
	r.mu.Unlock()
}
