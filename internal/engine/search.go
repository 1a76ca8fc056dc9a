package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/breezedrive/breezedrive/internal/events"
	"github.com/breezedrive/breezedrive/internal/logging"
	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/pkg/models"
	"github.com/breezedrive/breezedrive/pkg/tree"
)

// Search runs the two-phase search: an immediate scan over locally loaded
// state, then a debounced backend query across all disks. Results from a
// superseded query never overwrite a newer one.
func (e *Engine) Search(ctx context.Context, query string) {
	query = strings.TrimSpace(query)

	e.mu.Lock()
	if e.search.timer != nil {
		e.search.timer.Stop()
		e.search.timer = nil
	}
	e.search.generation++
	generation := e.search.generation

	if query == "" {
		e.search = searchState{generation: generation}
		e.mu.Unlock()
		e.events.Publish(events.Event{Type: events.EventSearch})
		return
	}

	e.search.query = query
	e.search.results = e.localMatchesLocked(query)
	e.search.searching = true
	e.search.timer = time.AfterFunc(e.searchDebounce, func() {
		e.runBackendSearch(ctx, query, generation)
	})
	e.mu.Unlock()

	metrics.RecordSearch()
	e.events.Publish(events.Event{Type: events.EventSearch})
}

// SearchCached returns only the synchronous local-phase matches without
// touching the backend or the engine's search state.
func (e *Engine) SearchCached(query string) []*models.FileItem {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.localMatchesLocked(query)
}

// SearchResults returns the current result set and whether the backend
// phase is still pending.
func (e *Engine) SearchResults() ([]*models.FileItem, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*models.FileItem(nil), e.search.results...), e.search.searching
}

// localMatchesLocked scans cached listings and loaded trees for
// case-insensitive name matches. Lock held by caller.
func (e *Engine) localMatchesLocked(query string) []*models.FileItem {
	needle := strings.ToLower(query)
	seen := make(map[string]bool)
	var matches []*models.FileItem

	add := func(item *models.FileItem) {
		if seen[item.ID] || IsTempID(item.ID) {
			return
		}
		if strings.Contains(strings.ToLower(item.Name), needle) {
			seen[item.ID] = true
			matches = append(matches, item.Clone())
		}
	}

	e.cache.Each(func(_, _ string, items []*models.FileItem) {
		for _, item := range items {
			add(item)
		}
	})
	for _, disk := range e.disks {
		for _, item := range tree.Flatten(disk.Files) {
			add(item)
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })
	return matches
}

// runBackendSearch queries every disk concurrently and merges the results
// into the local-phase set. A failed disk is logged and skipped so the rest
// of the results still land.
func (e *Engine) runBackendSearch(ctx context.Context, query string, generation uint64) {
	e.mu.RLock()
	disks := append([]*models.Disk(nil), e.disks...)
	e.mu.RUnlock()

	var wg sync.WaitGroup
	resultCh := make(chan []*models.FileItem, len(disks))
	for _, disk := range disks {
		wg.Add(1)
		go func(diskID string) {
			defer wg.Done()
			items, err := e.backend.SearchFiles(ctx, diskID, query)
			if err != nil {
				logging.Warn("backend search failed",
					logging.String("disk", diskID), logging.Err(err))
				return
			}
			resultCh <- items
		}(disk.ID)
	}
	wg.Wait()
	close(resultCh)

	var remote []*models.FileItem
	for items := range resultCh {
		remote = append(remote, items...)
	}

	e.mu.Lock()
	if e.search.generation != generation {
		// A newer query superseded this one; drop the results.
		e.mu.Unlock()
		return
	}
	seen := make(map[string]bool, len(e.search.results))
	for _, item := range e.search.results {
		seen[item.ID] = true
	}
	for _, item := range remote {
		if !seen[item.ID] {
			seen[item.ID] = true
			e.search.results = append(e.search.results, item.Clone())
		}
	}
	sort.Slice(e.search.results, func(i, j int) bool {
		return e.search.results[i].Name < e.search.results[j].Name
	})
	e.search.searching = false
	e.search.timer = nil
	e.mu.Unlock()

	e.events.Publish(events.Event{Type: events.EventSearch})
}
