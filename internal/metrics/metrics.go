// Package metrics provides Prometheus metrics for the drive client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	folderCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breezedrive_folder_cache_lookups_total",
			Help: "Folder cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breezedrive_mutations_total",
			Help: "Tree mutations by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: ok, rollback, resync
	)

	searchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "breezedrive_searches_total",
			Help: "Backend search rounds issued",
		},
	)

	urlRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "breezedrive_url_refreshes_total",
			Help: "Expired content URL refreshes requested",
		},
	)

	blobCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "breezedrive_blob_cache_bytes",
			Help: "Bytes currently held in the local blob cache",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "breezedrive_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		},
	)
)

// RecordCacheLookup records a folder cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		folderCacheLookups.WithLabelValues("hit").Inc()
	} else {
		folderCacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordMutation records a mutation outcome ("ok", "rollback", "resync").
func RecordMutation(op, outcome string) {
	mutationsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordSearch records a backend search round.
func RecordSearch() {
	searchesTotal.Inc()
}

// RecordURLRefresh records a content URL refresh.
func RecordURLRefresh() {
	urlRefreshesTotal.Inc()
}

// SetBlobCacheBytes updates the blob cache size gauge.
func SetBlobCacheBytes(n int64) {
	blobCacheBytes.Set(float64(n))
}

// RecordUpload records uploaded bytes.
func RecordUpload(n int64) {
	bytesUploaded.Add(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
