// Package metrics registers the Prometheus collectors exposed on /metrics:
// archive cache hit/miss, mirror download outcomes, sync cycle outcomes, and
// upstream token refreshes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osu_mirror_cache_requests_total",
			Help: "Archive download requests by cache outcome (hit, miss).",
		},
		[]string{"outcome"},
	)

	MirrorDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osu_mirror_downloads_total",
			Help: "Mirror download attempts by mirror host and outcome (success, rejected, error).",
		},
		[]string{"mirror", "outcome"},
	)

	MirrorDownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "osu_mirror_download_duration_seconds",
			Help:    "Time spent fetching an archive from a mirror, including failed attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osu_mirror_sync_cycles_total",
			Help: "Background sync cycles by worker id and outcome (ok, error).",
		},
		[]string{"worker", "outcome"},
	)

	SyncSetsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osu_mirror_sync_sets_saved_total",
			Help: "Beatmapsets persisted by the background sync scheduler, by worker id.",
		},
		[]string{"worker"},
	)

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osu_mirror_token_refreshes_total",
			Help: "Upstream OAuth2 client-credentials token refreshes by outcome (ok, error).",
		},
		[]string{"outcome"},
	)

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "osu_mirror_rate_limit_rejections_total",
			Help: "Requests rejected by the per-client rate limiters (request sliding window and download token bucket).",
		},
	)
)

// Register adds every collector in this package to reg. Call once at
// startup with prometheus.DefaultRegisterer (or a test registry).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheRequests,
		MirrorDownloads,
		MirrorDownloadDuration,
		SyncCycles,
		SyncSetsSaved,
		TokenRefreshes,
		RateLimitRejections,
	)
}
