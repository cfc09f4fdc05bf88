// Package api wires the HTTP surface: the download pipeline, v1/v2
// metadata routes, and health/status endpoints. Routing follows the
// teacher's plain net/http.ServeMux idiom, extended to Go 1.22+
// method+pattern routing since several routes need a path parameter the
// teacher's own literal-path routes never needed.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osumirror/mirror/internal/db"
	"github.com/osumirror/mirror/internal/metrics"
	"github.com/osumirror/mirror/internal/model"
	"github.com/osumirror/mirror/internal/ratelimit"
	"github.com/osumirror/mirror/internal/storage"
)

// Store is the subset of the metadata gateway the HTTP surface needs.
type Store interface {
	GetSet(ctx context.Context, id int64) (*model.Beatmapset, error)
	SaveSet(ctx context.Context, s model.Beatmapset) error
	SearchSets(ctx context.Context, f SearchFilter) ([]model.Beatmapset, error)
	CountSets(ctx context.Context, f SearchFilter) (int64, error)
	UpsertCacheMetadata(ctx context.Context, m model.CacheMetadata) error
	GetBeatmap(ctx context.Context, id int64) (*model.Beatmap, error)
	GetBeatmapByChecksum(ctx context.Context, checksum string) (*model.Beatmap, error)
}

// SearchFilter is db.SearchFilter, so *db.Gateway satisfies Store as is.
type SearchFilter = db.SearchFilter

// Upstream is the subset of the authenticated catalog client the HTTP
// surface needs.
type Upstream interface {
	GetSet(ctx context.Context, id int64) (model.Beatmapset, error)
}

// MirrorEngine downloads an archive when it isn't already cached.
type MirrorEngine interface {
	Download(ctx context.Context, id int64, noVideo bool) ([]byte, error)
}

// Server holds every dependency the HTTP surface calls into.
type Server struct {
	store     Store
	upstream  Upstream
	mirror    MirrorEngine
	storage   storage.Storage
	downloads *ratelimit.DownloadLimiter

	// DownloadDisabled, when true, makes every download request 404
	// regardless of cache state (spec: a global kill switch).
	DownloadDisabled bool
}

// NewServer builds a Server. downloads may be nil, in which case the
// download route has no separate per-client budget beyond the general
// request rate limiter.
func NewServer(store Store, upstream Upstream, mirror MirrorEngine, st storage.Storage, downloads *ratelimit.DownloadLimiter) *Server {
	return &Server{store: store, upstream: upstream, mirror: mirror, storage: st, downloads: downloads}
}

// Routes registers every HTTP route on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /beatmapsets/{id}/download", s.handleDownload)

	mux.HandleFunc("GET /v1/search", s.handleSearchV1)
	mux.HandleFunc("GET /v1/beatmapsets/{id}", s.handleGetSetV1)
	mux.HandleFunc("GET /v1/beatmaps/{id}", s.handleGetBeatmapV1)
	mux.HandleFunc("GET /v1/beatmaps/md5/{md5}", s.handleGetBeatmapByMD5V1)

	mux.HandleFunc("GET /v2/search", s.handleSearchV2)
	mux.HandleFunc("GET /v2/beatmapsets/{id}", s.handleGetSetV2)

	mux.HandleFunc("/", s.handleNotFound)
}

func parseBoolParam(v string) (bool, bool) {
	switch v {
	case "":
		return true, true
	case "1":
		return true, true
	case "0":
		return false, true
	case "true", "True", "TRUE":
		return true, true
	case "false", "False", "FALSE":
		return false, true
	default:
		return false, false
	}
}

// parseNoVideo resolves the nv/novideo query aliases to a bool, defaulting
// to false when neither is present or neither parses.
func parseNoVideo(q map[string][]string) bool {
	for _, key := range []string{"nv", "novideo"} {
		vals, ok := q[key]
		if !ok || len(vals) == 0 {
			continue
		}
		if b, ok := parseBoolParam(vals[0]); ok {
			return b
		}
	}
	return false
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", `"`, "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(s string) string { return filenameReplacer.Replace(s) }

func buildFilename(id int64, artist, title string, noVideo bool) string {
	base := fmt.Sprintf("%d %s - %s", id, artist, title)
	full := base + ".osz"
	if noVideo {
		full = base + " [no video].osz"
	}
	return sanitizeFilename(full)
}

// handleDownload implements the request pipeline: resolve metadata (fetching
// and persisting from upstream on a local miss), check the archive cache,
// and fall back to the mirror download engine on a cache miss. Grounded on
// original_source/src/api/download.rs's download_beatmapsets handler.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid beatmapset id", http.StatusBadRequest)
		return
	}
	noVideo := parseNoVideo(r.URL.Query())
	ctx := r.Context()

	if s.downloads != nil && !s.downloads.Allow(ratelimit.ClientKey(r)) {
		metrics.RateLimitRejections.Inc()
		http.Error(w, "download rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if s.DownloadDisabled {
		http.Error(w, "download disabled", http.StatusNotFound)
		return
	}

	set, err := s.store.GetSet(ctx, id)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if set == nil {
		log.Printf("api: beatmapset %d not found locally, fetching from upstream", id)
		apiSet, err := s.upstream.GetSet(ctx, id)
		if err != nil {
			http.Error(w, fmt.Sprintf("beatmapset %d not found", id), http.StatusNotFound)
			return
		}
		if err := s.store.SaveSet(ctx, apiSet); err != nil {
			log.Printf("api: failed to persist beatmapset %d: %v", id, err)
			http.Error(w, "failed to persist beatmapset metadata", http.StatusInternalServerError)
			return
		}
		set, err = s.store.GetSet(ctx, id)
		if err != nil || set == nil {
			http.Error(w, fmt.Sprintf("beatmapset %d not found", id), http.StatusNotFound)
			return
		}
	}

	if set.DownloadDisabled {
		http.Error(w, "download disabled", http.StatusNotFound)
		return
	}

	filename := buildFilename(id, set.Artist, set.Title, noVideo)

	if data, err := s.storage.Get(ctx, id, noVideo); err == nil && data != nil {
		log.Printf("api: request=%s cache HIT: %d (no_video=%v)", RequestID(ctx), id, noVideo)
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		writeArchive(w, data, filename, "HIT")
		return
	}

	log.Printf("api: request=%s cache MISS: %d (no_video=%v)", RequestID(ctx), id, noVideo)
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	data, err := s.mirror.Download(ctx, id, noVideo)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		http.Error(w, "all mirrors failed to provide beatmapset", http.StatusInternalServerError)
		return
	}

	if err := s.storage.Put(ctx, id, noVideo, data); err != nil {
		log.Printf("api: failed to cache beatmapset %d: %v", id, err)
	} else {
		path := storage.RelativePath(id, noVideo)
		if err := s.store.UpsertCacheMetadata(ctx, model.CacheMetadata{
			BeatmapsetID:   id,
			ByteSize:       int64(len(data)),
			StoragePath:    path,
			StorageBackend: s.storage.Backend(),
			NoVideo:        noVideo,
		}); err != nil {
			log.Printf("api: failed to record cache metadata for %d: %v", id, err)
		}
	}

	writeArchive(w, data, filename, "MISS")
}

func writeArchive(w http.ResponseWriter, data []byte, filename, cacheStatus string) {
	w.Header().Set("Content-Type", "application/x-osu-beatmap-archive")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, "not found")
}
