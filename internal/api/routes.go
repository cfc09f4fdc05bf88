package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/osumirror/mirror/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseSearchFilter(r *http.Request) SearchFilter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return SearchFilter{
		Query:  q.Get("q"),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	}
}

// v1BeatmapsetView is the mechanical v1 field projection of model.Beatmapset.
type v1BeatmapsetView struct {
	ID               int64           `json:"id"`
	Title            string          `json:"title"`
	TitleUnicode     string          `json:"title_unicode"`
	Artist           string          `json:"artist"`
	ArtistUnicode    string          `json:"artist_unicode"`
	Creator          string          `json:"creator"`
	Status           string          `json:"status"`
	BPM              float64         `json:"bpm"`
	Video            bool            `json:"video"`
	DownloadDisabled bool            `json:"download_disabled"`
	Beatmaps         []v1BeatmapView `json:"beatmaps,omitempty"`
}

type v1BeatmapView struct {
	ID               int64   `json:"id"`
	Version          string  `json:"version"`
	Mode             string  `json:"mode"`
	DifficultyRating float64 `json:"difficulty_rating"`
	Checksum         string  `json:"checksum"`
}

func toV1Set(s model.Beatmapset) v1BeatmapsetView {
	v := v1BeatmapsetView{
		ID: s.ID, Title: s.Title, TitleUnicode: s.TitleUnicode,
		Artist: s.Artist, ArtistUnicode: s.ArtistUnicode, Creator: s.Creator,
		Status: s.Status, BPM: s.BPM, Video: s.Video, DownloadDisabled: s.DownloadDisabled,
	}
	for _, m := range s.Beatmaps {
		v.Beatmaps = append(v.Beatmaps, v1BeatmapView{
			ID: m.ID, Version: m.Version, Mode: m.Mode,
			DifficultyRating: m.DifficultyRating, Checksum: m.Checksum,
		})
	}
	return v
}

// v2BeatmapsetView adds the fields v1 omits; v2 is additive, not a
// breaking rename, matching how the upstream catalog's own v1/v2 split works.
type v2BeatmapsetView struct {
	v1BeatmapsetView
	GenreID        int32   `json:"genre_id"`
	LanguageID     int32   `json:"language_id"`
	Source         string  `json:"source"`
	Tags           string  `json:"tags"`
	Rating         float64 `json:"rating"`
	FavouriteCount int32   `json:"favourite_count"`
	PlayCount      int32   `json:"play_count"`
}

func toV2Set(s model.Beatmapset) v2BeatmapsetView {
	return v2BeatmapsetView{
		v1BeatmapsetView: toV1Set(s),
		GenreID:          s.GenreID,
		LanguageID:       s.LanguageID,
		Source:           s.Source,
		Tags:             s.Tags,
		Rating:           s.Rating,
		FavouriteCount:   s.FavouriteCount,
		PlayCount:        s.PlayCount,
	}
}

// v1MapRow is one element of a V1 array response: a beatmap row carrying its
// parent beatmapset's shared fields flattened alongside it, matching the
// legacy osu!-v1 "one row per difficulty" shape every V1 endpoint returns.
type v1MapRow struct {
	BeatmapsetID     int64   `json:"beatmapset_id"`
	ID               int64   `json:"id"`
	Version          string  `json:"version"`
	Mode             string  `json:"mode"`
	DifficultyRating float64 `json:"difficulty_rating"`
	Checksum         string  `json:"checksum"`
	Title            string  `json:"title"`
	TitleUnicode     string  `json:"title_unicode"`
	Artist           string  `json:"artist"`
	ArtistUnicode    string  `json:"artist_unicode"`
	Creator          string  `json:"creator"`
	Status           string  `json:"status"`
	BPM              float64 `json:"bpm"`
	Video            bool    `json:"video"`
	DownloadDisabled bool    `json:"download_disabled"`
}

func toV1Row(s model.Beatmapset, m model.Beatmap) v1MapRow {
	return v1MapRow{
		BeatmapsetID: s.ID, ID: m.ID, Version: m.Version, Mode: m.Mode,
		DifficultyRating: m.DifficultyRating, Checksum: m.Checksum,
		Title: s.Title, TitleUnicode: s.TitleUnicode,
		Artist: s.Artist, ArtistUnicode: s.ArtistUnicode, Creator: s.Creator,
		Status: s.Status, BPM: s.BPM, Video: s.Video, DownloadDisabled: s.DownloadDisabled,
	}
}

func toV1Rows(s model.Beatmapset) []v1MapRow {
	rows := make([]v1MapRow, 0, len(s.Beatmaps))
	for _, m := range s.Beatmaps {
		rows = append(rows, toV1Row(s, m))
	}
	return rows
}

type searchResponseV2 struct {
	Sets  []v2BeatmapsetView `json:"beatmapsets"`
	Total int64              `json:"total"`
}

// handleSearchV1 returns a bare array of V1 map rows (no wrapper object, no
// total field), flattened across every matched set's child maps and
// truncated to the clamped limit — the legacy client never saw a count.
func (s *Server) handleSearchV1(w http.ResponseWriter, r *http.Request) {
	f := parseSearchFilter(r)
	ctx := r.Context()

	sets, err := s.store.SearchSets(ctx, f)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "search failed")
		return
	}

	rows := make([]v1MapRow, 0, len(sets))
	for _, set := range sets {
		rows = append(rows, toV1Rows(set)...)
		if len(rows) >= f.Limit {
			break
		}
	}
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSearchV2(w http.ResponseWriter, r *http.Request) {
	f := parseSearchFilter(r)
	ctx := r.Context()

	sets, err := s.store.SearchSets(ctx, f)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "search failed")
		return
	}
	total, err := s.store.CountSets(ctx, f)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "count failed")
		return
	}

	resp := searchResponseV2{Total: total}
	for _, set := range sets {
		resp.Sets = append(resp.Sets, toV2Set(set))
	}
	writeJSON(w, http.StatusOK, resp)
}

// fetchAndSaveSet attempts a single upstream fetch and save_set for a
// beatmapset missing from local storage. Any failure along the way (the
// upstream call, the save, or the re-read) is logged and reported to the
// caller as still-missing rather than an error — the v1/v2 set-by-id
// endpoints that call it degrade to an empty/null result, not a 5xx, when
// the upstream can't fill the gap.
func (s *Server) fetchAndSaveSet(ctx context.Context, id int64) *model.Beatmapset {
	log.Printf("api: beatmapset %d not found locally, fetching from upstream", id)
	apiSet, err := s.upstream.GetSet(ctx, id)
	if err != nil {
		log.Printf("api: failed to fetch beatmapset %d from upstream: %v", id, err)
		return nil
	}
	if err := s.store.SaveSet(ctx, apiSet); err != nil {
		log.Printf("api: failed to persist beatmapset %d: %v", id, err)
		return nil
	}
	set, err := s.store.GetSet(ctx, id)
	if err != nil {
		log.Printf("api: failed to reload beatmapset %d after save: %v", id, err)
		return nil
	}
	return set
}

// handleGetSetV1 returns a bare array of V1 map rows, one per child map, or
// an empty array if the set is (still) unknown after an upstream fetch
// attempt. Never 404s.
func (s *Server) handleGetSetV1(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()
	set, err := s.store.GetSet(ctx, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if set == nil {
		set = s.fetchAndSaveSet(ctx, id)
	}
	if set == nil {
		writeJSON(w, http.StatusOK, []v1MapRow{})
		return
	}
	writeJSON(w, http.StatusOK, toV1Rows(*set))
}

// handleGetSetV2 returns the set object, or JSON null if it's (still)
// unknown after an upstream fetch attempt. Never 404s.
func (s *Server) handleGetSetV2(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()
	set, err := s.store.GetSet(ctx, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if set == nil {
		set = s.fetchAndSaveSet(ctx, id)
	}
	if set == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toV2Set(*set))
}

// v1RowForMap looks up m's parent set and builds the single-row array the
// legacy beatmap-by-id/md5 endpoints return; a missing map or a parent set
// that somehow isn't in storage both degrade to an empty array.
func (s *Server) v1RowForMap(ctx context.Context, m *model.Beatmap) []v1MapRow {
	if m == nil {
		return []v1MapRow{}
	}
	set, err := s.store.GetSet(ctx, m.BeatmapsetID)
	if err != nil || set == nil {
		return []v1MapRow{}
	}
	return []v1MapRow{toV1Row(*set, *m)}
}

// handleGetBeatmapV1 returns a bare array with 0 or 1 elements. Never 404s.
func (s *Server) handleGetBeatmapV1(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()
	m, err := s.store.GetBeatmap(ctx, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, s.v1RowForMap(ctx, m))
}

// handleGetBeatmapByMD5V1 returns a bare array with 0 or 1 elements. Never
// 404s.
func (s *Server) handleGetBeatmapByMD5V1(w http.ResponseWriter, r *http.Request) {
	md5 := r.PathValue("md5")
	ctx := r.Context()
	m, err := s.store.GetBeatmapByChecksum(ctx, md5)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, s.v1RowForMap(ctx, m))
}
