package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/osumirror/mirror/internal/model"
)

type fakeStore struct {
	sets       map[int64]*model.Beatmapset
	maps       map[int64]*model.Beatmap
	saveErr    error
	cacheMetas []model.CacheMetadata
}

func newFakeStore() *fakeStore {
	return &fakeStore{sets: make(map[int64]*model.Beatmapset), maps: make(map[int64]*model.Beatmap)}
}

func (f *fakeStore) GetSet(ctx context.Context, id int64) (*model.Beatmapset, error) {
	return f.sets[id], nil
}
func (f *fakeStore) SaveSet(ctx context.Context, s model.Beatmapset) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	cp := s
	f.sets[s.ID] = &cp
	return nil
}
func (f *fakeStore) SearchSets(ctx context.Context, flt SearchFilter) ([]model.Beatmapset, error) {
	var out []model.Beatmapset
	for _, s := range f.sets {
		out = append(out, *s)
	}
	return out, nil
}
func (f *fakeStore) CountSets(ctx context.Context, flt SearchFilter) (int64, error) {
	return int64(len(f.sets)), nil
}
func (f *fakeStore) UpsertCacheMetadata(ctx context.Context, m model.CacheMetadata) error {
	f.cacheMetas = append(f.cacheMetas, m)
	return nil
}
func (f *fakeStore) GetBeatmap(ctx context.Context, id int64) (*model.Beatmap, error) {
	return f.maps[id], nil
}
func (f *fakeStore) GetBeatmapByChecksum(ctx context.Context, checksum string) (*model.Beatmap, error) {
	for _, m := range f.maps {
		if m.Checksum == checksum {
			return m, nil
		}
	}
	return nil, nil
}

type fakeUpstream struct {
	sets map[int64]model.Beatmapset
}

func (f *fakeUpstream) GetSet(ctx context.Context, id int64) (model.Beatmapset, error) {
	s, ok := f.sets[id]
	if !ok {
		return model.Beatmapset{}, errNotFound
	}
	return s, nil
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

type fakeMirror struct {
	data []byte
	err  error
}

func (f *fakeMirror) Download(ctx context.Context, id int64, noVideo bool) ([]byte, error) {
	return f.data, f.err
}

type fakeStorage struct {
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: make(map[string][]byte)} }
func storageKey(id int64, noVideo bool) string {
	if noVideo {
		return "nv:" + string(rune(id))
	}
	return "v:" + string(rune(id))
}
func (f *fakeStorage) Get(ctx context.Context, id int64, noVideo bool) ([]byte, error) {
	return f.objects[storageKey(id, noVideo)], nil
}
func (f *fakeStorage) Put(ctx context.Context, id int64, noVideo bool, data []byte) error {
	f.objects[storageKey(id, noVideo)] = data
	return nil
}
func (f *fakeStorage) Exists(ctx context.Context, id int64, noVideo bool) (bool, error) {
	_, ok := f.objects[storageKey(id, noVideo)]
	return ok, nil
}
func (f *fakeStorage) Delete(ctx context.Context, id int64, noVideo bool) error {
	delete(f.objects, storageKey(id, noVideo))
	return nil
}
func (f *fakeStorage) Backend() string { return "fake" }

func newTestServer() (*Server, *fakeStore, *fakeStorage) {
	s, store, _, st := newTestServerWithUpstream()
	return s, store, st
}

func newTestServerWithUpstream() (*Server, *fakeStore, *fakeUpstream, *fakeStorage) {
	store := newFakeStore()
	up := &fakeUpstream{sets: make(map[int64]model.Beatmapset)}
	mirror := &fakeMirror{data: []byte("PK\x03\x04data")}
	st := newFakeStorage()
	return NewServer(store, up, mirror, st, nil), store, up, st
}

func TestHandleDownload_CacheMiss(t *testing.T) {
	s, store, st := newTestServer()
	store.sets[1] = &model.Beatmapset{ID: 1, Artist: "Artist", Title: "Title"}
	_ = st

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/beatmapsets/1/download", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Cache-Status") != "MISS" {
		t.Errorf("X-Cache-Status = %q, want MISS", w.Header().Get("X-Cache-Status"))
	}
	if len(store.cacheMetas) != 1 {
		t.Errorf("expected cache metadata to be recorded, got %d entries", len(store.cacheMetas))
	}
}

func TestHandleDownload_DownloadDisabled(t *testing.T) {
	s, store, _ := newTestServer()
	store.sets[2] = &model.Beatmapset{ID: 2, DownloadDisabled: true}

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/beatmapsets/2/download", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleDownload_NotFoundAnywhere(t *testing.T) {
	s, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/beatmapsets/999/download", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestParseNoVideo(t *testing.T) {
	cases := []struct {
		in   map[string][]string
		want bool
	}{
		{map[string][]string{"nv": {"1"}}, true},
		{map[string][]string{"nv": {"0"}}, false},
		{map[string][]string{"novideo": {"true"}}, true},
		{map[string][]string{}, false},
		{map[string][]string{"nv": {""}}, true},
	}
	for _, c := range cases {
		if got := parseNoVideo(c.in); got != c.want {
			t.Errorf("parseNoVideo(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	got := sanitizeFilename(`1 Artist/Name: "Title"?.osz`)
	want := `1 Artist_Name_ _Title__.osz`
	if got != want {
		t.Errorf("sanitizeFilename = %q, want %q", got, want)
	}
}

func TestHandleSearchV1(t *testing.T) {
	s, store, _ := newTestServer()
	store.sets[1] = &model.Beatmapset{ID: 1, Title: "One"}

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=one", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleGetSetV1_CacheMissFetchesUpstream(t *testing.T) {
	s, store, up, _ := newTestServerWithUpstream()
	up.sets[7] = model.Beatmapset{
		ID: 7, Artist: "Artist", Title: "Title",
		Beatmaps: []model.Beatmap{{ID: 70, BeatmapsetID: 7, Version: "Hard"}},
	}

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/beatmapsets/7", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rows []v1MapRow
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v, body=%s", err, w.Body.String())
	}
	if len(rows) != 1 || rows[0].ID != 70 || rows[0].BeatmapsetID != 7 {
		t.Errorf("unexpected rows: %+v", rows)
	}
	if _, ok := store.sets[7]; !ok {
		t.Errorf("expected the upstream fetch to be persisted via SaveSet")
	}
}

func TestHandleGetSetV1_StillMissingReturnsEmptyArray(t *testing.T) {
	s, _, _, _ := newTestServerWithUpstream()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/beatmapsets/999", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (v1 never 404s)", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestHandleGetSetV2_NullWhenMissing(t *testing.T) {
	s, _, _, _ := newTestServerWithUpstream()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v2/beatmapsets/999", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (v2 never 404s)", w.Code)
	}
	if got := w.Body.String(); got != "null\n" {
		t.Errorf("body = %q, want JSON null", got)
	}
}

func TestHandleSearchV1_ReturnsBareArray(t *testing.T) {
	s, store, _ := newTestServer()
	store.sets[1] = &model.Beatmapset{
		ID: 1, Title: "One",
		Beatmaps: []model.Beatmap{{ID: 10, BeatmapsetID: 1}, {ID: 11, BeatmapsetID: 1}},
	}

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=one", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rows []v1MapRow
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("response is not a bare JSON array: %v, body=%s", err, w.Body.String())
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}
}

func TestParseSearchFilter_ClampsOverLimitTo100(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/search?"+url.Values{"limit": {"200"}}.Encode(), nil)
	f := parseSearchFilter(r)
	if f.Limit != 100 {
		t.Errorf("limit = %d, want clamped to 100", f.Limit)
	}
}

func TestParseSearchFilter_DefaultsWhenUnset(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	f := parseSearchFilter(r)
	if f.Limit != 50 {
		t.Errorf("limit = %d, want default 50", f.Limit)
	}
}

func TestHandleNotFound(t *testing.T) {
	s, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent/route", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
