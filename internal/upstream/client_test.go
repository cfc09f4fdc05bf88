package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *httptest.Server) {
	t.Helper()
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-123", ExpiresIn: 3600})
	}))
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want Bearer tok-123", got)
		}
		switch {
		case r.URL.Path == "/beatmapsets/search":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(searchResponse{
				Beatmapsets: []apiBeatmapset{
					{ID: 1, Title: "Title One", Artist: "Artist One", Creator: "mapper1", Status: "ranked"},
				},
				CursorString: strPtr("next-cursor"),
			})
		case r.URL.Path == "/beatmapsets/42":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(apiBeatmapset{
				ID: 42, Title: "Forty Two", Artist: "Answer", Creator: "deep-thought", Status: "loved",
				Beatmaps: []apiBeatmap{{ID: 1, BeatmapsetID: 42, Version: "Insane", Mode: "osu", ModeInt: 0}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return auth, api
}

func strPtr(s string) *string { return &s }

func TestClient_Search(t *testing.T) {
	auth, api := newTestServer(t)
	defer auth.Close()
	defer api.Close()

	budget := NewBudget(5)
	c := NewClient("id", "secret", budget, WithBaseURL(api.URL), WithAuthURL(auth.URL))

	result, err := c.Search(t.Context(), "q=foo", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Sets) != 1 || result.Sets[0].ID != 1 {
		t.Fatalf("unexpected sets: %+v", result.Sets)
	}
	if result.NextCursor != "next-cursor" {
		t.Fatalf("NextCursor = %q, want next-cursor", result.NextCursor)
	}
}

func TestClient_GetSet(t *testing.T) {
	auth, api := newTestServer(t)
	defer auth.Close()
	defer api.Close()

	budget := NewBudget(5)
	c := NewClient("id", "secret", budget, WithBaseURL(api.URL), WithAuthURL(auth.URL))

	set, err := c.GetSet(t.Context(), 42)
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	if set.ID != 42 || set.Title != "Forty Two" || len(set.Beatmaps) != 1 {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestClient_TokenReusedAcrossCalls(t *testing.T) {
	var tokenCalls int
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok-abc", ExpiresIn: 3600})
	}))
	defer auth.Close()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(apiBeatmapset{ID: 1, Status: "ranked"})
	}))
	defer api.Close()

	budget := NewBudget(5)
	c := NewClient("id", "secret", budget, WithBaseURL(api.URL), WithAuthURL(auth.URL))

	if _, err := c.GetSet(t.Context(), 1); err != nil {
		t.Fatalf("GetSet #1: %v", err)
	}
	if _, err := c.GetSet(t.Context(), 1); err != nil {
		t.Fatalf("GetSet #2: %v", err)
	}
	if tokenCalls != 1 {
		t.Fatalf("tokenCalls = %d, want 1 (token should be cached)", tokenCalls)
	}
}
