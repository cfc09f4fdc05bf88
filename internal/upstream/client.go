// Package upstream implements the authenticated client for the authoritative
// upstream catalog API: OAuth-style token lifecycle with lazy refresh and a
// process-global concurrency/rate budget shared by every caller (the request
// pipeline and every sync worker).
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/osumirror/mirror/internal/httpclient"
	"github.com/osumirror/mirror/internal/model"
)

const (
	defaultBaseURL = "https://osu.ppy.sh/api/v2"
	defaultAuthURL = "https://osu.ppy.sh/oauth/token"

	// DefaultBudgetCapacity is the spec default for the process-global budget.
	DefaultBudgetCapacity = 50
	// DefaultReplenishInterval is the spec default replenisher tick.
	DefaultReplenishInterval = 60 * time.Second
)

// apiAvailability mirrors the upstream's nested availability object.
type apiAvailability struct {
	DownloadDisabled bool `json:"download_disabled"`
}

// apiBeatmap is the wire shape of one difficulty as returned by the upstream API.
type apiBeatmap struct {
	ID               int64    `json:"id"`
	BeatmapsetID     int64    `json:"beatmapset_id"`
	Version          string   `json:"version"`
	Mode             string   `json:"mode"`
	ModeInt          int32    `json:"mode_int"`
	DifficultyRating *float64 `json:"difficulty_rating"`
	AR               *float64 `json:"ar"`
	CS               *float64 `json:"cs"`
	Drain            *float64 `json:"drain"`
	Accuracy         *float64 `json:"accuracy"`
	BPM              *float64 `json:"bpm"`
	TotalLength      int32    `json:"total_length"`
	HitLength        *int32   `json:"hit_length"`
	MaxCombo         *int32   `json:"max_combo"`
	CountCircles     *int32   `json:"count_circles"`
	CountSliders     *int32   `json:"count_sliders"`
	CountSpinners    *int32   `json:"count_spinners"`
	Checksum         *string  `json:"checksum"`
}

// apiBeatmapset is the wire shape of a set as returned by the upstream API.
type apiBeatmapset struct {
	ID             int64            `json:"id"`
	Title          string           `json:"title"`
	TitleUnicode   *string          `json:"title_unicode"`
	Artist         string           `json:"artist"`
	ArtistUnicode  *string          `json:"artist_unicode"`
	Creator        string           `json:"creator"`
	UserID         *int64           `json:"user_id"`
	Source         *string          `json:"source"`
	Tags           *string          `json:"tags"`
	Status         string           `json:"status"`
	RankedDate     *time.Time       `json:"ranked_date"`
	SubmittedDate  *time.Time       `json:"submitted_date"`
	LastUpdated    *time.Time       `json:"last_updated"`
	BPM            *float64         `json:"bpm"`
	Video          bool             `json:"video"`
	Storyboard     bool             `json:"storyboard"`
	NSFW           bool             `json:"nsfw"`
	FavouriteCount int32            `json:"favourite_count"`
	PlayCount      int32            `json:"play_count"`
	GenreID        *int32           `json:"genre_id"`
	LanguageID     *int32           `json:"language_id"`
	Rating         *float64         `json:"rating"`
	Availability   *apiAvailability `json:"availability"`
	Beatmaps       []apiBeatmap     `json:"beatmaps"`
}

// SearchResult is one page of a catalog search.
type SearchResult struct {
	Sets       []model.Beatmapset
	NextCursor string // empty when there is no further page
}

type searchResponse struct {
	Beatmapsets  []apiBeatmapset `json:"beatmapsets"`
	CursorString *string         `json:"cursor_string"`
}

// Client is the authenticated upstream API client. One Client instance owns
// one token lifecycle; the Budget it's constructed with may (and normally
// should) be shared across every Client and every sync worker in the
// process, since the budget is process-global per spec §4.B.
type Client struct {
	baseURL    string
	httpClient *http.Client
	budget     *Budget
	tokens     *tokenManager
	retry      httpclient.RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the default osu! API base URL (for tests).
func WithBaseURL(base string) Option { return func(c *Client) { c.baseURL = base } }

// WithAuthURL overrides the default OAuth token endpoint (for tests).
func WithAuthURL(auth string) Option {
	return func(c *Client) {
		c.tokens.authURL = auth
	}
}

// WithHTTPClient overrides the HTTP client used for data calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.tokens.httpClient = hc
	}
}

// WithRetryPolicy overrides the retry policy used for Search/GetSet calls.
// The background sync scheduler uses httpclient.CrawlRetryPolicy, which is
// more patient than the default since a crawl cycle isn't blocking an
// interactive request.
func WithRetryPolicy(p httpclient.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient builds a Client sharing the given process-global Budget.
func NewClient(clientID, clientSecret string, budget *Budget, opts ...Option) *Client {
	hc := httpclient.Default()
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: hc,
		budget:     budget,
		retry:      httpclient.DefaultRetryPolicy,
	}
	c.tokens = newTokenManager(defaultAuthURL, clientID, clientSecret, hc, budget)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search fetches one page of the catalog matching query, continuing from
// cursor if non-empty. Non-2xx responses are fatal to the call; Search does
// not itself retry beyond the ambient httpclient.DoWithRetry policy for
// 429/5xx.
func (c *Client) Search(ctx context.Context, query string, cursor string) (SearchResult, error) {
	token, err := c.tokens.ensureToken(ctx)
	if err != nil {
		return SearchResult{}, fmt.Errorf("upstream: search: %w", err)
	}

	u := c.baseURL + "/beatmapsets/search?" + query
	if cursor != "" {
		u += "&cursor_string=" + url.QueryEscape(cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SearchResult{}, fmt.Errorf("upstream: build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	release := c.budget.Acquire()
	resp, err := httpclient.DoWithRetry(ctx, c.httpClient, req, c.retry)
	release()
	if err != nil {
		return SearchResult{}, fmt.Errorf("upstream: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SearchResult{}, fmt.Errorf("upstream: search returned HTTP %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return SearchResult{}, fmt.Errorf("upstream: decode search response: %w", err)
	}

	result := SearchResult{Sets: make([]model.Beatmapset, 0, len(sr.Beatmapsets))}
	for _, s := range sr.Beatmapsets {
		result.Sets = append(result.Sets, toModel(s))
	}
	if sr.CursorString != nil {
		result.NextCursor = *sr.CursorString
	}
	return result, nil
}

// GetSet fetches a single beatmapset by id.
func (c *Client) GetSet(ctx context.Context, id int64) (model.Beatmapset, error) {
	token, err := c.tokens.ensureToken(ctx)
	if err != nil {
		return model.Beatmapset{}, fmt.Errorf("upstream: get_set: %w", err)
	}

	u := fmt.Sprintf("%s/beatmapsets/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Beatmapset{}, fmt.Errorf("upstream: build get_set request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	release := c.budget.Acquire()
	resp, err := httpclient.DoWithRetry(ctx, c.httpClient, req, c.retry)
	release()
	if err != nil {
		return model.Beatmapset{}, fmt.Errorf("upstream: get_set request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Beatmapset{}, fmt.Errorf("upstream: get_set(%d) returned HTTP %d", id, resp.StatusCode)
	}

	var s apiBeatmapset
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return model.Beatmapset{}, fmt.Errorf("upstream: decode get_set response: %w", err)
	}
	return toModel(s), nil
}

func toModel(s apiBeatmapset) model.Beatmapset {
	set := model.Beatmapset{
		ID:             s.ID,
		Title:          s.Title,
		Artist:         s.Artist,
		Creator:        s.Creator,
		Status:         s.Status,
		Video:          s.Video,
		Storyboard:     s.Storyboard,
		NSFW:           s.NSFW,
		FavouriteCount: s.FavouriteCount,
		PlayCount:      s.PlayCount,
	}
	if s.TitleUnicode != nil {
		set.TitleUnicode = *s.TitleUnicode
	}
	if s.ArtistUnicode != nil {
		set.ArtistUnicode = *s.ArtistUnicode
	}
	if s.UserID != nil {
		set.CreatorID = *s.UserID
	}
	if s.Source != nil {
		set.Source = *s.Source
	}
	if s.Tags != nil {
		set.Tags = *s.Tags
	}
	if s.RankedDate != nil {
		set.RankedDate = *s.RankedDate
	}
	if s.SubmittedDate != nil {
		set.SubmittedDate = *s.SubmittedDate
	}
	if s.LastUpdated != nil {
		set.LastUpdated = *s.LastUpdated
	}
	if s.BPM != nil {
		set.BPM = *s.BPM
	}
	if s.GenreID != nil {
		set.GenreID = *s.GenreID
	}
	if s.LanguageID != nil {
		set.LanguageID = *s.LanguageID
	}
	if s.Rating != nil {
		set.Rating = *s.Rating
	}
	if s.Availability != nil {
		set.DownloadDisabled = s.Availability.DownloadDisabled
	}
	for _, b := range s.Beatmaps {
		set.Beatmaps = append(set.Beatmaps, toBeatmapModel(b))
	}
	return set
}

func toBeatmapModel(b apiBeatmap) model.Beatmap {
	m := model.Beatmap{
		ID:           b.ID,
		BeatmapsetID: b.BeatmapsetID,
		Version:      b.Version,
		Mode:         b.Mode,
		ModeInt:      b.ModeInt,
		TotalLength:  b.TotalLength,
	}
	if b.DifficultyRating != nil {
		m.DifficultyRating = *b.DifficultyRating
	}
	if b.AR != nil {
		m.AR = *b.AR
	}
	if b.CS != nil {
		m.CS = *b.CS
	}
	if b.Drain != nil {
		m.HP = *b.Drain
	}
	if b.Accuracy != nil {
		m.OD = *b.Accuracy
	}
	if b.BPM != nil {
		m.BPM = *b.BPM
	}
	if b.HitLength != nil {
		m.HitLength = *b.HitLength
	}
	if b.MaxCombo != nil {
		m.MaxCombo = *b.MaxCombo
	}
	if b.CountCircles != nil {
		m.CountCircles = *b.CountCircles
	}
	if b.CountSliders != nil {
		m.CountSliders = *b.CountSliders
	}
	if b.CountSpinners != nil {
		m.CountSpinners = *b.CountSpinners
	}
	if b.Checksum != nil {
		m.Checksum = *b.Checksum
	}
	return m
}
