// Package db is the metadata store gateway: beatmapset/beatmap rows, cache
// bookkeeping and sync cursors, over database/sql + modernc.org/sqlite.
// Grounded in internal/plex/dvr.go, the one place the teacher already talks
// to SQL directly, and on original_source/src/db/queries.rs for the exact
// upsert/search semantics the distilled spec only gestures at.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/osumirror/mirror/internal/model"
)

// Gateway is the metadata store. A single *sql.DB is safe for concurrent use
// by every sync worker and every request handler.
type Gateway struct {
	db *sql.DB
}

// Open opens (and creates, if absent) the sqlite database at path and
// applies the schema.
func Open(path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoid SQLITE_BUSY under concurrent workers

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}
	return &Gateway{db: db}, nil
}

// Close releases the underlying connection.
func (g *Gateway) Close() error { return g.db.Close() }

// UpsertSet inserts or updates a beatmapset row by id.
func (g *Gateway) UpsertSet(ctx context.Context, s model.Beatmapset) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO beatmapsets (
			id, title, title_unicode, artist, artist_unicode, creator,
			creator_id, genre_id, language_id, rating,
			source, tags, status, ranked_date, submitted_date, last_updated,
			bpm, video, storyboard, nsfw, favourite_count, play_count,
			download_disabled, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			title_unicode = excluded.title_unicode,
			artist = excluded.artist,
			artist_unicode = excluded.artist_unicode,
			creator = excluded.creator,
			creator_id = excluded.creator_id,
			genre_id = excluded.genre_id,
			language_id = excluded.language_id,
			rating = excluded.rating,
			source = excluded.source,
			tags = excluded.tags,
			status = excluded.status,
			ranked_date = excluded.ranked_date,
			submitted_date = excluded.submitted_date,
			last_updated = excluded.last_updated,
			bpm = excluded.bpm,
			video = excluded.video,
			storyboard = excluded.storyboard,
			nsfw = excluded.nsfw,
			favourite_count = excluded.favourite_count,
			play_count = excluded.play_count,
			download_disabled = excluded.download_disabled,
			updated_at = excluded.updated_at
	`,
		s.ID, s.Title, s.TitleUnicode, s.Artist, s.ArtistUnicode, s.Creator,
		s.CreatorID, s.GenreID, s.LanguageID, s.Rating,
		s.Source, s.Tags, s.Status, toNullTime(s.RankedDate), toNullTime(s.SubmittedDate), toNullTime(s.LastUpdated),
		s.BPM, s.Video, s.Storyboard, s.NSFW, s.FavouriteCount, s.PlayCount,
		s.DownloadDisabled, now, now,
	)
	if err != nil {
		return fmt.Errorf("db: upsert_set(%d): %w", s.ID, err)
	}
	return nil
}

// UpsertMap inserts or updates a single difficulty row.
func (g *Gateway) UpsertMap(ctx context.Context, m model.Beatmap) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO beatmaps (
			id, beatmapset_id, version, mode, mode_int,
			difficulty_rating, ar, cs, hp, od, bpm,
			total_length, hit_length, max_combo,
			count_circles, count_sliders, count_spinners, checksum,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			mode = excluded.mode,
			mode_int = excluded.mode_int,
			difficulty_rating = excluded.difficulty_rating,
			ar = excluded.ar,
			cs = excluded.cs,
			hp = excluded.hp,
			od = excluded.od,
			bpm = excluded.bpm,
			total_length = excluded.total_length,
			hit_length = excluded.hit_length,
			max_combo = excluded.max_combo,
			count_circles = excluded.count_circles,
			count_sliders = excluded.count_sliders,
			count_spinners = excluded.count_spinners,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`,
		m.ID, m.BeatmapsetID, m.Version, m.Mode, m.ModeInt,
		m.DifficultyRating, m.AR, m.CS, m.HP, m.OD, m.BPM,
		m.TotalLength, m.HitLength, m.MaxCombo,
		m.CountCircles, m.CountSliders, m.CountSpinners, m.Checksum,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("db: upsert_map(%d): %w", m.ID, err)
	}
	return nil
}

// SaveSet upserts a beatmapset and all of its beatmaps. The parent row is
// saved first; a child-row failure is logged and skipped, not rolled back
// or propagated, so one bad map never prevents the rest from saving.
func (g *Gateway) SaveSet(ctx context.Context, s model.Beatmapset) error {
	if err := g.UpsertSet(ctx, s); err != nil {
		return err
	}
	for _, m := range s.Beatmaps {
		m.BeatmapsetID = s.ID
		if err := g.UpsertMap(ctx, m); err != nil {
			log.Printf("db: save_set(%d): child map %d: %v", s.ID, m.ID, err)
			continue
		}
	}
	return nil
}

// GetSet loads a beatmapset and its beatmaps (ordered by id ascending). It
// returns (nil, nil) if the id doesn't exist.
func (g *Gateway) GetSet(ctx context.Context, id int64) (*model.Beatmapset, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, title, title_unicode, artist, artist_unicode, creator,
			creator_id, genre_id, language_id, rating,
			source, tags, status, ranked_date, submitted_date, last_updated,
			bpm, video, storyboard, nsfw, favourite_count, play_count,
			download_disabled, created_at, updated_at
		FROM beatmapsets WHERE id = ?`, id)

	s, err := scanSet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: get_set(%d): %w", id, err)
	}

	rows, err := g.db.QueryContext(ctx, `
		SELECT id, beatmapset_id, version, mode, mode_int,
			difficulty_rating, ar, cs, hp, od, bpm,
			total_length, hit_length, max_combo,
			count_circles, count_sliders, count_spinners, checksum,
			created_at, updated_at
		FROM beatmaps WHERE beatmapset_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("db: get_set(%d): load maps: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, fmt.Errorf("db: get_set(%d): scan map: %w", id, err)
		}
		s.Beatmaps = append(s.Beatmaps, m)
	}
	return &s, rows.Err()
}

// GetBeatmap looks up a single difficulty by its own id, independent of its
// parent set. Returns (nil, nil) if absent.
func (g *Gateway) GetBeatmap(ctx context.Context, id int64) (*model.Beatmap, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, beatmapset_id, version, mode, mode_int,
			difficulty_rating, ar, cs, hp, od, bpm,
			total_length, hit_length, max_combo,
			count_circles, count_sliders, count_spinners, checksum,
			created_at, updated_at
		FROM beatmaps WHERE id = ?`, id)
	m, err := scanMap(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: get_beatmap(%d): %w", id, err)
	}
	return &m, nil
}

// GetBeatmapByChecksum looks up a single difficulty by its MD5 file
// checksum. Returns (nil, nil) if absent.
func (g *Gateway) GetBeatmapByChecksum(ctx context.Context, checksum string) (*model.Beatmap, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, beatmapset_id, version, mode, mode_int,
			difficulty_rating, ar, cs, hp, od, bpm,
			total_length, hit_length, max_combo,
			count_circles, count_sliders, count_spinners, checksum,
			created_at, updated_at
		FROM beatmaps WHERE checksum = ?`, checksum)
	m, err := scanMap(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: get_beatmap_by_checksum(%s): %w", checksum, err)
	}
	return &m, nil
}

// SearchFilter controls SearchSets/CountSets.
type SearchFilter struct {
	Query  string // substring match across title/artist/creator/tags, case-insensitive
	Status string // exact match, ignored when empty
	Limit  int
	Offset int
}

// SearchSets returns sets matching the filter, ordered by ranked_date
// descending with NULLs last.
func (g *Gateway) SearchSets(ctx context.Context, f SearchFilter) ([]model.Beatmapset, error) {
	sqlStr, args := buildSearch(`
		SELECT id, title, title_unicode, artist, artist_unicode, creator,
			creator_id, genre_id, language_id, rating,
			source, tags, status, ranked_date, submitted_date, last_updated,
			bpm, video, storyboard, nsfw, favourite_count, play_count,
			download_disabled, created_at, updated_at
		FROM beatmapsets`, f, true)

	rows, err := g.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("db: search_sets: %w", err)
	}
	defer rows.Close()

	var out []model.Beatmapset
	for rows.Next() {
		s, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("db: search_sets: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountSets returns the total number of sets matching the filter, ignoring
// Limit/Offset.
func (g *Gateway) CountSets(ctx context.Context, f SearchFilter) (int64, error) {
	sqlStr, args := buildSearch(`SELECT COUNT(*) FROM beatmapsets`, f, false)
	var n int64
	if err := g.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db: count_sets: %w", err)
	}
	return n, nil
}

func buildSearch(base string, f SearchFilter, paginate bool) (string, []any) {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(" WHERE 1=1")

	var args []any
	if f.Query != "" {
		sb.WriteString(" AND (title LIKE ? ESCAPE '\\' OR artist LIKE ? ESCAPE '\\' OR creator LIKE ? ESCAPE '\\' OR tags LIKE ? ESCAPE '\\')")
		like := "%" + escapeLike(f.Query) + "%"
		args = append(args, like, like, like, like)
	}
	if f.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, f.Status)
	}

	if paginate {
		sb.WriteString(" ORDER BY CASE WHEN ranked_date IS NULL THEN 1 ELSE 0 END, ranked_date DESC")
		limit := f.Limit
		if limit <= 0 || limit > 100 {
			limit = 100
		}
		sb.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max0(f.Offset)))
	}

	return sb.String(), args
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// SaveCursor persists the resumable continuation token for a sync worker.
func (g *Gateway) SaveCursor(ctx context.Context, c model.SyncCursor) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (worker_id, cursor, last_sync) VALUES (?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET cursor = excluded.cursor, last_sync = excluded.last_sync
	`, c.WorkerID, c.Cursor, toNullTime(c.LastSync))
	if err != nil {
		return fmt.Errorf("db: save_cursor(%s): %w", c.WorkerID, err)
	}
	return nil
}

// LoadCursor returns the saved cursor for workerID, or a zero-value cursor
// (empty Cursor field) if none has been saved yet.
func (g *Gateway) LoadCursor(ctx context.Context, workerID string) (model.SyncCursor, error) {
	var c model.SyncCursor
	c.WorkerID = workerID
	var lastSync sql.NullTime
	err := g.db.QueryRowContext(ctx, `SELECT cursor, last_sync FROM sync_cursors WHERE worker_id = ?`, workerID).
		Scan(&c.Cursor, &lastSync)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return model.SyncCursor{}, fmt.Errorf("db: load_cursor(%s): %w", workerID, err)
	}
	if lastSync.Valid {
		c.LastSync = lastSync.Time
	}
	return c, nil
}

// UpsertCacheMetadata records where an archive was last stored and refreshes
// its last-accessed timestamp.
func (g *Gateway) UpsertCacheMetadata(ctx context.Context, m model.CacheMetadata) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO cache_metadata (beatmapset_id, file_size, storage_path, storage_backend, no_video, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(beatmapset_id) DO UPDATE SET
			file_size = excluded.file_size,
			storage_path = excluded.storage_path,
			storage_backend = excluded.storage_backend,
			no_video = excluded.no_video,
			last_accessed = excluded.last_accessed
	`, m.BeatmapsetID, m.ByteSize, m.StoragePath, m.StorageBackend, m.NoVideo, now)
	if err != nil {
		return fmt.Errorf("db: upsert_cache_metadata(%d): %w", m.BeatmapsetID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSet(row scanner) (model.Beatmapset, error) {
	var s model.Beatmapset
	var rankedDate, submittedDate, lastUpdated sql.NullTime
	err := row.Scan(
		&s.ID, &s.Title, &s.TitleUnicode, &s.Artist, &s.ArtistUnicode, &s.Creator,
		&s.CreatorID, &s.GenreID, &s.LanguageID, &s.Rating,
		&s.Source, &s.Tags, &s.Status, &rankedDate, &submittedDate, &lastUpdated,
		&s.BPM, &s.Video, &s.Storyboard, &s.NSFW, &s.FavouriteCount, &s.PlayCount,
		&s.DownloadDisabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Beatmapset{}, err
	}
	if rankedDate.Valid {
		s.RankedDate = rankedDate.Time
	}
	if submittedDate.Valid {
		s.SubmittedDate = submittedDate.Time
	}
	if lastUpdated.Valid {
		s.LastUpdated = lastUpdated.Time
	}
	return s, nil
}

func scanMap(row scanner) (model.Beatmap, error) {
	var m model.Beatmap
	err := row.Scan(
		&m.ID, &m.BeatmapsetID, &m.Version, &m.Mode, &m.ModeInt,
		&m.DifficultyRating, &m.AR, &m.CS, &m.HP, &m.OD, &m.BPM,
		&m.TotalLength, &m.HitLength, &m.MaxCombo,
		&m.CountCircles, &m.CountSliders, &m.CountSpinners, &m.Checksum,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
