package db

const schema = `
CREATE TABLE IF NOT EXISTS beatmapsets (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	title_unicode TEXT NOT NULL DEFAULT '',
	artist TEXT NOT NULL,
	artist_unicode TEXT NOT NULL DEFAULT '',
	creator TEXT NOT NULL,
	creator_id INTEGER NOT NULL DEFAULT 0,
	genre_id INTEGER NOT NULL DEFAULT 0,
	language_id INTEGER NOT NULL DEFAULT 0,
	rating REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	ranked_date DATETIME,
	submitted_date DATETIME,
	last_updated DATETIME,
	bpm REAL NOT NULL DEFAULT 0,
	video INTEGER NOT NULL DEFAULT 0,
	storyboard INTEGER NOT NULL DEFAULT 0,
	nsfw INTEGER NOT NULL DEFAULT 0,
	favourite_count INTEGER NOT NULL DEFAULT 0,
	play_count INTEGER NOT NULL DEFAULT 0,
	download_disabled INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS beatmaps (
	id INTEGER PRIMARY KEY,
	beatmapset_id INTEGER NOT NULL REFERENCES beatmapsets(id),
	version TEXT NOT NULL,
	mode TEXT NOT NULL,
	mode_int INTEGER NOT NULL DEFAULT 0,
	difficulty_rating REAL NOT NULL DEFAULT 0,
	ar REAL NOT NULL DEFAULT 0,
	cs REAL NOT NULL DEFAULT 0,
	hp REAL NOT NULL DEFAULT 0,
	od REAL NOT NULL DEFAULT 0,
	bpm REAL NOT NULL DEFAULT 0,
	total_length INTEGER NOT NULL DEFAULT 0,
	hit_length INTEGER NOT NULL DEFAULT 0,
	max_combo INTEGER NOT NULL DEFAULT 0,
	count_circles INTEGER NOT NULL DEFAULT 0,
	count_sliders INTEGER NOT NULL DEFAULT 0,
	count_spinners INTEGER NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_beatmaps_beatmapset_id ON beatmaps(beatmapset_id);
CREATE INDEX IF NOT EXISTS idx_beatmaps_checksum ON beatmaps(checksum);

CREATE TABLE IF NOT EXISTS cache_metadata (
	beatmapset_id INTEGER PRIMARY KEY,
	file_size INTEGER NOT NULL,
	storage_path TEXT NOT NULL,
	storage_backend TEXT NOT NULL,
	no_video INTEGER NOT NULL DEFAULT 0,
	last_accessed DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	worker_id TEXT PRIMARY KEY,
	cursor TEXT NOT NULL DEFAULT '',
	last_sync DATETIME
);
`
