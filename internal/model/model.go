// Package model holds the persisted entities shared by the metadata store,
// the upstream client, and the HTTP surface.
package model

import "time"

// Beatmapset is the logical entity for a downloadable archive and its metadata.
type Beatmapset struct {
	ID int64

	Title         string
	TitleUnicode  string
	Artist        string
	ArtistUnicode string
	Creator       string
	CreatorID     int64

	GenreID    int32
	LanguageID int32
	Source     string
	Tags       string

	Status string // graveyard, wip, pending, ranked, approved, qualified, loved

	SubmittedDate time.Time
	RankedDate    time.Time
	LastUpdated   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	FavouriteCount int32
	PlayCount      int32

	Video             bool
	Storyboard        bool
	NSFW              bool
	DownloadDisabled  bool

	BPM    float64
	Rating float64

	Beatmaps []Beatmap
}

// Beatmap is a single difficulty belonging to a Beatmapset.
type Beatmap struct {
	ID           int64
	BeatmapsetID int64

	Version string
	Mode    string
	ModeInt int32 // 0..3

	DifficultyRating float64
	AR               float64
	CS               float64
	HP               float64
	OD               float64
	BPM              float64

	TotalLength int32 // seconds
	HitLength   int32 // seconds

	CountCircles int32
	CountSliders int32
	CountSpinners int32
	MaxCombo     int32

	Checksum string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CacheMetadata records where and how an archive object was last stored.
type CacheMetadata struct {
	BeatmapsetID   int64
	ByteSize       int64
	StoragePath    string
	StorageBackend string
	NoVideo        bool
	LastAccessed   time.Time
}

// SyncCursor is the resumable continuation token for one background sync worker.
type SyncCursor struct {
	WorkerID string
	Cursor   string // empty means "restart from beginning"
	LastSync time.Time
}
