// Package storage implements the pluggable archive object store: opaque
// put/get/exists/delete keyed by (beatmapset id, no-video flag).
package storage

import (
	"context"
	"fmt"
)

// Storage is the capability set every backend implements. It is an
// interface, not a duck-typed map, per spec §9 ("tagged variant or an
// abstract capability, never duck-typed").
type Storage interface {
	// Get returns the stored bytes, or nil with no error if absent.
	Get(ctx context.Context, id int64, noVideo bool) ([]byte, error)
	// Put stores data, replacing any existing object for (id, noVideo).
	// Implementations must publish atomically: a concurrent Get never
	// observes a partial write.
	Put(ctx context.Context, id int64, noVideo bool, data []byte) error
	Exists(ctx context.Context, id int64, noVideo bool) (bool, error)
	Delete(ctx context.Context, id int64, noVideo bool) error

	// Backend returns the lower-case backend tag used in cache_metadata
	// (e.g. "local", "s3").
	Backend() string
}

// Key derivation, identical across backends (spec §4.A).
//
// sid is the signed identifier (negative for no-video); (d1, d2) is the
// two-level shard pair derived from the *positive* id.
func Key(id int64, noVideo bool) (sid int64, d1 int64, d2 int64) {
	abs := id
	if abs < 0 {
		abs = -abs
	}
	sid = id
	if noVideo {
		sid = -id
	}
	d1 = abs / 1000
	d2 = abs % 1000
	return sid, d1, d2
}

// RelativePath returns the backend-agnostic "<d1>/<d2>/<sid>.osz" suffix
// that local and object-store backends both root under their own prefix.
func RelativePath(id int64, noVideo bool) string {
	sid, d1, d2 := Key(id, noVideo)
	return fmt.Sprintf("%d/%d/%d.osz", d1, d2, sid)
}

// New constructs the configured backend. backend is "local" or "s3".
func New(backend string, local LocalConfig, s3 S3Config) (Storage, error) {
	switch backend {
	case "", "local":
		return NewLocal(local)
	case "s3":
		return NewS3(s3)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
