package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestKeyDerivation(t *testing.T) {
	cases := []struct {
		id      int64
		noVideo bool
		wantSID int64
		wantD1  int64
		wantD2  int64
	}{
		{1414, false, 1414, 1, 414},
		{1414, true, -1414, 1, 414},
		{9999, false, 9999, 9, 999},
		{1000000, false, 1000000, 1000, 0},
	}
	for _, c := range cases {
		sid, d1, d2 := Key(c.id, c.noVideo)
		if sid != c.wantSID || d1 != c.wantD1 || d2 != c.wantD2 {
			t.Errorf("Key(%d, %v) = (%d, %d, %d), want (%d, %d, %d)",
				c.id, c.noVideo, sid, d1, d2, c.wantSID, c.wantD1, c.wantD2)
		}
	}
}

func TestLocal_PutGetExistsDelete(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(LocalConfig{Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	data := []byte("PK\x03\x04hello")
	if got, err := l.Get(ctx, 1414, false); err != nil || got != nil {
		t.Fatalf("expected miss, got (%v, %v)", got, err)
	}
	if ok, _ := l.Exists(ctx, 1414, false); ok {
		t.Fatalf("expected Exists() false before Put")
	}

	if err := l.Put(ctx, 1414, false, data); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := l.Get(ctx, 1414, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
	if ok, _ := l.Exists(ctx, 1414, false); !ok {
		t.Fatalf("expected Exists() true after Put")
	}

	// The no-video variant is a distinct object.
	if got, _ := l.Get(ctx, 1414, true); got != nil {
		t.Fatalf("expected no-video variant to still be a miss")
	}

	if err := l.Delete(ctx, 1414, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := l.Exists(ctx, 1414, false); ok {
		t.Fatalf("expected Exists() false after Delete")
	}
}

func TestLocal_Backend(t *testing.T) {
	l, err := NewLocal(LocalConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if l.Backend() != "local" {
		t.Errorf("Backend() = %q, want local", l.Backend())
	}
}
