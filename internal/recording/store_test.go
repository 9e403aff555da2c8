package recording

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client)
}

func TestSaveThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	artifact := Artifact{
		Bytes:       []byte("fake-mp3-bytes"),
		ContentType: "audio/mpeg",
		Metadata: Metadata{
			RecordingSID:           "RE123",
			RecordingType:          TypeInitial,
			BytesTotal:             14,
			SegmentDurationSeconds: 12,
			CallTimestamp:          "2026-07-29T10:00:00Z",
		},
	}

	if err := store.Save(ctx, "enc-phone", "2026-07-29T10:00:00Z", TypeInitial, artifact); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "enc-phone", "2026-07-29T10:00:00Z", TypeInitial)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Bytes) != "fake-mp3-bytes" {
		t.Fatalf("Bytes = %q, want %q", got.Bytes, "fake-mp3-bytes")
	}
	if got.ContentType != "audio/mpeg" {
		t.Fatalf("ContentType = %q", got.ContentType)
	}
	if got.Metadata.RecordingSID != "RE123" {
		t.Fatalf("RecordingSID = %q", got.Metadata.RecordingSID)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Get(ctx, "enc-phone", "never-saved", TypeInitial)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveKeepsInitialAndFollowupDistinct(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	initial := Artifact{Bytes: []byte("initial"), ContentType: "audio/mpeg"}
	followup := Artifact{Bytes: []byte("followup"), ContentType: "audio/mpeg"}

	if err := store.Save(ctx, "enc-phone", "ts", TypeInitial, initial); err != nil {
		t.Fatalf("Save initial: %v", err)
	}
	if err := store.Save(ctx, "enc-phone", "ts", TypeFollowup, followup); err != nil {
		t.Fatalf("Save followup: %v", err)
	}

	gotInitial, err := store.Get(ctx, "enc-phone", "ts", TypeInitial)
	if err != nil {
		t.Fatalf("Get initial: %v", err)
	}
	if string(gotInitial.Bytes) != "initial" {
		t.Fatalf("initial Bytes = %q", gotInitial.Bytes)
	}

	gotFollowup, err := store.Get(ctx, "enc-phone", "ts", TypeFollowup)
	if err != nil {
		t.Fatalf("Get followup: %v", err)
	}
	if string(gotFollowup.Bytes) != "followup" {
		t.Fatalf("followup Bytes = %q", gotFollowup.Bytes)
	}
}
