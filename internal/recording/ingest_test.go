package recording

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
)

type fakeDownloader struct {
	data        []byte
	contentType string
	err         error
	calls       int
}

func (f *fakeDownloader) DownloadRecording(ctx context.Context, auth telephony.RecordingAuth, recordingURL string) ([]byte, string, error) {
	f.calls++
	return f.data, f.contentType, f.err
}

func TestIngestHandleStoresDownloadedRecording(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dl := &fakeDownloader{data: []byte("audio-bytes"), contentType: "audio/mpeg"}
	ingest := NewIngest(store, NewArchive(nil, "", nil), dl, telephony.RecordingAuth{}, nil)

	ev := CompletionEvent{
		EncodedPhone:           "enc",
		StartTimestamp:         "ts",
		RecordingType:          TypeInitial,
		RecordingSID:           "RE1",
		RecordingURL:           "https://api.twilio.com/recording.mp3",
		SegmentDurationSeconds: 30,
	}
	if err := ingest.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if dl.calls != 1 {
		t.Fatalf("download calls = %d, want 1", dl.calls)
	}

	got, err := store.Get(ctx, "enc", "ts", TypeInitial)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Bytes) != "audio-bytes" {
		t.Fatalf("Bytes = %q", got.Bytes)
	}
	if got.Metadata.RecordingSID != "RE1" {
		t.Fatalf("RecordingSID = %q", got.Metadata.RecordingSID)
	}
}

func TestIngestHandleDropsAnonymousCaller(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dl := &fakeDownloader{data: []byte("audio-bytes"), contentType: "audio/mpeg"}
	ingest := NewIngest(store, NewArchive(nil, "", nil), dl, telephony.RecordingAuth{}, nil)

	ev := CompletionEvent{
		EncodedPhone:   "enc",
		StartTimestamp: "ts",
		RecordingType:  TypeInitial,
		RecordingURL:   "https://api.twilio.com/recording.mp3",
		Anonymous:      true,
	}
	if err := ingest.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if dl.calls != 0 {
		t.Fatalf("download calls = %d, want 0 for anonymous caller", dl.calls)
	}
	if _, err := store.Get(ctx, "enc", "ts", TypeInitial); err != ErrNotFound {
		t.Fatalf("expected nothing stored, got err=%v", err)
	}
}

func TestIngestHandleDropsEmptyURL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dl := &fakeDownloader{data: []byte("audio-bytes"), contentType: "audio/mpeg"}
	ingest := NewIngest(store, NewArchive(nil, "", nil), dl, telephony.RecordingAuth{}, nil)

	if err := ingest.Handle(ctx, CompletionEvent{EncodedPhone: "enc", StartTimestamp: "ts"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if dl.calls != 0 {
		t.Fatalf("download calls = %d, want 0 for empty url", dl.calls)
	}
}

func TestIngestHandleDropsEmptyPayload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dl := &fakeDownloader{data: nil, contentType: "audio/mpeg"}
	ingest := NewIngest(store, NewArchive(nil, "", nil), dl, telephony.RecordingAuth{}, nil)

	ev := CompletionEvent{EncodedPhone: "enc", StartTimestamp: "ts", RecordingURL: "https://x/y.mp3"}
	if err := ingest.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := store.Get(ctx, "enc", "ts", TypeInitial); err != ErrNotFound {
		t.Fatalf("expected nothing stored for empty payload, got err=%v", err)
	}
}

func TestIngestHandleReturnsErrorOnDownloadFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dl := &fakeDownloader{err: errors.New("boom")}
	ingest := NewIngest(store, NewArchive(nil, "", nil), dl, telephony.RecordingAuth{}, nil)

	ev := CompletionEvent{EncodedPhone: "enc", StartTimestamp: "ts", RecordingURL: "https://x/y.mp3"}
	if err := ingest.Handle(ctx, ev); err == nil {
		t.Fatalf("expected error")
	}
}
