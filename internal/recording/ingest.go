package recording

import (
	"context"
	"fmt"

	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// downloader is the narrow slice of telephony.Client this package calls,
// letting tests substitute a fake.
type downloader interface {
	DownloadRecording(ctx context.Context, auth telephony.RecordingAuth, recordingURL string) ([]byte, string, error)
}

// Ingest downloads, stores and archives one recording segment when the
// telephony provider signals completion (spec.md §4.6).
type Ingest struct {
	store      *Store
	archive    *Archive
	downloader downloader
	auth       telephony.RecordingAuth
	logger     *logging.Logger
}

// NewIngest wires the hot store, the durable archive and the recording
// account's read-only credentials.
func NewIngest(store *Store, archive *Archive, downloader downloader, auth telephony.RecordingAuth, logger *logging.Logger) *Ingest {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ingest{store: store, archive: archive, downloader: downloader, auth: auth, logger: logger}
}

// CompletionEvent is what the recording-status-callback webhook decodes
// into before calling Handle.
type CompletionEvent struct {
	EncodedPhone           string
	StartTimestamp         string
	RecordingType          Type
	RecordingSID           string
	RecordingURL           string
	SegmentDurationSeconds int
	Anonymous              bool
}

// Handle implements spec.md §4.6's ingest: download the media, record the
// MIME type and metadata, store it, and archive it. Empty payloads and
// anonymous callers are dropped silently, per spec.
func (i *Ingest) Handle(ctx context.Context, ev CompletionEvent) error {
	if ev.Anonymous {
		i.logger.Info("recording: dropping anonymous caller recording", "recording_sid", ev.RecordingSID)
		return nil
	}
	if ev.RecordingURL == "" {
		return nil
	}

	data, contentType, err := i.downloader.DownloadRecording(ctx, i.auth, ev.RecordingURL)
	if err != nil {
		return fmt.Errorf("recording: download %s: %w", ev.RecordingSID, err)
	}
	if len(data) == 0 {
		i.logger.Info("recording: dropping empty payload", "recording_sid", ev.RecordingSID)
		return nil
	}

	artifact := Artifact{
		Bytes:       data,
		ContentType: contentType,
		Metadata: Metadata{
			RecordingSID:           ev.RecordingSID,
			RecordingType:          ev.RecordingType,
			BytesTotal:             len(data),
			SegmentDurationSeconds: ev.SegmentDurationSeconds,
			CallTimestamp:          ev.StartTimestamp,
		},
	}

	if err := i.store.Save(ctx, ev.EncodedPhone, ev.StartTimestamp, ev.RecordingType, artifact); err != nil {
		return err
	}
	if err := i.archive.Put(ctx, ev.EncodedPhone, ev.StartTimestamp, ev.RecordingType, artifact); err != nil {
		// Archival failure doesn't invalidate the hot copy a caller can
		// already serve; log and move on.
		i.logger.Warn("recording: archive failed", "recording_sid", ev.RecordingSID, "error", err)
	}
	return nil
}
