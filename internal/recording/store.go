// Package recording implements the recording ingest pipeline and the HTTP
// range server described in spec.md §4.6, grounded on the teacher's
// internal/archive package: a Redis-backed hot copy for the 24h serving
// window (generalized from callstate's key-builder pattern) plus an S3
// archive for durability past that TTL.
package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const artifactTTL = 24 * time.Hour

// Type distinguishes the two recording segments a call can produce
// (spec.md §3's "Recording artifact").
type Type string

const (
	TypeInitial  Type = "initial"
	TypeFollowup Type = "followup"
)

// Metadata describes one recorded segment (spec.md §4.6).
type Metadata struct {
	RecordingSID           string `json:"recording_sid"`
	RecordingType          Type   `json:"recording_type"`
	BytesTotal             int    `json:"bytes_total"`
	SegmentDurationSeconds int    `json:"segment_duration_seconds"`
	CallTimestamp          string `json:"call_timestamp"`
}

// Artifact is the full stored value: media bytes, content type, metadata.
type Artifact struct {
	Bytes       []byte   `json:"-"`
	ContentType string   `json:"content_type"`
	Metadata    Metadata `json:"metadata"`
}

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("recording: not found")

// Store is the Redis-backed hot store for recording artifacts.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	if rdb == nil {
		panic("recording: redis client cannot be nil")
	}
	return &Store{rdb: rdb}
}

func artifactKey(encodedPhone, startTimestamp string, typ Type) string {
	return fmt.Sprintf("recordings:%s:%s:%s", encodedPhone, startTimestamp, typ)
}

// envelope is the on-wire shape: metadata, content type and the media bytes
// in one JSON document, the bytes base64-encoded because media is binary.
type envelope struct {
	ContentType string   `json:"content_type"`
	Metadata    Metadata `json:"metadata"`
	Bytes       []byte   `json:"bytes"` // base64 via encoding/json
}

// Save persists the artifact under (phone, startTimestamp, typ) with the
// 24h TTL spec.md §3 mandates.
func (s *Store) Save(ctx context.Context, encodedPhone, startTimestamp string, typ Type, artifact Artifact) error {
	env := envelope{ContentType: artifact.ContentType, Metadata: artifact.Metadata, Bytes: artifact.Bytes}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("recording: marshal artifact: %w", err)
	}
	if err := s.rdb.Set(ctx, artifactKey(encodedPhone, startTimestamp, typ), data, artifactTTL).Err(); err != nil {
		return fmt.Errorf("recording: save artifact: %w", err)
	}
	return nil
}

// Get fetches a stored artifact. Returns ErrNotFound if absent or expired.
func (s *Store) Get(ctx context.Context, encodedPhone, startTimestamp string, typ Type) (Artifact, error) {
	data, err := s.rdb.Get(ctx, artifactKey(encodedPhone, startTimestamp, typ)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("recording: get artifact: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Artifact{}, fmt.Errorf("recording: unmarshal artifact: %w", err)
	}
	return Artifact{Bytes: env.Bytes, ContentType: env.ContentType, Metadata: env.Metadata}, nil
}
