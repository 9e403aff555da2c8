package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	transientTTL  = 1 * time.Hour
	artifactTTL   = 24 * time.Hour
	keyPrefix     = "callers:"
	stationPrefix = "notdienststation:"
)

// ErrNotFound is returned when a required key is absent.
var ErrNotFound = errors.New("callstate: not found")

// Store is the per-call Redis-backed key/value store described in
// SPEC_FULL.md §4.5, grounded on the teacher's VoiceCallStore in
// internal/conversation/voice_call_store.go (same client, same key-builder +
// TTL-constant shape, generalized from a single call-state blob to the
// named-key layout spec.md §3 mandates).
type Store struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Store {
	if rdb == nil {
		panic("callstate: redis client cannot be nil")
	}
	return &Store{rdb: rdb}
}

func serviceKey(phone string) string        { return keyPrefix + phone + ":service" }
func startTimeKey(phone string) string       { return keyPrefix + phone + ":start_time" }
func jobKey(phone, field string) string      { return keyPrefix + phone + ":job:" + field }
func jobPrefix(phone string) string          { return keyPrefix + phone + ":job:" }
func messagesKey(phone string) string        { return keyPrefix + phone + ":messages" }
func locationKey(phone string) string        { return keyPrefix + phone + ":location" }
func transferredToKey(phone string) string   { return keyPrefix + phone + ":transferred_to" }
func queueKey(phone string) string           { return keyPrefix + phone + ":queue" }
func sharedLocationKey(phone string) string  { return keyPrefix + phone + ":shared_location" }
func linkCounterKey() string                 { return stationPrefix + "standort_link:next_id" }
func linkKey(id int64) string                { return fmt.Sprintf("%sstandort_link:%d", stationPrefix, id) }

// InitNewCall atomically primes a fresh call: service, start time (local
// clock), Live flag and an empty transcript.
func (s *Store) InitNewCall(ctx context.Context, phone, service string, now time.Time) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, serviceKey(phone), service, transientTTL)
	pipe.Set(ctx, startTimeKey(phone), now.Format("20060102T150405"), transientTTL)
	pipe.Set(ctx, jobKey(phone, "Live"), "Ja", transientTTL)
	pipe.Set(ctx, messagesKey(phone), "[]", artifactTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("callstate: init call: %w", err)
	}
	return nil
}

// GetService returns the service id the call was routed to.
func (s *Store) GetService(ctx context.Context, phone string) (string, error) {
	v, err := s.rdb.Get(ctx, serviceKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("callstate: get service: %w", err)
	}
	return v, nil
}

// GetStartTime returns the call's start timestamp in storage format
// (YYYYMMDDTHHMMSS).
func (s *Store) GetStartTime(ctx context.Context, phone string) (string, error) {
	v, err := s.rdb.Get(ctx, startTimeKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("callstate: get start time: %w", err)
	}
	return v, nil
}

// SaveJobInfo stores a free-form job-info field (e.g. "Adresse erkannt").
func (s *Store) SaveJobInfo(ctx context.Context, phone, field, value string) error {
	if err := s.rdb.Set(ctx, jobKey(phone, field), value, transientTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save job info %s: %w", field, err)
	}
	return nil
}

// GetJobInfo reads a single job-info field. Returns ErrNotFound if absent.
func (s *Store) GetJobInfo(ctx context.Context, phone, field string) (string, error) {
	v, err := s.rdb.Get(ctx, jobKey(phone, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("callstate: get job info %s: %w", field, err)
	}
	return v, nil
}

// AppendMessage appends a transcript entry. The underlying value is a single
// JSON array (per spec.md §3's "Message. ... Appended-only"); callers are
// serialized by the telephony provider within one call (SPEC_FULL.md §5), so
// the read-modify-write here never races against itself.
func (s *Store) AppendMessage(ctx context.Context, phone string, msg Message) error {
	existing, err := s.GetMessages(ctx, phone)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	existing = append(existing, msg)
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("callstate: marshal messages: %w", err)
	}
	if err := s.rdb.Set(ctx, messagesKey(phone), data, artifactTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save messages: %w", err)
	}
	return nil
}

// GetMessages returns the full transcript in insertion order.
func (s *Store) GetMessages(ctx context.Context, phone string) ([]Message, error) {
	data, err := s.rdb.Get(ctx, messagesKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callstate: get messages: %w", err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("callstate: unmarshal messages: %w", err)
	}
	return msgs, nil
}

// SaveLocation persists the caller's resolved location.
func (s *Store) SaveLocation(ctx context.Context, phone string, loc Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("callstate: marshal location: %w", err)
	}
	if err := s.rdb.Set(ctx, locationKey(phone), data, transientTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save location: %w", err)
	}
	return nil
}

// GetLocation returns the caller's last-known location.
func (s *Store) GetLocation(ctx context.Context, phone string) (Location, error) {
	data, err := s.rdb.Get(ctx, locationKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("callstate: get location: %w", err)
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, fmt.Errorf("callstate: unmarshal location: %w", err)
	}
	return loc, nil
}

// SetTransferredTo records the contact a call was last successfully
// transferred to. This key survives cleanup (86400s TTL) so a repeat call
// can skip straight back to that contact.
func (s *Store) SetTransferredTo(ctx context.Context, phone string, c Contact) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("callstate: marshal transferred-to: %w", err)
	}
	if err := s.rdb.Set(ctx, transferredToKey(phone), data, artifactTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save transferred-to: %w", err)
	}
	return nil
}

// GetTransferredTo returns the last successful transfer target, if any.
func (s *Store) GetTransferredTo(ctx context.Context, phone string) (Contact, error) {
	data, err := s.rdb.Get(ctx, transferredToKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("callstate: get transferred-to: %w", err)
	}
	var c Contact
	if err := json.Unmarshal(data, &c); err != nil {
		return Contact{}, fmt.Errorf("callstate: unmarshal transferred-to: %w", err)
	}
	return c, nil
}

// PopulateQueue clears and repopulates the per-call dial queue, in order.
// Queue is stored as a Redis list (spec.md §3's "Caller-queue" table entry
// is typed "list", distinct from the messages key's "JSON array").
func (s *Store) PopulateQueue(ctx context.Context, phone string, contacts []Contact) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, queueKey(phone))
	if len(contacts) > 0 {
		items := make([]interface{}, 0, len(contacts))
		for _, c := range contacts {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("callstate: marshal queue contact: %w", err)
			}
			items = append(items, data)
		}
		pipe.RPush(ctx, queueKey(phone), items...)
	}
	pipe.Expire(ctx, queueKey(phone), transientTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("callstate: populate queue: %w", err)
	}
	return nil
}

// QueueHead returns (without removing) the next contact to dial.
// Returns ErrNotFound when the queue is empty.
func (s *Store) QueueHead(ctx context.Context, phone string) (Contact, error) {
	data, err := s.rdb.LIndex(ctx, queueKey(phone), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("callstate: peek queue: %w", err)
	}
	var c Contact
	if err := json.Unmarshal(data, &c); err != nil {
		return Contact{}, fmt.Errorf("callstate: unmarshal queue contact: %w", err)
	}
	return c, nil
}

// AdvanceQueue removes the head of the queue, moving to the next contact.
func (s *Store) AdvanceQueue(ctx context.Context, phone string) error {
	if err := s.rdb.LPop(ctx, queueKey(phone)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("callstate: advance queue: %w", err)
	}
	return nil
}

// QueueLength reports how many contacts remain in the dial queue.
func (s *Store) QueueLength(ctx context.Context, phone string) (int64, error) {
	n, err := s.rdb.LLen(ctx, queueKey(phone)).Result()
	if err != nil {
		return 0, fmt.Errorf("callstate: queue length: %w", err)
	}
	return n, nil
}

// SaveSharedLocation persists the coordinates received from the
// location-share web page.
func (s *Store) SaveSharedLocation(ctx context.Context, phone string, loc Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("callstate: marshal shared location: %w", err)
	}
	if err := s.rdb.Set(ctx, sharedLocationKey(phone), data, artifactTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save shared location: %w", err)
	}
	return nil
}

// GetSharedLocation returns the coordinates posted from the share page.
func (s *Store) GetSharedLocation(ctx context.Context, phone string) (Location, error) {
	data, err := s.rdb.Get(ctx, sharedLocationKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Location{}, ErrNotFound
	}
	if err != nil {
		return Location{}, fmt.Errorf("callstate: get shared location: %w", err)
	}
	var loc Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return Location{}, fmt.Errorf("callstate: unmarshal shared location: %w", err)
	}
	return loc, nil
}

// CleanupCall deletes the transient keys (service, start time, job info,
// location, queue) while preserving messages, recordings and
// transferred-to, so a repeat call from the same number retains context.
func (s *Store) CleanupCall(ctx context.Context, phone string) error {
	fields, err := s.rdb.Keys(ctx, jobPrefix(phone)+"*").Result()
	if err != nil {
		return fmt.Errorf("callstate: list job fields: %w", err)
	}
	keys := append([]string{
		serviceKey(phone),
		startTimeKey(phone),
		locationKey(phone),
		queueKey(phone),
	}, fields...)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("callstate: cleanup call: %w", err)
	}
	return nil
}

// NextLinkID allocates the next monotonically increasing location-share
// link id via a server-side atomic INCR, per SPEC_FULL.md's "Link-id
// allocation" design note: it must never be computed client-side.
func (s *Store) NextLinkID(ctx context.Context) (int64, error) {
	id, err := s.rdb.Incr(ctx, linkCounterKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("callstate: allocate link id: %w", err)
	}
	return id, nil
}
