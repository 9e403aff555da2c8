package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const linkTTL = 24 * time.Hour

// ErrLinkAlreadyUsed indicates a second POST against a consumed
// location-share link (spec.md §3 invariant: used=true is terminal).
var ErrLinkAlreadyUsed = errors.New("callstate: location-share link already used")

// ShareLink is a one-shot SMS location-share link (spec.md §3,
// "Location-share link").
type ShareLink struct {
	LinkID      int64      `json:"link_id"`
	PhoneNumber string     `json:"phone_number"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// SaveLink persists a freshly allocated share link with a 24h TTL.
func (s *Store) SaveLink(ctx context.Context, link ShareLink) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("callstate: marshal link: %w", err)
	}
	if err := s.rdb.Set(ctx, linkKey(link.LinkID), data, linkTTL).Err(); err != nil {
		return fmt.Errorf("callstate: save link: %w", err)
	}
	return nil
}

// GetLink fetches a share link by id.
func (s *Store) GetLink(ctx context.Context, id int64) (ShareLink, error) {
	data, err := s.rdb.Get(ctx, linkKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ShareLink{}, ErrNotFound
	}
	if err != nil {
		return ShareLink{}, fmt.Errorf("callstate: get link: %w", err)
	}
	var link ShareLink
	if err := json.Unmarshal(data, &link); err != nil {
		return ShareLink{}, fmt.Errorf("callstate: unmarshal link: %w", err)
	}
	return link, nil
}

// ConsumeLink marks a link used, rejecting a second consumption attempt.
// Redis single-key GET+SET is sufficient here: within one call's lifetime
// there is exactly one browser posting coordinates (SPEC_FULL.md §5).
func (s *Store) ConsumeLink(ctx context.Context, id int64, now time.Time) (ShareLink, error) {
	link, err := s.GetLink(ctx, id)
	if err != nil {
		return ShareLink{}, err
	}
	if link.Used {
		return ShareLink{}, ErrLinkAlreadyUsed
	}
	if now.After(link.ExpiresAt) {
		return ShareLink{}, ErrNotFound
	}
	link.Used = true
	link.UsedAt = &now
	if err := s.SaveLink(ctx, link); err != nil {
		return ShareLink{}, err
	}
	return link, nil
}
