// Package providerstore is the read-only-during-a-call Postgres-backed
// configuration of per-service providers, their contacts, and their
// pricing tiers (spec.md §3's "Provider"/"Pricing tier" glossary entries).
// Grounded on the teacher's internal/clinicdata package: a narrow `db`
// interface over *pgxpool.Pool (or a pgxmock pool in tests) and plain SQL
// via jackc/pgx/v5, no ORM.
package providerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// db is the slice of *pgxpool.Pool this package calls, narrow enough that
// tests can substitute a pgxmock pool.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Contact is one dial target at a provider location, ordered by Position
// within that provider (spec.md §3).
type Contact struct {
	Name     string
	Phone    string
	Position int
}

// Tier is one pricing bracket; see spec.md §3's "Pricing tier" entry.
type Tier struct {
	Minutes    int
	DayPrice   int
	NightPrice int
}

// ActiveHours defines the day/night boundary for a service, local time.
type ActiveHours struct {
	DayStart int // inclusive hour, 0-23
	DayEnd   int // exclusive hour, 0-23
}

// Provider is one dispatch location for a service: an address the routes
// API can resolve, plus the ordered contacts to ring there.
type Provider struct {
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
	Fallback  bool // tried only if no primary provider is reachable
	Contacts  []Contact
}

// Service bundles everything pricing and dispatch need for one service id
// (e.g. "schluessel-allgaeu").
type Service struct {
	ID                 string
	Providers          []Provider
	Tiers              []Tier
	FallbackDayPrice   int
	FallbackNightPrice int
	ActiveHours        ActiveHours
	// DirectForwardNumber, when set, short-circuits the FSM entirely: the
	// incoming-call state dials this number instead of greeting the
	// caller (spec.md §4.1's "direct-forward? → dial substitute" branch).
	DirectForwardNumber string
	// Emergency is the sole queue entry populated when no chosen provider
	// matches a configured contact (spec.md §4.2's `populate`).
	Emergency EmergencyContact
}

// EmergencyContact is the per-service fallback dial target.
type EmergencyContact struct {
	Name  string
	Phone string
}

// Store reads service configuration from Postgres.
type Store struct {
	db db
}

// New wraps an existing pool (or pgxmock pool, in tests).
func New(pool db) *Store {
	return &Store{db: pool}
}

// GetService loads one service's providers, contacts and pricing tiers.
func (s *Store) GetService(ctx context.Context, serviceID string) (Service, error) {
	svc := Service{ID: serviceID}

	const serviceSQL = `
		SELECT fallback_day_price, fallback_night_price, day_start, day_end,
		       direct_forward_number, emergency_contact_name, emergency_contact_phone
		FROM services WHERE id = $1`
	rows, err := s.db.Query(ctx, serviceSQL, serviceID)
	if err != nil {
		return Service{}, fmt.Errorf("providerstore: query service: %w", err)
	}
	found := false
	for rows.Next() {
		found = true
		if err := rows.Scan(&svc.FallbackDayPrice, &svc.FallbackNightPrice, &svc.ActiveHours.DayStart, &svc.ActiveHours.DayEnd,
			&svc.DirectForwardNumber, &svc.Emergency.Name, &svc.Emergency.Phone); err != nil {
			rows.Close()
			return Service{}, fmt.Errorf("providerstore: scan service: %w", err)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Service{}, fmt.Errorf("providerstore: iterate service: %w", err)
	}
	if !found {
		return Service{}, fmt.Errorf("providerstore: service %q not found", serviceID)
	}

	const tiersSQL = `
		SELECT minutes, day_price, night_price
		FROM pricing_tiers WHERE service_id = $1 ORDER BY minutes ASC`
	tierRows, err := s.db.Query(ctx, tiersSQL, serviceID)
	if err != nil {
		return Service{}, fmt.Errorf("providerstore: query tiers: %w", err)
	}
	for tierRows.Next() {
		var t Tier
		if err := tierRows.Scan(&t.Minutes, &t.DayPrice, &t.NightPrice); err != nil {
			tierRows.Close()
			return Service{}, fmt.Errorf("providerstore: scan tier: %w", err)
		}
		svc.Tiers = append(svc.Tiers, t)
	}
	tierRows.Close()
	if err := tierRows.Err(); err != nil {
		return Service{}, fmt.Errorf("providerstore: iterate tiers: %w", err)
	}

	const providersSQL = `
		SELECT id, name, address, fallback, latitude, longitude
		FROM providers WHERE service_id = $1 ORDER BY fallback ASC, name ASC`
	providerRows, err := s.db.Query(ctx, providersSQL, serviceID)
	if err != nil {
		return Service{}, fmt.Errorf("providerstore: query providers: %w", err)
	}
	type providerRow struct {
		id string
		Provider
	}
	var providers []providerRow
	for providerRows.Next() {
		var pr providerRow
		if err := providerRows.Scan(&pr.id, &pr.Name, &pr.Address, &pr.Fallback, &pr.Latitude, &pr.Longitude); err != nil {
			providerRows.Close()
			return Service{}, fmt.Errorf("providerstore: scan provider: %w", err)
		}
		providers = append(providers, pr)
	}
	providerRows.Close()
	if err := providerRows.Err(); err != nil {
		return Service{}, fmt.Errorf("providerstore: iterate providers: %w", err)
	}

	const contactsSQL = `
		SELECT name, phone, position
		FROM provider_contacts WHERE provider_id = $1 ORDER BY position ASC`
	for i := range providers {
		contactRows, err := s.db.Query(ctx, contactsSQL, providers[i].id)
		if err != nil {
			return Service{}, fmt.Errorf("providerstore: query contacts: %w", err)
		}
		for contactRows.Next() {
			var c Contact
			if err := contactRows.Scan(&c.Name, &c.Phone, &c.Position); err != nil {
				contactRows.Close()
				return Service{}, fmt.Errorf("providerstore: scan contact: %w", err)
			}
			providers[i].Contacts = append(providers[i].Contacts, c)
		}
		contactRows.Close()
		if err := contactRows.Err(); err != nil {
			return Service{}, fmt.Errorf("providerstore: iterate contacts: %w", err)
		}
		svc.Providers = append(svc.Providers, providers[i].Provider)
	}

	return svc, nil
}

// GetServiceIDByDialedNumber resolves the service a call was routed to from
// the number the caller dialed (spec.md §3: "service-id (derived from the
// dialed number)"). ErrServiceNotFound is returned for an unmapped number.
func (s *Store) GetServiceIDByDialedNumber(ctx context.Context, dialedNumber string) (string, error) {
	const sql = `SELECT service_id FROM dialed_numbers WHERE phone_number = $1`
	rows, err := s.db.Query(ctx, sql, dialedNumber)
	if err != nil {
		return "", fmt.Errorf("providerstore: query dialed number: %w", err)
	}
	defer rows.Close()
	var serviceID string
	found := false
	for rows.Next() {
		found = true
		if err := rows.Scan(&serviceID); err != nil {
			return "", fmt.Errorf("providerstore: scan dialed number: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("providerstore: iterate dialed number: %w", err)
	}
	if !found {
		return "", ErrServiceNotFound
	}
	return serviceID, nil
}

// ErrServiceNotFound is returned when a dialed number has no service mapping.
var ErrServiceNotFound = errors.New("providerstore: no service mapped to dialed number")
