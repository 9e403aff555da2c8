// Package callstate is the per-call state store: service, start time,
// job info, transcript, location, transfer queue and transferred-to
// contact, all keyed by the caller's phone number and backed by Redis
// (see SPEC_FULL.md §4.5).
package callstate

import (
	"time"
)

// CallerKind distinguishes a caller with a usable phone number from one
// the telephony provider reports as anonymous. Modeling this as a sum type
// (instead of comparing against the literal string "anonymous" at every call
// site) forces every handler that branches on identity to decide what
// anonymous means, per the REDESIGN FLAGS in SPEC_FULL.md.
type CallerKind int

const (
	// CallerKnown means Phone holds a usable E.164 number.
	CallerKnown CallerKind = iota
	// CallerAnonymous means the telephony provider withheld the number.
	CallerAnonymous
)

// Caller identifies who is on the line.
type Caller struct {
	Kind  CallerKind
	Phone string // only meaningful when Kind == CallerKnown
}

// KnownCaller builds a Caller for a usable phone number.
func KnownCaller(phone string) Caller {
	return Caller{Kind: CallerKnown, Phone: phone}
}

// AnonymousCaller is the Caller value for a withheld number.
func AnonymousCaller() Caller {
	return Caller{Kind: CallerAnonymous}
}

// IsAnonymous reports whether this caller withheld their number.
func (c Caller) IsAnonymous() bool {
	return c.Kind == CallerAnonymous
}

// Call is the explicit context threaded through every call-flow handler,
// replacing the Python original's implicit "caller phone as Redis key
// prefix" convention (REDESIGN FLAGS: "Per-call global state").
type Call struct {
	Caller  Caller
	Service string
	Started time.Time // local time the call started; formatted YYYYMMDDTHHMMSS in storage
}

// StartTimestamp renders Started in the wire format the spec mandates.
func (c Call) StartTimestamp() string {
	return c.Started.Format("20060102T150405")
}

// MessageRole enumerates who produced a transcript entry.
type MessageRole string

const (
	RoleAgent  MessageRole = "agent"
	RoleUser   MessageRole = "user"
	RoleAI     MessageRole = "ai"
	RoleGoogle MessageRole = "google"
	RoleTwilio MessageRole = "twilio"
)

// Message is one append-only transcript entry.
type Message struct {
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	Duration    *float64    `json:"duration,omitempty"` // seconds, 3dp
	ModelSource string      `json:"model_source,omitempty"`
}

// Location is the last-known service address for the call.
type Location struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	FormattedAddr   string  `json:"formatted_address,omitempty"`
	PLZ             string  `json:"plz,omitempty"`
	Ort             string  `json:"ort,omitempty"`
	GoogleMapsLink  string  `json:"google_maps_link,omitempty"`
}

// Valid reports the invariant from SPEC_FULL.md/spec.md §3: after a
// successful geocode, either PLZ is exactly five digits or Ort is non-empty.
func (l Location) Valid() bool {
	return len(l.PLZ) == 5 || l.Ort != ""
}

// Contact is one entry in the transfer queue, or the transferred-to record.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
