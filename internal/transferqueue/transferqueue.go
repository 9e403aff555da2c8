// Package transferqueue drives the per-call dial queue and its sequential
// fail-over (spec.md §4.2), grounded on the teacher's
// internal/conversation/queue.go (the same "thin coordinator over a typed
// store" shape, generalized from an SQS job queue to Redis-backed dial
// targets via internal/callstate).
package transferqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// DefaultRingTimeout is the default dial ring timeout (spec.md §4.2: "a
// ring timeout from configuration (default 15 s)").
const DefaultRingTimeout = 15 * time.Second

// EmergencyContact is appended as the sole queue entry when no
// chosen provider matches any configured contact (spec.md §4.2: "If no
// chosen provider matches, a single emergency contact is appended").
type EmergencyContact struct {
	Name  string
	Phone string
}

// DialStatus mirrors the telephony provider's dial-status callback values.
type DialStatus string

const (
	DialStatusCompleted DialStatus = "completed"
	DialStatusAnswered  DialStatus = "answered"
	DialStatusBusy      DialStatus = "busy"
	DialStatusNoAnswer  DialStatus = "no-answer"
	DialStatusFailed    DialStatus = "failed"
	DialStatusCanceled  DialStatus = "canceled"
)

func (s DialStatus) succeeded() bool {
	return s == DialStatusCompleted || s == DialStatusAnswered
}

// Outcome is what the FSM should do next after a dial-status callback.
type Outcome int

const (
	// OutcomeTransferSucceeded: hang up the original call; the live leg is
	// now bridged to the dialed contact.
	OutcomeTransferSucceeded Outcome = iota
	// OutcomeRedial: advance the queue and dial the new head.
	OutcomeRedial
	// OutcomeExhausted: the queue is empty; speak an apology and hang up.
	OutcomeExhausted
)

// Coordinator populates and advances a call's dial queue.
type Coordinator struct {
	store *callstate.Store
	log   *logging.Logger
}

// New builds a Coordinator over an existing call-state store.
func New(store *callstate.Store, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{store: store, log: log}
}

// Populate clears the queue, then appends every contact at chosen's
// location ordered by Position (spec.md §4.2's `populate`). If chosen has
// no contacts, emergency is appended instead.
func (c *Coordinator) Populate(ctx context.Context, phone string, chosen providerstore.Provider, emergency EmergencyContact) error {
	if len(chosen.Contacts) == 0 {
		return c.store.PopulateQueue(ctx, phone, []callstate.Contact{{Name: emergency.Name, Phone: emergency.Phone}})
	}
	ordered := append([]providerstore.Contact(nil), chosen.Contacts...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	contacts := make([]callstate.Contact, 0, len(ordered))
	for _, contact := range ordered {
		contacts = append(contacts, callstate.Contact{Name: contact.Name, Phone: contact.Phone})
	}
	return c.store.PopulateQueue(ctx, phone, contacts)
}

// ErrQueueEmpty is returned by StartTransfer when there is no head contact
// to dial (spec.md §4.2: "Head missing (empty queue): speak apology, set
// hangup_reason, hang up").
var ErrQueueEmpty = errors.New("transferqueue: queue empty")

// StartTransfer reads the head contact without removing it. Callers build
// the dial instruction (status-callback URL, ring timeout) from the
// returned contact.
func (c *Coordinator) StartTransfer(ctx context.Context, phone string) (callstate.Contact, error) {
	contact, err := c.store.QueueHead(ctx, phone)
	if errors.Is(err, callstate.ErrNotFound) {
		return callstate.Contact{}, ErrQueueEmpty
	}
	if err != nil {
		return callstate.Contact{}, fmt.Errorf("transferqueue: start transfer: %w", err)
	}
	return contact, nil
}

// HandleDialStatus processes a dial-status callback for the current head
// contact and decides the next Outcome (spec.md §4.2's transfer state
// handler). On success it records transferred-to; on failure it advances
// the queue.
func (c *Coordinator) HandleDialStatus(ctx context.Context, phone string, status DialStatus) (Outcome, error) {
	if status.succeeded() {
		contact, err := c.store.QueueHead(ctx, phone)
		if err != nil && !errors.Is(err, callstate.ErrNotFound) {
			return OutcomeExhausted, fmt.Errorf("transferqueue: read head on success: %w", err)
		}
		if err == nil {
			if err := c.store.SetTransferredTo(ctx, phone, contact); err != nil {
				return OutcomeExhausted, fmt.Errorf("transferqueue: record transferred-to: %w", err)
			}
		}
		return OutcomeTransferSucceeded, nil
	}

	if err := c.store.AdvanceQueue(ctx, phone); err != nil {
		return OutcomeExhausted, fmt.Errorf("transferqueue: advance queue: %w", err)
	}
	remaining, err := c.store.QueueLength(ctx, phone)
	if err != nil {
		return OutcomeExhausted, fmt.Errorf("transferqueue: queue length: %w", err)
	}
	if remaining == 0 {
		c.log.Info("transferqueue: queue exhausted", "phone", phone)
		return OutcomeExhausted, nil
	}
	return OutcomeRedial, nil
}
