package transferqueue

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *callstate.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := callstate.New(client)
	return New(store, nil), store
}

func TestPopulateAppendsContactsInPositionOrder(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)

	provider := providerstore.Provider{
		Name: "Provider A",
		Contacts: []providerstore.Contact{
			{Name: "Anna", Phone: "+49222", Position: 1},
			{Name: "Franz", Phone: "+49111", Position: 0},
		},
	}
	if err := coord.Populate(ctx, "+4917612345678", provider, EmergencyContact{Name: "Notfall", Phone: "+49999"}); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	head, err := store.QueueHead(ctx, "+4917612345678")
	if err != nil {
		t.Fatalf("QueueHead: %v", err)
	}
	if head.Name != "Franz" {
		t.Fatalf("expected position-0 contact Franz at the head, got head %q", head.Name)
	}
}

func TestPopulateFallsBackToEmergencyContact(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)

	if err := coord.Populate(ctx, "+4917612345678", providerstore.Provider{Name: "Empty"}, EmergencyContact{Name: "Notfall", Phone: "+49999"}); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	head, err := store.QueueHead(ctx, "+4917612345678")
	if err != nil {
		t.Fatalf("QueueHead: %v", err)
	}
	if head.Name != "Notfall" || head.Phone != "+49999" {
		t.Fatalf("expected emergency contact, got %+v", head)
	}
}

func TestStartTransferReturnsErrQueueEmpty(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(t)

	if _, err := coord.StartTransfer(ctx, "+4917612345678"); err != ErrQueueEmpty {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestHandleDialStatusSuccessRecordsTransferredTo(t *testing.T) {
	ctx := context.Background()
	coord, store := newTestCoordinator(t)

	provider := providerstore.Provider{Contacts: []providerstore.Contact{{Name: "Franz", Phone: "+49111"}}}
	if err := coord.Populate(ctx, "+4917612345678", provider, EmergencyContact{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	outcome, err := coord.HandleDialStatus(ctx, "+4917612345678", DialStatusCompleted)
	if err != nil {
		t.Fatalf("HandleDialStatus: %v", err)
	}
	if outcome != OutcomeTransferSucceeded {
		t.Fatalf("expected OutcomeTransferSucceeded, got %v", outcome)
	}

	transferred, err := store.GetTransferredTo(ctx, "+4917612345678")
	if err != nil {
		t.Fatalf("GetTransferredTo: %v", err)
	}
	if transferred.Name != "Franz" {
		t.Fatalf("expected transferred-to Franz, got %+v", transferred)
	}
}

func TestHandleDialStatusQueueExhaustionMatchesSpecScenario(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(t)

	provider := providerstore.Provider{Contacts: []providerstore.Contact{
		{Name: "Alice", Phone: "+49111", Position: 0},
		{Name: "Bob", Phone: "+49222", Position: 1},
	}}
	if err := coord.Populate(ctx, "+4917612345678", provider, EmergencyContact{}); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	outcome, err := coord.HandleDialStatus(ctx, "+4917612345678", DialStatusNoAnswer)
	if err != nil {
		t.Fatalf("HandleDialStatus: %v", err)
	}
	if outcome != OutcomeRedial {
		t.Fatalf("expected OutcomeRedial after Alice no-answer, got %v", outcome)
	}

	outcome, err = coord.HandleDialStatus(ctx, "+4917612345678", DialStatusBusy)
	if err != nil {
		t.Fatalf("HandleDialStatus: %v", err)
	}
	if outcome != OutcomeExhausted {
		t.Fatalf("expected OutcomeExhausted after Bob busy, got %v", outcome)
	}
}
