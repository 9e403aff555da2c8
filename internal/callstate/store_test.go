package callstate

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestInitNewCallAndGetService(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	if err := store.InitNewCall(ctx, "+4917612345678", "schluessel-allgaeu", now); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}

	svc, err := store.GetService(ctx, "+4917612345678")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if svc != "schluessel-allgaeu" {
		t.Fatalf("expected schluessel-allgaeu, got %s", svc)
	}

	msgs, err := store.GetMessages(ctx, "+4917612345678")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty transcript at init, got %d entries", len(msgs))
	}
}

func TestAppendMessageOrderPreserved(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	phone := "+4917600000000"

	if err := store.InitNewCall(ctx, phone, "towing", time.Now()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.AppendMessage(ctx, phone, Message{Role: RoleAgent, Content: "Willkommen"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	dur := 0.312
	if err := store.AppendMessage(ctx, phone, Message{Role: RoleAI, Content: "Klassifiziert", Duration: &dur, ModelSource: "grok"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.GetMessages(ctx, phone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleAgent || msgs[1].Role != RoleAI {
		t.Fatalf("unexpected ordering: %+v", msgs)
	}
	if msgs[1].Duration == nil || *msgs[1].Duration != 0.312 {
		t.Fatalf("expected duration to round-trip, got %+v", msgs[1].Duration)
	}
}

func TestQueuePopulateAdvanceExhaustion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	phone := "+4917611111111"

	contacts := []Contact{{Name: "Alice", Phone: "+491111"}, {Name: "Bob", Phone: "+492222"}}
	if err := store.PopulateQueue(ctx, phone, contacts); err != nil {
		t.Fatalf("populate: %v", err)
	}

	n, err := store.QueueLength(ctx, phone)
	if err != nil || n != 2 {
		t.Fatalf("expected queue length 2, got %d (err=%v)", n, err)
	}

	head, err := store.QueueHead(ctx, phone)
	if err != nil || head.Name != "Alice" {
		t.Fatalf("expected Alice at head, got %+v (err=%v)", head, err)
	}

	if err := store.AdvanceQueue(ctx, phone); err != nil {
		t.Fatalf("advance: %v", err)
	}
	head, err = store.QueueHead(ctx, phone)
	if err != nil || head.Name != "Bob" {
		t.Fatalf("expected Bob at head, got %+v (err=%v)", head, err)
	}

	if err := store.AdvanceQueue(ctx, phone); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := store.QueueHead(ctx, phone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty queue, got %v", err)
	}
}

func TestCleanupPreservesMessagesAndTransferredTo(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	phone := "+4917622222222"

	if err := store.InitNewCall(ctx, phone, "towing", time.Now()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.AppendMessage(ctx, phone, Message{Role: RoleUser, Content: "hallo"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.SetTransferredTo(ctx, phone, Contact{Name: "Franz", Phone: "+493333"}); err != nil {
		t.Fatalf("set transferred-to: %v", err)
	}
	if err := store.SaveJobInfo(ctx, phone, "intent", "abschleppdienst"); err != nil {
		t.Fatalf("save job info: %v", err)
	}

	if err := store.CleanupCall(ctx, phone); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := store.GetService(ctx, phone); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected service to be cleaned up, got err=%v", err)
	}
	if _, err := store.GetJobInfo(ctx, phone, "intent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected job info to be cleaned up, got err=%v", err)
	}

	msgs, err := store.GetMessages(ctx, phone)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected messages preserved, got %v (err=%v)", msgs, err)
	}
	contact, err := store.GetTransferredTo(ctx, phone)
	if err != nil || contact.Name != "Franz" {
		t.Fatalf("expected transferred-to preserved, got %+v (err=%v)", contact, err)
	}
}

func TestNextLinkIDMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.NextLinkID(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := store.NextLinkID(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonic increment, got %d then %d", first, second)
	}
}

func TestConsumeLinkRejectsSecondUse(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.NextLinkID(ctx)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	now := time.Now()
	link := ShareLink{LinkID: id, PhoneNumber: "+4917600000001", ExpiresAt: now.Add(24 * time.Hour)}
	if err := store.SaveLink(ctx, link); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.ConsumeLink(ctx, id, now); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := store.ConsumeLink(ctx, id, now); !errors.Is(err, ErrLinkAlreadyUsed) {
		t.Fatalf("expected ErrLinkAlreadyUsed on second consume, got %v", err)
	}
}
