package callflow

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/geocode"
	"github.com/wolfman30/dispatch-voice-agent/internal/locationshare"
	"github.com/wolfman30/dispatch-voice-agent/internal/pricing"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
)

// fakeOrchestrator drives classifyIntent/yesNo/processLocation/correctPLZ
// with queued canned answers, per test. Grounded on the teacher's table-
// driven fake-client test style.
type fakeOrchestrator struct {
	intent       string
	yesNo        bool
	containsLoc  bool
	containsCity bool
	knowsLoc     bool
	address      string
	plz          string
	plzFound     bool
	err          error
}

func (f *fakeOrchestrator) YesNoQuestion(ctx context.Context, text, callContext string) (bool, string, time.Duration, string, error) {
	if f.err != nil {
		return false, "", 0, "", f.err
	}
	return f.yesNo, "Begründung", time.Millisecond, "grok", nil
}

func (f *fakeOrchestrator) ClassifyIntent(ctx context.Context, text string) (string, string, time.Duration, string, error) {
	if f.err != nil {
		return "", "", 0, "", f.err
	}
	return f.intent, "Begründung", time.Millisecond, "grok", nil
}

func (f *fakeOrchestrator) ProcessLocation(ctx context.Context, text string) (bool, bool, bool, string, time.Duration, string, error) {
	if f.err != nil {
		return false, false, false, "", 0, "", f.err
	}
	return f.containsLoc, f.containsCity, f.knowsLoc, f.address, time.Millisecond, "gpt", nil
}

func (f *fakeOrchestrator) CorrectPLZ(ctx context.Context, location string, lat, lon float64) (string, bool, time.Duration, string, error) {
	if f.err != nil {
		return "", false, 0, "", f.err
	}
	return f.plz, f.plzFound, time.Millisecond, "gpt", nil
}

type fakeGeocoder struct {
	result geocode.Result
	ok     bool
	err    error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (geocode.Result, bool, error) {
	return f.result, f.ok, f.err
}

func (f *fakeGeocoder) ShiftedEast(ctx context.Context, lat, lng float64) (geocode.Result, bool, error) {
	return geocode.Result{}, false, nil
}

type fakeRouter struct {
	provider providerstore.Provider
	route    pricing.Route
	err      error
}

func (f *fakeRouter) Price(ctx context.Context, originLat, originLng float64, svc providerstore.Service, now time.Time) (pricing.Quote, error) {
	return pricing.Quote{}, f.err
}

func (f *fakeRouter) ClosestProvider(ctx context.Context, originLat, originLng float64, svc providerstore.Service) (providerstore.Provider, pricing.Route, error) {
	return f.provider, f.route, f.err
}

type fakeServiceConfig struct {
	services map[string]providerstore.Service
}

func (f *fakeServiceConfig) GetService(ctx context.Context, serviceID string) (providerstore.Service, error) {
	svc, ok := f.services[serviceID]
	if !ok {
		return providerstore.Service{}, errors.New("fakeServiceConfig: unknown service")
	}
	return svc, nil
}

func (f *fakeServiceConfig) GetServiceIDByDialedNumber(ctx context.Context, dialedNumber string) (string, error) {
	return "", providerstore.ErrServiceNotFound
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, from, to, body string) error {
	f.sent = append(f.sent, to)
	return nil
}

type fakeJobs struct {
	enqueued []stt.JobRequest
}

func (f *fakeJobs) Enqueue(ctx context.Context, req stt.JobRequest) error {
	f.enqueued = append(f.enqueued, req)
	return nil
}

type fakeJobTracker struct {
	record *stt.JobRecord
	err    error
}

func (f *fakeJobTracker) GetJob(ctx context.Context, jobID string) (*stt.JobRecord, error) {
	return f.record, f.err
}

type fakeLinks struct{}

func (f *fakeLinks) GenerateLink(ctx context.Context, phone string) (locationshare.GeneratedLink, error) {
	return locationshare.GeneratedLink{LinkID: 1, URL: "https://dispatch.example.com/location/1"}, nil
}

const testService = "schluessel-allgaeu"

func testHarness(t *testing.T) (*Flow, *callstate.Store, *fakeOrchestrator, *fakeRouter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := callstate.New(client)

	svc := providerstore.Service{
		ID: testService,
		Providers: []providerstore.Provider{
			{Name: "Provider A", Address: "Hauptstraße 1, Kempten", Contacts: []providerstore.Contact{{Name: "Franz", Phone: "+49111", Position: 0}}},
		},
		Tiers:              []providerstore.Tier{{Minutes: 15, DayPrice: 100, NightPrice: 150}, {Minutes: 30, DayPrice: 200, NightPrice: 250}},
		FallbackDayPrice:   400,
		FallbackNightPrice: 450,
		ActiveHours:        providerstore.ActiveHours{DayStart: 8, DayEnd: 20},
		Emergency:          providerstore.EmergencyContact{Name: "Zentrale", Phone: "+49333"},
	}
	services := &fakeServiceConfig{services: map[string]providerstore.Service{testService: svc}}

	ai := &fakeOrchestrator{}
	geo := &fakeGeocoder{}
	routes := &fakeRouter{provider: svc.Providers[0], route: pricing.Route{DurationSeconds: 1200}}
	transfers := transferqueue.New(store, nil)

	flow := New(store, ai, geo, routes, services, transfers, &fakeSMS{}, &fakeJobs{}, &fakeJobTracker{}, &fakeLinks{}, nil, nil, nil, Config{ServerURL: "https://dispatch.example.com"})
	return flow, store, ai, routes
}

func TestIncomingCallGreetsNewCaller(t *testing.T) {
	ctx := context.Background()
	flow, _, _, _ := testHarness(t)

	resp, err := flow.IncomingCall(ctx, callstate.Call{Caller: callstate.KnownCaller("+4917612345678"), Service: testService, Started: time.Now()})
	if err != nil {
		t.Fatalf("IncomingCall: %v", err)
	}
	if resp.Gather == nil || resp.Gather.Action != "/parse-intent-1" {
		t.Fatalf("expected gather routed to parse-intent-1, got %+v", resp)
	}
}

func TestIncomingCallDirectForwardBypassesGreeting(t *testing.T) {
	ctx := context.Background()
	flow, _, _, _ := testHarness(t)
	flow.services = &fakeServiceConfig{services: map[string]providerstore.Service{
		testService: {ID: testService, DirectForwardNumber: "+49555"},
	}}

	resp, err := flow.IncomingCall(ctx, callstate.Call{Caller: callstate.KnownCaller("+4917612345678"), Service: testService, Started: time.Now()})
	if err != nil {
		t.Fatalf("IncomingCall: %v", err)
	}
	if resp.Dial == nil || resp.Dial.Number.Number != "+49555" {
		t.Fatalf("expected direct-forward dial, got %+v", resp)
	}
}

func TestParseIntent1RoutesLocksmithToAskAddress(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	ai.intent = "schlüsseldienst"

	resp, err := flow.ParseIntent1(ctx, phone, "Ich habe mich ausgesperrt")
	if err != nil {
		t.Fatalf("ParseIntent1: %v", err)
	}
	if resp.Record == nil || resp.Record.Action != "/process-address" {
		t.Fatalf("expected record routed to process-address, got %+v", resp)
	}
}

func TestParseIntent1HumanRequestGoesStraightToTransfer(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	ai.intent = "mitarbeiter"

	resp, err := flow.ParseIntent1(ctx, phone, "Kann ich bitte einen Mitarbeiter sprechen")
	if err != nil {
		t.Fatalf("ParseIntent1: %v", err)
	}
	if resp.Dial == nil {
		t.Fatalf("expected immediate dial to emergency contact, got %+v", resp)
	}
	if resp.Dial.Number.Number != "+49333" {
		t.Fatalf("expected emergency contact +49333, got %s", resp.Dial.Number.Number)
	}
}

func TestHumanAgentRequestedMidAddressInterruptsToTransfer(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	ai.err = ErrHumanAgentRequested

	resp, err := flow.ConfirmAddress(ctx, phone, "Kann ich bitte einen Mitarbeiter sprechen")
	if err != nil {
		t.Fatalf("ConfirmAddress: %v", err)
	}
	if resp.Dial == nil {
		t.Fatalf("expected transfer on HumanAgentRequested, got %+v", resp)
	}

	msgs, err := store.GetMessages(ctx, phone)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Content == "<User requested human agent>" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected human-requested transcript entry, got %+v", msgs)
	}
}

func TestOrchestratorTimeoutRecordsEntryAndTransfers(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	ai.err = context.DeadlineExceeded

	resp, err := flow.ParseIntent1(ctx, phone, "Ich habe mich ausgesperrt")
	if err != nil {
		t.Fatalf("ParseIntent1: %v", err)
	}
	if resp.Dial == nil {
		t.Fatalf("expected transfer on timeout, got %+v", resp)
	}

	msgs, err := store.GetMessages(ctx, phone)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) < 2 || msgs[len(msgs)-2].Content != "<Request timed out>" {
		t.Fatalf("expected timeout entry before the transfer apology, got %+v", msgs)
	}
	if msgs[len(msgs)-1].Content != promptApologyTransfer {
		t.Fatalf("expected transfer apology as the last entry, got %+v", msgs)
	}
}

func TestConfirmAddressYesStartsPricingWithDayRate(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	if err := store.SaveLocation(ctx, phone, callstate.Location{Latitude: 47.73, Longitude: 10.31, FormattedAddr: "Hauptstraße 5, 87435 Kempten", PLZ: "87435", Ort: "Kempten"}); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}
	ai.yesNo = true

	resp, err := flow.ConfirmAddress(ctx, phone, "Ja, das stimmt")
	if err != nil {
		t.Fatalf("ConfirmAddress: %v", err)
	}
	if resp.Gather == nil || resp.Gather.Action != "/parse-connection-request" {
		t.Fatalf("expected gather routed to parse-connection-request, got %+v", resp)
	}

	price, err := store.GetJobInfo(ctx, phone, keyPrice)
	if err != nil {
		t.Fatalf("GetJobInfo price: %v", err)
	}
	if price != "200" {
		t.Fatalf("expected day-rate price 200 for a 20-minute route, got %s", price)
	}
}

func TestParseConnectionYesDialsChosenProviderContact(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	if err := store.SaveJobInfo(ctx, phone, keyProviderName, "Provider A"); err != nil {
		t.Fatalf("SaveJobInfo: %v", err)
	}
	ai.yesNo = true

	resp, err := flow.ParseConnection(ctx, phone, "Ja bitte")
	if err != nil {
		t.Fatalf("ParseConnection: %v", err)
	}
	if resp.Dial == nil || resp.Dial.Number.Number != "+49111" {
		t.Fatalf("expected dial to Provider A's contact +49111, got %+v", resp)
	}
}

func TestParseConnectionNoEndsCallWithoutTransfer(t *testing.T) {
	ctx := context.Background()
	flow, store, ai, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	ai.yesNo = false

	resp, err := flow.ParseConnection(ctx, phone, "Nein danke")
	if err != nil {
		t.Fatalf("ParseConnection: %v", err)
	}
	if resp.Dial != nil || resp.Hangup == nil {
		t.Fatalf("expected hangup with no transfer, got %+v", resp)
	}
}

func TestQueueExhaustionSpeaksApologyAndSetsHangupReason(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	if err := store.PopulateQueue(ctx, phone, []callstate.Contact{{Name: "Alice", Phone: "+49111"}, {Name: "Bob", Phone: "+49222"}}); err != nil {
		t.Fatalf("PopulateQueue: %v", err)
	}

	resp, err := flow.ParseTransferCall(ctx, phone, "Alice", "+49111", transferqueue.DialStatusNoAnswer)
	if err != nil {
		t.Fatalf("ParseTransferCall (Alice): %v", err)
	}
	if resp.Dial == nil || resp.Dial.Number.Number != "+49222" {
		t.Fatalf("expected redial to Bob, got %+v", resp)
	}

	resp, err = flow.ParseTransferCall(ctx, phone, "Bob", "+49222", transferqueue.DialStatusBusy)
	if err != nil {
		t.Fatalf("ParseTransferCall (Bob): %v", err)
	}
	if resp.Hangup == nil {
		t.Fatalf("expected apology+hangup after queue exhaustion, got %+v", resp)
	}

	reason, err := store.GetJobInfo(ctx, phone, keyHangupReason)
	if err != nil {
		t.Fatalf("GetJobInfo hangup reason: %v", err)
	}
	if reason != "Keine Mitarbeiter erreichbar" {
		t.Fatalf("unexpected hangup reason: %s", reason)
	}
}

func TestParseTransferCallSuccessRecordsTransferredToAndHangsUp(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	if err := store.PopulateQueue(ctx, phone, []callstate.Contact{{Name: "Franz", Phone: "+49111"}}); err != nil {
		t.Fatalf("PopulateQueue: %v", err)
	}

	resp, err := flow.ParseTransferCall(ctx, phone, "Franz", "+49111", transferqueue.DialStatusCompleted)
	if err != nil {
		t.Fatalf("ParseTransferCall: %v", err)
	}
	if resp.Hangup == nil {
		t.Fatalf("expected hangup on transfer success, got %+v", resp)
	}

	transferred, err := store.GetTransferredTo(ctx, phone)
	if err != nil {
		t.Fatalf("GetTransferredTo: %v", err)
	}
	if transferred.Name != "Franz" || transferred.Phone != "+49111" {
		t.Fatalf("expected transferred-to Franz/+49111, got %+v", transferred)
	}

	if _, err := store.GetService(ctx, phone); !errors.Is(err, callstate.ErrNotFound) {
		t.Fatalf("expected call state cleaned up after successful transfer, got err=%v", err)
	}
}

func TestProcessPLZOutOfAreaFallsBackToSMSOffer(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	flow.geo = &fakeGeocoder{result: geocode.Result{PLZ: "00100", Country: "IT"}, ok: true}

	resp, err := flow.ProcessPLZ(ctx, phone, "00100")
	if err != nil {
		t.Fatalf("ProcessPLZ: %v", err)
	}
	if resp.Gather == nil || resp.Gather.Action != "/process-sms-offer" {
		t.Fatalf("expected fallback to sms offer for out-of-area plz, got %+v", resp)
	}
}

func TestProcessPLZValidSavesLocationAndStartsPricing(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	flow.geo = &fakeGeocoder{result: geocode.Result{PLZ: "87435", Ort: "Kempten", Country: "DE", Latitude: 47.73, Longitude: 10.31}, ok: true}

	resp, err := flow.ProcessPLZ(ctx, phone, "87435")
	if err != nil {
		t.Fatalf("ProcessPLZ: %v", err)
	}
	if resp.Gather == nil || resp.Gather.Action != "/parse-connection-request" {
		t.Fatalf("expected pricing offer after valid plz, got %+v", resp)
	}
}

func TestAskSendSMSSkipsForAnonymousCaller(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "anonymous"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}

	resp, err := flow.AskSendSMS(ctx, phone)
	if err != nil {
		t.Fatalf("AskSendSMS: %v", err)
	}
	if resp.Dial == nil {
		t.Fatalf("expected anonymous caller to skip sms offer straight to transfer, got %+v", resp)
	}
}

func TestRepeatCallerWithOnlyIntentGoesStraightToEmergencyTransfer(t *testing.T) {
	ctx := context.Background()
	flow, store, _, _ := testHarness(t)
	phone := "+4917612345678"
	if err := store.InitNewCall(ctx, phone, testService, time.Now()); err != nil {
		t.Fatalf("InitNewCall: %v", err)
	}
	if err := store.SaveJobInfo(ctx, phone, keyIntent, "schlüsseldienst"); err != nil {
		t.Fatalf("SaveJobInfo: %v", err)
	}

	resp, err := flow.IncomingCall(ctx, callstate.Call{Caller: callstate.KnownCaller(phone), Service: testService, Started: time.Now()})
	if err != nil {
		t.Fatalf("IncomingCall: %v", err)
	}
	if resp.Dial == nil || resp.Dial.Number.Number != "+49333" {
		t.Fatalf("expected repeat-caller fast path to the emergency contact, got %+v", resp)
	}
}
