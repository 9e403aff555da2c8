package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
)

func fakeRoutesServer(t *testing.T, durationsByAddress map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req computeRoutesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		duration, ok := durationsByAddress[req.Destination.Address]
		if !ok {
			w.Write([]byte(`{"routes": []}`))
			return
		}
		w.Write([]byte(`{"routes": [{"distanceMeters": 1000, "duration": "` + duration + `"}]}`))
	}))
}

func TestClosestProviderPrefersPrimaryOverFallback(t *testing.T) {
	srv := fakeRoutesServer(t, map[string]string{
		"Slow Primary":   "1200s",
		"Fast Primary":   "300s",
		"Fallback Place": "60s",
	})
	defer srv.Close()

	client, err := NewRoutesClient(RoutesConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRoutesClient: %v", err)
	}

	svc := providerstore.Service{
		Providers: []providerstore.Provider{
			{Name: "slow", Address: "Slow Primary"},
			{Name: "fast", Address: "Fast Primary"},
			{Name: "fallback", Address: "Fallback Place", Fallback: true},
		},
	}

	provider, route, err := client.ClosestProvider(context.Background(), 47.7, 10.3, svc)
	if err != nil {
		t.Fatalf("ClosestProvider: %v", err)
	}
	if provider.Name != "fast" {
		t.Fatalf("expected fast primary provider, got %q", provider.Name)
	}
	if route.DurationSeconds != 300 {
		t.Fatalf("expected 300s duration, got %d", route.DurationSeconds)
	}
}

func TestClosestProviderFallsBackWhenNoPrimaryReachable(t *testing.T) {
	srv := fakeRoutesServer(t, map[string]string{
		"Fallback Place": "60s",
	})
	defer srv.Close()

	client, err := NewRoutesClient(RoutesConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRoutesClient: %v", err)
	}

	svc := providerstore.Service{
		Providers: []providerstore.Provider{
			{Name: "unreachable", Address: "Nowhere"},
			{Name: "fallback", Address: "Fallback Place", Fallback: true},
		},
	}

	provider, _, err := client.ClosestProvider(context.Background(), 47.7, 10.3, svc)
	if err != nil {
		t.Fatalf("ClosestProvider: %v", err)
	}
	if provider.Name != "fallback" {
		t.Fatalf("expected fallback provider, got %q", provider.Name)
	}
}

func TestClosestProviderReturnsErrorWhenNoneReachable(t *testing.T) {
	srv := fakeRoutesServer(t, map[string]string{})
	defer srv.Close()

	client, err := NewRoutesClient(RoutesConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRoutesClient: %v", err)
	}

	svc := providerstore.Service{
		Providers: []providerstore.Provider{
			{Name: "unreachable", Address: "Nowhere"},
		},
	}

	if _, _, err := client.ClosestProvider(context.Background(), 47.7, 10.3, svc); err != ErrNoReachableProvider {
		t.Fatalf("expected ErrNoReachableProvider, got %v", err)
	}
}

func TestNewRoutesClientRequiresAPIKey(t *testing.T) {
	if _, err := NewRoutesClient(RoutesConfig{}); err == nil {
		t.Fatalf("expected error when APIKey is empty")
	}
}

func TestEvaluateTierHappyLocksmithDaytime(t *testing.T) {
	tiers := []providerstore.Tier{
		{Minutes: 15, DayPrice: 100, NightPrice: 150},
		{Minutes: 30, DayPrice: 200, NightPrice: 250},
	}
	hours := providerstore.ActiveHours{DayStart: 8, DayEnd: 20}
	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)

	price, minutes := EvaluateTier(1200, tiers, 400, 450, hours, now)
	if price != 200 || minutes != 20 {
		t.Fatalf("expected price=200 minutes=20, got price=%d minutes=%d", price, minutes)
	}
}

func TestEvaluateTierFallsBackWhenOverAllTiers(t *testing.T) {
	tiers := []providerstore.Tier{
		{Minutes: 15, DayPrice: 100, NightPrice: 150},
	}
	hours := providerstore.ActiveHours{DayStart: 8, DayEnd: 20}
	now := time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)

	price, minutes := EvaluateTier(3600, tiers, 400, 450, hours, now)
	if price != 450 || minutes != 60 {
		t.Fatalf("expected fallback night price=450 minutes=60, got price=%d minutes=%d", price, minutes)
	}
}

func TestIsDaytimeBoundaries(t *testing.T) {
	hours := providerstore.ActiveHours{DayStart: 8, DayEnd: 20}
	if !IsDaytime(8, hours) {
		t.Fatalf("hour == day_start should be daytime")
	}
	if IsDaytime(20, hours) {
		t.Fatalf("hour == day_end should be night")
	}
	if IsDaytime(7, hours) {
		t.Fatalf("hour before day_start should be night")
	}
}

func TestPriceAppliesTenMinuteFloor(t *testing.T) {
	srv := fakeRoutesServer(t, map[string]string{
		"Close Provider": "120s",
	})
	defer srv.Close()

	client, err := NewRoutesClient(RoutesConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewRoutesClient: %v", err)
	}

	svc := providerstore.Service{
		Providers: []providerstore.Provider{
			{Name: "close", Address: "Close Provider", Contacts: []providerstore.Contact{{Name: "Franz", Phone: "+49111"}}},
		},
		Tiers:              []providerstore.Tier{{Minutes: 15, DayPrice: 100, NightPrice: 150}},
		FallbackDayPrice:   400,
		FallbackNightPrice: 450,
		ActiveHours:        providerstore.ActiveHours{DayStart: 8, DayEnd: 20},
	}

	now := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	quote, err := client.Price(context.Background(), 47.7, 10.3, svc, now)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if quote.Minutes != 10 {
		t.Fatalf("expected 10-minute floor, got %d", quote.Minutes)
	}
	if quote.ProviderName != "close" || quote.ProviderPhone != "+49111" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}
