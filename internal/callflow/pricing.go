package callflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/pricing"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
)

// offer is the resolved result of spec.md §4.4's get_price, shared between
// the in-call pricing turn and the location-share callback (spec.md §4.7),
// which prices and dispatches a job with no live call leg to read the offer
// back on.
type offer struct {
	Provider providerstore.Provider
	Price    int
	Minutes  int
}

// resolveOffer runs get_price for svc against the given origin, applying
// the 10-minute floor (spec.md §4.4 step 5).
func (f *Flow) resolveOffer(ctx context.Context, svc providerstore.Service, lat, lng float64) (offer, error) {
	routeStart := time.Now()
	provider, route, err := f.routes.ClosestProvider(ctx, lat, lng, svc)
	f.metrics.ObserveGeocodeLatency(time.Since(routeStart).Seconds())
	if err != nil {
		return offer{}, err
	}
	price, minutes := pricing.EvaluateTier(route.DurationSeconds, svc.Tiers, svc.FallbackDayPrice, svc.FallbackNightPrice, svc.ActiveHours, time.Now().In(pricing.Berlin))
	if minutes < 10 {
		minutes = 10
	}
	return offer{Provider: provider, Price: price, Minutes: minutes}, nil
}

// StartPricing resolves the closest reachable provider for the caller's
// saved location and reads back the priced offer (spec.md §4.4's
// get_price, driven from the ask-plz/confirm-address "start-pricing"
// transition). A routing failure falls through to the emergency transfer
// per spec.md §7 kind 1, never surfacing as a failed call.
func (f *Flow) StartPricing(ctx context.Context, phone string) (telephony.Response, error) {
	svc, err := f.currentService(ctx, phone)
	if err != nil {
		return telephony.SpeakThenHangup(promptTechnicalFailure), err
	}

	loc, err := f.store.GetLocation(ctx, phone)
	if err != nil {
		f.logger.Error("callflow: read location for pricing failed", "error", err)
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}

	result, err := f.resolveOffer(ctx, svc, loc.Latitude, loc.Longitude)
	if errors.Is(err, pricing.ErrNoReachableProvider) {
		f.logger.Warn("callflow: no reachable provider", "service", svc.ID)
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}
	if err != nil {
		f.logger.Error("callflow: closest provider lookup failed", "error", err)
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}

	if err := f.store.SaveJobInfo(ctx, phone, keyProviderName, result.Provider.Name); err != nil {
		f.logger.Warn("callflow: save provider name failed", "error", err)
	}
	if err := f.store.SaveJobInfo(ctx, phone, keyPrice, strconv.Itoa(result.Price)); err != nil {
		f.logger.Warn("callflow: save price failed", "error", err)
	}
	if err := f.store.SaveJobInfo(ctx, phone, keyMinutes, strconv.Itoa(result.Minutes)); err != nil {
		f.logger.Warn("callflow: save minutes failed", "error", err)
	}

	prompt := promptOffer(result.Price, result.Minutes, result.Provider.Name)
	f.appendAgent(ctx, phone, prompt)
	return telephony.GatherSpeech(prompt, "/parse-connection-request"), nil
}

// ParseConnection handles the caller's yes/no reply to the priced offer
// (spec.md §4.1's parse-connection state). A "yes" populates the transfer
// queue with the chosen provider's contacts and starts dialing; a "no"
// ends the call without transferring.
func (f *Flow) ParseConnection(ctx context.Context, phone, speech string) (telephony.Response, error) {
	f.appendUser(ctx, phone, speech)

	rctx, cancel := f.raceCtx(ctx)
	defer cancel()
	agree, reasoning, dur, src, err := f.ai.YesNoQuestion(rctx, speech, "Möchte der Anrufer verbunden werden?")
	if resp, handled, herr := f.handleOrchestratorError(ctx, phone, err); handled {
		return resp, herr
	}
	f.appendAI(ctx, phone, reasoning, dur, src)

	if !agree {
		f.appendAgent(ctx, phone, promptParseConnectionDone)
		return telephony.SpeakThenHangup(promptParseConnectionDone), nil
	}

	svc, err := f.currentService(ctx, phone)
	if err != nil {
		return telephony.SpeakThenHangup(promptTechnicalFailure), err
	}
	providerName, err := f.store.GetJobInfo(ctx, phone, keyProviderName)
	if err != nil {
		f.logger.Warn("callflow: read chosen provider failed", "error", err)
		return f.beginTransferEmergency(ctx, phone, svc, promptConnecting)
	}

	// A zero-value Provider (not found) is fine here: Populate falls back
	// to svc's emergency contact when chosen has no contacts.
	chosen, _ := findProvider(svc, providerName)
	return f.beginTransferChosenProvider(ctx, phone, svc, chosen, promptConnecting)
}

func findProvider(svc providerstore.Service, name string) (providerstore.Provider, bool) {
	for _, p := range svc.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return providerstore.Provider{}, false
}
