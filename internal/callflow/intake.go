package callflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
)

// IncomingCall is the entry point for every call (spec.md §4.1's
// incoming-call state). call.Service must already hold the service id
// resolved from the dialed number.
func (f *Flow) IncomingCall(ctx context.Context, call callstate.Call) (telephony.Response, error) {
	phone := callKey(call.Caller)

	svc, err := f.services.GetService(ctx, call.Service)
	if err != nil {
		f.logger.Error("callflow: incoming-call service lookup failed", "service", call.Service, "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: incoming call: %w", err)
	}

	if svc.DirectForwardNumber != "" {
		return telephony.DialContact(svc.DirectForwardNumber, "", int(f.cfg.RingTimeout.Seconds())), nil
	}

	if err := f.store.InitNewCall(ctx, phone, call.Service, call.Started); err != nil {
		f.logger.Error("callflow: init call failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: incoming call: %w", err)
	}

	if contact, err := f.store.GetTransferredTo(ctx, phone); err == nil {
		return f.beginTransferWithContacts(ctx, phone, []callstate.Contact{contact}, "")
	} else if !errors.Is(err, callstate.ErrNotFound) {
		f.logger.Warn("callflow: read transferred-to failed", "error", err)
	}

	// Repeat-caller fast path (SPEC_FULL.md's supplemented feature 1): a
	// leftover job:Intent with no transferred-to means an earlier call
	// from this number never completed cleanup. There is no chosen
	// provider to resume to, so this falls back to the emergency contact
	// rather than re-running intent/address collection.
	if intent, err := f.store.GetJobInfo(ctx, phone, keyIntent); err == nil && intent != "" {
		return f.beginTransferEmergency(ctx, phone, svc, "")
	} else if err != nil && !errors.Is(err, callstate.ErrNotFound) {
		f.logger.Warn("callflow: read repeat-caller intent failed", "error", err)
	}

	f.appendAgent(ctx, phone, promptGreet)
	return telephony.GatherSpeech(promptGreet, "/parse-intent-1"), nil
}

// ParseIntent1 classifies the caller's first utterance after the greeting.
func (f *Flow) ParseIntent1(ctx context.Context, phone, speech string) (telephony.Response, error) {
	return f.classifyAndRoute(ctx, phone, speech, promptIntentNotUnderstood, "/parse-intent-2")
}

// ParseIntent2 classifies the caller's follow-up utterance after
// intent-not-understood. An ambiguous second classification still routes
// to ask-address rather than looping a third time (spec.md §4.1 lists
// "parse-intent-2 | any | ask-address OR transfer"; resolved here in
// favor of giving the caller's address a chance rather than dead-ending).
func (f *Flow) ParseIntent2(ctx context.Context, phone, speech string) (telephony.Response, error) {
	return f.classifyAndRoute(ctx, phone, speech, "", "")
}

func (f *Flow) classifyAndRoute(ctx context.Context, phone, speech, fallbackPrompt, fallbackAction string) (telephony.Response, error) {
	f.appendUser(ctx, phone, speech)

	rctx, cancel := f.raceCtx(ctx)
	defer cancel()
	intent, reasoning, dur, src, err := f.ai.ClassifyIntent(rctx, speech)
	if resp, handled, herr := f.handleOrchestratorError(ctx, phone, err); handled {
		return resp, herr
	}
	f.appendAI(ctx, phone, fmt.Sprintf("Intent: %s (%s)", intent, reasoning), dur, src)

	if err := f.store.SaveJobInfo(ctx, phone, keyIntent, intent); err != nil {
		f.logger.Warn("callflow: save intent failed", "error", err)
	}

	switch intent {
	case "schlüsseldienst", "abschleppdienst":
		return f.AskAddress(ctx, phone)
	case "mitarbeiter", "adac":
		svc, svcErr := f.currentService(ctx, phone)
		if svcErr != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), svcErr
		}
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	default:
		if fallbackAction == "" {
			return f.AskAddress(ctx, phone)
		}
		f.appendAgent(ctx, phone, fallbackPrompt)
		return telephony.GatherSpeech(fallbackPrompt, fallbackAction), nil
	}
}

// handleOrchestratorError implements the error-handling rule spec.md §4.1
// and §7 apply uniformly to every orchestrator call: HumanAgentRequested
// and timeout both interrupt the current state and route to transfer with
// an apology; any other error is a technical failure. handled is false
// when err is nil and the caller should continue normally.
func (f *Flow) handleOrchestratorError(ctx context.Context, phone string, err error) (telephony.Response, bool, error) {
	switch {
	case err == nil:
		return telephony.Response{}, false, nil
	case errors.Is(err, ErrHumanAgentRequested):
		f.appendHumanRequested(ctx, phone)
		svc, svcErr := f.currentService(ctx, phone)
		if svcErr != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), true, svcErr
		}
		resp, terr := f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
		return resp, true, terr
	case isTimeout(err):
		f.appendTimeout(ctx, phone)
		svc, svcErr := f.currentService(ctx, phone)
		if svcErr != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), true, svcErr
		}
		resp, terr := f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
		return resp, true, terr
	default:
		f.logger.Error("callflow: orchestrator call failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), true, err
	}
}
