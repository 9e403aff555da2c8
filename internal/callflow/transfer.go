package callflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/notify"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
)

// beginTransferEmergency populates the queue with just a service's
// emergency contact and starts dialing it. Used by every path that routes
// straight to a human without ever resolving a chosen provider: an
// explicit human/ADAC request, an SMS-fallback decline, and the
// repeat-caller fast path (SPEC_FULL.md's "Supplemented features" item 1).
func (f *Flow) beginTransferEmergency(ctx context.Context, phone string, svc providerstore.Service, sayText string) (telephony.Response, error) {
	return f.beginTransferWithContacts(ctx, phone, []callstate.Contact{{Name: svc.Emergency.Name, Phone: svc.Emergency.Phone}}, sayText)
}

func (f *Flow) beginTransferWithContacts(ctx context.Context, phone string, contacts []callstate.Contact, sayText string) (telephony.Response, error) {
	if err := f.store.PopulateQueue(ctx, phone, contacts); err != nil {
		f.logger.Error("callflow: populate queue failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: begin transfer: %w", err)
	}
	return f.dialHead(ctx, phone, sayText)
}

// beginTransferChosenProvider implements spec.md §4.2's
// populate(call, service, chosen_provider) exactly: every contact at
// chosen's location, ordered by position, or a single emergency contact
// if chosen has no contacts configured (e.g. the caller's offer was
// accepted but the provider record has since lost its dial targets).
func (f *Flow) beginTransferChosenProvider(ctx context.Context, phone string, svc providerstore.Service, chosen providerstore.Provider, sayText string) (telephony.Response, error) {
	emergency := transferqueue.EmergencyContact{Name: svc.Emergency.Name, Phone: svc.Emergency.Phone}
	if err := f.transfers.Populate(ctx, phone, chosen, emergency); err != nil {
		f.logger.Error("callflow: populate queue failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: begin transfer: %w", err)
	}
	return f.dialHead(ctx, phone, sayText)
}

// dialHead reads the queue head and emits a Dial, speaking sayText first
// if set (spec.md §4.2's `start_transfer`). An empty queue speaks the
// apology and hangs up, recording hangup_reason.
func (f *Flow) dialHead(ctx context.Context, phone, sayText string) (telephony.Response, error) {
	contact, err := f.transfers.StartTransfer(ctx, phone)
	if errors.Is(err, transferqueue.ErrQueueEmpty) {
		serviceID, _ := f.store.GetService(ctx, phone)
		f.metrics.SetQueueDepth(serviceID, 0)
		if err := f.store.SaveJobInfo(ctx, phone, keyHangupReason, "Keine Mitarbeiter erreichbar"); err != nil {
			f.logger.Warn("callflow: save hangup reason failed", "error", err)
		}
		f.appendAgent(ctx, phone, promptApologyNoAgent)
		return telephony.SpeakThenHangup(promptApologyNoAgent), nil
	}
	if err != nil {
		f.logger.Error("callflow: start transfer failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: dial head: %w", err)
	}

	if depth, derr := f.store.QueueLength(ctx, phone); derr == nil {
		serviceID, _ := f.store.GetService(ctx, phone)
		f.metrics.SetQueueDepth(serviceID, int(depth))
	}

	resp := telephony.DialContact(contact.Phone,
		fmt.Sprintf("%s/parse-transfer-call/%s/%s", f.cfg.ServerURL, url.PathEscape(contact.Name), url.PathEscape(contact.Phone)),
		int(f.cfg.RingTimeout.Seconds()))
	if sayText != "" {
		f.appendAgent(ctx, phone, sayText)
		resp.Say = append(resp.Say, telephony.Say{Language: "de-DE", Text: sayText})
	}
	return resp, nil
}

// ParseTransferCall handles the telephony provider's dial-status callback
// for the queue's current head contact (spec.md §4.2, the
// /parse-transfer-call/{name}/{phone} endpoint). name and phone identify
// the leg that was dialed; on success they address the job-details SMS and
// name the contact in the Telegram alert. The queue itself tracks which
// contact is current.
func (f *Flow) ParseTransferCall(ctx context.Context, phone, dialedName, dialedPhone string, status transferqueue.DialStatus) (telephony.Response, error) {
	serviceID, _ := f.store.GetService(ctx, phone)

	outcome, err := f.transfers.HandleDialStatus(ctx, phone, status)
	if err != nil {
		f.logger.Error("callflow: handle dial status failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: parse transfer call: %w", err)
	}

	switch outcome {
	case transferqueue.OutcomeTransferSucceeded:
		f.metrics.ObserveDialAttempt(serviceID, "succeeded")
		f.metrics.ObserveCallOutcome(serviceID, "connected")
		f.onTransferSucceeded(ctx, phone, serviceID, dialedName, dialedPhone)
		if err := f.store.CleanupCall(ctx, phone); err != nil {
			f.logger.Warn("callflow: cleanup after transfer failed", "error", err)
		}
		return telephony.Response{Hangup: &telephony.Hangup{}}, nil
	case transferqueue.OutcomeRedial:
		f.metrics.ObserveDialAttempt(serviceID, "failed")
		return f.dialHead(ctx, phone, "")
	default: // OutcomeExhausted
		f.metrics.ObserveCallOutcome(serviceID, "abandoned")
		if err := f.store.SaveJobInfo(ctx, phone, keyHangupReason, "Keine Mitarbeiter erreichbar"); err != nil {
			f.logger.Warn("callflow: save hangup reason failed", "error", err)
		}
		f.appendAgent(ctx, phone, promptApologyNoAgent)
		return telephony.SpeakThenHangup(promptApologyNoAgent), nil
	}
}

// onTransferSucceeded sends the best-effort job-details SMS to the
// connected contact and alerts the Telegram channel (spec.md §4.2). Both
// are fire-and-forget: a failure here must not affect the call, which has
// already been accepted as successfully transferred.
func (f *Flow) onTransferSucceeded(ctx context.Context, phone, serviceID, contactName, contactPhone string) {
	loc, _ := f.store.GetLocation(ctx, phone)
	priceRaw, _ := f.store.GetJobInfo(ctx, phone, keyPrice)
	minutesRaw, _ := f.store.GetJobInfo(ctx, phone, keyMinutes)
	price, _ := strconv.Atoi(priceRaw)
	minutes, _ := strconv.Atoi(minutesRaw)

	body := telephony.JobDetailsBody(serviceID, loc.FormattedAddr, price, minutes)
	if err := f.sms.SendSMS(ctx, f.cfg.SMSFromNumber, contactPhone, body); err != nil {
		f.logger.Warn("callflow: job-details sms failed", "error", err)
	}

	alert := notify.JobAlert{Service: serviceID, Address: loc.FormattedAddr, ContactName: contactName, CallerPhone: phone}
	if err := f.notifier.NotifyJobTransferred(ctx, alert); err != nil {
		f.logger.Warn("callflow: telegram notify failed", "error", err)
	}
}
