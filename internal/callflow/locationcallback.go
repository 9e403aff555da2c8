package callflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/notify"
	"github.com/wolfman30/dispatch-voice-agent/internal/pricing"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
)

// OnLocationShared is locationshare.OnLocationReceived's implementation:
// spec.md §4.7's outbound callback that prices the shared coordinates,
// populates the towing queue, and dispatches the job. Unlike every other
// callflow handler, the triggering call has already ended (ask-send-sms's
// "yes" branch hangs up after texting the link), so there is no live leg
// to bridge; dispatch here means a best-effort job-details SMS plus a
// Telegram alert to the chosen contact rather than an in-progress Dial.
func (f *Flow) OnLocationShared(ctx context.Context, phone string, loc callstate.Location) error {
	svc, err := f.currentService(ctx, phone)
	if err != nil {
		return fmt.Errorf("callflow: shared location: %w", err)
	}

	result, err := f.resolveOffer(ctx, svc, loc.Latitude, loc.Longitude)
	contactName, contactPhone := svc.Emergency.Name, svc.Emergency.Phone
	price, minutes := svc.FallbackDayPrice, 10
	switch {
	case errors.Is(err, pricing.ErrNoReachableProvider):
		f.logger.Warn("callflow: shared-location pricing found no reachable provider", "service", svc.ID)
	case err != nil:
		f.logger.Error("callflow: shared-location pricing failed", "error", err)
	default:
		price, minutes = result.Price, result.Minutes
		if err := f.transfers.Populate(ctx, phone, result.Provider,
			transferqueue.EmergencyContact{Name: svc.Emergency.Name, Phone: svc.Emergency.Phone}); err != nil {
			f.logger.Warn("callflow: shared-location populate queue failed", "error", err)
		}
		if head, err := f.transfers.StartTransfer(ctx, phone); err == nil {
			contactName, contactPhone = head.Name, head.Phone
		}
	}

	if contactPhone == "" {
		return fmt.Errorf("callflow: shared location: no contact to dispatch for service %s", svc.ID)
	}

	body := fmt.Sprintf("Standort-Link verwendet.\n%s", telephony.JobDetailsBody(svc.ID, loc.FormattedAddr, price, minutes))
	if err := f.sms.SendSMS(ctx, f.cfg.SMSFromNumber, contactPhone, body); err != nil {
		f.logger.Warn("callflow: shared-location job-details sms failed", "error", err)
	}

	alert := notify.JobAlert{Service: svc.ID, Address: loc.FormattedAddr, ContactName: contactName, CallerPhone: phone}
	if err := f.notifier.NotifyJobTransferred(ctx, alert); err != nil {
		f.logger.Warn("callflow: shared-location telegram notify failed", "error", err)
	}
	return nil
}
