// Package notify defines the narrow interfaces the call flow needs against
// external collaborators that spec.md §1 explicitly treats as out of core
// scope: the Telegram notifier and the job-details SMS. Grounded on the
// teacher's internal/notify package's EmailSender/StubEmailSender split —
// a minimal interface plus a logging stub, so production wiring can swap
// in a real Telegram client without the call flow changing.
package notify

import (
	"context"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// JobAlert is what the call flow hands to the Telegram notifier once a
// call transfers successfully (spec.md §4.2).
type JobAlert struct {
	Service     string
	Address     string
	ContactName string
	CallerPhone string
}

// TelegramNotifier is the narrow surface the call flow depends on; the
// actual bot-API client lives outside core scope.
type TelegramNotifier interface {
	NotifyJobTransferred(ctx context.Context, alert JobAlert) error
}

// StubTelegramNotifier logs instead of calling out, for tests and for
// deployments that haven't configured a bot token yet.
type StubTelegramNotifier struct {
	logger *logging.Logger
}

// NewStubTelegramNotifier builds a logging-only notifier.
func NewStubTelegramNotifier(logger *logging.Logger) *StubTelegramNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubTelegramNotifier{logger: logger}
}

// NotifyJobTransferred logs the alert but doesn't send anything.
func (s *StubTelegramNotifier) NotifyJobTransferred(ctx context.Context, alert JobAlert) error {
	s.logger.Info("stub telegram notifier: would notify job transfer",
		"service", alert.Service, "address", alert.Address, "contact", alert.ContactName)
	return nil
}

// JobDetailsSMS is the narrow surface the call flow depends on to send the
// best-effort job-details text to a newly connected contact (spec.md §4.2).
// telephony.Client.SendSMS plus telephony.JobDetailsBody satisfy it.
type JobDetailsSMS interface {
	SendSMS(ctx context.Context, from, to, body string) error
}
