package callflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/geocode"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
)

// AskAddress prompts the caller to state their address and records the
// reply for background transcription (spec.md §4.1's ask-address state).
func (f *Flow) AskAddress(ctx context.Context, phone string) (telephony.Response, error) {
	f.appendAgent(ctx, phone, promptAskAddress)
	recordingCallback := fmt.Sprintf("%s/recording-status-callback/%s", f.cfg.ServerURL, encodedCaller(phone))
	return telephony.RecordAddress(promptAskAddress, "/process-address", recordingCallback, 30, 5), nil
}

// ProcessAddress fires when the recording completes; it enqueues a
// background transcription job and starts the poll loop that
// address-processed drives.
func (f *Flow) ProcessAddress(ctx context.Context, phone, recordingURL string) (telephony.Response, error) {
	if recordingURL == "" {
		// No audio captured (e.g. caller hung up mid-prompt): fall back
		// to a human rather than polling a job that will never exist.
		svc, err := f.currentService(ctx, phone)
		if err != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), err
		}
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}

	startTime, err := f.store.GetStartTime(ctx, phone)
	if err != nil && !errors.Is(err, callstate.ErrNotFound) {
		f.logger.Warn("callflow: read start time failed", "error", err)
	}
	jobID := stt.NewJobID()
	req := stt.JobRequest{
		JobID:          jobID,
		EncodedPhone:   encodedCaller(phone),
		StartTimestamp: startTime,
		RecordingURL:   recordingURL,
	}
	if err := f.jobs.Enqueue(ctx, req); err != nil {
		f.logger.Error("callflow: enqueue transcription job failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: process address: %w", err)
	}
	if err := f.store.SaveJobInfo(ctx, phone, keySTTJobID, jobID); err != nil {
		f.logger.Warn("callflow: save stt job id failed", "error", err)
	}

	f.appendAgent(ctx, phone, promptAddressProcessing)
	return telephony.PauseThenRedirect(3, "/address-processed"), nil
}

// AddressProcessed polls the transcription job and, once it completes,
// extracts a location from the transcript (spec.md §4.1's process-address
// → address-processed → extract-location transitions).
func (f *Flow) AddressProcessed(ctx context.Context, phone string) (telephony.Response, error) {
	jobID, err := f.store.GetJobInfo(ctx, phone, keySTTJobID)
	if err != nil {
		f.logger.Error("callflow: read stt job id failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: address processed: %w", err)
	}

	job, err := f.jobStatus.GetJob(ctx, jobID)
	if err != nil {
		f.logger.Warn("callflow: stt job lookup failed, polling again", "job_id", jobID, "error", err)
		return telephony.PauseThenRedirect(3, "/address-processed"), nil
	}

	switch job.Status {
	case stt.StatusPending:
		return telephony.PauseThenRedirect(3, "/address-processed"), nil
	case stt.StatusFailed:
		f.logger.Warn("callflow: stt job failed", "job_id", jobID, "error_message", job.ErrorMessage)
		svc, svcErr := f.currentService(ctx, phone)
		if svcErr != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), svcErr
		}
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	default: // stt.StatusCompleted
		return f.extractLocation(ctx, phone, job.Transcript)
	}
}

func (f *Flow) extractLocation(ctx context.Context, phone, transcript string) (telephony.Response, error) {
	f.appendGoogle(ctx, phone, transcript)

	rctx, cancel := f.raceCtx(ctx)
	defer cancel()
	containsLocation, containsCity, knowsLocation, address, dur, src, err := f.ai.ProcessLocation(rctx, transcript)
	if resp, handled, herr := f.handleOrchestratorError(ctx, phone, err); handled {
		return resp, herr
	}
	f.appendAI(ctx, phone, fmt.Sprintf("Standort erkannt: %s", address), dur, src)

	var spokenGuess string
	if containsLocation && containsCity && address != "" {
		geoStart := time.Now()
		result, ok, gerr := f.geo.Geocode(ctx, address)
		f.metrics.ObserveGeocodeLatency(time.Since(geoStart).Seconds())
		if gerr != nil {
			f.logger.Warn("callflow: geocode failed", "error", gerr)
		}
		if ok {
			repaired, rerr := f.repairPLZ(ctx, phone, result)
			if resp, handled, herr := f.handleOrchestratorError(ctx, phone, rerr); handled {
				return resp, herr
			}
			if repaired.Valid() {
				loc := callstate.Location{
					Latitude:       repaired.Latitude,
					Longitude:      repaired.Longitude,
					FormattedAddr:  repaired.FormattedAddress,
					PLZ:            repaired.PLZ,
					Ort:            repaired.Ort,
					GoogleMapsLink: repaired.GoogleMapsLink,
				}
				if err := f.store.SaveLocation(ctx, phone, loc); err != nil {
					f.logger.Warn("callflow: save location failed", "error", err)
				}
				prompt := promptConfirmAddress(repaired.FormattedAddress)
				f.appendAgent(ctx, phone, prompt)
				return telephony.GatherSpeech(prompt, "/confirm-address"), nil
			}
			// Geocoding resolved but the PLZ never firmed up to 5 digits:
			// read back whatever digits it did settle on so the caller can
			// confirm or correct them by keypad instead of starting blind.
			if repaired.PLZ != "" {
				spokenGuess = spokenDigits(repaired.PLZ)
			}
		}
	}

	if !knowsLocation {
		return f.AskSendSMS(ctx, phone)
	}
	return f.AskPLZ(ctx, phone, spokenGuess)
}

// repairPLZ implements spec.md §4.4's PLZ-repair chain: a ~100m-east
// reverse-geocode probe first, then the LLM's correct_plz primitive. The
// first success wins; a non-nil error here is only ever
// ErrHumanAgentRequested or a timeout, both of which the caller must
// treat as an interrupt per spec.md §7.
func (f *Flow) repairPLZ(ctx context.Context, phone string, result geocode.Result) (geocode.Result, error) {
	if len(result.PLZ) == 5 {
		return result, nil
	}

	if shifted, ok, err := f.geo.ShiftedEast(ctx, result.Latitude, result.Longitude); err == nil && ok && len(shifted.PLZ) == 5 {
		result.PLZ = shifted.PLZ
		if result.Ort == "" {
			result.Ort = shifted.Ort
		}
		return result, nil
	}

	pctx, cancel := f.plzCtx(ctx)
	defer cancel()
	locationDesc := result.Ort
	if locationDesc == "" {
		locationDesc = result.FormattedAddress
	}
	plz, found, dur, src, err := f.ai.CorrectPLZ(pctx, locationDesc, result.Latitude, result.Longitude)
	if errors.Is(err, ErrHumanAgentRequested) || isTimeout(err) {
		return result, err
	}
	if err == nil {
		f.appendAI(ctx, phone, fmt.Sprintf("PLZ-Korrektur: %s", plz), dur, src)
		if found && len(plz) >= 4 {
			result.PLZ = plz
		}
	}
	return result, nil
}

// ConfirmAddress handles the caller's yes/no reply to the resolved address
// read-back.
func (f *Flow) ConfirmAddress(ctx context.Context, phone, speech string) (telephony.Response, error) {
	f.appendUser(ctx, phone, speech)

	rctx, cancel := f.raceCtx(ctx)
	defer cancel()
	agree, reasoning, dur, src, err := f.ai.YesNoQuestion(rctx, speech, "Ist die erkannte Adresse richtig?")
	if resp, handled, herr := f.handleOrchestratorError(ctx, phone, err); handled {
		return resp, herr
	}
	f.appendAI(ctx, phone, reasoning, dur, src)

	if agree {
		return f.StartPricing(ctx, phone)
	}
	return f.AskPLZ(ctx, phone, "")
}

// AskPLZ gathers a 5-digit postal code by keypad. spokenGuess, when set,
// is read back to the caller as German digit words before the gather
// (SPEC_FULL.md's supplemented feature 2).
func (f *Flow) AskPLZ(ctx context.Context, phone, spokenGuess string) (telephony.Response, error) {
	prompt := promptAskPLZWithSpoken(spokenGuess)
	f.appendAgent(ctx, phone, prompt)
	return telephony.GatherDigits(prompt, "/process-plz", 5), nil
}

// ProcessPLZ validates the keyed-in postal code and geocodes it directly;
// an invalid or out-of-area code falls through to the SMS-link offer
// (spec.md §4.1's ask-plz → start-pricing / ask-send-sms transitions).
func (f *Flow) ProcessPLZ(ctx context.Context, phone, digits string) (telephony.Response, error) {
	f.appendUser(ctx, phone, digits)

	if len(digits) != 5 || !isAllDigits(digits) {
		f.appendAgent(ctx, phone, promptPLZInvalid)
		return f.AskSendSMS(ctx, phone)
	}

	geoStart := time.Now()
	result, ok, err := f.geo.Geocode(ctx, digits)
	f.metrics.ObserveGeocodeLatency(time.Since(geoStart).Seconds())
	if err != nil {
		f.logger.Warn("callflow: plz geocode failed", "error", err)
	}
	if err != nil || !ok || outOfArea(result.Country) {
		f.appendAgent(ctx, phone, promptPLZInvalid)
		return f.AskSendSMS(ctx, phone)
	}

	loc := callstate.Location{
		Latitude:       result.Latitude,
		Longitude:      result.Longitude,
		FormattedAddr:  result.FormattedAddress,
		PLZ:            digits,
		Ort:            result.Ort,
		GoogleMapsLink: result.GoogleMapsLink,
	}
	if err := f.store.SaveLocation(ctx, phone, loc); err != nil {
		f.logger.Warn("callflow: save location failed", "error", err)
	}
	return f.StartPricing(ctx, phone)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AskSendSMS offers to text a location-share link. Anonymous callers skip
// this fallback entirely (spec.md §4.1's edge case) since there is no
// number to send the link to.
func (f *Flow) AskSendSMS(ctx context.Context, phone string) (telephony.Response, error) {
	if phone == "anonymous" {
		svc, err := f.currentService(ctx, phone)
		if err != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), err
		}
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}
	f.appendAgent(ctx, phone, promptAskSendSMS)
	return telephony.GatherSpeech(promptAskSendSMS, "/process-sms-offer"), nil
}

// ProcessSMSOffer handles the caller's yes/no reply to the SMS-link offer.
func (f *Flow) ProcessSMSOffer(ctx context.Context, phone, speech string) (telephony.Response, error) {
	f.appendUser(ctx, phone, speech)

	rctx, cancel := f.raceCtx(ctx)
	defer cancel()
	agree, reasoning, dur, src, err := f.ai.YesNoQuestion(rctx, speech, "Soll ein Standort-Link per SMS gesendet werden?")
	if resp, handled, herr := f.handleOrchestratorError(ctx, phone, err); handled {
		return resp, herr
	}
	f.appendAI(ctx, phone, reasoning, dur, src)

	if !agree {
		svc, err := f.currentService(ctx, phone)
		if err != nil {
			return telephony.SpeakThenHangup(promptTechnicalFailure), err
		}
		return f.beginTransferEmergency(ctx, phone, svc, promptApologyTransfer)
	}

	link, err := f.links.GenerateLink(ctx, phone)
	if err != nil {
		f.logger.Error("callflow: generate location link failed", "error", err)
		return telephony.SpeakThenHangup(promptTechnicalFailure), fmt.Errorf("callflow: process sms offer: %w", err)
	}
	if err := f.sms.SendSMS(ctx, f.cfg.SMSFromNumber, phone, "Bitte teilen Sie Ihren Standort: "+link.URL); err != nil {
		f.logger.Warn("callflow: location-share sms failed", "error", err)
	}
	f.appendAgent(ctx, phone, promptSMSSent)
	return telephony.SpeakThenHangup(promptSMSSent), nil
}
