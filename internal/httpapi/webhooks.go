package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/phoneid"
	"github.com/wolfman30/dispatch-voice-agent/internal/recording"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
)

// writeResponse marshals resp as the telephony-XML document every webhook
// handler returns, logging (but never surfacing) a non-nil err: per
// spec.md §7's propagation policy, the telephony provider must always see
// a 200 with a usable document, even when the underlying call failed.
func (h *handlers) writeResponse(w http.ResponseWriter, resp telephony.Response, err error) {
	if err != nil {
		h.logger.Error("callflow: handler returned error alongside a response", "error", err)
	}
	body, merr := resp.Marshal()
	if merr != nil {
		h.logger.Error("callflow: marshal telephony response failed", "error", merr)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// callerFromForm derives the caller's identity from the telephony
// provider's "From" field: a withheld number arrives as the literal
// "anonymous" sentinel (spec.md §4.1's "anonymous callers" edge case).
func callerFromForm(r *http.Request) callstate.Caller {
	from := r.FormValue("From")
	if from == "" || phoneid.IsAnonymous(from) {
		return callstate.AnonymousCaller()
	}
	return callstate.KnownCaller(from)
}

func callKeyFromForm(r *http.Request) string {
	c := callerFromForm(r)
	if c.IsAnonymous() {
		return "anonymous"
	}
	return c.Phone
}

// incomingCall is the entry point for every call (spec.md §4.1). The
// dialed "To" number selects the service; Flow.ResolveServiceID resolves it once,
// up front, so Flow.IncomingCall never has to re-derive it from the wire.
func (h *handlers) incomingCall(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	caller := callerFromForm(r)
	to := r.FormValue("To")

	serviceID, err := h.cfg.Flow.ResolveServiceID(r.Context(), to)
	if err != nil {
		h.logger.Error("httpapi: resolve service id failed", "to", to, "error", err)
		h.writeResponse(w, telephony.SpeakThenHangup("Technischer Fehler. Bitte versuchen Sie es später erneut."), err)
		return
	}

	call := callstate.Call{Caller: caller, Service: serviceID, Started: time.Now()}
	resp, err := h.cfg.Flow.IncomingCall(r.Context(), call)
	h.writeResponse(w, resp, err)
}

func (h *handlers) parseIntent1(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ParseIntent1(r.Context(), callKeyFromForm(r), r.FormValue("SpeechResult"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) parseIntent2(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ParseIntent2(r.Context(), callKeyFromForm(r), r.FormValue("SpeechResult"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) askAddress(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.AskAddress(r.Context(), callKeyFromForm(r))
	h.writeResponse(w, resp, err)
}

func (h *handlers) processAddress(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ProcessAddress(r.Context(), callKeyFromForm(r), r.FormValue("RecordingUrl"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) addressProcessed(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.AddressProcessed(r.Context(), callKeyFromForm(r))
	h.writeResponse(w, resp, err)
}

func (h *handlers) confirmAddress(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ConfirmAddress(r.Context(), callKeyFromForm(r), r.FormValue("SpeechResult"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) askPLZ(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.AskPLZ(r.Context(), callKeyFromForm(r), "")
	h.writeResponse(w, resp, err)
}

func (h *handlers) processPLZ(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ProcessPLZ(r.Context(), callKeyFromForm(r), r.FormValue("Digits"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) askSendSMS(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.AskSendSMS(r.Context(), callKeyFromForm(r))
	h.writeResponse(w, resp, err)
}

func (h *handlers) processSMSOffer(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ProcessSMSOffer(r.Context(), callKeyFromForm(r), r.FormValue("SpeechResult"))
	h.writeResponse(w, resp, err)
}

func (h *handlers) startPricing(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.StartPricing(r.Context(), callKeyFromForm(r))
	h.writeResponse(w, resp, err)
}

func (h *handlers) parseConnectionRequest(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	resp, err := h.cfg.Flow.ParseConnection(r.Context(), callKeyFromForm(r), r.FormValue("SpeechResult"))
	h.writeResponse(w, resp, err)
}

// parseTransferCall handles /parse-transfer-call/{name}/{phone}, the dial
// status callback for the currently dialed queue head (spec.md §4.2).
// name/phone come back URL-decoded by chi; they identify the dialed leg
// and are passed on to Flow.ParseTransferCall, while the queue itself
// tracks the current head.
func (h *handlers) parseTransferCall(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	name := chi.URLParam(r, "name")
	phone := chi.URLParam(r, "phone")
	status := transferqueue.DialStatus(r.FormValue("DialCallStatus"))

	resp, err := h.cfg.Flow.ParseTransferCall(r.Context(), callKeyFromForm(r), name, phone, status)
	h.writeResponse(w, resp, err)
}

// recordingStatusCallback handles /recording-status-callback/{caller},
// decoding the "00"-prefixed caller segment and handing the completion
// event to recording.Ingest (spec.md §4.6). Anonymous callers and empty
// payloads are dropped by Ingest itself, per spec.
func (h *handlers) recordingStatusCallback(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	encodedCaller := chi.URLParam(r, "caller")

	segmentDuration, _ := strconv.Atoi(r.FormValue("RecordingDuration"))
	recordingType := recording.TypeInitial
	if r.FormValue("RecordingType") == "followup" {
		recordingType = recording.TypeFollowup
	}

	ev := recording.CompletionEvent{
		EncodedPhone:           encodedCaller,
		StartTimestamp:         r.FormValue("CallStartTimestamp"),
		RecordingType:          recordingType,
		RecordingSID:           r.FormValue("RecordingSid"),
		RecordingURL:           r.FormValue("RecordingUrl"),
		SegmentDurationSeconds: segmentDuration,
		Anonymous:              phoneid.IsAnonymous(phoneid.Decode(encodedCaller)),
	}

	if err := h.cfg.RecordingIngest.Handle(r.Context(), ev); err != nil {
		h.logger.Error("httpapi: recording ingest failed", "recording_sid", ev.RecordingSID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// status handles GET/POST /status/{jobID}: the call-lifecycle endpoint
// spec.md §6 lists with no further elaboration, grounded (SPEC_FULL.md's
// supplemented feature 5) on the background transcription job's own
// pending/completed/failed lifecycle.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.cfg.JobStatus.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"job_id":"` + job.JobID + `","status":"` + string(job.Status) + `"}`))
}
