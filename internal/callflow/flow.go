// Package callflow is the call FSM from spec.md §4.1: one method per
// webhook state, reading and mutating callstate.Store and returning the
// telephony-XML document that drives the caller's next interaction.
// Grounded on the teacher's internal/conversation.Handler shape (a single
// struct wiring every collaborator the package needs, narrow interfaces
// over each so tests substitute fakes instead of real HTTP/AWS clients).
//
// Per SPEC_FULL.md's REDESIGN FLAGS, every handler takes the caller's
// phone (or callstate.AnonymousCaller's sentinel) explicitly rather than
// re-deriving call identity from request state, and the FSM is otherwise
// memoryless across HTTP calls: all continuation data lives in the
// per-call job-info fields (internal/callstate).
package callflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/geocode"
	"github.com/wolfman30/dispatch-voice-agent/internal/llmcache"
	"github.com/wolfman30/dispatch-voice-agent/internal/locationshare"
	"github.com/wolfman30/dispatch-voice-agent/internal/notify"
	"github.com/wolfman30/dispatch-voice-agent/internal/phoneid"
	"github.com/wolfman30/dispatch-voice-agent/internal/pricing"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/internal/telemetry"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// ErrHumanAgentRequested is raised whenever the LLM layer detects the
// "mitarbeiter" handoff token (spec.md §4.3/§6/§7). Every handler that
// calls the orchestrator checks for it with errors.Is and transfers
// immediately, regardless of what state it was in.
var ErrHumanAgentRequested = llmcache.ErrHumanAgentRequested

// ErrTechnicalFailure marks unrecoverable state corruption (spec.md §7
// kind 5): the call is ended gracefully rather than left hanging.
var ErrTechnicalFailure = errors.New("callflow: technical failure")

// orchestrator is the subset of *llmcache.Orchestrator the flow calls,
// narrowed so tests can substitute deterministic fakes instead of racing
// real LLM providers.
type orchestrator interface {
	YesNoQuestion(ctx context.Context, text, callContext string) (bool, string, time.Duration, string, error)
	ClassifyIntent(ctx context.Context, text string) (string, string, time.Duration, string, error)
	ProcessLocation(ctx context.Context, text string) (bool, bool, bool, string, time.Duration, string, error)
	CorrectPLZ(ctx context.Context, location string, lat, lon float64) (string, bool, time.Duration, string, error)
}

// geocoder is the subset of *geocode.Client the flow calls.
type geocoder interface {
	Geocode(ctx context.Context, address string) (geocode.Result, bool, error)
	ShiftedEast(ctx context.Context, lat, lng float64) (geocode.Result, bool, error)
}

// router is the subset of *pricing.RoutesClient the flow calls.
type router interface {
	Price(ctx context.Context, originLat, originLng float64, svc providerstore.Service, now time.Time) (pricing.Quote, error)
	ClosestProvider(ctx context.Context, originLat, originLng float64, svc providerstore.Service) (providerstore.Provider, pricing.Route, error)
}

// serviceConfig is the subset of *providerstore.Store the flow calls.
type serviceConfig interface {
	GetService(ctx context.Context, serviceID string) (providerstore.Service, error)
	GetServiceIDByDialedNumber(ctx context.Context, dialedNumber string) (string, error)
}

// dialCoordinator is the subset of *transferqueue.Coordinator the flow calls.
type dialCoordinator interface {
	Populate(ctx context.Context, phone string, chosen providerstore.Provider, emergency transferqueue.EmergencyContact) error
	StartTransfer(ctx context.Context, phone string) (callstate.Contact, error)
	HandleDialStatus(ctx context.Context, phone string, status transferqueue.DialStatus) (transferqueue.Outcome, error)
}

// smsSender is the subset of *telephony.Client the flow calls for outbound
// SMS (job-details to a connected contact, the share-link text).
type smsSender interface {
	SendSMS(ctx context.Context, from, to, body string) error
}

// jobEnqueuer is the subset of *stt.Worker the flow calls to hand a
// recorded address off to background transcription.
type jobEnqueuer interface {
	Enqueue(ctx context.Context, req stt.JobRequest) error
}

// jobTracker is the subset of *stt.JobStore the flow calls to poll a
// transcription job's status from the address-processed redirect loop.
type jobTracker interface {
	GetJob(ctx context.Context, jobID string) (*stt.JobRecord, error)
}

// linkGenerator is the subset of *locationshare.Service the flow calls.
type linkGenerator interface {
	GenerateLink(ctx context.Context, phone string) (locationshare.GeneratedLink, error)
}

// Config holds the tunables spec.md §4.1/§4.2/§5 call out explicitly.
type Config struct {
	ServerURL     string
	RingTimeout   time.Duration // default 15s, spec.md §4.2
	LLMTimeout    time.Duration // 6.0s ceiling, spec.md §4.1/§5
	PLZTimeout    time.Duration // 5.0s ceiling, spec.md §4.3/§5
	SMSFromNumber string
}

func (c Config) withDefaults() Config {
	if c.RingTimeout == 0 {
		c.RingTimeout = transferqueue.DefaultRingTimeout
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = 6 * time.Second
	}
	if c.PLZTimeout == 0 {
		c.PLZTimeout = 5 * time.Second
	}
	return c
}

// Flow is the call FSM: one method per spec.md §4.1 state, wired over the
// per-call store and every collaborator subsystem.
type Flow struct {
	store     *callstate.Store
	ai        orchestrator
	geo       geocoder
	routes    router
	services  serviceConfig
	transfers dialCoordinator
	sms       smsSender
	jobs      jobEnqueuer
	jobStatus jobTracker
	links     linkGenerator
	notifier  notify.TelegramNotifier
	metrics   *telemetry.Metrics
	logger    *logging.Logger
	cfg       Config
}

// New wires a Flow from its collaborators. logger and metrics may be nil.
func New(
	store *callstate.Store,
	ai orchestrator,
	geo geocoder,
	routes router,
	services serviceConfig,
	transfers dialCoordinator,
	sms smsSender,
	jobs jobEnqueuer,
	jobStatus jobTracker,
	links linkGenerator,
	notifier notify.TelegramNotifier,
	metrics *telemetry.Metrics,
	logger *logging.Logger,
	cfg Config,
) *Flow {
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = notify.NewStubTelegramNotifier(logger)
	}
	return &Flow{
		store: store, ai: ai, geo: geo, routes: routes, services: services,
		transfers: transfers, sms: sms, jobs: jobs, jobStatus: jobStatus, links: links,
		notifier: notifier, metrics: metrics, logger: logger, cfg: cfg.withDefaults(),
	}
}

// raceCtx bounds an orchestrator call with the 6.0s ceiling spec.md §5
// mandates for every handler that touches the LLM layer.
func (f *Flow) raceCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.cfg.LLMTimeout)
}

// plzCtx bounds a correct_plz call with its own 5.0s ceiling.
func (f *Flow) plzCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.cfg.PLZTimeout)
}

func (f *Flow) appendAgent(ctx context.Context, phone, text string) {
	if err := f.store.AppendMessage(ctx, phone, callstate.Message{Role: callstate.RoleAgent, Content: text}); err != nil {
		f.logger.Warn("callflow: append agent message failed", "error", err)
	}
}

func (f *Flow) appendUser(ctx context.Context, phone, text string) {
	if text == "" {
		return
	}
	if err := f.store.AppendMessage(ctx, phone, callstate.Message{Role: callstate.RoleUser, Content: text}); err != nil {
		f.logger.Warn("callflow: append user message failed", "error", err)
	}
}

// appendAI records an orchestrator answer, carrying the "(took D.DDDs)"
// suffix spec.md §3's Message type mandates whenever a duration is known.
// A "noop" source means the primitive short-circuited on empty input
// without placing any call, so there is no duration to report; a "cache"
// source did place a call at some earlier point and legitimately measured
// 0.000s just now, so it still gets the suffix.
func (f *Flow) appendAI(ctx context.Context, phone, content string, duration time.Duration, source string) {
	msg := callstate.Message{Role: callstate.RoleAI, Content: content, ModelSource: source}
	if source != "noop" {
		content = fmt.Sprintf("%s (took %.3fs)", content, duration.Seconds())
		secs := duration.Seconds()
		msg.Content = content
		msg.Duration = &secs
	}
	if err := f.store.AppendMessage(ctx, phone, msg); err != nil {
		f.logger.Warn("callflow: append ai message failed", "error", err)
	}
}

// appendTimeout records the fixed transcript entry spec.md §4.1 mandates
// when an orchestrator call breaches its 6.0s ceiling.
func (f *Flow) appendTimeout(ctx context.Context, phone string) {
	secs := 6.0
	if err := f.store.AppendMessage(ctx, phone, callstate.Message{
		Role: callstate.RoleAgent, Content: "<Request timed out>", Duration: &secs,
	}); err != nil {
		f.logger.Warn("callflow: append timeout message failed", "error", err)
	}
}

// appendHumanRequested records the fixed transcript entry spec.md §8's
// scenario 3 expects when "mitarbeiter" interrupts the flow.
func (f *Flow) appendHumanRequested(ctx context.Context, phone string) {
	if err := f.store.AppendMessage(ctx, phone, callstate.Message{
		Role: callstate.RoleAgent, Content: "<User requested human agent>",
	}); err != nil {
		f.logger.Warn("callflow: append human-requested message failed", "error", err)
	}
}

// appendGoogle records the STT vendor's raw transcript, distinct from a
// live spoken-then-recognized user utterance (spec.md §3's Message role
// enum carries "google" specifically for this).
func (f *Flow) appendGoogle(ctx context.Context, phone, transcript string) {
	if transcript == "" {
		return
	}
	if err := f.store.AppendMessage(ctx, phone, callstate.Message{Role: callstate.RoleGoogle, Content: transcript}); err != nil {
		f.logger.Warn("callflow: append transcript message failed", "error", err)
	}
}

// callKey derives the per-call store key from a caller identity: the
// known E.164 number, or the literal "anonymous" sentinel phoneid already
// reserves for a withheld number (REDESIGN FLAGS: the sum type forces
// every call site to decide what anonymous means; here it means every
// anonymous call shares one store slot, matching the spec's phone-keyed
// store with no separate anonymous-call identity scheme).
func callKey(c callstate.Caller) string {
	if c.IsAnonymous() {
		return "anonymous"
	}
	return c.Phone
}

// currentService loads the service configuration for an in-progress call
// from its stored service id.
func (f *Flow) currentService(ctx context.Context, phone string) (providerstore.Service, error) {
	serviceID, err := f.store.GetService(ctx, phone)
	if err != nil {
		return providerstore.Service{}, fmt.Errorf("callflow: read service for %s: %w", phone, err)
	}
	svc, err := f.services.GetService(ctx, serviceID)
	if err != nil {
		return providerstore.Service{}, fmt.Errorf("callflow: load service %s: %w", serviceID, err)
	}
	return svc, nil
}

// ResolveServiceID maps a dialed number to its service id (spec.md §3:
// "service-id (derived from the dialed number)"). The HTTP dispatcher calls
// this once, before a Call value exists, so every subsequent handler
// receives an already-resolved Call instead of re-deriving it from the
// wire (REDESIGN FLAGS: "Per-call global state").
func (f *Flow) ResolveServiceID(ctx context.Context, dialedNumber string) (string, error) {
	serviceID, err := f.services.GetServiceIDByDialedNumber(ctx, dialedNumber)
	if err != nil {
		return "", fmt.Errorf("callflow: resolve service for dialed number %s: %w", dialedNumber, err)
	}
	return serviceID, nil
}

// isTimeout reports whether err is (or wraps) a context deadline breach,
// the signal for spec.md §7 error kind 4.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// outOfArea implements the REDESIGN FLAG refinement of spec.md's
// out-of-area detection: read the geocoder's country component directly
// instead of substring-matching the formatted address for
// "germany"/"deutschland"/"austria"/"österreich".
func outOfArea(country string) bool {
	switch country {
	case "DE", "AT":
		return false
	default:
		return true
	}
}

// encodedCaller returns the "00"-prefixed form used in recording keys and
// URL path segments, per spec.md §6's phone-normalization rule.
func encodedCaller(phone string) string {
	return phoneid.Encode(phone)
}
