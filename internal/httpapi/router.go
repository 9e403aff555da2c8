// Package httpapi wires the call-handling core's HTTP surface: the
// telephony webhook dispatcher (spec.md §4.1/§6), the recording range
// server (§4.6), and the location-share pages (§4.7). Grounded on the
// teacher's internal/api/router package: a single Config struct of
// already-built collaborators, chi.NewRouter with chi's RequestID/RealIP/
// Recoverer middleware plus this package's requestLogger, route groups for
// public vs. narrowly-protected surfaces.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/dispatch-voice-agent/internal/callflow"
	"github.com/wolfman30/dispatch-voice-agent/internal/dashboardauth"
	"github.com/wolfman30/dispatch-voice-agent/internal/locationshare"
	"github.com/wolfman30/dispatch-voice-agent/internal/recording"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// Config wires every collaborator the router dispatches to.
type Config struct {
	Flow               *callflow.Flow
	RecordingServer    *recording.Server
	RecordingIngest    *recording.Ingest
	LocationShare      *locationshare.Service
	JobStatus          *stt.JobStore
	DashboardAuth      dashboardauth.Validator
	DashboardAuthCache *dashboardauth.Cache
	Logger             *logging.Logger

	// MetricsEnabled mounts /metrics via promhttp when true (spec.md §6's
	// dashboard/observability surface; disabled in tests by default).
	MetricsEnabled bool
}

// New builds the chi router the server binary listens with.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	h := &handlers{cfg: cfg, logger: logger}

	r.Get("/health", h.health)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Telephony webhooks (spec.md §6): every endpoint accepts GET and POST
	// form-encoded bodies, exactly as the telephony provider posts them.
	r.Group(func(w chi.Router) {
		w.HandleFunc("/incoming-call", h.incomingCall)
		w.HandleFunc("/parse-intent-1", h.parseIntent1)
		w.HandleFunc("/parse-intent-2", h.parseIntent2)
		w.HandleFunc("/ask-adress", h.askAddress)
		w.HandleFunc("/process-address", h.processAddress)
		w.HandleFunc("/address-processed", h.addressProcessed)
		w.HandleFunc("/confirm-address", h.confirmAddress)
		w.HandleFunc("/ask-plz", h.askPLZ)
		w.HandleFunc("/process-plz", h.processPLZ)
		w.HandleFunc("/ask-send-sms", h.askSendSMS)
		w.HandleFunc("/process-sms-offer", h.processSMSOffer)
		w.HandleFunc("/start-pricing", h.startPricing)
		w.HandleFunc("/parse-connection-request", h.parseConnectionRequest)
		w.HandleFunc("/parse-transfer-call/{name}/{phone}", h.parseTransferCall)
		w.HandleFunc("/recording-status-callback/{caller}", h.recordingStatusCallback)
		w.HandleFunc("/status/{jobID}", h.status)
	})

	// Recording range server (spec.md §4.6).
	r.Get("/recordings/{number}/{timestamp}", h.serveRecordingInitial)
	r.Get("/recordings/link/{number}/{timestamp}", h.serveRecordingFollowup)

	// Location-share loop (spec.md §4.7).
	r.Get("/location/{linkID}", h.locationPage)
	r.Post("/receive-location/{linkID}", h.receiveLocation)

	// Dashboard bearer-token boundary (spec.md §6): the dashboard CRUD
	// handlers live in the external dashboard service (out of core scope,
	// see spec.md §1's Non-goals); this core only owns the auth check the
	// dashboard's requests must pass before reaching it. /api/dashboard/me
	// is the one endpoint the core itself answers once validation passes,
	// confirming which operator identity a token resolves to.
	if h.cfg.DashboardAuth != nil && h.cfg.DashboardAuthCache != nil {
		r.Group(func(d chi.Router) {
			d.Use(dashboardauth.Middleware(h.cfg.DashboardAuth, h.cfg.DashboardAuthCache, logger))
			d.Get("/api/dashboard/me", h.dashboardWhoAmI)
		})
	}

	return r
}

// requestLogger mirrors the teacher's httpmiddleware.RequestLogger: a
// structured request-scoped log line, not the stdlib's chatty default.
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

type handlers struct {
	cfg    Config
	logger *logging.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handlers) dashboardWhoAmI(w http.ResponseWriter, r *http.Request) {
	sub, ok := dashboardauth.SubjectFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"sub":"` + sub.ID + `","email":"` + sub.Email + `"}`))
}
