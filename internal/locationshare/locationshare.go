// Package locationshare implements spec.md §4.7's location-share loop: a
// caller without a usable address gets a one-shot SMS link; the linked
// page posts browser geolocation coordinates back, which triggers pricing
// and the transfer sequence exactly as the address-driven path does.
// Grounded on the teacher's internal/api/router handler shape (a Config
// struct of collaborators, narrow methods per route) and on
// callstate.Store's link/shared-location primitives.
package locationshare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

const linkLifetime = 24 * time.Hour

// OnLocationReceived is invoked once a link's coordinates have been
// validated and stored; it is the outbound callback spec.md §4.7 describes
// as reading the shared location, running pricing, populating the queue
// and starting the transfer sequence. Wired by internal/callflow.
type OnLocationReceived func(ctx context.Context, phone string, loc callstate.Location) error

// Service generates and consumes location-share links.
type Service struct {
	store      *callstate.Store
	serverURL  string
	onReceived OnLocationReceived
	logger     *logging.Logger
}

// New builds a Service. serverURL is the public base URL used to build the
// SMS link (e.g. "https://dispatch.example.com").
func New(store *callstate.Store, serverURL string, onReceived OnLocationReceived, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, serverURL: serverURL, onReceived: onReceived, logger: logger}
}

// GeneratedLink is what GenerateLink returns for the caller-facing SMS.
type GeneratedLink struct {
	LinkID    int64
	URL       string
	ExpiresAt time.Time
}

// GenerateLink allocates a monotonic link id, stores the link record with
// a 24h TTL, and builds the URL to text the caller.
func (s *Service) GenerateLink(ctx context.Context, phone string) (GeneratedLink, error) {
	id, err := s.store.NextLinkID(ctx)
	if err != nil {
		return GeneratedLink{}, err
	}
	expiresAt := time.Now().Add(linkLifetime)
	link := callstate.ShareLink{
		LinkID:      id,
		PhoneNumber: phone,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return GeneratedLink{}, err
	}
	return GeneratedLink{
		LinkID:    id,
		URL:       fmt.Sprintf("%s/location/%d", s.serverURL, id),
		ExpiresAt: expiresAt,
	}, nil
}

var pageTemplate = template.Must(template.New("location").Parse(`<!DOCTYPE html>
<html lang="de">
<head><meta charset="utf-8"><title>Standort teilen</title></head>
<body>
<p id="status">Standort wird ermittelt…</p>
<script>
function post(coords) {
  fetch("/receive-location/{{.LinkID}}", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({latitude: coords.latitude, longitude: coords.longitude})
  }).then(function(resp) {
    document.getElementById("status").textContent = resp.ok
      ? "Danke, Ihr Standort wurde übermittelt."
      : "Der Link ist nicht mehr gültig.";
  });
}
if (navigator.geolocation) {
  navigator.geolocation.getCurrentPosition(
    function(pos) { post(pos.coords); },
    function() { document.getElementById("status").textContent = "Standortzugriff wurde verweigert."; }
  );
} else {
  document.getElementById("status").textContent = "Geolocation wird nicht unterstützt.";
}
</script>
</body>
</html>`))

// ServeLinkPage handles GET /location/{link_id}: a minimal HTML page that
// posts the browser's geolocation coordinates back to receive-location.
func (s *Service) ServeLinkPage(w http.ResponseWriter, r *http.Request, linkIDParam string) {
	linkID, err := strconv.ParseInt(linkIDParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid link id", http.StatusBadRequest)
		return
	}
	link, err := s.store.GetLink(r.Context(), linkID)
	if errors.Is(err, callstate.ErrNotFound) {
		http.Error(w, "link not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if link.Used {
		http.Error(w, "link already used", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, link); err != nil {
		s.logger.Warn("locationshare: template render failed", "error", err)
	}
}

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c coordinates) valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180 &&
		!(c.Latitude == 0 && c.Longitude == 0)
}

// ReceiveLocation handles POST /receive-location/{link_id}: validates the
// coordinates, consumes the link (rejecting a second POST with 410, per
// spec.md §3's terminal-used invariant), stores the shared location, and
// triggers the pricing/transfer callback.
func (s *Service) ReceiveLocation(w http.ResponseWriter, r *http.Request, linkIDParam string) {
	linkID, err := strconv.ParseInt(linkIDParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid link id", http.StatusBadRequest)
		return
	}

	var coords coordinates
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<12)).Decode(&coords); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !coords.valid() {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	link, err := s.store.ConsumeLink(r.Context(), linkID, time.Now())
	if errors.Is(err, callstate.ErrLinkAlreadyUsed) {
		http.Error(w, "link already used", http.StatusGone)
		return
	}
	if errors.Is(err, callstate.ErrNotFound) {
		http.Error(w, "link not found or expired", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	loc := callstate.Location{Latitude: coords.Latitude, Longitude: coords.Longitude}
	if err := s.store.SaveSharedLocation(r.Context(), link.PhoneNumber, loc); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.onReceived != nil {
		if err := s.onReceived(r.Context(), link.PhoneNumber, loc); err != nil {
			s.logger.Warn("locationshare: pricing/transfer callback failed", "phone", link.PhoneNumber, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}
