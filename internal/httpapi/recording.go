package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// serveRecordingInitial handles GET /recordings/{number}/{timestamp}
// (spec.md §4.6).
func (h *handlers) serveRecordingInitial(w http.ResponseWriter, r *http.Request) {
	h.cfg.RecordingServer.ServeInitial(w, r, chi.URLParam(r, "number"), chi.URLParam(r, "timestamp"))
}

// serveRecordingFollowup handles GET /recordings/link/{number}/{timestamp}.
func (h *handlers) serveRecordingFollowup(w http.ResponseWriter, r *http.Request) {
	h.cfg.RecordingServer.ServeFollowup(w, r, chi.URLParam(r, "number"), chi.URLParam(r, "timestamp"))
}

// locationPage handles GET /location/{link_id} (spec.md §4.7).
func (h *handlers) locationPage(w http.ResponseWriter, r *http.Request) {
	h.cfg.LocationShare.ServeLinkPage(w, r, chi.URLParam(r, "linkID"))
}

// receiveLocation handles POST /receive-location/{link_id}.
func (h *handlers) receiveLocation(w http.ResponseWriter, r *http.Request) {
	h.cfg.LocationShare.ReceiveLocation(w, r, chi.URLParam(r, "linkID"))
}
