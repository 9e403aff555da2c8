package recording

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

var rangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// parseRange implements spec.md §4.6/§8's byte-range normalization: a'
// clamps into [0, N-1], b' clamps into [a', N-1]. A malformed or absent
// Range header is reported via ok=false so the caller serves the full body.
func parseRange(header string, total int) (start, end int, ok bool) {
	if header == "" || total == 0 {
		return 0, 0, false
	}
	m := rangePattern.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, false
	}
	startStr, endStr := m[1], m[2]

	switch {
	case startStr == "" && endStr != "":
		// Suffix range "bytes=-500": last 500 bytes.
		n, err := strconv.Atoi(endStr)
		if err != nil {
			return 0, 0, false
		}
		if n > total {
			n = total
		}
		return total - n, total - 1, true
	case startStr != "":
		s, err := strconv.Atoi(startStr)
		if err != nil {
			return 0, 0, false
		}
		if s < 0 {
			s = 0
		}
		if s > total-1 {
			s = total - 1
		}
		e := total - 1
		if endStr != "" {
			parsedEnd, err := strconv.Atoi(endStr)
			if err != nil {
				return 0, 0, false
			}
			e = parsedEnd
		}
		if e > total-1 {
			e = total - 1
		}
		if e < s {
			e = s
		}
		return s, e, true
	default:
		return 0, 0, false
	}
}

// lookup resolves the stored artifact for a serving request; Server's two
// handlers differ only in which Type they pass.
type lookup func(ctx context.Context, encodedPhone, startTimestamp string) (Artifact, error)

// Server serves recording artifacts over HTTP with byte-range support
// (spec.md §4.6).
type Server struct {
	store *Store
}

// NewServer builds a range-serving handler over store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

func (s *Server) lookupInitial(ctx context.Context, encodedPhone, startTimestamp string) (Artifact, error) {
	return s.store.Get(ctx, encodedPhone, startTimestamp, TypeInitial)
}

func (s *Server) lookupFollowup(ctx context.Context, encodedPhone, startTimestamp string) (Artifact, error) {
	return s.store.Get(ctx, encodedPhone, startTimestamp, TypeFollowup)
}

// ServeInitial handles GET /recordings/{number}/{timestamp}.
func (s *Server) ServeInitial(w http.ResponseWriter, r *http.Request, number, timestamp string) {
	s.serve(w, r, number, timestamp, s.lookupInitial)
}

// ServeFollowup handles GET /recordings/link/{number}/{timestamp}.
func (s *Server) ServeFollowup(w http.ResponseWriter, r *http.Request, number, timestamp string) {
	s.serve(w, r, number, timestamp, s.lookupFollowup)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, encodedPhone, timestamp string, find lookup) {
	artifact, err := find(r.Context(), encodedPhone, timestamp)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Content-Type", artifact.ContentType)

	total := len(artifact.Bytes)
	start, end, hasRange := parseRange(r.Header.Get("Range"), total)
	if !hasRange {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(total))
		w.WriteHeader(http.StatusOK)
		w.Write(artifact.Bytes)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(artifact.Bytes[start : end+1])
}
