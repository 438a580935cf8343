package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/beamline-core/internal/journal"
)

// handleListJournal lists journal entries, newest first.
//
// Query parameters: kind, ispyb_dcid, outcome, limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal not configured")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Kind:    journal.Kind(q.Get("kind")),
		Outcome: q.Get("outcome"),
	}

	for _, p := range []struct {
		key string
		dst *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeBadRequest(w, p.key+" must be a non-negative integer")
				return
			}
			*p.dst = n
		}
	}
	if v := q.Get("ispyb_dcid"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "ispyb_dcid must be an integer")
			return
		}
		filter.CollectionID = id
	}

	switch filter.Kind {
	case "", journal.KindNotification, journal.KindResultSet:
	default:
		writeBadRequest(w, "unknown kind: "+string(filter.Kind))
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeInternalError(w, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
