package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beamline-core/internal/processing"
)

// maxResultWait caps the ?timeout= a client may ask for.
const maxResultWait = 10 * time.Minute

// ResultsResponse is returned by the results endpoints.
type ResultsResponse struct {
	State        processing.CollectorState `json:"state"`
	CollectionID int64                     `json:"ispyb_dcid,omitempty"`
	Results      []processing.Result       `json:"results"`
	First        *processing.Result        `json:"first,omitempty"`
	ReceivedAt   time.Time                 `json:"received_at,omitzero"`
}

// handleNotify sends a start or end notification for a collection.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	dcid, err := strconv.ParseInt(chi.URLParam(r, "dcid"), 10, 64)
	if err != nil || dcid <= 0 {
		writeBadRequest(w, "dcid must be a positive integer")
		return
	}
	event, err := processing.ParseEvent(chi.URLParam(r, "event"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.trigger.Notify(r.Context(), event, dcid); err != nil {
		switch {
		case errors.Is(err, processing.ErrConfiguration):
			writeError(w, http.StatusInternalServerError, ErrCodeConfiguration, err.Error())
		default:
			writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event":       event,
		"ispyb_dcid":  dcid,
		"environment": s.trigger.Environment(),
	})
}

// handleTriggerResults arms the collector for the next result set.
func (s *Server) handleTriggerResults(w http.ResponseWriter, _ *http.Request) {
	s.collector.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"state": s.collector.State()})
}

// handleReadResults waits for a result set. ?timeout= overrides the
// collector's configured timeout.
func (s *Server) handleReadResults(w http.ResponseWriter, r *http.Request) {
	timeout := s.collector.Timeout()
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxResultWait {
			writeBadRequest(w, "timeout must be a positive duration no longer than "+maxResultWait.String())
			return
		}
		timeout = d
	}

	if _, err := s.collector.Await(r.Context(), timeout); err != nil {
		switch {
		case errors.Is(err, processing.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
		case errors.Is(err, processing.ErrNotTriggered):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		default:
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, s.resultsResponse())
}

// handleLatestResults returns the current value without waiting.
func (s *Server) handleLatestResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.resultsResponse())
}

func (s *Server) resultsResponse() ResultsResponse {
	set := s.collector.Value()
	resp := ResultsResponse{
		State:        s.collector.State(),
		CollectionID: set.CollectionID,
		Results:      set.Results,
		ReceivedAt:   set.ReceivedAt,
	}
	if resp.Results == nil {
		resp.Results = []processing.Result{}
	}
	if first, ok := set.First(); ok {
		resp.First = &first
	}
	return resp
}
