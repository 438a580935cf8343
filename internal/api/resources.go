package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/registry"
)

// CreateResourceRequest is the body of POST /resources.
type CreateResourceRequest struct {
	Name              string         `json:"name"`
	Address           string         `json:"address"`
	Simulated         bool           `json:"simulated"`
	WaitForConnection bool           `json:"wait_for_connection"`
	ConnectTimeout    string         `json:"connect_timeout,omitempty"` // Go duration, e.g. "5s"
	Settings          map[string]any `json:"settings,omitempty"`
}

func (s *Server) handleListResources(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.List()
	summaries := make([]registry.Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, rec.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":    s.registry.Prefix(),
		"resources": summaries,
		"count":     len(summaries),
	})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := s.registry.State(name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeNotFound(w, "resource not found: "+name)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.Summary())
}

// handleCreateResource gets or creates a resource. Settings are applied as a
// post-create hook, so repeating the request with new settings reconfigures
// the existing handle.
func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	opts := registry.Options{
		Factory:           s.factory,
		Address:           req.Address,
		WaitForConnection: req.WaitForConnection,
		Simulated:         req.Simulated || s.factory == nil,
	}
	if req.ConnectTimeout != "" {
		d, err := time.ParseDuration(req.ConnectTimeout)
		if err != nil || d <= 0 {
			writeBadRequest(w, "connect_timeout must be a positive duration")
			return
		}
		opts.ConnectTimeout = d
	}
	if req.Settings != nil {
		opts.PostCreate = control.Configure(req.Settings)
	}

	if _, err := s.registry.GetOrCreate(r.Context(), req.Name, opts); err != nil {
		s.writeRegistryError(w, err)
		return
	}

	rec, err := s.registry.State(req.Name)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.Summary())
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrConnection):
		writeError(w, http.StatusGatewayTimeout, ErrCodeConnection, err.Error())
	case errors.Is(err, control.ErrNotConfigurable),
		errors.Is(err, control.ErrInvalidAddress),
		errors.Is(err, registry.ErrNoFactory):
		writeBadRequest(w, err.Error())
	case errors.Is(err, registry.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Error("resource creation failed", "error", err)
		writeInternalError(w, err.Error())
	}
}
