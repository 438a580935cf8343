package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beamline-core/internal/catalogue"
	"github.com/nerrad567/beamline-core/internal/registry"
)

// CatalogueEntry is one row of GET /catalogue.
type CatalogueEntry struct {
	catalogue.Entry
	State registry.State `json:"state"`
}

// GetCataloguedRequest is the optional body of POST /catalogue/{name}.
type GetCataloguedRequest struct {
	Simulated         bool           `json:"simulated"`
	WaitForConnection *bool          `json:"wait_for_connection,omitempty"`
	Settings          map[string]any `json:"settings,omitempty"`
}

func (s *Server) handleListCatalogue(w http.ResponseWriter, _ *http.Request) {
	if s.catalogue == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "catalogue not configured")
		return
	}

	entries := s.catalogue.Entries()
	out := make([]CatalogueEntry, 0, len(entries))
	for _, e := range entries {
		row := CatalogueEntry{Entry: e, State: registry.StateUncreated}
		if rec, err := s.registry.State(e.Name); err == nil {
			row.State = rec.State
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": out,
		"count":     len(out),
	})
}

// handleGetCatalogued gets or creates a named resource. Settings replace
// the resource's current settings, as for POST /resources.
func (s *Server) handleGetCatalogued(w http.ResponseWriter, r *http.Request) {
	if s.catalogue == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "catalogue not configured")
		return
	}
	name := chi.URLParam(r, "name")

	var req GetCataloguedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var opts []catalogue.Option
	if req.Simulated {
		opts = append(opts, catalogue.Simulated())
	}
	if req.WaitForConnection != nil && !*req.WaitForConnection {
		opts = append(opts, catalogue.WithoutWait())
	}
	if req.Settings != nil {
		opts = append(opts, catalogue.WithSettings(req.Settings))
	}

	if _, err := s.catalogue.Get(r.Context(), name, opts...); err != nil {
		if errors.Is(err, catalogue.ErrUnknownResource) {
			writeNotFound(w, err.Error())
			return
		}
		s.writeRegistryError(w, err)
		return
	}

	rec, err := s.registry.State(name)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec.Summary())
}
