package web

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/caseimport/internal/core"
	"github.com/JonMunkholm/caseimport/internal/core/entities"
)

// EntityResponse is one entity in the catalogue listing.
type EntityResponse struct {
	core.EntityDefinition
	Position    int    `json:"position"` // Index in the import order
	TemplateURL string `json:"templateUrl"`
}

// handleListEntities lists the importable entity types in import order.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := s.service.Registry().SortedEntities()
	out := make([]EntityResponse, len(defs))
	for i, def := range defs {
		out[i] = EntityResponse{
			EntityDefinition: def,
			Position:         i,
			TemplateURL:      "/api/entities/" + def.EntityType + "/template",
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

// handleDownloadTemplate serves a CSV with the header row and one example
// row for an entity type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	def, ok := s.service.Registry().Get(entityType)
	if !ok {
		s.respondError(w, r, fmt.Errorf("unknown entity type %q", entityType), http.StatusNotFound)
		return
	}

	header, example := entities.Template(def)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", def.EntityType+"_template.csv"))

	cw := csv.NewWriter(w)
	_ = cw.Write(header)
	_ = cw.Write(example)
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// handleLimiterStatus reports run slot usage.
func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}
