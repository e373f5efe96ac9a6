package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"

	"aviary/internal/inference"
)

func (s *Server) getModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available_models": s.provider.AvailableModels(),
		"current_model":    s.provider.CurrentModel(),
	})
}

// switchModel validates the selector against the catalog before any
// load is attempted; an unknown name never reaches the provider.
func (s *Server) switchModel(w http.ResponseWriter, r *http.Request) {
	name := trimmedPathValue(r, "name")

	model, err := s.provider.Resolve(name)
	if err != nil {
		if errors.Is(err, inference.ErrUnknownModel) {
			writeError(w, fmt.Sprintf("unknown model: %s", name), http.StatusBadRequest)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.provider.Load(r.Context(), model); err != nil {
		log.Error("model switch failed", "model", model, "error", err)
		writeError(w, fmt.Sprintf("failed to load model %s: %v", model, err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("switched to model %s", model),
	})
}
