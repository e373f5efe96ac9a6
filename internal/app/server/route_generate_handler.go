package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"aviary/internal/auth"
	"aviary/internal/inference"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// generateText is the only endpoint behind the API-key check. Traffic
// whose Origin or Referer matches a trusted fragment is frontend
// traffic and needs no key; everything else must present a valid
// X-API-Key. The IP check already ran in the middleware, so forbidden
// always wins over unauthorized.
func (s *Server) generateText(w http.ResponseWriter, r *http.Request) {
	if !s.gate.IsFrontendRequest(r.Header.Get("Origin"), r.Header.Get("Referer")) {
		if !s.gate.VerifyAPIKey(r.Header.Get("X-API-Key")) {
			log.Debug("rejected generate request without valid key", "ip", auth.ClientIP(r))
			writeError(w, "Invalid API key required for direct API access", http.StatusUnauthorized)
			return
		}
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, "Prompt is required", http.StatusBadRequest)
		return
	}

	var model string
	if req.Model != "" {
		resolved, err := s.provider.Resolve(req.Model)
		if err != nil {
			if errors.Is(err, inference.ErrUnknownModel) {
				writeError(w, fmt.Sprintf("unknown model: %s", req.Model), http.StatusBadRequest)
				return
			}
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		model = resolved
	}

	text, err := s.dispatcher.Generate(r.Context(), req.Prompt, model)
	if err != nil {
		log.Error("generation failed", "error", err)
		writeError(w, fmt.Sprintf("generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}
