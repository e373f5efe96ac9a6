package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"

	"aviary/internal/auth"
	"aviary/internal/config"
	"aviary/internal/inference"
)

// Server wires the admission gate and the generation dispatcher into
// the HTTP surface. The provider handle is constructed once at startup
// and shared by every handler.
type Server struct {
	settings   config.Settings
	gate       *auth.Gate
	provider   inference.Provider
	dispatcher *inference.Dispatcher
}

func New(settings config.Settings, gate *auth.Gate, provider inference.Provider, dispatcher *inference.Dispatcher) *Server {
	return &Server{
		settings:   settings,
		gate:       gate,
		provider:   provider,
		dispatcher: dispatcher,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// enableCORS answers preflights and marks responses for the allowed
// origins only: the local dev frontends in dev mode plus the
// configured public origin.
func (s *Server) enableCORS(next http.Handler) http.Handler {
	allowed := s.settings.AllowedOrigins()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, candidate := range allowed {
			if origin == candidate {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				break
			}
		}

		// Handle preflight request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler assembles the full middleware chain. The IP allowlist check
// wraps everything: a non-whitelisted address never reaches routing.
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("GET /api/health", s.getHealth)
	router.HandleFunc("GET /api/models", s.getModels)
	router.HandleFunc("POST /api/models/{name}", s.switchModel)
	router.HandleFunc("POST /api/generate", s.generateText)

	return auth.RequireWhitelistedIP(s.gate, s.enableCORS(router))
}

// Open starts serving. The listener is capped so a flood of concurrent
// generation requests cannot exhaust the process.
func (s *Server) Open() error {
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if s.settings.MaxConns > 0 {
		listener = netutil.LimitListener(listener, s.settings.MaxConns)
	}

	log.Infof("Starting server on %s", addr)

	server := http.Server{Handler: s.Handler()}
	return server.Serve(listener)
}

func trimmedPathValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.PathValue(key))
}
