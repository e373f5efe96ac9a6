package auth

import (
	"net"
	"net/http"

	"github.com/charmbracelet/log"
)

// RequireWhitelistedIP wraps the whole router: a request from a
// non-allowlisted address is rejected before any routing happens.
// Forbidden always takes priority over unauthorized.
func RequireWhitelistedIP(gate *Gate, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if !gate.IsWhitelisted(ip) {
			log.Debug("rejected request from non-whitelisted IP", "ip", ip)
			http.Error(w, "IP not whitelisted", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the bare address from the request's RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
