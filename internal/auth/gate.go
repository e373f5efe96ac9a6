package auth

import "strings"

// Gate decides whether an inbound request is admitted. Every decision
// is a pure function of the request headers, the client address, the
// current allowlist file contents and the dev-mode flag; the gate
// itself holds no mutable state.
type Gate struct {
	DevMode       bool
	APIKeysFile   string
	WhitelistFile string

	// TrustedOrigins are matched as substrings of the Origin and
	// Referer headers. Intentionally permissive: any header value
	// containing a trusted fragment is treated as frontend traffic.
	TrustedOrigins []string
}

func NewGate(devMode bool, apiKeysFile, whitelistFile string, trustedOrigins []string) *Gate {
	return &Gate{
		DevMode:        devMode,
		APIKeysFile:    apiKeysFile,
		WhitelistFile:  whitelistFile,
		TrustedOrigins: trustedOrigins,
	}
}

// IsWhitelisted reports whether the client IP may reach the service at
// all. In dev mode loopback addresses are always admitted; otherwise
// the IP must appear in the whitelist file.
func (g *Gate) IsWhitelisted(ip string) bool {
	if g.DevMode && (ip == "127.0.0.1" || ip == "::1") {
		return true
	}

	whitelist := LoadList(g.WhitelistFile)
	_, ok := whitelist[ip]
	return ok
}

// IsFrontendRequest reports whether the request counts as same-origin
// frontend traffic, which is exempt from API-key enforcement. A
// request with neither header is never exempt.
func (g *Gate) IsFrontendRequest(origin, referer string) bool {
	for _, trusted := range g.TrustedOrigins {
		if origin != "" && strings.Contains(origin, trusted) {
			return true
		}
		if referer != "" && strings.Contains(referer, trusted) {
			return true
		}
	}
	return false
}

// VerifyAPIKey reports whether the presented key is a member of the
// key allowlist. An absent key is never valid.
func (g *Gate) VerifyAPIKey(key string) bool {
	if key == "" {
		return false
	}

	keys := LoadList(g.APIKeysFile)
	_, ok := keys[key]
	return ok
}
