package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"aviary/internal/support"
)

// Settings holds every runtime option of the service. All values are
// env-sourced with defaults; a .env file is loaded by the app before
// settings are read.
type Settings struct {
	DevMode bool

	APIKeysFile   string
	WhitelistFile string

	ModelCacheDir string
	MaxNewTokens  int
	Temperature   float64

	HuggingFaceAPIKey string
	RunnerURL         string

	GenerationTimeout time.Duration

	// TrustedOrigins are host fragments; a request whose Origin or
	// Referer header contains any of them is exempt from API-key
	// enforcement. Substring matching is intentional (subdomain
	// convenience) and covered by tests.
	TrustedOrigins []string

	// PublicOrigin is always present in the CORS allowlist, even
	// outside dev mode.
	PublicOrigin string

	Host     string
	Port     int
	MaxConns int
}

const (
	defaultAPIKeysFile   = "config/api_keys.txt"
	defaultWhitelistFile = "config/whitelist.txt"
	defaultModelCacheDir = "models"
	defaultRunnerURL     = "http://127.0.0.1:8090"
	defaultMaxNewTokens  = 512
	defaultTemperature   = 0.7
	defaultTimeoutSecs   = 600
	defaultHost          = "0.0.0.0"
	defaultMaxConns      = 256
)

func Load() Settings {
	return Settings{
		DevMode: support.GetEnvBool("DEV_MODE", true),

		APIKeysFile:   support.GetEnv("API_KEYS_FILE", defaultAPIKeysFile),
		WhitelistFile: support.GetEnv("WHITELIST_FILE", defaultWhitelistFile),

		ModelCacheDir: support.GetEnv("MODEL_CACHE_DIR", defaultModelCacheDir),
		MaxNewTokens:  support.GetEnvInt("MAX_NEW_TOKENS", defaultMaxNewTokens),
		Temperature:   support.GetEnvFloat("TEMPERATURE", defaultTemperature),

		HuggingFaceAPIKey: support.GetEnv("HUGGINGFACE_API_KEY", ""),
		RunnerURL:         support.GetEnv("RUNNER_URL", defaultRunnerURL),

		GenerationTimeout: time.Duration(support.GetEnvInt("GENERATION_TIMEOUT_SECONDS", defaultTimeoutSecs)) * time.Second,

		TrustedOrigins: support.SplitList(support.GetEnv("TRUSTED_ORIGINS", "localhost,127.0.0.1")),
		PublicOrigin:   support.GetEnv("PUBLIC_ORIGIN", ""),

		Host:     support.GetEnv("HOST", defaultHost),
		Port:     support.GetEnvInt("PORT", 0),
		MaxConns: support.GetEnvInt("MAX_CONNS", defaultMaxConns),
	}
}

// EnsureDirs creates the parent directories of the allowlist files and
// the model cache dir. The allowlist files themselves are operator
// owned and never created or written here: a missing file means
// "allow nothing".
func (s Settings) EnsureDirs() {
	for _, dir := range []string{
		filepath.Dir(s.APIKeysFile),
		filepath.Dir(s.WhitelistFile),
		s.ModelCacheDir,
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Warn("could not create directory", "dir", dir, "error", err)
		}
	}
}

// AllowedOrigins returns the CORS allowlist: the local dev frontends
// in dev mode, plus the public origin when configured.
func (s Settings) AllowedOrigins() []string {
	var origins []string
	if s.DevMode {
		origins = append(origins, "http://localhost:5173", "http://localhost:5174")
	}
	if s.PublicOrigin != "" {
		origins = append(origins, s.PublicOrigin)
	}
	return origins
}
