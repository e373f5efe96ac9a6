package app

import (
	"flag"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"aviary/internal/app/server"
	"aviary/internal/auth"
	"aviary/internal/config"
	"aviary/internal/inference"
)

const defaultPort = 8000

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultPort, "Port to listen on")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	settings := applyOverrides(config.Load(), *productionFlag, *portFlag)

	if settings.DevMode {
		log.SetLevel(log.DebugLevel)
	}

	settings.EnsureDirs()

	gate := auth.NewGate(settings.DevMode, settings.APIKeysFile, settings.WhitelistFile, settings.TrustedOrigins)

	provider := inference.NewRunner(inference.RunnerConfig{
		BaseURL:      settings.RunnerURL,
		Credential:   settings.HuggingFaceAPIKey,
		CacheDir:     settings.ModelCacheDir,
		MaxNewTokens: settings.MaxNewTokens,
		Temperature:  settings.Temperature,
	})
	dispatcher := inference.NewDispatcher(provider, settings.GenerationTimeout)

	log.Info("Starting Program",
		"dev_mode", settings.DevMode,
		"runner", settings.RunnerURL,
		"model", provider.CurrentModel(),
	)

	srv := server.New(settings, gate, provider, dispatcher)
	return srv.Open()
}

// applyOverrides layers the command-line flags over the env-sourced
// settings: -production forces dev mode off, the port flag is the
// fallback when PORT is unset.
func applyOverrides(settings config.Settings, production bool, flagPort int) config.Settings {
	if production {
		settings.DevMode = false
	}
	if settings.Port == 0 {
		settings.Port = flagPort
	}
	return settings
}
