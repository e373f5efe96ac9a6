package app

import (
	"testing"

	"aviary/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	t.Run("production flag forces dev mode off", func(t *testing.T) {
		got := applyOverrides(config.Settings{DevMode: true, Port: 9000}, true, 8000)
		if got.DevMode {
			t.Fatal("DevMode should be forced off in production")
		}
		if got.Port != 9000 {
			t.Fatalf("Port = %d, env value must win over the flag", got.Port)
		}
	})

	t.Run("flag port used when env unset", func(t *testing.T) {
		got := applyOverrides(config.Settings{DevMode: true}, false, 8000)
		if got.Port != 8000 {
			t.Fatalf("Port = %d, want flag fallback 8000", got.Port)
		}
		if !got.DevMode {
			t.Fatal("DevMode should stay on without the production flag")
		}
	})
}
