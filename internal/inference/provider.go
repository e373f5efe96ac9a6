package inference

import (
	"context"
	"errors"
)

// Provider is the external text-generation collaborator. The service
// never looks inside it: prompts go in, completion text comes out.
type Provider interface {
	// Generate produces completion text for the prompt. A non-empty
	// model identifier switches the provider to that model first.
	Generate(ctx context.Context, prompt, model string) (string, error)

	// AvailableModels maps short names to full model identifiers.
	AvailableModels() map[string]string

	// CurrentModel returns the identifier of the loaded model.
	CurrentModel() string

	// Resolve validates a model selector against the catalog, by short
	// name or by full identifier, and returns the full identifier.
	Resolve(name string) (string, error)

	// Load switches the provider to the given full model identifier.
	Load(ctx context.Context, model string) error
}

var (
	// ErrUnknownModel rejects a selector that matches neither a short
	// name nor a full identifier in the catalog. Surfaced as a client
	// error before any load is attempted.
	ErrUnknownModel = errors.New("unknown model")
)
