package inference

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// TimeoutReply is the fixed user-facing text returned when generation
// exceeds the ceiling. The timeout is masked as a normal success so
// clients need not special-case it.
const TimeoutReply = "I'm sorry, processing is taking longer than expected. Please try again in a moment."

// DefaultGenerationTimeout caps how long one generation may run.
const DefaultGenerationTimeout = 10 * time.Minute

// Dispatcher runs provider calls off the request-handling goroutine
// with a bounded wait. One worker goroutine is spawned per request and
// abandoned when the ceiling fires; the cancelled context stops the
// underlying runner call, and an abandoned worker writes only to its
// own buffered channel, never to shared state.
type Dispatcher struct {
	provider Provider
	timeout  time.Duration
}

func NewDispatcher(provider Provider, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Dispatcher{provider: provider, timeout: timeout}
}

type generationResult struct {
	text string
	err  error
}

// Generate invokes the provider with the configured ceiling. On
// timeout it returns TimeoutReply and no error; provider failures are
// propagated unchanged.
func (d *Dispatcher) Generate(ctx context.Context, prompt, model string) (string, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan generationResult, 1)
	go func() {
		text, err := d.provider.Generate(workCtx, prompt, model)
		results <- generationResult{text: text, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.text, res.err
	case <-timer.C:
		log.Warn("generation exceeded ceiling, returning fallback reply", "timeout", d.timeout)
		return TimeoutReply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
