package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	// defaultModel is what the runner serves at boot. It is not part
	// of the switchable catalog: selectors validate against
	// availableModels only, by short name or full identifier.
	defaultModel  = "google/gemma-3-270m"
	fallbackModel = "Qwen/Qwen2-0.5B-Instruct"

	// emptyCompletionReply is returned when the runner produces no
	// text at all, so clients always receive something readable.
	emptyCompletionReply = "I'm sorry, I couldn't generate a response."
)

// catalog of models the runner is allowed to serve, short name to
// full identifier.
var availableModels = map[string]string{
	"gemma": "google/gemma-2-2b-it",
	"qwen":  "Qwen/Qwen2-0.5B-Instruct",
}

// RunnerConfig holds connection options for the generation runner.
type RunnerConfig struct {
	BaseURL      string
	Credential   string
	CacheDir     string
	MaxNewTokens int
	Temperature  float64
}

// Runner talks to an HTTP text-generation runner. It is the only
// Provider implementation; the current-model field is the sole piece
// of shared mutable state in the process and is guarded by mu.
type Runner struct {
	cfg        RunnerConfig
	httpClient *http.Client

	mu      sync.Mutex
	current string

	loads singleflight.Group
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8090"
	}
	if cfg.MaxNewTokens == 0 {
		cfg.MaxNewTokens = 512
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	return &Runner{
		cfg:     cfg,
		current: defaultModel,
		httpClient: &http.Client{
			// Generation itself can run for minutes; the ceiling is
			// enforced by the dispatcher, not the transport.
			Timeout: 0,
		},
	}
}

func (r *Runner) AvailableModels() map[string]string {
	models := make(map[string]string, len(availableModels))
	for short, full := range availableModels {
		models[short] = full
	}
	return models
}

func (r *Runner) CurrentModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Runner) Resolve(name string) (string, error) {
	if full, ok := availableModels[name]; ok {
		return full, nil
	}
	for _, full := range availableModels {
		if full == name {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

type loadRequest struct {
	Model    string `json:"model"`
	CacheDir string `json:"cache_dir,omitempty"`
}

type loadResponse struct {
	Error string `json:"error,omitempty"`
}

// Load switches the runner to the given model. Concurrent loads of
// the same identifier are collapsed into one runner call. A failed
// load of a gemma-family model falls back once to the qwen fallback
// model instead of failing the request.
func (r *Runner) Load(ctx context.Context, model string) error {
	_, err, _ := r.loads.Do(model, func() (interface{}, error) {
		// The flight serves every concurrent caller of this model, so
		// it must outlive the request that happened to start it: a
		// disconnecting initiator must not fail the other callers.
		loadCtx := context.WithoutCancel(ctx)

		if err := r.loadOnce(loadCtx, model); err != nil {
			if strings.Contains(strings.ToLower(model), "gemma") {
				log.Warn("model load failed, falling back", "model", model, "fallback", fallbackModel, "error", err)
				if fbErr := r.loadOnce(loadCtx, fallbackModel); fbErr == nil {
					return nil, nil
				}
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (r *Runner) loadOnce(ctx context.Context, model string) error {
	body := loadRequest{Model: model, CacheDir: r.cfg.CacheDir}

	var reply loadResponse
	if err := r.post(ctx, "/api/load", body, &reply); err != nil {
		return fmt.Errorf("load model %s: %w", model, err)
	}
	if reply.Error != "" {
		return fmt.Errorf("load model %s: %s", model, reply.Error)
	}

	r.mu.Lock()
	r.current = model
	r.mu.Unlock()

	log.Info("model loaded", "model", model)
	return nil
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_new_tokens"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (r *Runner) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model != "" && model != r.CurrentModel() {
		log.Info("switching model for request", "model", model)
		if err := r.Load(ctx, model); err != nil {
			return "", err
		}
	}

	current := r.CurrentModel()
	body := generateRequest{
		Model:       current,
		Prompt:      formatPrompt(current, prompt),
		MaxTokens:   r.cfg.MaxNewTokens,
		Temperature: r.cfg.Temperature,
		Stream:      false,
	}

	start := time.Now()
	var reply generateResponse
	if err := r.post(ctx, "/api/generate", body, &reply); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("generate: %s", reply.Error)
	}

	log.Debug("generation finished", "model", current, "duration", time.Since(start))

	text := strings.TrimSpace(reply.Response)
	if text == "" {
		return emptyCompletionReply, nil
	}
	return text, nil
}

func (r *Runner) post(ctx context.Context, path string, payload, reply interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Credential)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// formatPrompt wraps the raw prompt in the chat markup the model
// family expects.
func formatPrompt(model, prompt string) string {
	if strings.Contains(strings.ToLower(model), "gemma") {
		return "<start_of_turn>user\n" + prompt + "<end_of_turn>\n<start_of_turn>model\n"
	}
	return "<|im_start|>system\nYou are a helpful AI assistant.<|im_end|>\n" +
		"<|im_start|>user\n" + prompt + "<|im_end|>\n<|im_start|>assistant\n"
}
