package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	runner := NewRunner(RunnerConfig{})

	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"short name", "qwen", "Qwen/Qwen2-0.5B-Instruct", false},
		{"short name gemma", "gemma", "google/gemma-2-2b-it", false},
		{"full identifier", "google/gemma-2-2b-it", "google/gemma-2-2b-it", false},
		{"boot default is not a catalog entry", "google/gemma-3-270m", "", true},
		{"unknown", "unknown-model", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := runner.Resolve(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrUnknownModel) {
					t.Fatalf("Resolve(%q) error = %v, want ErrUnknownModel", tc.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) returned error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestAvailableModelsIsACopy(t *testing.T) {
	runner := NewRunner(RunnerConfig{})

	models := runner.AvailableModels()
	models["hacked"] = "x"

	if _, ok := runner.AvailableModels()["hacked"]; ok {
		t.Fatal("AvailableModels must return a copy of the catalog")
	}
}

func TestLoadUpdatesCurrentModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/load" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode load request: %v", err)
		}
		json.NewEncoder(w).Encode(loadResponse{})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	if err := runner.Load(context.Background(), "Qwen/Qwen2-0.5B-Instruct"); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := runner.CurrentModel(); got != "Qwen/Qwen2-0.5B-Instruct" {
		t.Fatalf("CurrentModel = %q after load", got)
	}
}

func TestLoadDeduplicatesConcurrentCalls(t *testing.T) {
	var upstreamCalls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upstreamCalls.Add(1) == 1 {
			close(started)
		}
		<-release
		json.NewEncoder(w).Encode(loadResponse{})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	errs := make(chan error, 5)
	go func() { errs <- runner.Load(context.Background(), fallbackModel) }()
	<-started

	// The upstream call is in flight; every further caller for the
	// same identifier must join it instead of issuing its own.
	var joiners sync.WaitGroup
	for i := 0; i < 4; i++ {
		joiners.Add(1)
		go func() {
			defer joiners.Done()
			errs <- runner.Load(context.Background(), fallbackModel)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	joiners.Wait()

	for i := 0; i < 5; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Load returned error: %v", err)
		}
	}
	if got := upstreamCalls.Load(); got != 1 {
		t.Fatalf("upstream load calls = %d, want 1", got)
	}
	if got := runner.CurrentModel(); got != fallbackModel {
		t.Fatalf("CurrentModel = %q, want %q", got, fallbackModel)
	}
}

func TestLoadSurvivesInitiatorDisconnect(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedOnce.Do(func() { close(started) })
		<-release
		json.NewEncoder(w).Encode(loadResponse{})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	initiatorCtx, cancelInitiator := context.WithCancel(context.Background())
	initiatorErr := make(chan error, 1)
	go func() { initiatorErr <- runner.Load(initiatorCtx, fallbackModel) }()
	<-started

	joinerErr := make(chan error, 1)
	go func() { joinerErr <- runner.Load(context.Background(), fallbackModel) }()
	time.Sleep(20 * time.Millisecond)

	// The initiating caller disconnects mid-load. The shared flight
	// must still complete for the caller that joined it.
	cancelInitiator()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-joinerErr; err != nil {
		t.Fatalf("joined Load failed after initiator disconnect: %v", err)
	}
	if got := runner.CurrentModel(); got != fallbackModel {
		t.Fatalf("CurrentModel = %q, want %q", got, fallbackModel)
	}
	<-initiatorErr
}

func TestLoadGemmaFallsBackToQwen(t *testing.T) {
	var loadedModels []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		json.NewDecoder(r.Body).Decode(&req)
		loadedModels = append(loadedModels, req.Model)
		if strings.Contains(req.Model, "gemma") {
			json.NewEncoder(w).Encode(loadResponse{Error: "out of memory"})
			return
		}
		json.NewEncoder(w).Encode(loadResponse{})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	if err := runner.Load(context.Background(), "google/gemma-2-2b-it"); err != nil {
		t.Fatalf("Load should succeed via fallback, got: %v", err)
	}
	if len(loadedModels) != 2 || loadedModels[1] != fallbackModel {
		t.Fatalf("load sequence = %v, want gemma then the fallback model", loadedModels)
	}
	if got := runner.CurrentModel(); got != fallbackModel {
		t.Fatalf("CurrentModel = %q, want %q", got, fallbackModel)
	}
}

func TestLoadFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(loadResponse{Error: "weights corrupted"})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	err := runner.Load(context.Background(), "Qwen/Qwen2-0.5B-Instruct")
	if err == nil || !strings.Contains(err.Error(), "weights corrupted") {
		t.Fatalf("Load error = %v, want diagnostic with runner message", err)
	}
	if got := runner.CurrentModel(); got != defaultModel {
		t.Fatalf("CurrentModel = %q, must stay on %q after failed load", got, defaultModel)
	}
}

func TestGenerate(t *testing.T) {
	var gotBody generateRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(generateResponse{Response: "  42 is the answer  "})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{
		BaseURL:      server.URL,
		Credential:   "hf_secret",
		MaxNewTokens: 256,
		Temperature:  0.5,
	})

	got, err := runner.Generate(context.Background(), "meaning of life?", "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "42 is the answer" {
		t.Fatalf("Generate = %q", got)
	}
	if gotAuth != "Bearer hf_secret" {
		t.Fatalf("Authorization = %q, credential not forwarded", gotAuth)
	}
	if gotBody.MaxTokens != 256 || gotBody.Temperature != 0.5 {
		t.Fatalf("sampling options not forwarded: %+v", gotBody)
	}
	if !strings.Contains(gotBody.Prompt, "meaning of life?") {
		t.Fatalf("prompt missing from request body: %q", gotBody.Prompt)
	}
}

func TestGenerateEmptyCompletionFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "   "})
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	got, err := runner.Generate(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != emptyCompletionReply {
		t.Fatalf("Generate = %q, want the fixed empty-completion reply", got)
	}
}

func TestGenerateRunnerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "runner on fire", http.StatusInternalServerError)
	}))
	defer server.Close()

	runner := NewRunner(RunnerConfig{BaseURL: server.URL})

	_, err := runner.Generate(context.Background(), "hi", "")
	if err == nil || !strings.Contains(err.Error(), "runner on fire") {
		t.Fatalf("Generate error = %v, want runner diagnostic", err)
	}
}

func TestFormatPrompt(t *testing.T) {
	gemma := formatPrompt("google/gemma-2-2b-it", "hello")
	if !strings.HasPrefix(gemma, "<start_of_turn>user\nhello") {
		t.Fatalf("gemma prompt = %q", gemma)
	}

	qwen := formatPrompt("Qwen/Qwen2-0.5B-Instruct", "hello")
	if !strings.Contains(qwen, "<|im_start|>user\nhello<|im_end|>") {
		t.Fatalf("qwen prompt = %q", qwen)
	}
}
