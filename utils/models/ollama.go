package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/config"
	ollama "github.com/ollama/ollama/api"
)

// OllamaProvider talks to a local Ollama server
type OllamaProvider struct {
	client *ollama.Client
	cfg    ModelConfig
}

// NewOllamaProvider creates a provider for the Ollama server at endpoint
func NewOllamaProvider(endpoint string, httpClient *http.Client, cfg ModelConfig) (*OllamaProvider, error) {
	base, err := url.Parse(endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid Ollama endpoint %q", endpoint)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaProvider{client: ollama.NewClient(base, httpClient), cfg: cfg}, nil
}

// Name returns the provider name
func (o *OllamaProvider) Name() string {
	return config.ProviderOllama
}

// SendPrompt asks for a single, non-streamed JSON completion
func (o *OllamaProvider) SendPrompt(ctx context.Context, modelName string, prompt string) (string, error) {
	config.DebugLog("[Ollama] Sending prompt to %s (%d characters)", modelName, len(prompt))

	stream := false
	req := &ollama.GenerateRequest{
		Model:  modelName,
		Prompt: prompt,
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]interface{}{
			"temperature": o.cfg.Temperature,
		},
	}

	var out strings.Builder
	err := o.client.Generate(ctx, req, func(resp ollama.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("error calling Ollama API: %w (is Ollama running?)", err)
	}

	config.DebugLog("[Ollama] Response length: %d characters", out.Len())
	return out.String(), nil
}

// CheckModel looks the model up in the server's installed models
func (o *OllamaProvider) CheckModel(ctx context.Context, modelName string) error {
	resp, err := o.client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama: %w", err)
	}
	for _, m := range resp.Models {
		if matchModel(m.Name, modelName) {
			config.DebugLog("[Ollama] Found local model %s for %s", m.Name, modelName)
			return nil
		}
	}
	return fmt.Errorf("model %s not found in Ollama (try `ollama pull %s`)", modelName, modelName)
}
