package models

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/config"
)

// ModelConfig represents configuration options for model calls
type ModelConfig struct {
	Temperature float64
}

// Provider represents a locally hosted model server (Ollama, vLLM)
type Provider interface {
	Name() string
	SendPrompt(ctx context.Context, modelName string, prompt string) (string, error)
	// CheckModel reports an error when the server is unreachable or does not
	// serve modelName.
	CheckModel(ctx context.Context, modelName string) error
}

// NewProvider builds the provider named in cfg. The "none" provider yields a
// nil Provider: every job then goes straight to the fallback rules.
func NewProvider(cfg config.ProposerConfig, httpClient *http.Client) (Provider, error) {
	mc := ModelConfig{Temperature: cfg.Temperature}
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderOllama:
		return NewOllamaProvider(cfg.Endpoint, httpClient, mc)
	case config.ProviderVLLM:
		return NewVLLMProvider(cfg.Endpoint, httpClient, mc), nil
	case config.ProviderNone, "":
		config.DebugLog("[Provider] No model provider configured, plans come from the fallback rules")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// matchModel reports whether an installed model name satisfies the requested
// one. "llama3" matches "llama3:latest" and "llama3.1:8b"; tags must match
// exactly when given.
func matchModel(installed, requested string) bool {
	installed = strings.ToLower(installed)
	requested = strings.ToLower(strings.TrimSpace(requested))
	if installed == requested {
		return true
	}
	if base, _, ok := strings.Cut(installed, ":"); ok && base == requested {
		return true
	}
	if strings.HasPrefix(installed, requested) {
		next := installed[len(requested):]
		return strings.HasPrefix(next, ":") || strings.HasPrefix(next, ".")
	}
	return false
}
