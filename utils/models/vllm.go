package models

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/config"
	openai "github.com/sashabaranov/go-openai"
)

// VLLMProvider handles models served by vLLM or any other OpenAI-compatible
// local server
type VLLMProvider struct {
	client *openai.Client
	cfg    ModelConfig
}

// NewVLLMProvider creates a provider for the server at endpoint
func NewVLLMProvider(endpoint string, httpClient *http.Client, cfg ModelConfig) *VLLMProvider {
	oc := openai.DefaultConfig("")
	oc.BaseURL = strings.TrimRight(endpoint, "/") + "/v1"
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return &VLLMProvider{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// Name returns the provider name
func (v *VLLMProvider) Name() string {
	return config.ProviderVLLM
}

// SendPrompt sends the prompt as a single user message
func (v *VLLMProvider) SendPrompt(ctx context.Context, modelName string, prompt string) (string, error) {
	config.DebugLog("[vLLM] Sending prompt to %s (%d characters)", modelName, len(prompt))

	// A zero temperature is dropped from the request by omitempty
	temperature := float32(v.cfg.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error calling vLLM API: %w (is the vLLM server running?)", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned from vLLM")
	}

	text := resp.Choices[0].Message.Content
	config.DebugLog("[vLLM] Response length: %d characters", len(text))
	return text, nil
}

// CheckModel asks the server which models it serves
func (v *VLLMProvider) CheckModel(ctx context.Context, modelName string) error {
	list, err := v.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("vLLM server not reachable: %w", err)
	}
	for _, m := range list.Models {
		if strings.EqualFold(m.ID, modelName) {
			return nil
		}
	}
	return fmt.Errorf("model %s is not served by the vLLM server", modelName)
}
