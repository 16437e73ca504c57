package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/sashabaranov/go-openai"
)

// groqBaseURL is Groq's OpenAI-compatible endpoint.
const groqBaseURL = "https://api.groq.com/openai/v1"

// defaultGroqModel is the default generation model.
const defaultGroqModel = "llama-3.1-8b-instant"

type GroqClient struct {
	client *openai.Client
	model  string
}

// NewGroqClient builds a client against Groq's OpenAI-compatible API. The
// key comes from GROQ_API_KEY or the container secret, held in guarded
// memory until the SDK needs it.
func NewGroqClient() (*GroqClient, error) {
	key, err := LoadSecureKey("GROQ_API_KEY", "/run/secrets/groq_api_key")
	if err != nil {
		return nil, fmt.Errorf("GROQ_API_KEY environment variable not set: %w", err)
	}
	defer key.Destroy()

	apiKey, err := key.Reveal()
	if err != nil {
		return nil, fmt.Errorf("failed to read Groq API key: %w", err)
	}

	model := os.Getenv("GROQ_MODEL")
	if model == "" {
		model = defaultGroqModel
		slog.Warn("GROQ_MODEL not set, defaulting", "model", model)
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = groqBaseURL

	slog.Info("Initializing Groq client", "model", model, "base_url", groqBaseURL)
	return &GroqClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate implements the LLMClient interface
func (g *GroqClient) Generate(ctx context.Context, system, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via Groq", "model", g.model)
	if system == "" {
		system = "You are a helpful assistant."
	}
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
		if req.Temperature == 0 {
			// omitempty drops an explicit zero; the smallest positive
			// value survives serialization without changing sampling.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Groq API call failed", "error", err)
		return "", fmt.Errorf("Groq API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Groq returned no choices")
		return "", fmt.Errorf("Groq returned no choices")
	}
	slog.Debug("Received response from Groq", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
