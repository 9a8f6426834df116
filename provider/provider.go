package provider

import (
	"context"
	"errors"

	"github.com/arcadian-io/docchat/config"
	openai_provider "github.com/arcadian-io/docchat/provider/openai"
)

// Usage is the token spend reported by one model call.
type Usage = openai_provider.Usage

// ChatRequest, ChatResult and FunctionDef are re-exported so callers don't
// import the vendor package directly.
type (
	ChatRequest  = openai_provider.ChatRequest
	ChatResult   = openai_provider.ChatResult
	ChatMessage  = openai_provider.ChatMessage
	FunctionDef  = openai_provider.FunctionDef
	FunctionCall = openai_provider.FunctionCall
)

// Provider is the surface the answering pipeline needs from a model vendor:
// chat completion with optional function schemas, and text embeddings.
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (ChatResult, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates the configured LLM client.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm.api_key not set")
	}
	return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.CompletionModel, cfg.EmbeddingModel, cfg.Timeout), nil
}
