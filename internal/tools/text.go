package tools

import (
	"context"
	"fmt"

	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// TextProcessor runs free-form text operations (summarise, translate,
// reformat) that need no retrieval.
type TextProcessor struct {
	provider provider.Provider
}

// NewTextProcessor builds the text processing tool.
func NewTextProcessor(p provider.Provider) *TextProcessor {
	return &TextProcessor{provider: p}
}

// Process applies operation to text and returns the result with its token
// spend.
func (t *TextProcessor) Process(ctx context.Context, text, operation string) (string, provider.Usage, error) {
	if operation == "" {
		return "", provider.Usage{}, fmt.Errorf("text operation is required")
	}
	result, err := t.provider.ChatCompletion(ctx, provider.ChatRequest{
		Messages: []provider.ChatMessage{
			{Role: models.RoleSystem, Content: "You are an AI assistant for the user."},
			{Role: models.RoleUser, Content: fmt.Sprintf("%s the following TEXT: %s", operation, text)},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", provider.Usage{}, fmt.Errorf("text processing: %w", err)
	}
	return result.Content, result.Usage, nil
}
