package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// AnswerTool produces a grounded answer from retrieved chunks. Generation
// always runs at temperature zero; the variation belongs to retrieval, not
// the wording.
type AnswerTool struct {
	provider  provider.Provider
	active    *config.ActiveLoader
	maxTokens int
	logger    *log.Logger
}

// NewAnswerTool builds the answering tool.
func NewAnswerTool(p provider.Provider, active *config.ActiveLoader, maxTokens int, logger *log.Logger) *AnswerTool {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANSWER] ", log.LstdFlags)
	}
	return &AnswerTool{provider: p, active: active, maxTokens: maxTokens, logger: logger}
}

// sourcesJSON renders the retrieved chunks in the shape the system prompt
// teaches: a JSON object keyed by citation marker.
func sourcesJSON(docs []models.SourceDocument) (string, error) {
	entries := make([]map[string]map[string]string, 0, len(docs))
	for i, d := range docs {
		entries = append(entries, map[string]map[string]string{
			fmt.Sprintf("[doc%d]", i+1): {"content": d.Content},
		})
	}
	raw, err := json.Marshal(map[string]interface{}{"retrieved_documents": entries})
	if err != nil {
		return "", fmt.Errorf("serialize sources: %w", err)
	}
	return string(raw), nil
}

// AnswerQuestion asks the model to answer question from docs, carrying prior
// turns for context.
func (t *AnswerTool) AnswerQuestion(ctx context.Context, question string, docs []models.SourceDocument, history models.ChatHistory) (models.Answer, error) {
	active, err := t.active.GetActiveConfigOrDefault(ctx)
	if err != nil {
		return models.Answer{}, err
	}

	var messages []provider.ChatMessage
	if active.Prompts.UseOnYourDataFormat {
		sources, err := sourcesJSON(docs)
		if err != nil {
			return models.Answer{}, err
		}
		messages, err = t.onYourDataMessages(active, sources, question, history)
		if err != nil {
			return models.Answer{}, err
		}
	} else {
		messages = t.plainMessages(active, docs, question, history)
	}

	result, err := t.provider.ChatCompletion(ctx, provider.ChatRequest{
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   t.maxTokens,
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("answer question: %w", err)
	}
	return models.Answer{
		Question:         question,
		Answer:           result.Content,
		SourceDocuments:  docs,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

// onYourDataMessages builds the structured prompt: system instructions, the
// few-shot exemplar when complete, prior turns, then the rendered user prompt.
// A partially filled exemplar is skipped, all or nothing.
func (t *AnswerTool) onYourDataMessages(active *config.ActiveConfig, sources, question string, history models.ChatHistory) ([]provider.ChatMessage, error) {
	messages := []provider.ChatMessage{
		{Role: models.RoleSystem, Content: active.Prompts.AnsweringSystemPrompt},
	}
	example := active.Example
	switch {
	case example.Complete():
		exampleUser, err := RenderPrompt(active.Prompts.AnsweringUserPrompt, map[string]string{
			"sources":  example.Documents,
			"question": example.UserQuestion,
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages,
			provider.ChatMessage{Role: models.RoleSystem, Name: "example_user", Content: exampleUser},
			provider.ChatMessage{Role: models.RoleSystem, Name: "example_assistant", Content: example.Answer},
		)
	case !example.Empty():
		t.logger.Printf("warn: few-shot example is partially configured, skipping it")
	}

	for _, turn := range history {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}

	userPrompt, err := RenderPrompt(active.Prompts.AnsweringUserPrompt, map[string]string{
		"sources":  sources,
		"question": question,
	})
	if err != nil {
		return nil, err
	}
	return append(messages, provider.ChatMessage{Role: models.RoleUser, Content: userPrompt}), nil
}

// plainMessages is the legacy format: system instructions, prior turns, then
// a single user message carrying "[docN]: content" lines and the question.
func (t *AnswerTool) plainMessages(active *config.ActiveConfig, docs []models.SourceDocument, question string, history models.ChatHistory) []provider.ChatMessage {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[doc%d]: %s\n\n", i+1, d.Content)
	}
	b.WriteString(question)

	messages := []provider.ChatMessage{
		{Role: models.RoleSystem, Content: active.Prompts.AnsweringSystemPrompt},
	}
	for _, turn := range history {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	return append(messages, provider.ChatMessage{Role: models.RoleUser, Content: b.String()})
}
