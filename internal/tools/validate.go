package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// Validator fact-checks a generated answer against its sources. Enabled by
// the post-answering prompt flag.
type Validator struct {
	provider provider.Provider
	active   *config.ActiveLoader
	logger   *log.Logger
}

// NewValidator builds the post-answer validator.
func NewValidator(p provider.Provider, active *config.ActiveLoader, logger *log.Logger) *Validator {
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATE] ", log.LstdFlags)
	}
	return &Validator{provider: p, active: active, logger: logger}
}

// ValidateAnswer asks the model whether answer is grounded in its sources.
// An affirmative verdict keeps the answer; anything else replaces it with the
// configured filter message and drops the citations. The returned bool
// reports whether the original answer survived.
func (v *Validator) ValidateAnswer(ctx context.Context, answer models.Answer) (models.Answer, bool, error) {
	active, err := v.active.GetActiveConfigOrDefault(ctx)
	if err != nil {
		return models.Answer{}, false, err
	}
	sources, err := sourcesJSON(answer.SourceDocuments)
	if err != nil {
		return models.Answer{}, false, err
	}
	prompt, err := RenderPrompt(active.Prompts.PostAnsweringPrompt, map[string]string{
		"sources":  sources,
		"question": answer.Question,
		"answer":   answer.Answer,
	})
	if err != nil {
		return models.Answer{}, false, err
	}

	result, err := v.provider.ChatCompletion(ctx, provider.ChatRequest{
		Messages:    []provider.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return models.Answer{}, false, fmt.Errorf("validate answer: %w", err)
	}
	answer.PromptTokens += result.Usage.PromptTokens
	answer.CompletionTokens += result.Usage.CompletionTokens

	verdict := strings.ToLower(strings.Trim(strings.TrimSpace(result.Content), `."'`))
	if verdict == "true" || verdict == "yes" {
		return answer, true, nil
	}
	v.logger.Printf("answer rejected by fact check (verdict %q)", result.Content)
	answer.Answer = active.Messages.PostAnsweringFilter
	answer.SourceDocuments = nil
	return answer, false, nil
}
