package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

type scriptedProvider struct {
	replies  []provider.ChatResult
	requests []provider.ChatRequest
}

func (s *scriptedProvider) ChatCompletion(_ context.Context, req provider.ChatRequest) (provider.ChatResult, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return provider.ChatResult{Content: "ok", FinishReason: "stop"}, nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func newActiveLoader(t *testing.T, mutate func(*config.ActiveConfig)) *config.ActiveLoader {
	t.Helper()
	loader := config.NewActiveLoader(nil, nil)
	cfg, err := loader.GetActiveConfigOrDefault(context.Background())
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	return loader
}

func TestRenderPrompt(t *testing.T) {
	t.Parallel()
	got, err := RenderPrompt("Q: {question} S: {sources}", map[string]string{
		"question": "why?",
		"sources":  "docs",
	})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if got != "Q: why? S: docs" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderPromptUnboundField(t *testing.T) {
	t.Parallel()
	_, err := RenderPrompt("needs {answer}", map[string]string{"question": "x"})
	if err == nil || !strings.Contains(err.Error(), "answer") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnswerQuestionOnYourDataFormat(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{replies: []provider.ChatResult{{
		Content: "Two years[doc1].",
		Usage:   provider.Usage{PromptTokens: 100, CompletionTokens: 10},
	}}}
	tool := NewAnswerTool(p, newActiveLoader(t, nil), 500, nil)

	docs := []models.SourceDocument{
		{ID: "doc_a", Content: "The warranty period is two years."},
		{ID: "doc_b", Content: "Batteries are excluded."},
	}
	answer, err := tool.AnswerQuestion(context.Background(), "How long is the warranty?", docs, nil)
	if err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	if answer.Answer != "Two years[doc1]." {
		t.Fatalf("answer = %q", answer.Answer)
	}
	if answer.PromptTokens != 100 || answer.CompletionTokens != 10 {
		t.Fatalf("usage = %d/%d", answer.PromptTokens, answer.CompletionTokens)
	}
	if len(answer.SourceDocuments) != 2 {
		t.Fatalf("source documents = %d", len(answer.SourceDocuments))
	}

	req := p.requests[0]
	if req.Temperature != 0 {
		t.Fatalf("temperature = %v, want 0", req.Temperature)
	}
	if req.Messages[0].Role != models.RoleSystem {
		t.Fatal("first message must be the system prompt")
	}
	// Packaged example is complete, so the exemplar pair follows the system
	// prompt.
	if req.Messages[1].Name != "example_user" || req.Messages[2].Name != "example_assistant" {
		t.Fatalf("exemplar missing: %+v", req.Messages[1:3])
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser {
		t.Fatal("last message must be the user prompt")
	}
	if !strings.Contains(last.Content, `[doc1]`) || !strings.Contains(last.Content, "The warranty period is two years.") {
		t.Fatalf("sources not rendered into user prompt:\n%s", last.Content)
	}
	if !strings.Contains(last.Content, "How long is the warranty?") {
		t.Fatal("question missing from user prompt")
	}
}

func TestAnswerQuestionSkipsPartialExample(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{}
	loader := newActiveLoader(t, func(c *config.ActiveConfig) {
		c.Example.Answer = ""
	})
	tool := NewAnswerTool(p, loader, 0, nil)
	if _, err := tool.AnswerQuestion(context.Background(), "q", nil, nil); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	for _, m := range p.requests[0].Messages {
		if m.Name != "" {
			t.Fatalf("partial exemplar was included: %+v", m)
		}
	}
}

func TestAnswerQuestionPlainFormat(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{}
	loader := newActiveLoader(t, func(c *config.ActiveConfig) {
		c.Prompts.UseOnYourDataFormat = false
	})
	tool := NewAnswerTool(p, loader, 0, nil)
	history := models.ChatHistory{{Role: models.RoleUser, Content: "hi"}, {Role: models.RoleAssistant, Content: "hello"}}
	docs := []models.SourceDocument{
		{ID: "doc_a", Content: "first chunk"},
		{ID: "doc_b", Content: "second chunk"},
	}
	if _, err := tool.AnswerQuestion(context.Background(), "q", docs, history); err != nil {
		t.Fatalf("AnswerQuestion: %v", err)
	}
	req := p.requests[0]
	if req.Messages[0].Role != models.RoleSystem {
		t.Fatalf("first message role = %q, want system", req.Messages[0].Role)
	}
	if req.Messages[1].Role != models.RoleUser || req.Messages[1].Content != "hi" {
		t.Fatalf("history not carried: %+v", req.Messages)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != models.RoleUser {
		t.Fatal("prompt must end with the user message")
	}
	want := "[doc1]: first chunk\n\n[doc2]: second chunk\n\nq"
	if last.Content != want {
		t.Fatalf("user content = %q, want %q", last.Content, want)
	}
}

func TestValidateAnswerKeepsAffirmed(t *testing.T) {
	t.Parallel()
	for _, verdict := range []string{"True", "true.", " YES "} {
		p := &scriptedProvider{replies: []provider.ChatResult{{Content: verdict}}}
		v := NewValidator(p, newActiveLoader(t, nil), nil)
		in := models.Answer{
			Question:        "q",
			Answer:          "grounded answer[doc1]",
			SourceDocuments: []models.SourceDocument{{ID: "doc_a", Content: "x"}},
		}
		out, ok, err := v.ValidateAnswer(context.Background(), in)
		if err != nil {
			t.Fatalf("ValidateAnswer(%q): %v", verdict, err)
		}
		if !ok || out.Answer != in.Answer || len(out.SourceDocuments) != 1 {
			t.Fatalf("verdict %q altered the answer: ok=%v %+v", verdict, ok, out)
		}
	}
}

func TestValidateAnswerReplacesRejected(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{replies: []provider.ChatResult{{Content: "False"}}}
	loader := newActiveLoader(t, nil)
	v := NewValidator(p, loader, nil)
	out, ok, err := v.ValidateAnswer(context.Background(), models.Answer{
		Question:        "q",
		Answer:          "made up nonsense[doc3]",
		SourceDocuments: []models.SourceDocument{{ID: "doc_a", Content: "x"}},
	})
	if err != nil {
		t.Fatalf("ValidateAnswer: %v", err)
	}
	if ok {
		t.Fatal("rejected answer reported as kept")
	}
	cfg, _ := loader.GetActiveConfigOrDefault(context.Background())
	if out.Answer != cfg.Messages.PostAnsweringFilter {
		t.Fatalf("answer = %q, want filter message", out.Answer)
	}
	if len(out.SourceDocuments) != 0 {
		t.Fatal("citations kept on rejected answer")
	}
}

func TestTextProcessor(t *testing.T) {
	t.Parallel()
	p := &scriptedProvider{replies: []provider.ChatResult{{Content: "SHOUTING"}}}
	tp := NewTextProcessor(p)
	got, _, err := tp.Process(context.Background(), "shouting", "Uppercase")
	if err != nil || got != "SHOUTING" {
		t.Fatalf("Process = %q, %v", got, err)
	}
	if !strings.Contains(p.requests[0].Messages[1].Content, "Uppercase the following TEXT: shouting") {
		t.Fatalf("prompt = %q", p.requests[0].Messages[1].Content)
	}
	if _, _, err := tp.Process(context.Background(), "x", ""); err == nil {
		t.Fatal("expected error for empty operation")
	}
}
