package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/internal/safety"
	"github.com/arcadian-io/docchat/internal/search"
	"github.com/arcadian-io/docchat/internal/tools"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// scriptedProvider replies from a queue, recording every request.
type scriptedProvider struct {
	replies  []provider.ChatResult
	requests []provider.ChatRequest
}

func (s *scriptedProvider) ChatCompletion(_ context.Context, req provider.ChatRequest) (provider.ChatResult, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return provider.ChatResult{}, errors.New("scripted provider exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubIndex struct {
	docs []models.SourceDocument
}

func (s *stubIndex) Search(_ context.Context, _ index.Query) ([]models.SourceDocument, error) {
	return s.docs, nil
}

type stubClassifier struct {
	inputSeverity  int
	outputSeverity int
	calls          int
}

func (s *stubClassifier) AnalyzeText(_ context.Context, _ string) (map[string]int, error) {
	s.calls++
	if s.calls == 1 {
		return map[string]int{"Violence": s.inputSeverity}, nil
	}
	return map[string]int{"Violence": s.outputSeverity}, nil
}

type stubMinter struct{ token string }

func (s *stubMinter) MintContainerToken() (string, error) { return s.token, nil }

type harness struct {
	provider   *scriptedProvider
	classifier *stubClassifier
	loader     *config.ActiveLoader
	orch       *Orchestrator
}

func newHarness(t *testing.T, docs []models.SourceDocument, mutate func(*config.ActiveConfig)) *harness {
	t.Helper()
	p := &scriptedProvider{}
	loader := config.NewActiveLoader(nil, nil)
	cfg, err := loader.GetActiveConfigOrDefault(context.Background())
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}
	classifier := &stubClassifier{}
	orch := New(Deps{
		Provider:  p,
		Search:    search.NewHandler(p, &stubIndex{docs: docs}, config.SearchConfig{}, nil),
		Answer:    tools.NewAnswerTool(p, loader, 500, nil),
		Validator: tools.NewValidator(p, loader, nil),
		TextProc:  tools.NewTextProcessor(p),
		Gate:      safety.NewGate(classifier),
		Active:    loader,
		Parser:    NewParser("gpt-4o-mini", &stubMinter{token: "minted-token"}),
	})
	return &harness{provider: p, classifier: classifier, loader: loader, orch: orch}
}

func assistantContent(t *testing.T, resp Response) string {
	t.Helper()
	msgs := resp.Choices[0].Messages
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant || !last.EndTurn {
		t.Fatalf("final message = %+v", last)
	}
	return last.Content
}

func toolCitations(t *testing.T, resp Response) []Citation {
	t.Helper()
	first := resp.Choices[0].Messages[0]
	if first.Role != models.RoleTool || first.EndTurn {
		t.Fatalf("tool message = %+v", first)
	}
	var payload struct {
		Citations []Citation `json:"citations"`
	}
	if err := json.Unmarshal([]byte(first.Content), &payload); err != nil {
		t.Fatalf("tool content not JSON: %v", err)
	}
	return payload.Citations
}

func TestGroundedQuestionAnswer(t *testing.T) {
	t.Parallel()
	chunk := models.SourceDocument{
		ID:      "doc_1",
		Content: "content",
		Title:   "/docs/doc.pdf",
		Source:  "https://host/docs/doc.pdf" + models.SASPlaceholder,
		Chunk:   95,
	}
	h := newHarness(t, []models.SourceDocument{chunk}, nil)
	h.provider.replies = []provider.ChatResult{
		{FunctionCall: &provider.FunctionCall{
			Name:      "search_documents",
			Arguments: `{"question":"What is the meaning of life?"}`,
		}, FinishReason: "function_call"},
		{Content: "42 is the meaning of life[doc1].", FinishReason: "stop"},
	}

	history := models.ChatHistory{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi, how can I help?"},
		{Role: models.RoleUser, Content: "What is the meaning of life?"},
	}
	resp, err := h.orch.Orchestrate(context.Background(), history)
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != "42 is the meaning of life[doc1]." {
		t.Fatalf("assistant content = %q", got)
	}
	citations := toolCitations(t, resp)
	if len(citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(citations))
	}
	c := citations[0]
	if c.ID != "doc_1" || c.Title != "/docs/doc.pdf" {
		t.Fatalf("citation = %+v", c)
	}
	if strings.Contains(c.URL, models.SASPlaceholder) {
		t.Fatalf("placeholder survived in url %q", c.URL)
	}
	if !strings.Contains(c.URL, "minted-token") {
		t.Fatalf("minted token missing from url %q", c.URL)
	}
	if resp.Object != "extensions.chat.completion" || resp.Model != "gpt-4o-mini" || resp.ID == "" {
		t.Fatalf("envelope metadata = %+v", resp)
	}
}

func TestTextTransformTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.provider.replies = []provider.ChatResult{
		{FunctionCall: &provider.FunctionCall{
			Name:      "text_processing",
			Arguments: `{"text":"Hello","operation":"Translate to Italian"}`,
		}, FinishReason: "function_call"},
		{Content: "Ciao", FinishReason: "stop"},
	}

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "Translate to Italian: Hello"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != "Ciao" {
		t.Fatalf("assistant content = %q", got)
	}
	if citations := toolCitations(t, resp); len(citations) != 0 {
		t.Fatalf("citations = %+v, want none", citations)
	}
}

func TestInputRefusalShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.classifier.inputSeverity = 4

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "something harmful"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != safety.InputRefusal {
		t.Fatalf("assistant content = %q", got)
	}
	if len(h.provider.requests) != 0 {
		t.Fatalf("model was called %d times after refusal", len(h.provider.requests))
	}
}

func TestPostAnswerRejection(t *testing.T) {
	t.Parallel()
	chunk := models.SourceDocument{ID: "doc_1", Content: "content", Source: "https://host/doc.pdf"}
	h := newHarness(t, []models.SourceDocument{chunk}, func(c *config.ActiveConfig) {
		c.Prompts.EnablePostAnsweringPrompt = true
	})
	h.provider.replies = []provider.ChatResult{
		{FunctionCall: &provider.FunctionCall{
			Name:      "search_documents",
			Arguments: `{"question":"q"}`,
		}, FinishReason: "function_call"},
		{Content: "an ungrounded claim[doc1]", FinishReason: "stop"},
		{Content: "false", FinishReason: "stop"},
	}

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "q"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	cfg, _ := h.loader.GetActiveConfigOrDefault(context.Background())
	if got := assistantContent(t, resp); got != cfg.Messages.PostAnsweringFilter {
		t.Fatalf("assistant content = %q", got)
	}
	if citations := toolCitations(t, resp); len(citations) != 0 {
		t.Fatalf("citations kept on rejected answer: %+v", citations)
	}
}

func TestOutputRefusal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.classifier.outputSeverity = 2
	h.provider.replies = []provider.ChatResult{
		{Content: "hostile generated text", FinishReason: "stop"},
	}

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != safety.OutputRefusal {
		t.Fatalf("assistant content = %q", got)
	}
}

func TestNoUserMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	_, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleAssistant, Content: "hello?"},
	})
	if !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, func(c *config.ActiveConfig) {
		c.Orchestrator.Strategy = "mystery"
		c.Prompts.EnableContentSafety = false
	})
	_, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "q"},
	})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("err = %v", err)
	}
}

func TestSemanticKernelStrategy(t *testing.T) {
	t.Parallel()
	chunk := models.SourceDocument{ID: "doc_1", Content: "two years", Source: "https://host/w.pdf"}
	h := newHarness(t, []models.SourceDocument{chunk}, func(c *config.ActiveConfig) {
		c.Orchestrator.Strategy = config.StrategySemanticKernel
	})
	h.provider.replies = []provider.ChatResult{
		{Content: `{"skill":"search_documents","question":"warranty length?"}`, FinishReason: "stop"},
		{Content: "Two years[doc1].", FinishReason: "stop"},
	}

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "how long is the warranty?"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != "Two years[doc1]." {
		t.Fatalf("assistant content = %q", got)
	}
	if citations := toolCitations(t, resp); len(citations) != 1 {
		t.Fatalf("citations = %+v", citations)
	}
}

func TestLangChainStrategy(t *testing.T) {
	t.Parallel()
	chunk := models.SourceDocument{ID: "doc_1", Content: "two years", Source: "https://host/w.pdf"}
	h := newHarness(t, []models.SourceDocument{chunk}, func(c *config.ActiveConfig) {
		c.Orchestrator.Strategy = config.StrategyLangChain
	})
	h.provider.replies = []provider.ChatResult{
		{Content: "Action: search_documents\nAction Input: warranty length?", FinishReason: "stop"},
		{Content: "The warranty is two years[doc1].", FinishReason: "stop"}, // grounded answer for the observation
		{Content: "Final Answer: The warranty is two years[doc1].", FinishReason: "stop"},
	}

	resp, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "how long is the warranty?"},
	})
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got := assistantContent(t, resp); got != "The warranty is two years[doc1]." {
		t.Fatalf("assistant content = %q", got)
	}
}

func TestLangChainStepCap(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, func(c *config.ActiveConfig) {
		c.Orchestrator.Strategy = config.StrategyLangChain
		c.Prompts.EnableContentSafety = false
	})
	// The model loops on text_processing forever.
	for i := 0; i < maxAgentSteps; i++ {
		h.provider.replies = append(h.provider.replies,
			provider.ChatResult{Content: "Action: text_processing\nAction Input: Summarize | loop", FinishReason: "stop"},
			provider.ChatResult{Content: "looped", FinishReason: "stop"},
		)
	}
	_, err := h.orch.Orchestrate(context.Background(), models.ChatHistory{
		{Role: models.RoleUser, Content: "spin"},
	})
	if err == nil || !strings.Contains(err.Error(), "exceeded") {
		t.Fatalf("err = %v, want step cap", err)
	}
}
