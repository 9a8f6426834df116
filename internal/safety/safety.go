package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arcadian-io/docchat/config"
)

// Canned refusals. Unsafe content is never an error: the turn completes with
// one of these as the assistant reply.
const (
	InputRefusal  = "Unfortunately, I'm not able to respond to that request. Please try a different question."
	OutputRefusal = "I'm unable to share the generated response as it may contain harmful content. Please rephrase your question."
)

// Classifier rates a text per harm category; severity 0 means clean.
type Classifier interface {
	AnalyzeText(ctx context.Context, text string) (map[string]int, error)
}

// Client calls the content-safety classification service.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a classifier client from config.
func NewClient(cfg config.SafetyConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeTextResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

// AnalyzeText classifies text and returns category → severity.
func (c *Client) AnalyzeText(ctx context.Context, text string) (map[string]int, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/contentsafety/text:analyze", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content safety: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content safety returned status: %d", resp.StatusCode)
	}
	var out analyzeTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	severities := make(map[string]int, len(out.CategoriesAnalysis))
	for _, cat := range out.CategoriesAnalysis {
		severities[cat.Category] = cat.Severity
	}
	return severities, nil
}

// Gate wraps a classifier with the input/output replacement policy.
type Gate struct {
	classifier Classifier
}

// NewGate wraps the classifier.
func NewGate(classifier Classifier) *Gate {
	return &Gate{classifier: classifier}
}

// ValidateInput classifies user text. The returned bool is true when the
// original text passed; on failure the refusal text is returned instead.
func (g *Gate) ValidateInput(ctx context.Context, text string) (string, bool, error) {
	return g.validate(ctx, text, InputRefusal)
}

// ValidateOutput classifies generated text, replacing harmful output with the
// output-side refusal.
func (g *Gate) ValidateOutput(ctx context.Context, text string) (string, bool, error) {
	return g.validate(ctx, text, OutputRefusal)
}

func (g *Gate) validate(ctx context.Context, text, refusal string) (string, bool, error) {
	severities, err := g.classifier.AnalyzeText(ctx, text)
	if err != nil {
		return "", false, err
	}
	for _, severity := range severities {
		if severity > 0 {
			return refusal, false, nil
		}
	}
	return text, true, nil
}
