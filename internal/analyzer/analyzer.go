package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arcadian-io/docchat/config"
)

// Analysis modes supported by the document-analysis service.
const (
	ModeLayout = "layout"
	ModeRead   = "read"
)

// Page is one analyzed page: its ordinal, the character offset where it
// starts in the whole document, and the extracted text. Layout mode keeps
// table and heading structure as inline HTML-like tags.
type Page struct {
	PageNumber int    `json:"page_number"`
	Offset     int    `json:"offset"`
	PageText   string `json:"page_text"`
}

// Client calls the document-analysis service.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New builds an analyzer client from config.
func New(cfg config.AnalyzerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

type analyzeResponse struct {
	Pages []Page `json:"pages"`
}

// AnalyzeFromURL submits url for analysis and returns the pages. mode is
// "layout" (structure-preserving) or "read" (plain text).
func (c *Client) AnalyzeFromURL(ctx context.Context, url, mode string) ([]Page, error) {
	if mode != ModeLayout && mode != ModeRead {
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}
	body, err := json.Marshal(analyzeRequest{URL: url, Mode: mode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/analyze", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned status: %d", resp.StatusCode)
	}
	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return out.Pages, nil
}
