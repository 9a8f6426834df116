package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
)

// promptFlowClient delegates whole turns to a remote prompt-flow deployment.
type promptFlowClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func newPromptFlowClient(cfg config.PromptFlowConfig) *promptFlowClient {
	if cfg.Endpoint == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &promptFlowClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type promptFlowRequest struct {
	ChatInput   string              `json:"chat_input"`
	ChatHistory []promptFlowHistory `json:"chat_history"`
}

type promptFlowHistory struct {
	Inputs  map[string]string `json:"inputs"`
	Outputs map[string]string `json:"outputs"`
}

type promptFlowResponse struct {
	ChatOutput string                  `json:"chat_output"`
	Citations  []models.SourceDocument `json:"citations"`
	Usage      promptFlowUsage         `json:"usage"`
}

type promptFlowUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
}

// runPromptFlow forwards the turn to the remote flow and maps its reply back
// into the local answer shape.
func (o *Orchestrator) runPromptFlow(ctx context.Context, question string, history models.ChatHistory) (models.Answer, error) {
	if o.promptFlow == nil {
		return models.Answer{}, ErrPromptFlowRemote
	}
	req := promptFlowRequest{ChatInput: question}
	// The flow API pairs each user input with the assistant output that
	// followed it.
	for i := 0; i+1 < len(history); i++ {
		if history[i].Role == models.RoleUser && history[i+1].Role == models.RoleAssistant {
			req.ChatHistory = append(req.ChatHistory, promptFlowHistory{
				Inputs:  map[string]string{"chat_input": history[i].Content},
				Outputs: map[string]string{"chat_output": history[i+1].Content},
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.Answer{}, fmt.Errorf("serialize prompt flow request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.promptFlow.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return models.Answer{}, fmt.Errorf("create prompt flow request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.promptFlow.apiKey)

	resp, err := o.promptFlow.httpClient.Do(httpReq)
	if err != nil {
		return models.Answer{}, fmt.Errorf("prompt flow: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Answer{}, fmt.Errorf("prompt flow returned status: %d", resp.StatusCode)
	}
	var out promptFlowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Answer{}, fmt.Errorf("parse prompt flow response: %w", err)
	}
	return models.Answer{
		Question:         question,
		Answer:           out.ChatOutput,
		SourceDocuments:  out.Citations,
		PromptTokens:     out.Usage.Prompt,
		CompletionTokens: out.Usage.Completion,
	}, nil
}
