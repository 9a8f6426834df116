package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

const routerSystemPrompt = "Help the user with their question. " +
	"Call search_documents whenever the user asks something that could be answered from the document corpus. " +
	"Call text_processing when the user asks you to transform a piece of text. " +
	"Answer directly only for greetings and chit-chat."

// The two callable functions. Every strategy routes through the same pair.
func callableFunctions() []provider.FunctionDef {
	return []provider.FunctionDef{
		{
			Name:        "search_documents",
			Description: "Provide answers to any fact question coming from users.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{
						"type":        "string",
						"description": "A standalone question, converted from the chat history",
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        "text_processing",
			Description: "Useful when you want to apply a transformation on the text, like translate, summarize, rephrase and so on.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "The text to be processed",
					},
					"operation": map[string]interface{}{
						"type":        "string",
						"description": "The operation to be performed on the text",
					},
				},
				"required": []string{"text", "operation"},
			},
		},
	}
}

// runOpenAIFunctions lets the model pick a function via native function
// calling, then executes it.
func (o *Orchestrator) runOpenAIFunctions(ctx context.Context, question string, history models.ChatHistory) (models.Answer, error) {
	messages := []provider.ChatMessage{{Role: models.RoleSystem, Content: routerSystemPrompt}}
	for _, turn := range history {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, provider.ChatMessage{Role: models.RoleUser, Content: question})

	result, err := o.provider.ChatCompletion(ctx, provider.ChatRequest{
		Messages:     messages,
		Functions:    callableFunctions(),
		FunctionCall: "auto",
		Temperature:  0,
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("route question: %w", err)
	}

	if result.FunctionCall == nil {
		// Chit-chat path: the router's own reply is the answer.
		return models.Answer{
			Question:         question,
			Answer:           result.Content,
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		}, nil
	}

	answer, err := o.executeFunction(ctx, question, history, *result.FunctionCall)
	if err != nil {
		return models.Answer{}, err
	}
	answer.PromptTokens += result.Usage.PromptTokens
	answer.CompletionTokens += result.Usage.CompletionTokens
	return answer, nil
}

// executeFunction dispatches one selected function call.
func (o *Orchestrator) executeFunction(ctx context.Context, question string, history models.ChatHistory, call provider.FunctionCall) (models.Answer, error) {
	toolInvocationsTotal.WithLabelValues(call.Name).Inc()
	switch call.Name {
	case "search_documents":
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return models.Answer{}, fmt.Errorf("parse search_documents arguments: %w", err)
		}
		if args.Question == "" {
			args.Question = question
		}
		docs, err := o.search.Search(ctx, args.Question)
		if err != nil {
			return models.Answer{}, err
		}
		return o.answer.AnswerQuestion(ctx, args.Question, docs, history)

	case "text_processing":
		var args struct {
			Text      string `json:"text"`
			Operation string `json:"operation"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return models.Answer{}, fmt.Errorf("parse text_processing arguments: %w", err)
		}
		processed, usage, err := o.textProc.Process(ctx, args.Text, args.Operation)
		if err != nil {
			return models.Answer{}, err
		}
		return models.Answer{
			Question:         question,
			Answer:           processed,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		}, nil

	default:
		return models.Answer{}, fmt.Errorf("model selected unknown function %q", call.Name)
	}
}
