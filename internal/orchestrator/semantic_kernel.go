package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

const plannerSystemPrompt = "You are a planner. Given the conversation, decide which single skill to invoke and reply " +
	"with JSON only, no prose. The skills are:\n" +
	"- {\"skill\":\"search_documents\",\"question\":\"<standalone question>\"} for fact questions over the document corpus\n" +
	"- {\"skill\":\"text_processing\",\"text\":\"<text>\",\"operation\":\"<operation>\"} for text transformations\n" +
	"- {\"skill\":\"chat\",\"reply\":\"<reply>\"} for greetings and chit-chat"

type plannerDecision struct {
	Skill     string `json:"skill"`
	Question  string `json:"question"`
	Text      string `json:"text"`
	Operation string `json:"operation"`
	Reply     string `json:"reply"`
}

// runSemanticKernel plans first, then invokes the chosen skill. Same two
// callable functions as the native-function strategy, selected through an
// explicit JSON plan instead of the function-calling API.
func (o *Orchestrator) runSemanticKernel(ctx context.Context, question string, history models.ChatHistory) (models.Answer, error) {
	messages := []provider.ChatMessage{{Role: models.RoleSystem, Content: plannerSystemPrompt}}
	for _, turn := range history {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, provider.ChatMessage{Role: models.RoleUser, Content: question})

	result, err := o.provider.ChatCompletion(ctx, provider.ChatRequest{
		Messages:    messages,
		Temperature: 0,
	})
	if err != nil {
		return models.Answer{}, fmt.Errorf("plan turn: %w", err)
	}

	var decision plannerDecision
	raw := strings.TrimSpace(result.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "` \n")
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		// An unparseable plan degrades to retrieval over the raw question.
		o.logger.Printf("warn: unparseable plan %q, falling back to search", result.Content)
		decision = plannerDecision{Skill: "search_documents", Question: question}
	}

	var answer models.Answer
	toolInvocationsTotal.WithLabelValues(decision.Skill).Inc()
	switch decision.Skill {
	case "search_documents":
		if decision.Question == "" {
			decision.Question = question
		}
		docs, err := o.search.Search(ctx, decision.Question)
		if err != nil {
			return models.Answer{}, err
		}
		answer, err = o.answer.AnswerQuestion(ctx, decision.Question, docs, history)
		if err != nil {
			return models.Answer{}, err
		}
	case "text_processing":
		processed, usage, err := o.textProc.Process(ctx, decision.Text, decision.Operation)
		if err != nil {
			return models.Answer{}, err
		}
		answer = models.Answer{
			Question:         question,
			Answer:           processed,
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		}
	case "chat":
		answer = models.Answer{Question: question, Answer: decision.Reply}
	default:
		return models.Answer{}, fmt.Errorf("planner selected unknown skill %q", decision.Skill)
	}

	answer.PromptTokens += result.Usage.PromptTokens
	answer.CompletionTokens += result.Usage.CompletionTokens
	return answer, nil
}
