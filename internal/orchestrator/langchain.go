package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// maxAgentSteps caps the reason-act loop so a confused model cannot spin.
const maxAgentSteps = 5

const reactSystemPrompt = "Answer the user's question. You can take multiple reasoning steps. " +
	"On each step reply with exactly one of:\n" +
	"Action: search_documents\nAction Input: <standalone question>\n\n" +
	"Action: text_processing\nAction Input: <operation> | <text>\n\n" +
	"Final Answer: <your answer to the user>\n\n" +
	"After an Action you will receive an Observation with the result. " +
	"Use search_documents for fact questions over the document corpus."

// runLangChain is the reason-act loop: the model alternates tool calls and
// observations until it emits a final answer or the step cap is hit.
func (o *Orchestrator) runLangChain(ctx context.Context, question string, history models.ChatHistory) (models.Answer, error) {
	messages := []provider.ChatMessage{{Role: models.RoleSystem, Content: reactSystemPrompt}}
	for _, turn := range history {
		messages = append(messages, provider.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, provider.ChatMessage{Role: models.RoleUser, Content: question})

	answer := models.Answer{Question: question}
	for step := 0; step < maxAgentSteps; step++ {
		result, err := o.provider.ChatCompletion(ctx, provider.ChatRequest{
			Messages:    messages,
			Temperature: 0,
		})
		if err != nil {
			return models.Answer{}, fmt.Errorf("agent step %d: %w", step+1, err)
		}
		answer.PromptTokens += result.Usage.PromptTokens
		answer.CompletionTokens += result.Usage.CompletionTokens

		if final, ok := parseFinalAnswer(result.Content); ok {
			answer.Answer = final
			return answer, nil
		}
		action, input, ok := parseAction(result.Content)
		if !ok {
			// No recognizable step; take the raw content as the answer.
			answer.Answer = strings.TrimSpace(result.Content)
			return answer, nil
		}

		observation, docs, err := o.observe(ctx, action, input, history)
		if err != nil {
			return models.Answer{}, err
		}
		if docs != nil {
			answer.SourceDocuments = docs
		}
		messages = append(messages,
			provider.ChatMessage{Role: models.RoleAssistant, Content: result.Content},
			provider.ChatMessage{Role: models.RoleUser, Content: "Observation: " + observation},
		)
	}
	return models.Answer{}, fmt.Errorf("agent exceeded %d steps without a final answer", maxAgentSteps)
}

// observe executes one action and returns the observation text. Search
// observations answer through the grounded tool so citations survive.
func (o *Orchestrator) observe(ctx context.Context, action, input string, history models.ChatHistory) (string, []models.SourceDocument, error) {
	switch action {
	case "search_documents":
		docs, err := o.search.Search(ctx, input)
		if err != nil {
			return "", nil, err
		}
		grounded, err := o.answer.AnswerQuestion(ctx, input, docs, history)
		if err != nil {
			return "", nil, err
		}
		return grounded.Answer, grounded.SourceDocuments, nil
	case "text_processing":
		operation, text := splitToolInput(input)
		processed, _, err := o.textProc.Process(ctx, text, operation)
		if err != nil {
			return "", nil, err
		}
		return processed, nil, nil
	default:
		return fmt.Sprintf("unknown action %q; use search_documents or text_processing", action), nil, nil
	}
}

func parseFinalAnswer(content string) (string, bool) {
	idx := strings.Index(content, "Final Answer:")
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(content[idx+len("Final Answer:"):]), true
}

func parseAction(content string) (action, input string, ok bool) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if rest, found := strings.CutPrefix(line, "Action:"); found {
			action = strings.TrimSpace(rest)
		}
		if rest, found := strings.CutPrefix(line, "Action Input:"); found {
			input = strings.TrimSpace(rest)
		}
	}
	return action, input, action != ""
}

// splitToolInput splits "operation | text" tool input; without a separator
// the whole input is the text and the operation defaults to summarize.
func splitToolInput(input string) (operation, text string) {
	parts := strings.SplitN(input, "|", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "Summarize", strings.TrimSpace(input)
}
