package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/safety"
	"github.com/arcadian-io/docchat/internal/search"
	"github.com/arcadian-io/docchat/internal/tools"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrNoUserMessage    = errors.New("conversation does not end with a user message")
	ErrUnknownStrategy  = errors.New("unknown orchestration strategy")
	ErrPromptFlowRemote = errors.New("prompt flow endpoint not configured")
)

// strategyFunc handles one user turn and returns the grounded answer.
type strategyFunc func(ctx context.Context, question string, history models.ChatHistory) (models.Answer, error)

// Orchestrator routes a chat turn through safety, a strategy handler, the
// optional fact check and the output parser.
type Orchestrator struct {
	provider   provider.Provider
	search     *search.Handler
	answer     *tools.AnswerTool
	validator  *tools.Validator
	textProc   *tools.TextProcessor
	gate       *safety.Gate
	active     *config.ActiveLoader
	parser     *Parser
	promptFlow *promptFlowClient
	logger     *log.Logger

	strategies map[string]strategyFunc
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Provider   provider.Provider
	Search     *search.Handler
	Answer     *tools.AnswerTool
	Validator  *tools.Validator
	TextProc   *tools.TextProcessor
	Gate       *safety.Gate
	Active     *config.ActiveLoader
	Parser     *Parser
	PromptFlow config.PromptFlowConfig
	Logger     *log.Logger
}

// New wires an orchestrator from its collaborators.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	o := &Orchestrator{
		provider:   deps.Provider,
		search:     deps.Search,
		answer:     deps.Answer,
		validator:  deps.Validator,
		textProc:   deps.TextProc,
		gate:       deps.Gate,
		active:     deps.Active,
		parser:     deps.Parser,
		promptFlow: newPromptFlowClient(deps.PromptFlow),
		logger:     logger,
	}
	o.strategies = map[string]strategyFunc{
		config.StrategyOpenAIFunction: o.runOpenAIFunctions,
		config.StrategySemanticKernel: o.runSemanticKernel,
		config.StrategyLangChain:      o.runLangChain,
		config.StrategyPromptFlow:     o.runPromptFlow,
	}
	return o
}

// Orchestrate handles one turn of the conversation and returns the response
// envelope. Unsafe content never errors; the envelope carries the refusal.
func (o *Orchestrator) Orchestrate(ctx context.Context, history models.ChatHistory) (Response, error) {
	question, ok := history.LastUserMessage()
	if !ok {
		return Response{}, ErrNoUserMessage
	}
	active, err := o.active.GetActiveConfigOrDefault(ctx)
	if err != nil {
		return Response{}, err
	}
	if active.Logging.LogUserInteractions {
		o.logger.Printf("user question: %q", question)
	}

	if active.Prompts.EnableContentSafety && o.gate != nil {
		replaced, passed, err := o.gate.ValidateInput(ctx, question)
		if err != nil {
			return Response{}, err
		}
		if !passed {
			refusalsTotal.WithLabelValues("input").Inc()
			return o.parser.Parse(ctx, models.Answer{Question: question, Answer: replaced})
		}
	}

	handler, ok := o.strategies[active.Orchestrator.Strategy]
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, active.Orchestrator.Strategy)
	}
	prior := history[:len(history)-1]
	answer, err := handler(ctx, question, prior)
	if err != nil {
		return Response{}, err
	}

	if active.Prompts.EnablePostAnsweringPrompt && o.validator != nil && len(answer.SourceDocuments) > 0 {
		validated, kept, err := o.validator.ValidateAnswer(ctx, answer)
		if err != nil {
			return Response{}, err
		}
		if !kept && active.Logging.LogUserInteractions {
			o.logger.Printf("answer replaced by post-answering filter")
		}
		answer = validated
	}

	if active.Prompts.EnableContentSafety && o.gate != nil {
		replaced, passed, err := o.gate.ValidateOutput(ctx, answer.Answer)
		if err != nil {
			return Response{}, err
		}
		if !passed {
			refusalsTotal.WithLabelValues("output").Inc()
			answer.Answer = replaced
			answer.SourceDocuments = nil
		}
	}

	turnTokens.WithLabelValues("prompt").Observe(float64(answer.PromptTokens))
	turnTokens.WithLabelValues("completion").Observe(float64(answer.CompletionTokens))
	if active.Logging.LogTokens {
		o.logger.Printf("turn tokens: prompt=%d completion=%d", answer.PromptTokens, answer.CompletionTokens)
	}
	return o.parser.Parse(ctx, answer)
}
