package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// ActiveConfigBlob is the blob name the active runtime config is persisted
// under.
const ActiveConfigBlob = "config/active.json"

// Orchestration strategies recognized by the router.
const (
	StrategyOpenAIFunction = "openai_function"
	StrategySemanticKernel = "semantic_kernel"
	StrategyLangChain      = "langchain"
	StrategyPromptFlow     = "prompt_flow"
)

// PromptsConfig carries the prompt templates and pipeline gates.
type PromptsConfig struct {
	CondenseQuestionPrompt    string `json:"condense_question_prompt"`
	AnsweringSystemPrompt     string `json:"answering_system_prompt"`
	AnsweringUserPrompt       string `json:"answering_user_prompt"`
	PostAnsweringPrompt       string `json:"post_answering_prompt"`
	UseOnYourDataFormat       bool   `json:"use_on_your_data_format"`
	EnablePostAnsweringPrompt bool   `json:"enable_post_answering_prompt"`
	EnableContentSafety       bool   `json:"enable_content_safety"`
}

// MessagesConfig holds user-visible canned replies.
type MessagesConfig struct {
	PostAnsweringFilter string `json:"post_answering_filter"`
}

// ExampleConfig seeds the few-shot exemplar for the on-your-data format. The
// three fields must be all set or all empty; partial examples are skipped
// with a warning.
type ExampleConfig struct {
	Documents    string `json:"documents"`
	UserQuestion string `json:"user_question"`
	Answer       string `json:"answer"`
}

// Complete reports whether all example fields are populated.
func (e ExampleConfig) Complete() bool {
	return e.Documents != "" && e.UserQuestion != "" && e.Answer != ""
}

// Empty reports whether no example field is populated.
func (e ExampleConfig) Empty() bool {
	return e.Documents == "" && e.UserQuestion == "" && e.Answer == ""
}

// ChunkingConfig selects a chunker strategy and its window.
type ChunkingConfig struct {
	Strategy string `json:"strategy"`
	Size     int    `json:"size"`
	Overlap  int    `json:"overlap"`
}

// LoadingConfig selects a loader strategy.
type LoadingConfig struct {
	Strategy string `json:"strategy"`
}

// DocumentProcessor maps a file extension to its ingestion pipeline.
type DocumentProcessor struct {
	DocumentType               string         `json:"document_type"`
	Chunking                   ChunkingConfig `json:"chunking"`
	Loading                    LoadingConfig  `json:"loading"`
	UseAdvancedImageProcessing bool           `json:"use_advanced_image_processing"`
}

// OrchestratorConfig selects the routing strategy.
type OrchestratorConfig struct {
	Strategy string `json:"strategy"`
}

// LoggingConfig gates per-turn logging.
type LoggingConfig struct {
	LogUserInteractions bool `json:"log_user_interactions"`
	LogTokens           bool `json:"log_tokens"`
}

// ActiveConfig is the runtime configuration: everything an operator can flip
// without redeploying. Persisted as config/active.json in the blob container.
type ActiveConfig struct {
	Prompts                 PromptsConfig       `json:"prompts"`
	Messages                MessagesConfig      `json:"messages"`
	Example                 ExampleConfig       `json:"example"`
	DocumentProcessors      []DocumentProcessor `json:"document_processors"`
	Orchestrator            OrchestratorConfig  `json:"orchestrator"`
	Logging                 LoggingConfig       `json:"logging"`
	IntegratedVectorization bool                `json:"integrated_vectorization"`
}

// ProcessorForExtension returns the document processor matching ext (without
// dot, case-insensitive).
func (c *ActiveConfig) ProcessorForExtension(ext string) (DocumentProcessor, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, p := range c.DocumentProcessors {
		if strings.ToLower(p.DocumentType) == ext {
			return p, true
		}
	}
	return DocumentProcessor{}, false
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "tiff": true,
}

// Validate checks operator-editable invariants before the config is saved.
func (c *ActiveConfig) Validate() error {
	for _, p := range c.DocumentProcessors {
		if p.UseAdvancedImageProcessing && !imageExtensions[strings.ToLower(p.DocumentType)] {
			return fmt.Errorf("advanced image processing is not supported for extension %q", p.DocumentType)
		}
	}
	switch c.Orchestrator.Strategy {
	case StrategyOpenAIFunction, StrategySemanticKernel, StrategyLangChain, StrategyPromptFlow:
	default:
		return fmt.Errorf("unknown orchestration strategy %q", c.Orchestrator.Strategy)
	}
	if !c.Example.Complete() && !c.Example.Empty() {
		// partial examples are tolerated at save time; the answering tool
		// skips them with a warning
	}
	return nil
}

// DefaultActiveConfig parses the packaged template with environment
// substitution applied.
func DefaultActiveConfig() (*ActiveConfig, error) {
	expanded := os.Expand(defaultActiveConfig, func(key string) string { return os.Getenv(key) })
	var cfg ActiveConfig
	if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse default active config: %w", err)
	}
	return &cfg, nil
}

// ConfigBlob is the slice of the blob store the loader needs.
type ConfigBlob interface {
	Download(ctx context.Context, name string) ([]byte, error)
	Upload(ctx context.Context, name string, data []byte, metadata map[string]string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ActiveLoader loads, caches and persists the active runtime config. It is a
// process-wide singleton: reads are cheap after the first load, and the admin
// save path invalidates the cache.
type ActiveLoader struct {
	blob   ConfigBlob
	logger *log.Logger

	mu     sync.RWMutex
	cached *ActiveConfig
}

// NewActiveLoader builds the loader around a blob client.
func NewActiveLoader(blob ConfigBlob, logger *log.Logger) *ActiveLoader {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONFIG] ", log.LstdFlags)
	}
	return &ActiveLoader{blob: blob, logger: logger}
}

// GetActiveConfigOrDefault returns the cached active config, loading it on
// first use. Defaults fill any keys the stored overlay omits, so configs
// saved by older builds keep working.
func (l *ActiveLoader) GetActiveConfigOrDefault(ctx context.Context) (*ActiveConfig, error) {
	l.mu.RLock()
	if l.cached != nil {
		c := l.cached
		l.mu.RUnlock()
		return c, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil {
		return l.cached, nil
	}

	cfg, err := DefaultActiveConfig()
	if err != nil {
		return nil, err
	}
	if l.blob != nil {
		exists, err := l.blob.Exists(ctx, ActiveConfigBlob)
		if err != nil {
			return nil, fmt.Errorf("probe active config: %w", err)
		}
		if exists {
			raw, err := l.blob.Download(ctx, ActiveConfigBlob)
			if err != nil {
				return nil, fmt.Errorf("download active config: %w", err)
			}
			// Overlay on top of defaults: unknown keys ignored, missing keys
			// keep their default values.
			if err := json.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse active config: %w", err)
			}
		} else {
			l.logger.Printf("no active config in blob, using packaged defaults")
		}
	}
	l.cached = cfg
	return cfg, nil
}

// SaveActive validates and persists cfg as the active config, then
// invalidates the cache so the next read observes it.
func (l *ActiveLoader) SaveActive(ctx context.Context, cfg *ActiveConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize active config: %w", err)
	}
	if err := l.blob.Upload(ctx, ActiveConfigBlob, raw, map[string]string{"content_type": "application/json"}); err != nil {
		return fmt.Errorf("upload active config: %w", err)
	}
	l.Invalidate()
	return nil
}

// Invalidate drops the cached config.
func (l *ActiveLoader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}
