package search

import (
	"context"
	"fmt"
	"log"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// Searcher is the slice of the chunk index the handler needs.
type Searcher interface {
	Search(ctx context.Context, q index.Query) ([]models.SourceDocument, error)
}

// Handler answers retrieval requests: embed the question, query the index in
// the configured mode, return the top chunks.
type Handler struct {
	provider provider.Provider
	index    Searcher
	cfg      config.SearchConfig
	logger   *log.Logger
}

// NewHandler builds a search handler.
func NewHandler(p provider.Provider, idx Searcher, cfg config.SearchConfig, logger *log.Logger) *Handler {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Mode == "" {
		cfg.Mode = index.SearchHybrid
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Handler{provider: p, index: idx, cfg: cfg, logger: logger}
}

// Search retrieves the chunks most relevant to question. Results missing a
// chunk ordinal get their enumeration position so downstream citation
// numbering is always defined.
func (h *Handler) Search(ctx context.Context, question string) ([]models.SourceDocument, error) {
	vecs, err := h.provider.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected one question embedding, got %d", len(vecs))
	}
	docs, err := h.index.Search(ctx, index.Query{
		Question:  question,
		Embedding: vecs[0],
		TopK:      h.cfg.TopK,
		Filter:    h.cfg.Filter,
		Mode:      h.cfg.Mode,
	})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].Chunk = i
			docs[i].Rekey()
		}
	}
	return docs, nil
}
