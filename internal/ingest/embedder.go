package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/models"
	"github.com/arcadian-io/docchat/provider"
)

// IndexWriter is the slice of the chunk index the embedder needs.
type IndexWriter interface {
	UploadDocuments(ctx context.Context, docs []index.IndexedDocument) error
}

// Embedder turns chunks into vectors and pushes them into the index.
type Embedder struct {
	provider  provider.Provider
	writer    IndexWriter
	batchSize int
	logger    *log.Logger

	dimOnce sync.Once
	dim     int
	dimErr  error
}

// NewEmbedder builds an embedder writing through the given index.
func NewEmbedder(p provider.Provider, writer IndexWriter, batchSize int, logger *log.Logger) *Embedder {
	if batchSize <= 0 {
		batchSize = 16
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &Embedder{provider: p, writer: writer, batchSize: batchSize, logger: logger}
}

// Dimensions reports the embedding dimensionality of the configured model,
// discovered once by embedding a probe string.
func (e *Embedder) Dimensions(ctx context.Context) (int, error) {
	e.dimOnce.Do(func() {
		vecs, err := e.provider.CreateEmbedding(ctx, []string{"Text"})
		if err != nil {
			e.dimErr = fmt.Errorf("probe embedding dimensions: %w", err)
			return
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			e.dimErr = fmt.Errorf("probe embedding returned no vector")
			return
		}
		e.dim = len(vecs[0])
	})
	return e.dim, e.dimErr
}

// EmbedAndUpsert embeds the chunks and upserts them batch by batch. A batch
// lands whole or not at all; the first failing batch stops the run and the
// count of documents already indexed is returned with the error.
func (e *Embedder) EmbedAndUpsert(ctx context.Context, docs []models.SourceDocument) (int, error) {
	indexed := 0
	for start := 0; start < len(docs); start += e.batchSize {
		end := start + e.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vecs, err := e.provider.CreateEmbedding(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		records := make([]index.IndexedDocument, len(batch))
		for i, d := range batch {
			records[i] = index.IndexedDocument{SourceDocument: d, Vector: vecs[i]}
		}
		if err := e.writer.UploadDocuments(ctx, records); err != nil {
			return indexed, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		indexed += len(batch)
	}
	return indexed, nil
}
