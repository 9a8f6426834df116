package ingest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/analyzer"
	"github.com/arcadian-io/docchat/internal/index"
	"github.com/arcadian-io/docchat/internal/ingest/chunker"
	"github.com/arcadian-io/docchat/internal/ingest/loader"
	"github.com/arcadian-io/docchat/models"
)

// Names under which push-mode registrations are recorded when integrated
// vectorization is enabled.
const (
	registeredDataSource = "container-documents"
	registeredSkillset   = "split-and-embed"
	registeredIndexer    = "container-indexer"
)

// BlobStore is the slice of the document container the coordinator needs.
type BlobStore interface {
	Download(ctx context.Context, name string) ([]byte, error)
	SetMetadata(ctx context.Context, name string, metadata map[string]string) error
	SourceURL(name string) string
	MintContainerToken() (string, error)
}

// Registrar records integrated-vectorization registrations and indexer runs.
type Registrar interface {
	EnsureDataSource(ctx context.Context, reg index.DataSourceRegistration) error
	EnsureSkillset(ctx context.Context, reg index.SkillsetRegistration) error
	EnsureIndexer(ctx context.Context, reg index.IndexerRegistration) error
	BeginIndexerRun(ctx context.Context, indexer string) (int64, error)
	FinishIndexerRun(ctx context.Context, runID int64, documents int, runErr error) error
}

// Coordinator drives one file through its processor pipeline: load, chunk,
// embed, upsert, then mark the blob as indexed.
type Coordinator struct {
	blob      BlobStore
	active    *config.ActiveLoader
	embedder  *Embedder
	analyzer  *analyzer.Client
	registrar Registrar
	logger    *log.Logger
}

// NewCoordinator wires the ingestion pipeline.
func NewCoordinator(blob BlobStore, active *config.ActiveLoader, embedder *Embedder, an *analyzer.Client, registrar Registrar, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Coordinator{
		blob:      blob,
		active:    active,
		embedder:  embedder,
		analyzer:  an,
		registrar: registrar,
		logger:    logger,
	}
}

// extensionOf classifies a blob name or URL for processor lookup. Remote URLs
// ingest under the "url" processor regardless of their path.
func extensionOf(name string) string {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return "url"
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// EmbedFile ingests one blob (or remote URL) end to end. The blob's metadata
// records the outcome so rescans can skip already-indexed files.
func (c *Coordinator) EmbedFile(ctx context.Context, name string) error {
	active, err := c.active.GetActiveConfigOrDefault(ctx)
	if err != nil {
		return err
	}

	if active.IntegratedVectorization && c.registrar != nil {
		return c.embedIntegrated(ctx, name, active)
	}
	_, err = c.embedPush(ctx, name, active)
	return err
}

// embedPush is the client-side pipeline: this process loads, chunks, embeds
// and pushes the vectors.
func (c *Coordinator) embedPush(ctx context.Context, name string, active *config.ActiveConfig) (int, error) {
	ext := extensionOf(name)
	processor, ok := active.ProcessorForExtension(ext)
	if !ok {
		return 0, fmt.Errorf("no document processor for extension %q", ext)
	}

	src, err := c.buildSource(ctx, name, ext, processor)
	if err != nil {
		return 0, err
	}
	ld, err := loader.New(processor.Loading.Strategy, loader.Deps{
		Analyzer:   c.analyzer,
		HTTPClient: http.DefaultClient,
	})
	if err != nil {
		return 0, err
	}
	docs, err := ld.Load(ctx, src)
	if err != nil {
		return 0, err
	}
	ck, err := chunker.New(processor.Chunking.Strategy)
	if err != nil {
		return 0, err
	}
	chunks, err := ck.Chunk(docs, processor.Chunking)
	if err != nil {
		return 0, err
	}
	// Chunks are stored under the placeholder URL; the analyzer may have been
	// handed a tokenized one.
	for i := range chunks {
		chunks[i].Source = c.sourceFor(name, ext)
		chunks[i].Rekey()
	}

	indexed, err := c.embedder.EmbedAndUpsert(ctx, chunks)
	if err != nil {
		return indexed, fmt.Errorf("embed %s: %w", name, err)
	}
	c.logger.Printf("indexed %s: %d chunks", name, indexed)

	if ext != "url" {
		if err := c.blob.SetMetadata(ctx, name, map[string]string{
			"embeddings_added": "true",
			"chunks":           strconv.Itoa(indexed),
		}); err != nil {
			c.logger.Printf("warn: mark %s indexed: %v", name, err)
		}
	}
	return indexed, nil
}

// embedIntegrated runs the same split-and-embed server side, recorded as an
// execution of the registered indexer instead of a client push.
func (c *Coordinator) embedIntegrated(ctx context.Context, name string, active *config.ActiveConfig) error {
	if err := c.ensureRegistrations(ctx, active); err != nil {
		return err
	}
	runID, err := c.registrar.BeginIndexerRun(ctx, registeredIndexer)
	if err != nil {
		return err
	}
	indexed, err := c.embedPush(ctx, name, active)
	if ferr := c.registrar.FinishIndexerRun(ctx, runID, indexed, err); ferr != nil {
		c.logger.Printf("warn: record indexer run: %v", ferr)
	}
	return err
}

func (c *Coordinator) ensureRegistrations(ctx context.Context, active *config.ActiveConfig) error {
	chunking := config.ChunkingConfig{}
	if p, ok := active.ProcessorForExtension("pdf"); ok {
		chunking = p.Chunking
	}
	if err := c.registrar.EnsureDataSource(ctx, index.DataSourceRegistration{
		Name:      registeredDataSource,
		Container: "documents",
	}); err != nil {
		return err
	}
	if err := c.registrar.EnsureSkillset(ctx, index.SkillsetRegistration{
		Name:         registeredSkillset,
		ChunkSize:    chunking.Size,
		ChunkOverlap: chunking.Overlap,
	}); err != nil {
		return err
	}
	return c.registrar.EnsureIndexer(ctx, index.IndexerRegistration{
		Name:       registeredIndexer,
		DataSource: registeredDataSource,
		Skillset:   registeredSkillset,
	})
}

// buildSource assembles the loader input: local bytes for parse-at-home
// strategies, a token-bearing URL for the analyzer ones.
func (c *Coordinator) buildSource(ctx context.Context, name, ext string, processor config.DocumentProcessor) (loader.Source, error) {
	src := loader.Source{
		URL:   c.sourceFor(name, ext),
		Title: path.Base(name),
	}
	switch processor.Loading.Strategy {
	case loader.StrategyDocx, loader.StrategyJSON:
		data, err := c.blob.Download(ctx, name)
		if err != nil {
			return loader.Source{}, fmt.Errorf("download %s: %w", name, err)
		}
		src.Data = data
	case loader.StrategyLayout, loader.StrategyRead:
		token, err := c.blob.MintContainerToken()
		if err != nil {
			return loader.Source{}, err
		}
		src.URL = strings.ReplaceAll(src.URL, models.SASPlaceholder, token)
	}
	return src, nil
}

func (c *Coordinator) sourceFor(name, ext string) string {
	if ext == "url" {
		return name
	}
	return c.blob.SourceURL(name)
}
