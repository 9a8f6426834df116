package loader

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arcadian-io/docchat/internal/analyzer"
	"github.com/arcadian-io/docchat/models"
)

// Loading strategies selectable per document processor.
const (
	StrategyLayout = "layout"
	StrategyRead   = "read"
	StrategyWeb    = "web"
	StrategyDocx   = "docx"
	StrategyJSON   = "json"
)

// Source is one document to load. URL always identifies it; Data carries the
// raw bytes for strategies that parse locally (docx, json).
type Source struct {
	URL   string
	Title string
	Data  []byte
}

// Loader turns a source into un-chunked documents. Page-oriented loaders
// emit one document per page; the rest emit a single document.
type Loader interface {
	Load(ctx context.Context, src Source) ([]models.SourceDocument, error)
}

// Deps carries the clients loaders may need.
type Deps struct {
	Analyzer   *analyzer.Client
	HTTPClient *http.Client
}

// New returns the loader for a strategy.
func New(strategy string, deps Deps) (Loader, error) {
	switch strategy {
	case StrategyLayout:
		return &analyzerLoader{client: deps.Analyzer, mode: analyzer.ModeLayout}, nil
	case StrategyRead:
		return &analyzerLoader{client: deps.Analyzer, mode: analyzer.ModeRead}, nil
	case StrategyWeb:
		httpClient := deps.HTTPClient
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		return &webLoader{httpClient: httpClient}, nil
	case StrategyDocx:
		return &docxLoader{}, nil
	case StrategyJSON:
		return &jsonLoader{}, nil
	default:
		return nil, fmt.Errorf("unknown loading strategy %q", strategy)
	}
}

// analyzerLoader sends the document to the analysis service and emits one
// document per returned page, carrying page number and character offset.
type analyzerLoader struct {
	client *analyzer.Client
	mode   string
}

func (l *analyzerLoader) Load(ctx context.Context, src Source) ([]models.SourceDocument, error) {
	if l.client == nil {
		return nil, fmt.Errorf("analyzer not configured")
	}
	pages, err := l.client.AnalyzeFromURL(ctx, src.URL, l.mode)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.URL, err)
	}
	docs := make([]models.SourceDocument, 0, len(pages))
	for _, page := range pages {
		d := models.SourceDocument{
			Content:    page.PageText,
			Source:     src.URL,
			Title:      src.Title,
			Offset:     page.Offset,
			PageNumber: page.PageNumber,
		}
		d.Rekey()
		docs = append(docs, d)
	}
	return docs, nil
}
