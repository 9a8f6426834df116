package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
)

// Chunking strategies selectable per document processor.
const (
	StrategyLayout           = "layout"
	StrategyPage             = "page"
	StrategyFixedSizeOverlap = "fixed_size_overlap"
	StrategyParagraph        = "paragraph"
	StrategyJSON             = "json"
	StrategyMock             = "mock"
)

// ErrNotImplemented marks strategies that are recognized but not available.
var ErrNotImplemented = errors.New("not implemented")

// Sizes are configured in tokens; chunking operates on characters at the
// usual plain-text ratio.
const charsPerToken = 4

// Chunker splits loaded documents into embedding-sized chunks. Output chunks
// carry sequential ordinals per source and fresh content-addressed ids.
type Chunker interface {
	Chunk(docs []models.SourceDocument, cfg config.ChunkingConfig) ([]models.SourceDocument, error)
}

// New returns the chunker for a strategy.
func New(strategy string) (Chunker, error) {
	switch strategy {
	case StrategyLayout:
		return &layoutChunker{}, nil
	case StrategyPage:
		return &pageChunker{}, nil
	case StrategyFixedSizeOverlap:
		return &fixedChunker{}, nil
	case StrategyParagraph:
		return nil, fmt.Errorf("chunking strategy %q: %w", strategy, ErrNotImplemented)
	case StrategyJSON:
		return &jsonChunker{}, nil
	case StrategyMock:
		return &mockChunker{}, nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

func window(cfg config.ChunkingConfig) (size, overlap int) {
	size = cfg.Size * charsPerToken
	if size <= 0 {
		size = 500 * charsPerToken
	}
	overlap = cfg.Overlap * charsPerToken
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return size, overlap
}

// makeChunks splits text into approx-sized pieces with the requested overlap.
// Window edges snap back to rune starts so multibyte runes never straddle two
// chunks.
func makeChunks(text string, approx, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	return chunks
}

// emit builds the output chunk records for one source, assigning ordinals,
// offsets and ids.
func emit(template models.SourceDocument, parts []string, step int) []models.SourceDocument {
	out := make([]models.SourceDocument, 0, len(parts))
	for i, part := range parts {
		d := template
		d.Content = part
		d.Chunk = i
		d.Offset = template.Offset + i*step
		d.Rekey()
		out = append(out, d)
	}
	return out
}

// fixedChunker joins the whole document and slices fixed windows across it,
// ignoring page and heading boundaries.
type fixedChunker struct{}

func (c *fixedChunker) Chunk(docs []models.SourceDocument, cfg config.ChunkingConfig) ([]models.SourceDocument, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	size, overlap := window(cfg)
	var full strings.Builder
	for i, d := range docs {
		if i > 0 {
			full.WriteByte('\n')
		}
		full.WriteString(d.Content)
	}
	template := docs[0]
	template.PageNumber = 0
	parts := makeChunks(full.String(), size, overlap)
	return emit(template, parts, size-overlap), nil
}

// pageChunker respects page boundaries: each page is split on its own and
// chunks keep their page number.
type pageChunker struct{}

func (c *pageChunker) Chunk(docs []models.SourceDocument, cfg config.ChunkingConfig) ([]models.SourceDocument, error) {
	size, overlap := window(cfg)
	var out []models.SourceDocument
	ordinal := 0
	for _, page := range docs {
		for i, part := range makeChunks(page.Content, size, overlap) {
			d := page
			d.Content = part
			d.Chunk = ordinal
			d.Offset = page.Offset + i*(size-overlap)
			d.Rekey()
			out = append(out, d)
			ordinal++
		}
	}
	return out, nil
}

// layoutChunker splits on structural boundaries first (headings from layout
// analysis or markdown), then packs sections into windows. A section larger
// than the window falls back to fixed slicing.
type layoutChunker struct{}

func (c *layoutChunker) Chunk(docs []models.SourceDocument, cfg config.ChunkingConfig) ([]models.SourceDocument, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	size, overlap := window(cfg)
	var full strings.Builder
	for i, d := range docs {
		if i > 0 {
			full.WriteByte('\n')
		}
		full.WriteString(d.Content)
	}
	sections := splitSections(full.String())

	var parts []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	for _, section := range sections {
		if len(section) > size {
			flush()
			parts = append(parts, makeChunks(section, size, overlap)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(section)+1 > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(section)
	}
	flush()

	template := docs[0]
	template.PageNumber = 0
	return emit(template, parts, size-overlap), nil
}

// splitSections cuts text at heading markers: <h1>..<h6> tags emitted by the
// structural loaders, or markdown # headings.
func splitSections(text string) []string {
	lines := strings.Split(text, "\n")
	var sections []string
	var current strings.Builder
	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			sections = append(sections, s)
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isHeading(trimmed) {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return sections
}

func isHeading(line string) bool {
	if strings.HasPrefix(line, "#") {
		return true
	}
	if len(line) >= 4 && strings.HasPrefix(line, "<h") && line[2] >= '1' && line[2] <= '6' && line[3] == '>' {
		return true
	}
	return false
}

// jsonChunker keeps the loader's element boundaries; each element is already
// one retrieval unit.
type jsonChunker struct{}

func (c *jsonChunker) Chunk(docs []models.SourceDocument, _ config.ChunkingConfig) ([]models.SourceDocument, error) {
	out := make([]models.SourceDocument, 0, len(docs))
	for i, d := range docs {
		d.Chunk = i
		d.Rekey()
		out = append(out, d)
	}
	return out, nil
}

// mockChunker passes documents through untouched apart from identity. Used in
// tests and dry runs.
type mockChunker struct{}

func (c *mockChunker) Chunk(docs []models.SourceDocument, _ config.ChunkingConfig) ([]models.SourceDocument, error) {
	out := make([]models.SourceDocument, 0, len(docs))
	for i, d := range docs {
		d.Chunk = i
		d.Rekey()
		out = append(out, d)
	}
	return out, nil
}
