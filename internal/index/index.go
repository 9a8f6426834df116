package index

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/lib/pq"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
)

// Search modes.
const (
	SearchVector         = "vector"
	SearchHybrid         = "hybrid"
	SearchSemanticHybrid = "semantic_hybrid"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// IndexedDocument is a chunk plus its embedding, ready for upsert.
type IndexedDocument struct {
	models.SourceDocument
	Vector []float32
}

// Query is one retrieval request against the chunk index.
type Query struct {
	Question  string
	Embedding []float32
	TopK      int
	Filter    string // optional LIKE pattern applied to source
	Mode      string
}

// lexicalDoc is what the sidecar index holds per chunk.
type lexicalDoc struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Source  string `json:"source"`
}

// Store is the chunk index: Postgres/pgvector for vectors and metadata, with
// a bleve sidecar for the lexical leg of hybrid search.
type Store struct {
	DB      *sql.DB
	lexical bleve.Index
	logger  *log.Logger

	mu        sync.Mutex // serializes sidecar batches
	batchSize int
}

// Open connects to Postgres and opens (or creates) the lexical sidecar.
func Open(cfg config.IndexConfig, logger *log.Logger) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping index database: %w", err)
	}
	lexical, err := openLexical(cfg.LexicalPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Store{DB: db, lexical: lexical, logger: logger, batchSize: batch}, nil
}

func openLexical(path string) (bleve.Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("open lexical index: %w", err)
		}
		return idx, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		idx, err := bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create lexical index: %w", err)
		}
		return idx, nil
	}
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return idx, nil
}

// Close releases the database and sidecar handles.
func (s *Store) Close() error {
	if err := s.lexical.Close(); err != nil {
		return err
	}
	return s.DB.Close()
}

// UploadDocuments upserts a batch of chunks. The batch is all-or-nothing: any
// failure rolls back and no chunk from it becomes searchable.
func (s *Store) UploadDocuments(ctx context.Context, docs []IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO documents (id, content, source, title, chunk, chunk_offset, page_number, chunk_id, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::vector,NOW())
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  source = EXCLUDED.source,
  title = EXCLUDED.title,
  chunk = EXCLUDED.chunk,
  chunk_offset = EXCLUDED.chunk_offset,
  page_number = EXCLUDED.page_number,
  chunk_id = EXCLUDED.chunk_id,
  embedding = EXCLUDED.embedding,
  updated_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, doc := range docs {
		if verr := doc.Validate(); verr != nil {
			err = fmt.Errorf("document %s: %w", doc.ID, verr)
			return err
		}
		var vectorLiteral string
		vectorLiteral, err = encodeVectorLiteral(doc.Vector)
		if err != nil {
			err = fmt.Errorf("document %s: %w", doc.ID, err)
			return err
		}
		if _, err = stmt.ExecContext(ctx, doc.ID, doc.Content, doc.Source, doc.Title,
			doc.Chunk, doc.Offset, doc.PageNumber, doc.ChunkID, vectorLiteral); err != nil {
			err = fmt.Errorf("upsert document %s: %w", doc.ID, err)
			return err
		}
	}
	if err != nil {
		return err
	}

	// The sidecar follows the committed batch. A sidecar failure is logged
	// but does not fail the upload; vector search stays authoritative.
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.lexical.NewBatch()
	for _, doc := range docs {
		if berr := batch.Index(doc.ID, lexicalDoc{Content: doc.Content, Title: doc.Title, Source: doc.Source}); berr != nil {
			s.logger.Printf("lexical index %s: %v", doc.ID, berr)
		}
	}
	if berr := s.lexical.Batch(batch); berr != nil {
		s.logger.Printf("lexical batch: %v", berr)
	}
	return nil
}

// DeleteDocuments removes chunks by id.
func (s *Store) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.lexical.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.lexical.Batch(batch); err != nil {
		s.logger.Printf("lexical delete batch: %v", err)
	}
	return nil
}

// DeleteBySource removes every chunk whose source matches the given LIKE
// pattern. Used when a file is deleted from the container.
func (s *Store) DeleteBySource(ctx context.Context, pattern string) (int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM documents WHERE source LIKE $1`, pattern)
	if err != nil {
		return 0, fmt.Errorf("select by source: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := s.DeleteDocuments(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

type hit struct {
	id    string
	score float64
	rank  int
}

// Search runs one retrieval. Vector mode queries pgvector alone; hybrid adds
// the lexical leg and fuses with RRF; semantic-hybrid reranks the fused list
// by query-term overlap.
func (s *Store) Search(ctx context.Context, q Query) ([]models.SourceDocument, error) {
	if q.TopK <= 0 {
		q.TopK = 4
	}
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("query embedding required")
	}

	vectorHits, err := s.vectorSearch(ctx, q.Embedding, q.TopK*3, q.Filter)
	if err != nil {
		return nil, err
	}

	var fused []hit
	switch q.Mode {
	case SearchVector, "":
		fused = vectorHits
	case SearchHybrid, SearchSemanticHybrid:
		lexicalHits, err := s.lexicalSearch(q.Question, q.TopK*3)
		if err != nil {
			return nil, err
		}
		fused = fuseRRF(vectorHits, lexicalHits)
	default:
		return nil, fmt.Errorf("unknown search mode %q", q.Mode)
	}

	if len(fused) > q.TopK*3 {
		fused = fused[:q.TopK*3]
	}
	docs, err := s.fetchDocuments(ctx, fused, q.Filter)
	if err != nil {
		return nil, err
	}
	if q.Mode == SearchSemanticHybrid {
		docs = rerankByOverlap(q.Question, docs, fused)
	}
	if len(docs) > q.TopK {
		docs = docs[:q.TopK]
	}
	return docs, nil
}

func (s *Store) vectorSearch(ctx context.Context, embedding []float32, limit int, filter string) ([]hit, error) {
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return nil, err
	}
	query := `
SELECT id, embedding <=> $1::vector AS distance
FROM documents`
	args := []interface{}{vecLiteral}
	if filter != "" {
		query += ` WHERE source LIKE $2`
		args = append(args, filter)
	}
	query += `
ORDER BY embedding <=> $1::vector
LIMIT ` + strconv.Itoa(limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	var hits []hit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, hit{id: id, score: 1 - distance, rank: len(hits) + 1})
	}
	return hits, rows.Err()
}

func (s *Store) lexicalSearch(question string, limit int) ([]hit, error) {
	query := bleve.NewQueryStringQuery(question)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := s.lexical.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	var hits []hit
	for i, h := range res.Hits {
		hits = append(hits, hit{id: h.ID, score: h.Score, rank: i + 1})
	}
	return hits, nil
}

func fuseRRF(a, b []hit) []hit {
	type agg struct {
		item  hit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []hit) {
		for _, h := range list {
			x, ok := m[h.id]
			if !ok {
				m[h.id] = &agg{item: h}
				x = m[h.id]
			}
			x.score += 1.0 / float64(rrfK+h.rank)
		}
	}
	add(a)
	add(b)
	fused := make([]hit, 0, len(m))
	for _, v := range m {
		v.item.score = v.score
		fused = append(fused, v.item)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].score > fused[j].score })
	for i := range fused {
		fused[i].rank = i + 1
	}
	return fused
}

// fetchDocuments hydrates the hit ids from Postgres, preserving hit order.
// Lexical-only hits that fall outside the filter are dropped here.
func (s *Store) fetchDocuments(ctx context.Context, hits []hit, filter string) ([]models.SourceDocument, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	query := `
SELECT id, content, source, title, chunk, chunk_offset, page_number, chunk_id
FROM documents WHERE id = ANY($1)`
	args := []interface{}{pq.Array(ids)}
	if filter != "" {
		query += ` AND source LIKE $2`
		args = append(args, filter)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch documents: %w", err)
	}
	defer rows.Close()
	byID := make(map[string]models.SourceDocument, len(hits))
	for rows.Next() {
		var d models.SourceDocument
		if err := rows.Scan(&d.ID, &d.Content, &d.Source, &d.Title, &d.Chunk, &d.Offset, &d.PageNumber, &d.ChunkID); err != nil {
			return nil, err
		}
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.SourceDocument, 0, len(hits))
	for _, h := range hits {
		if d, ok := byID[h.id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// rerankByOverlap is the semantic leg: re-orders the fused list by how many
// query terms each chunk actually contains, fused score breaking ties.
func rerankByOverlap(question string, docs []models.SourceDocument, fused []hit) []models.SourceDocument {
	scoreByID := make(map[string]float64, len(fused))
	for _, h := range fused {
		scoreByID[h.id] = h.score
	}
	terms := strings.Fields(strings.ToLower(question))
	type scored struct {
		doc     models.SourceDocument
		overlap int
		fused   float64
	}
	items := make([]scored, 0, len(docs))
	for _, d := range docs {
		content := strings.ToLower(d.Content)
		overlap := 0
		for _, t := range terms {
			if strings.Contains(content, t) {
				overlap++
			}
		}
		items = append(items, scored{doc: d, overlap: overlap, fused: scoreByID[d.ID]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].overlap != items[j].overlap {
			return items[i].overlap > items[j].overlap
		}
		return items[i].fused > items[j].fused
	})
	out := make([]models.SourceDocument, len(items))
	for i, it := range items {
		out[i] = it.doc
	}
	return out
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
