package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Indexer run statuses.
const (
	IndexerStatusRunning = "running"
	IndexerStatusSuccess = "success"
	IndexerStatusFailed  = "failed"
)

// DataSourceRegistration binds an indexer to a document container prefix.
type DataSourceRegistration struct {
	Name      string
	Container string
	Prefix    string
}

// SkillsetRegistration records the server-side enrichment pipeline: how the
// indexer splits and embeds documents without the caller pushing vectors.
type SkillsetRegistration struct {
	Name           string
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
}

// IndexerRegistration wires a data source and skillset together.
type IndexerRegistration struct {
	Name       string
	DataSource string
	Skillset   string
	Schedule   string // cron expression, empty for on-demand only
}

// IndexerRun is one recorded execution of a registered indexer.
type IndexerRun struct {
	Indexer    string
	Status     string
	Documents  int
	Error      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// EnsureDataSource upserts a data source registration.
func (s *Store) EnsureDataSource(ctx context.Context, reg DataSourceRegistration) error {
	if reg.Name == "" {
		return fmt.Errorf("data source name required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO index_data_sources (name, container, prefix, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (name) DO UPDATE SET
  container = EXCLUDED.container,
  prefix = EXCLUDED.prefix,
  updated_at = NOW();
`, reg.Name, reg.Container, reg.Prefix)
	if err != nil {
		return fmt.Errorf("ensure data source: %w", err)
	}
	return nil
}

// EnsureSkillset upserts a skillset registration.
func (s *Store) EnsureSkillset(ctx context.Context, reg SkillsetRegistration) error {
	if reg.Name == "" {
		return fmt.Errorf("skillset name required")
	}
	spec, err := json.Marshal(map[string]interface{}{
		"chunk_size":      reg.ChunkSize,
		"chunk_overlap":   reg.ChunkOverlap,
		"embedding_model": reg.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("serialize skillset: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO index_skillsets (name, spec, updated_at)
VALUES ($1,$2,NOW())
ON CONFLICT (name) DO UPDATE SET
  spec = EXCLUDED.spec,
  updated_at = NOW();
`, reg.Name, spec)
	if err != nil {
		return fmt.Errorf("ensure skillset: %w", err)
	}
	return nil
}

// EnsureIndexer upserts an indexer registration.
func (s *Store) EnsureIndexer(ctx context.Context, reg IndexerRegistration) error {
	if reg.Name == "" || reg.DataSource == "" || reg.Skillset == "" {
		return fmt.Errorf("indexer registration incomplete")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO index_indexers (name, data_source, skillset, schedule, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (name) DO UPDATE SET
  data_source = EXCLUDED.data_source,
  skillset = EXCLUDED.skillset,
  schedule = EXCLUDED.schedule,
  updated_at = NOW();
`, reg.Name, reg.DataSource, reg.Skillset, reg.Schedule)
	if err != nil {
		return fmt.Errorf("ensure indexer: %w", err)
	}
	return nil
}

// GetSkillset loads a registered skillset by name.
func (s *Store) GetSkillset(ctx context.Context, name string) (SkillsetRegistration, error) {
	var spec []byte
	err := s.DB.QueryRowContext(ctx, `SELECT spec FROM index_skillsets WHERE name = $1`, name).Scan(&spec)
	if err != nil {
		return SkillsetRegistration{}, fmt.Errorf("get skillset %s: %w", name, err)
	}
	var raw struct {
		ChunkSize      int    `json:"chunk_size"`
		ChunkOverlap   int    `json:"chunk_overlap"`
		EmbeddingModel string `json:"embedding_model"`
	}
	if err := json.Unmarshal(spec, &raw); err != nil {
		return SkillsetRegistration{}, fmt.Errorf("parse skillset %s: %w", name, err)
	}
	return SkillsetRegistration{
		Name:           name,
		ChunkSize:      raw.ChunkSize,
		ChunkOverlap:   raw.ChunkOverlap,
		EmbeddingModel: raw.EmbeddingModel,
	}, nil
}

// BeginIndexerRun records the start of an indexer execution and returns the
// run id.
func (s *Store) BeginIndexerRun(ctx context.Context, indexer string) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO index_indexer_runs (indexer, status, started_at)
VALUES ($1,$2,NOW())
RETURNING id
`, indexer, IndexerStatusRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("begin indexer run: %w", err)
	}
	return id, nil
}

// FinishIndexerRun records the outcome of an indexer execution.
func (s *Store) FinishIndexerRun(ctx context.Context, runID int64, documents int, runErr error) error {
	status := IndexerStatusSuccess
	msg := ""
	if runErr != nil {
		status = IndexerStatusFailed
		msg = runErr.Error()
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE index_indexer_runs
SET status = $2, documents = $3, error = $4, finished_at = NOW()
WHERE id = $1
`, runID, status, documents, msg)
	if err != nil {
		return fmt.Errorf("finish indexer run: %w", err)
	}
	return nil
}

// LastIndexerRun returns the most recent run for an indexer, if any.
func (s *Store) LastIndexerRun(ctx context.Context, indexer string) (IndexerRun, bool, error) {
	var run IndexerRun
	err := s.DB.QueryRowContext(ctx, `
SELECT indexer, status, documents, error, started_at, finished_at
FROM index_indexer_runs
WHERE indexer = $1
ORDER BY started_at DESC
LIMIT 1
`, indexer).Scan(&run.Indexer, &run.Status, &run.Documents, &run.Error, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return IndexerRun{}, false, nil
	}
	if err != nil {
		return IndexerRun{}, false, fmt.Errorf("last indexer run: %w", err)
	}
	return run, true, nil
}
