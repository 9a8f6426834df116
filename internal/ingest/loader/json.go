package loader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcadian-io/docchat/models"
)

// jsonLoader parses src.Data as JSON. A top-level array yields one document
// per element so record-shaped corpora keep their element boundaries; any
// other shape becomes a single document.
type jsonLoader struct{}

func (l *jsonLoader) Load(_ context.Context, src Source) ([]models.SourceDocument, error) {
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("load %s: no document bytes", src.URL)
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(src.Data, &elements); err != nil {
		// Not an array. Whole payload must still be valid JSON.
		var anything interface{}
		if err := json.Unmarshal(src.Data, &anything); err != nil {
			return nil, fmt.Errorf("load %s: invalid json: %w", src.URL, err)
		}
		d := models.SourceDocument{
			Content: string(src.Data),
			Source:  src.URL,
			Title:   src.Title,
		}
		d.Rekey()
		return []models.SourceDocument{d}, nil
	}

	docs := make([]models.SourceDocument, 0, len(elements))
	for i, el := range elements {
		d := models.SourceDocument{
			Content: string(el),
			Source:  src.URL,
			Title:   src.Title,
			Chunk:   i,
		}
		d.Rekey()
		docs = append(docs, d)
	}
	return docs, nil
}
