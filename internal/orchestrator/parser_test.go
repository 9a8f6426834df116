package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/arcadian-io/docchat/models"
)

func parseAnswer(t *testing.T, answer models.Answer) Response {
	t.Helper()
	p := NewParser("gpt-4o-mini", &stubMinter{token: "tok"})
	resp, err := p.Parse(context.Background(), answer)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return resp
}

func TestCitationRenumberingByFirstAppearance(t *testing.T) {
	t.Parallel()
	sources := []models.SourceDocument{
		{ID: "s1", Content: "one", Source: "https://h/1"},
		{ID: "s2", Content: "two", Source: "https://h/2"},
		{ID: "s3", Content: "three", Source: "https://h/3"},
	}
	resp := parseAnswer(t, models.Answer{
		Answer:          "A [doc3]. B [doc1]. C [doc3].",
		SourceDocuments: sources,
	})
	if got := assistantContent(t, resp); got != "A [doc1]. B [doc2]. C [doc1]." {
		t.Fatalf("text = %q", got)
	}
	citations := toolCitations(t, resp)
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(citations))
	}
	if citations[0].ID != "s3" || citations[1].ID != "s1" {
		t.Fatalf("citation order = %q, %q", citations[0].ID, citations[1].ID)
	}
}

func TestToolMessageCarriesIntentAndSourceShape(t *testing.T) {
	t.Parallel()
	stored := models.SourceDocument{
		ID:      "doc_1",
		Content: "chunk text",
		Title:   "/docs/doc.pdf",
		Source:  "https://h/docs/doc.pdf?token=" + models.SASPlaceholder,
		ChunkID: "3",
	}
	resp := parseAnswer(t, models.Answer{
		Question:        "What is the meaning of life?",
		Answer:          "42[doc1].",
		SourceDocuments: []models.SourceDocument{stored},
	})
	var payload struct {
		Citations []Citation `json:"citations"`
		Intent    string     `json:"intent"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Messages[0].Content), &payload); err != nil {
		t.Fatalf("tool content not JSON: %v", err)
	}
	if payload.Intent != "What is the meaning of life?" {
		t.Fatalf("intent = %q", payload.Intent)
	}
	if len(payload.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(payload.Citations))
	}
	c := payload.Citations[0]
	if c.Filepath != "/docs/doc.pdf" {
		t.Fatalf("filepath = %q", c.Filepath)
	}
	wantLink := "[/docs/doc.pdf](https://h/docs/doc.pdf?token=tok)"
	if !strings.HasPrefix(c.Content, wantLink+"\n\n\n") || !strings.HasSuffix(c.Content, "chunk text") {
		t.Fatalf("content = %q", c.Content)
	}
	var meta models.SourceDocument
	if err := json.Unmarshal(c.Metadata, &meta); err != nil {
		t.Fatalf("metadata not a source document: %v", err)
	}
	if meta.ID != "doc_1" || !strings.Contains(meta.Source, models.SASPlaceholder) {
		t.Fatalf("metadata = %+v, want the stored document verbatim", meta)
	}
}

func TestMarkersStrippedWithoutSources(t *testing.T) {
	t.Parallel()
	resp := parseAnswer(t, models.Answer{
		Answer: "Claim[doc1] and claim[doc2].",
	})
	if got := assistantContent(t, resp); got != "Claim and claim." {
		t.Fatalf("text = %q", got)
	}
	if citations := toolCitations(t, resp); len(citations) != 0 {
		t.Fatalf("citations = %+v", citations)
	}
}

func TestOutOfRangeMarkerDropped(t *testing.T) {
	t.Parallel()
	resp := parseAnswer(t, models.Answer{
		Answer:          "Good[doc1] bad[doc9].",
		SourceDocuments: []models.SourceDocument{{ID: "s1", Content: "x", Source: "https://h/1"}},
	})
	if got := assistantContent(t, resp); got != "Good[doc1] bad." {
		t.Fatalf("text = %q", got)
	}
}

func TestDoubleSpacesCollapsed(t *testing.T) {
	t.Parallel()
	resp := parseAnswer(t, models.Answer{Answer: "a  b    c"})
	if got := assistantContent(t, resp); got != "a b c" {
		t.Fatalf("text = %q", got)
	}
}

func TestToolMessagePrecedesAssistant(t *testing.T) {
	t.Parallel()
	resp := parseAnswer(t, models.Answer{Answer: "plain"})
	msgs := resp.Choices[0].Messages
	if len(msgs) != 2 || msgs[0].Role != models.RoleTool || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].EndTurn || !msgs[1].EndTurn {
		t.Fatalf("end_turn flags = %v, %v", msgs[0].EndTurn, msgs[1].EndTurn)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(msgs[0].Content), &payload); err != nil {
		t.Fatalf("tool content not JSON: %v", err)
	}
}
