package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcadian-io/docchat/models"
)

// TokenMinter issues the short-lived container token substituted for the
// placeholder in citation URLs. Satisfied by the blob store.
type TokenMinter interface {
	MintContainerToken() (string, error)
}

// Response is the wire envelope for one answered turn.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Object  string   `json:"object"`
	Choices []Choice `json:"choices"`
}

// Choice carries the tool message (citations) and the assistant message
// (answer text), in that order.
type Choice struct {
	Messages []ResponseMessage `json:"messages"`
}

// ResponseMessage is one entry of a choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	EndTurn bool   `json:"end_turn"`
}

// Citation is one source surfaced to the client, numbered as the answer text
// cites it. Content opens with a markdown link to the tokenized URL; metadata
// carries the stored source document verbatim.
type Citation struct {
	Content  string          `json:"content"`
	ID       string          `json:"id"`
	ChunkID  string          `json:"chunk_id,omitempty"`
	Title    string          `json:"title"`
	Filepath string          `json:"filepath"`
	URL      string          `json:"url"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Parser turns an internal answer into the response envelope: whitespace
// normalization, citation renumbering by first appearance, and access-token
// substitution in source URLs.
type Parser struct {
	model  string
	minter TokenMinter
}

// NewParser builds the output parser. minter may be nil when the deployment
// serves no private documents.
func NewParser(model string, minter TokenMinter) *Parser {
	return &Parser{model: model, minter: minter}
}

var citationMarker = regexp.MustCompile(`\[doc(\d+)\]`)

// Parse renders the envelope for one answer.
func (p *Parser) Parse(_ context.Context, answer models.Answer) (Response, error) {
	text := collapseSpaces(answer.Answer)
	text, cited := renumberCitations(text, len(answer.SourceDocuments))

	token := ""
	if p.minter != nil && len(cited) > 0 {
		minted, err := p.minter.MintContainerToken()
		if err != nil {
			return Response{}, err
		}
		token = minted
	}

	citations := make([]Citation, 0, len(cited))
	for _, ordinal := range cited {
		doc := answer.SourceDocuments[ordinal-1]
		url := doc.Source
		if token != "" {
			url = strings.ReplaceAll(url, models.SASPlaceholder, token)
		}
		metadata, err := json.Marshal(doc)
		if err != nil {
			return Response{}, fmt.Errorf("serialize citation metadata: %w", err)
		}
		citations = append(citations, Citation{
			Content:  fmt.Sprintf("[%s](%s)\n\n\n%s", doc.Title, url, doc.Content),
			ID:       doc.ID,
			ChunkID:  doc.ChunkID,
			Title:    doc.Title,
			Filepath: doc.Title,
			URL:      url,
			Metadata: metadata,
		})
	}
	toolContent, err := json.Marshal(map[string]interface{}{
		"citations": citations,
		"intent":    answer.Question,
	})
	if err != nil {
		return Response{}, fmt.Errorf("serialize citations: %w", err)
	}

	return Response{
		ID:      uuid.NewString(),
		Model:   p.model,
		Created: time.Now().Unix(),
		Object:  "extensions.chat.completion",
		Choices: []Choice{{Messages: []ResponseMessage{
			{Role: models.RoleTool, Content: string(toolContent), EndTurn: false},
			{Role: models.RoleAssistant, Content: text, EndTurn: true},
		}}},
	}, nil
}

// collapseSpaces folds runs of spaces into one; newlines are preserved.
func collapseSpaces(text string) string {
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}
	return strings.TrimSpace(text)
}

// renumberCitations rewrites [docN] markers so numbering follows first
// appearance in the text. Markers referencing documents that were never
// retrieved are dropped. The returned slice maps new numbers back to the
// original document ordinals.
func renumberCitations(text string, docCount int) (string, []int) {
	assigned := map[int]int{} // original ordinal -> new number
	var order []int           // new number -> original ordinal

	out := citationMarker.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(citationMarker.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > docCount {
			return ""
		}
		newN, ok := assigned[n]
		if !ok {
			order = append(order, n)
			newN = len(order)
			assigned[n] = newN
		}
		return fmt.Sprintf("[doc%d]", newN)
	})
	return out, order
}
