package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SASPlaceholder is the literal token embedded in persisted blob URLs. It is
// substituted with a short-lived container access token at render time.
const SASPlaceholder = "_SAS_TOKEN_PLACEHOLDER_"

// Chat roles used across the orchestration pipeline.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// SourceDocument is the single currency between loaders, chunkers, the index
// writer and the answer pipeline: one embedding-sized span of a source file.
type SourceDocument struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	Title      string `json:"title"`
	Chunk      int    `json:"chunk"`
	Offset     int    `json:"offset"`
	PageNumber int    `json:"page_number"`
	ChunkID    string `json:"chunk_id,omitempty"`
}

// DocumentID derives the stable identity of a chunk from its parent URL and
// ordinal. Re-ingesting the same file yields the same ids, which is what makes
// index upserts idempotent.
func DocumentID(sourceURL string, chunk int) string {
	h := sha256.Sum256([]byte(NormalizeSourceURL(sourceURL) + "_" + fmt.Sprint(chunk)))
	return "doc_" + hex.EncodeToString(h[:])
}

// NormalizeSourceURL canonicalizes a source URL for hashing and lookup:
// lowercase scheme/host, no fragment, no trailing slash.
func NormalizeSourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Fragment = ""
	if u.Scheme == "" {
		u.Scheme = "https"
	} else {
		u.Scheme = strings.ToLower(u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}

// Rekey assigns the document's identity from its source URL and ordinal.
func (d *SourceDocument) Rekey() {
	d.ID = DocumentID(d.Source, d.Chunk)
}

// Validate reports whether the record satisfies the model invariants.
func (d SourceDocument) Validate() error {
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("source document %s: empty content", d.ID)
	}
	if _, err := url.Parse(d.Source); err != nil {
		return fmt.Errorf("source document %s: unparseable source %q: %w", d.ID, d.Source, err)
	}
	return nil
}

// Answer is the return type of the answering tools: the model text plus the
// documents that were actually surfaced to it and the token spend.
type Answer struct {
	Question         string           `json:"question"`
	Answer           string           `json:"answer"`
	SourceDocuments  []SourceDocument `json:"source_documents"`
	PromptTokens     int64            `json:"prompt_tokens"`
	CompletionTokens int64            `json:"completion_tokens"`
}

var citationMarker = regexp.MustCompile(`\[doc(\d+)\]`)

// CitationMarkers returns the doc ordinals referenced in the answer text, in
// order of appearance (duplicates preserved).
func (a Answer) CitationMarkers() []int {
	var out []int
	for _, m := range citationMarker.FindAllStringSubmatch(a.Answer, -1) {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		out = append(out, n)
	}
	return out
}

// ChatMessage is one turn entry. History passed into the orchestrator is
// read-only; handlers return fresh reply slices.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	EndTurn *bool  `json:"end_turn,omitempty"`
}

// ChatHistory is an ordered sequence of prior turns.
type ChatHistory []ChatMessage

// LastUserMessage returns the content of the trailing user message, or false
// when the history does not end with one.
func (h ChatHistory) LastUserMessage() (string, bool) {
	if len(h) == 0 {
		return "", false
	}
	last := h[len(h)-1]
	if last.Role != RoleUser {
		return "", false
	}
	return last.Content, true
}
