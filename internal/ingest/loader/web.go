package loader

import (
	"context"
	"fmt"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/arcadian-io/docchat/models"
)

// webLoader fetches a public URL and extracts the readable article body.
type webLoader struct {
	httpClient *http.Client
}

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

func (l *webLoader) Load(ctx context.Context, src Source) ([]models.SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", "docchat-ingest/1.0")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", src.URL, resp.StatusCode)
	}

	parsed, err := nurl.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %s: %w", src.URL, err)
	}
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", src.URL, err)
	}

	content := CleanText(article.TextContent)
	if content == "" {
		// nothing readable survived cleaning, so there is nothing to index
		return nil, nil
	}
	title := src.Title
	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	d := models.SourceDocument{
		Content: content,
		Source:  src.URL,
		Title:   title,
	}
	d.Rekey()
	return []models.SourceDocument{d}, nil
}

// CleanText normalizes extracted web text: runs of spaces collapse to one,
// blank-line runs collapse to a paragraph break, and control characters and
// private-use glyphs (icon fonts) are stripped.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\t' || r == ' ':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// control character
		case r >= 0xE000 && r <= 0xF8FF:
			// private use area
		default:
			b.WriteRune(r)
		}
	}
	cleaned := reSpaces.ReplaceAllString(b.String(), " ")
	cleaned = reNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
