package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/arcadian-io/docchat/models"
)

// docxLoader parses a Word document from src.Data. Headings keep their level
// as <h1>..<h6> markers so the layout chunker can split on structure.
type docxLoader struct{}

func (l *docxLoader) Load(_ context.Context, src Source) ([]models.SourceDocument, error) {
	if len(src.Data) == 0 {
		return nil, fmt.Errorf("load %s: no document bytes", src.URL)
	}
	zr, err := zip.NewReader(bytes.NewReader(src.Data), int64(len(src.Data)))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.URL, err)
	}
	var body []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", src.URL, err)
			}
			body, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", src.URL, err)
			}
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("load %s: word/document.xml missing", src.URL)
	}

	content, err := extractDocxText(body)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src.URL, err)
	}
	d := models.SourceDocument{
		Content: content,
		Source:  src.URL,
		Title:   src.Title,
	}
	d.Rekey()
	return []models.SourceDocument{d}, nil
}

// extractDocxText walks the WordprocessingML token stream. Paragraph styles
// Heading1..Heading6 become HTML heading tags; everything else is plain text
// separated by newlines.
func extractDocxText(doc []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(doc))
	var (
		out        strings.Builder
		para       strings.Builder
		inPara     bool
		headingLvl int
	)
	flush := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if headingLvl > 0 {
			fmt.Fprintf(&out, "<h%d>%s</h%d>\n", headingLvl, text, headingLvl)
		} else {
			out.WriteString(text)
			out.WriteByte('\n')
		}
	}
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				headingLvl = 0
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						headingLvl = headingLevel(attr.Value)
					}
				}
			case "t":
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					return "", fmt.Errorf("parse text run: %w", err)
				}
				para.WriteString(text)
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inPara {
				flush()
				inPara = false
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}

func headingLevel(style string) int {
	if !strings.HasPrefix(style, "Heading") {
		return 0
	}
	switch style {
	case "Heading1":
		return 1
	case "Heading2":
		return 2
	case "Heading3":
		return 3
	case "Heading4":
		return 4
	case "Heading5":
		return 5
	case "Heading6":
		return 6
	}
	return 0
}
