package rag

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pwojcik/docrag/internal/index"
)

// previewLength is how many characters of a chunk a citation shows.
const previewLength = 200

// Source is one citation record, parallel to the assembled context.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       string  `json:"page"`
	Score      float64 `json:"score"`
	Preview    string  `json:"preview"`
}

// BuildContext concatenates retrieved chunks into one prompt-ready block.
// Each chunk gets a header with its 1-based ordinal, source document, and
// page, followed by the full chunk content; chunks are separated by blank
// lines. Order is preserved exactly as given.
func BuildContext(matches []index.Match) string {
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source %d] %s (page %s)\n%s",
			i+1, m.Meta.Filename, pageLabel(m.Meta.Page), m.Content)
	}
	return sb.String()
}

// BuildSources produces the citation list for the same matches, in the same
// order. Previews are cut at previewLength characters with an ellipsis
// marker; scores are rounded to three decimals.
func BuildSources(matches []index.Match) []Source {
	sources := make([]Source, len(matches))
	for i, m := range matches {
		sources[i] = Source{
			DocumentID: m.Meta.DocumentID,
			Filename:   m.Meta.Filename,
			Page:       pageLabel(m.Meta.Page),
			Score:      roundScore(float64(m.Score)),
			Preview:    preview(m.Content),
		}
	}
	return sources
}

func pageLabel(page int) string {
	if page <= 0 {
		return "unknown"
	}
	return strconv.Itoa(page)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}

func roundScore(s float64) float64 {
	return math.Round(s*1000) / 1000
}
