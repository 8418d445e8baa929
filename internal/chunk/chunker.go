// Package chunk splits normalized document text into overlapping,
// sentence-boundary-aware segments for retrieval indexing.
//
// A Splitter walks the text with a cursor: each segment is at most Size
// characters, preferring to end just past the closest sentence terminator
// found in the last boundaryWindow characters before the cut. Consecutive
// segments re-read the final Overlap characters so context survives the cut.
package chunk

import (
	"errors"
	"strconv"
	"strings"
)

// Default splitting parameters, tuned for embedding models with a few
// hundred tokens of useful context per passage.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// boundaryWindow is how far back from the candidate cut we look for a
// sentence terminator.
const boundaryWindow = 100

// ErrOverlapTooLarge is returned by NewSplitter when the overlap is not
// strictly smaller than the segment size. With overlap >= size the cursor
// would never advance.
var ErrOverlapTooLarge = errors.New("chunk overlap must be smaller than chunk size")

// Provenance identifies where a piece of text came from. Page is 1-based;
// zero means the source has no page structure.
type Provenance struct {
	DocumentID string
	Filename   string
	Page       int
}

// Chunk is one retrievable segment of a document. Immutable once created.
type Chunk struct {
	DocumentID string
	Index      int    // 0-based position within the document's chunk sequence
	Content    string // trimmed, never empty
	Filename   string
	Page       int // 1-based, 0 = unknown
	Start      int // rune offsets into the normalized source text
	End        int
}

// Length returns the content length in bytes.
func (c Chunk) Length() int { return len(c.Content) }

// PageLabel renders the page for citations: the number, or "unknown" for
// unpaged sources.
func (c Chunk) PageLabel() string {
	if c.Page <= 0 {
		return "unknown"
	}
	return strconv.Itoa(c.Page)
}

// Splitter produces Chunks from normalized text.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter validates the configuration and returns a Splitter.
// Non-positive values fall back to the defaults.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		return nil, ErrOverlapTooLarge
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split divides text into chunks tagged with prov, indexed from 0. Size,
// overlap and offsets are all measured in runes, so a cut never lands inside
// a multi-byte character.
//
// Callers splitting page-structured documents invoke Split once per page and
// renumber the indices so the sequence stays contiguous for the whole
// document; offsets are then relative to the page's normalized text. A
// sentence spanning two pages is never merged across the boundary.
func (s *Splitter) Split(text string, prov Provenance) []Chunk {
	var chunks []Chunk
	runes := []rune(text)
	start := 0
	index := 0

	for start < len(runes) {
		end := start + s.size
		if end < len(runes) {
			// Prefer to cut just past the closest sentence terminator
			// in the window before the candidate end.
			if cut := lastTerminator(runes, start, end); cut > start {
				end = cut + 1
			}
		} else {
			end = len(runes)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, Chunk{
				DocumentID: prov.DocumentID,
				Index:      index,
				Content:    piece,
				Filename:   prov.Filename,
				Page:       prov.Page,
				Start:      start,
				End:        end,
			})
			index++
		}

		if end < len(runes) {
			next := end - s.overlap
			if next <= start {
				// Boundary adjustment landed too close to start; step
				// forward rather than loop forever.
				next = start + 1
			}
			start = next
		} else {
			start = end
		}
	}

	return chunks
}

// lastTerminator returns the position of the last '.', '!' or '?' within
// the boundaryWindow runes preceding end, or -1 when none qualifies.
func lastTerminator(runes []rune, start, end int) int {
	lo := end - boundaryWindow
	if lo < start {
		lo = start
	}
	for i := end - 1; i >= lo; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
