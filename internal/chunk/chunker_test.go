package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func mustSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := NewSplitter(size, overlap)
	if err != nil {
		t.Fatalf("NewSplitter(%d, %d): %v", size, overlap, err)
	}
	return s
}

func TestNewSplitterRejectsOverlap(t *testing.T) {
	if _, err := NewSplitter(100, 100); err != ErrOverlapTooLarge {
		t.Errorf("overlap == size: got err %v, want ErrOverlapTooLarge", err)
	}
	if _, err := NewSplitter(100, 150); err != ErrOverlapTooLarge {
		t.Errorf("overlap > size: got err %v, want ErrOverlapTooLarge", err)
	}
	if _, err := NewSplitter(100, 99); err != nil {
		t.Errorf("overlap < size: unexpected error %v", err)
	}
}

func TestSplitShortText(t *testing.T) {
	s := mustSplitter(t, 1000, 200)

	chunks := s.Split("a short note without much in it", Provenance{DocumentID: "d1"})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "a short note without much in it" {
		t.Errorf("content = %q", chunks[0].Content)
	}
	if chunks[0].Index != 0 {
		t.Errorf("index = %d, want 0", chunks[0].Index)
	}
}

func TestSplitEmptyAfterTrim(t *testing.T) {
	s := mustSplitter(t, 100, 10)
	if chunks := s.Split("    \n\n   ", Provenance{}); chunks != nil {
		t.Errorf("whitespace-only text produced %d chunks", len(chunks))
	}
}

// A text of exactly Size characters with no sentence terminators must come
// back as a single chunk equal to the trimmed input.
func TestSplitExactSizeNoTerminators(t *testing.T) {
	const size = 64
	text := strings.Repeat("abcd ", size/5) + "efgh" // 64 chars, no . ! ?
	if len(text) != size {
		t.Fatalf("fixture length %d, want %d", len(text), size)
	}

	s := mustSplitter(t, size, 16)
	chunks := s.Split(text, Provenance{DocumentID: "d1"})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != strings.TrimSpace(text) {
		t.Errorf("content = %q, want trimmed input", chunks[0].Content)
	}
}

func TestSplitSentenceBoundary(t *testing.T) {
	first := "This is the opening sentence of the document."
	second := " And here is a follow-up that continues well past the cut."
	text := first + second

	// Size lands mid-second-sentence; the terminator of the first sentence
	// sits inside the lookback window, so the first chunk ends just past it.
	s := mustSplitter(t, len(first)+20, 10)
	chunks := s.Split(text, Provenance{DocumentID: "d1"})

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if chunks[0].Content != first {
		t.Errorf("first chunk = %q, want %q", chunks[0].Content, first)
	}
	if !strings.HasSuffix(chunks[0].Content, ".") {
		t.Errorf("first chunk does not end on a sentence boundary: %q", chunks[0].Content)
	}
}

func TestSplitIndicesContiguous(t *testing.T) {
	text := strings.Repeat("Sentence number one. Sentence number two! Question three? ", 40)
	s := mustSplitter(t, 120, 30)

	chunks := s.Split(text, Provenance{DocumentID: "d1"})
	if len(chunks) < 3 {
		t.Fatalf("fixture too small: %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSplitInvariants(t *testing.T) {
	texts := []string{
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60),
		strings.Repeat("no terminators here just words and words and words ", 50),
		strings.Repeat("zażółć gęślą jaźń ", 40), // multi-byte runes, no terminators
		strings.Repeat("第一句话结束了。第二句话也结束了！还有第三句吗？", 30),
		"tiny",
	}

	for _, text := range texts {
		runes := []rune(text)
		for _, cfg := range []struct{ size, overlap int }{
			{100, 20}, {250, 100}, {1000, 200},
		} {
			s := mustSplitter(t, cfg.size, cfg.overlap)
			chunks := s.Split(text, Provenance{DocumentID: "d1", Filename: "f.txt"})

			covered := 0 // furthest end seen; chunks must tile the text
			for i, c := range chunks {
				if c.Content == "" {
					t.Fatalf("empty chunk at %d", i)
				}
				if !utf8.ValidString(c.Content) {
					t.Fatalf("chunk %d is not valid UTF-8: %q", i, c.Content)
				}
				if n := utf8.RuneCountInString(c.Content); n > cfg.size {
					t.Fatalf("chunk %d length %d exceeds size %d", i, n, cfg.size)
				}
				if c.Content != strings.TrimSpace(string(runes[c.Start:c.End])) {
					t.Fatalf("chunk %d content does not match its offsets", i)
				}
				if c.Start > covered {
					t.Fatalf("gap before chunk %d: start %d, covered to %d", i, c.Start, covered)
				}
				if c.End > covered {
					covered = c.End
				}
			}
			if len(chunks) > 0 && covered < len(runes) {
				t.Fatalf("text not fully covered: %d of %d", covered, len(runes))
			}
		}
	}
}

func TestSplitOverlapContinuity(t *testing.T) {
	text := strings.Repeat("x", 1000) // no terminators, fixed-width cuts
	s := mustSplitter(t, 300, 50)

	chunks := s.Split(text, Provenance{})
	for i := 1; i < len(chunks); i++ {
		prevEnd := chunks[i-1].End
		if prevEnd == len(text) {
			break
		}
		if got := chunks[i].Start; got != prevEnd-50 {
			t.Errorf("chunk %d starts at %d, want %d (prev end - overlap)", i, got, prevEnd-50)
		}
	}
}

func TestChunkPageLabel(t *testing.T) {
	if got := (Chunk{Page: 3}).PageLabel(); got != "3" {
		t.Errorf("PageLabel() = %q, want \"3\"", got)
	}
	if got := (Chunk{}).PageLabel(); got != "unknown" {
		t.Errorf("PageLabel() = %q, want \"unknown\"", got)
	}
}
