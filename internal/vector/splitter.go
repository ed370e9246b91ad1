package vector

import (
	"strings"
	"unicode/utf8"
)

// Splitter breaks document text into overlapping chunks for embedding.
// It prefers to break at paragraph boundaries, then sentence boundaries,
// then whitespace, before falling back to a hard cut.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// NewSplitter creates a splitter with the given chunk size and overlap.
// Non-positive values fall back to 1000/200.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
		if overlap >= chunkSize {
			overlap = chunkSize / 5
		}
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// separators in preference order.
var separators = []string{"\n\n", "\n", ". ", " "}

// Split chunks text. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.ChunkSize
		if end >= len(text) {
			chunk := strings.TrimSpace(text[start:])
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		cut := s.findCut(text, start, end)
		chunk := strings.TrimSpace(text[start:cut])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := alignRune(text, cut-s.Overlap)
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// findCut looks backwards from end for the best separator inside the window.
// A separator only counts if it leaves at least half a chunk of content,
// otherwise tiny fragments would dominate.
func (s *Splitter) findCut(text string, start, end int) int {
	window := text[start:end]
	minCut := s.ChunkSize / 2

	for _, sep := range separators {
		if i := strings.LastIndex(window, sep); i >= minCut {
			return start + i + len(sep)
		}
	}
	// Sinhala and other multi-byte text may have no separator in the
	// window. The hard cut must not land mid-rune.
	cut := alignRune(text, end)
	if cut <= start {
		// Chunk size smaller than one rune. Step forward instead.
		cut = end
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
	}
	return cut
}

// alignRune moves i back to the start of the rune it falls inside.
func alignRune(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
