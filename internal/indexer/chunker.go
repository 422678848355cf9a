package indexer

import (
	"regexp"
	"strings"

	"github.com/hyperjump/docrag/internal/models"
)

// DefaultChunkSize is the target chunk size in words used when none is configured.
const DefaultChunkSize = 300

var paragraphBreak = regexp.MustCompile(`\n[ \t\f\v]*\n`)

// Chunker splits text into overlapping chunks built from whole sentences.
// Sizes are measured in words; overlap is measured in sentences.
type Chunker struct {
	targetSize int
	overlap    int
}

// NewChunker creates a chunker that packs sentences up to targetSize words and
// repeats the trailing overlap sentences of a chunk at the start of the next one.
func NewChunker(targetSize, overlap int) *Chunker {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= targetSize {
		overlap = targetSize - 1
	}
	return &Chunker{targetSize: targetSize, overlap: overlap}
}

// Chunk splits text into chunk texts. Empty or whitespace-only text yields nil.
func (c *Chunker) Chunk(text string) []string {
	units := segment(text)
	spans := c.plan(units)
	if len(spans) == 0 {
		return nil
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = joinUnits(units[s.start:s.end])
	}
	return out
}

// ChunkDocument splits text into numbered chunks of docID.
func (c *Chunker) ChunkDocument(docID, text string) []*models.Chunk {
	texts := c.Chunk(text)
	if len(texts) == 0 {
		return nil
	}
	chunks := make([]*models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &models.Chunk{DocumentID: docID, Index: i, Text: t}
	}
	return chunks
}

type unit struct {
	text  string
	words int
}

// span is a half-open range of unit indexes.
type span struct {
	start, end int
}

// plan packs units greedily. A unit larger than targetSize becomes a chunk of its own.
// When seeding the next chunk, overlap units are dropped from the front until the
// incoming unit fits, so the target size wins over the overlap.
func (c *Chunker) plan(units []unit) []span {
	if len(units) == 0 {
		return nil
	}
	var spans []span
	start, size := 0, 0
	for i, u := range units {
		if i > start && size+u.words > c.targetSize {
			spans = append(spans, span{start: start, end: i})
			seed := c.overlap
			if seed > i-start-1 {
				seed = i - start - 1
			}
			next := i - seed
			size = countWords(units[next:i])
			for next < i && size+u.words > c.targetSize {
				size -= units[next].words
				next++
			}
			start = next
		}
		size += u.words
	}
	return append(spans, span{start: start, end: len(units)})
}

// segment splits text into paragraphs on blank lines and paragraphs into sentences.
func segment(text string) []unit {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var units []unit
	for _, para := range paragraphBreak.Split(text, -1) {
		para = Preprocess(para)
		if para == "" {
			continue
		}
		for _, s := range splitSentences(para) {
			if n := len(strings.Fields(s)); n > 0 {
				units = append(units, unit{text: s, words: n})
			}
		}
	}
	return units
}

// splitSentences cuts a whitespace-normalised paragraph after sentence terminators
// (and any closing quotes or brackets) that are followed by a space.
func splitSentences(p string) []string {
	runes := []rune(p)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && (isTerminator(runes[j]) || isCloser(runes[j])) {
			j++
		}
		if j < len(runes) && runes[j] == ' ' {
			out = append(out, string(runes[start:j]))
			start = j + 1
			i = j
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '«', '“', '”', '’':
		return true
	}
	return false
}

func countWords(units []unit) int {
	n := 0
	for _, u := range units {
		n += u.words
	}
	return n
}

func joinUnits(units []unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.text
	}
	return strings.Join(parts, " ")
}
