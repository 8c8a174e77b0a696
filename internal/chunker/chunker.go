// Package chunker splits document text into retrieval-sized chunks. Four
// strategies are available; Auto picks one from the text's shape.
package chunker

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects how text is split.
type Strategy string

const (
	Auto      Strategy = "auto"
	Fixed     Strategy = "fixed"
	Sentence  Strategy = "sentence"
	Paragraph Strategy = "paragraph"
	Hybrid    Strategy = "hybrid"
)

// Defaults used when Config fields are zero.
const (
	DefaultChunkSize    = 1000
	DefaultOverlap      = 200
	DefaultMinChunkSize = 100
	DefaultMaxChunkSize = 2000
)

var (
	sentenceEndings     = regexp.MustCompile(`[。.!?！？]\s*`)
	paragraphSeparators = regexp.MustCompile(`\n\s*\n+`)
	runsOfSpace         = regexp.MustCompile(`[ \t]+`)
	runsOfNewlines      = regexp.MustCompile(`\n{3,}`)
)

// Config tunes chunk sizing. Sizes are in runes so CJK text is not split
// mid-character.
type Config struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
	MaxChunkSize int
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg    Config
	logger *zap.Logger
}

// New applies defaults for zero fields.
func New(cfg Config, logger *zap.Logger) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{cfg: cfg, logger: logger}
}

// Chunk splits text with the given strategy and returns cleaned chunks.
// Empty or whitespace-only input yields nil.
func (c *Chunker) Chunk(text string, strategy Strategy) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	text = cleanText(text)

	if strategy == Auto || strategy == "" {
		strategy = c.selectStrategy(text)
		c.logger.Debug("Auto-selected chunking strategy", zap.String("strategy", string(strategy)))
	}

	var chunks []string
	switch strategy {
	case Sentence:
		chunks = c.chunkBySentences(text)
	case Paragraph:
		chunks = c.chunkByParagraphs(text)
	case Hybrid:
		chunks = c.chunkHybrid(text)
	default:
		chunks = c.chunkFixed(text)
	}

	return c.postProcess(chunks)
}

// selectStrategy inspects paragraph and sentence shape.
func (c *Chunker) selectStrategy(text string) Strategy {
	runes := []rune(text)
	if len(runes) < 500 {
		return Fixed
	}

	paragraphs := splitNonEmpty(paragraphSeparators, text)
	if len(paragraphs) > 3 {
		avg := avgRuneLen(paragraphs)
		if avg > 300 && avg < 1500 {
			return Paragraph
		}
	}

	sentences := splitNonEmpty(sentenceEndings, text)
	if avgRuneLen(sentences) < 200 {
		return Sentence
	}

	return Hybrid
}

// chunkFixed walks the text in chunk-size windows, preferring to break at a
// sentence end, then a paragraph break, then a word boundary.
func (c *Chunker) chunkFixed(text string) []string {
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start := 0
	for start < n {
		end := start + c.cfg.ChunkSize
		if end > n {
			end = n
		}

		if end < n {
			brk := findBoundary(runes, start, end, sentenceEndings, 100)
			if brk == end {
				brk = findBoundary(runes, start, end, paragraphSeparators, 100)
			}
			if brk == end {
				brk = findWordBoundary(runes, start, end, 50)
			}
			end = brk
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(chunk)) >= c.cfg.MinChunkSize {
			chunks = append(chunks, chunk)
		}

		if end >= n {
			break
		}
		next := end - c.cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// chunkBySentences accumulates sentences up to the target size, carrying a
// tail of sentences into the next chunk as overlap.
func (c *Chunker) chunkBySentences(text string) []string {
	sentences := splitNonEmpty(sentenceEndings, text)

	var chunks []string
	var current []string
	size := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
		}
	}

	for _, sent := range sentences {
		sentLen := len([]rune(sent))

		if sentLen > c.cfg.MaxChunkSize {
			flush()
			current = nil
			size = 0
			chunks = append(chunks, c.splitLongSentence(sent)...)
			continue
		}

		if size+sentLen <= c.cfg.ChunkSize {
			current = append(current, sent)
			size += sentLen
			continue
		}

		flush()
		overlap := overlapTail(current, c.cfg.Overlap)
		current = append(overlap, sent)
		size = 0
		for _, s := range current {
			size += len([]rune(s))
		}
	}
	flush()
	return chunks
}

// chunkByParagraphs keeps paragraphs whole where possible, splitting
// oversized ones by sentence.
func (c *Chunker) chunkByParagraphs(text string) []string {
	paragraphs := splitNonEmpty(paragraphSeparators, text)

	var chunks []string
	var current []string
	size := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
		}
	}

	for _, para := range paragraphs {
		paraLen := len([]rune(para))

		if paraLen > c.cfg.MaxChunkSize {
			flush()
			current = nil
			size = 0
			chunks = append(chunks, c.chunkBySentences(para)...)
			continue
		}

		if size+paraLen <= c.cfg.ChunkSize {
			current = append(current, para)
			size += paraLen
			continue
		}

		flush()
		current = []string{para}
		size = paraLen
	}
	flush()
	return chunks
}

// chunkHybrid takes paragraphs whole when they fit, splits moderately large
// ones by sentence, and falls back to fixed windows for the rest.
func (c *Chunker) chunkHybrid(text string) []string {
	paragraphs := splitNonEmpty(paragraphSeparators, text)

	var chunks []string
	for _, para := range paragraphs {
		switch paraLen := len([]rune(para)); {
		case paraLen <= c.cfg.ChunkSize:
			chunks = append(chunks, para)
		case paraLen <= c.cfg.MaxChunkSize:
			chunks = append(chunks, c.chunkBySentences(para)...)
		default:
			chunks = append(chunks, c.chunkFixed(para)...)
		}
	}
	return chunks
}

func (c *Chunker) splitLongSentence(sentence string) []string {
	var chunks []string
	var current []string
	size := 0
	for _, word := range strings.Fields(sentence) {
		wordLen := len([]rune(word)) + 1
		if size+wordLen > c.cfg.ChunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			size = 0
		}
		current = append(current, word)
		size += wordLen
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// postProcess drops undersized chunks and truncates oversized ones.
func (c *Chunker) postProcess(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		runes := []rune(chunk)
		if len(runes) < c.cfg.MinChunkSize {
			continue
		}
		if len(runes) > c.cfg.MaxChunkSize {
			chunk = string(runes[:c.cfg.MaxChunkSize])
		}
		out = append(out, strings.TrimSpace(chunk))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Stats describes a chunking result.
type Stats struct {
	TotalChunks  int `json:"total_chunks"`
	AvgChunkSize int `json:"avg_chunk_size"`
	MinChunkSize int `json:"min_chunk_size"`
	MaxChunkSize int `json:"max_chunk_size"`
	TotalChars   int `json:"total_chars"`
}

// Analyze summarizes chunk sizes.
func Analyze(chunks []string) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	st := Stats{TotalChunks: len(chunks), MinChunkSize: len([]rune(chunks[0]))}
	for _, chunk := range chunks {
		n := len([]rune(chunk))
		st.TotalChars += n
		if n < st.MinChunkSize {
			st.MinChunkSize = n
		}
		if n > st.MaxChunkSize {
			st.MaxChunkSize = n
		}
	}
	st.AvgChunkSize = st.TotalChars / len(chunks)
	return st
}

func cleanText(text string) string {
	text = runsOfSpace.ReplaceAllString(text, " ")
	text = runsOfNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func splitNonEmpty(re *regexp.Regexp, text string) []string {
	parts := re.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func avgRuneLen(parts []string) float64 {
	if len(parts) == 0 {
		return 0
	}
	total := 0
	for _, p := range parts {
		total += len([]rune(p))
	}
	return float64(total) / float64(len(parts))
}

// findBoundary returns the end of the last regexp match inside the trailing
// window, or end when there is none.
func findBoundary(runes []rune, start, end int, re *regexp.Regexp, window int) int {
	searchStart := end - window
	if searchStart < start {
		searchStart = start
	}
	segment := string(runes[searchStart:end])
	matches := re.FindAllStringIndex(segment, -1)
	if len(matches) == 0 {
		return end
	}
	last := matches[len(matches)-1]
	return searchStart + len([]rune(segment[:last[1]]))
}

func findWordBoundary(runes []rune, start, end, window int) int {
	searchStart := end - window
	if searchStart < start {
		searchStart = start
	}
	for i := end - 1; i > searchStart; i-- {
		switch runes[i] {
		case ' ', '\t', '\n':
			return i + 1
		}
	}
	return end
}

// overlapTail returns the trailing sentences of prev whose combined length
// fits in target.
func overlapTail(prev []string, target int) []string {
	var tail []string
	size := 0
	for i := len(prev) - 1; i >= 0; i-- {
		n := len([]rune(prev[i]))
		if size+n > target {
			break
		}
		tail = append([]string{prev[i]}, tail...)
		size += n
	}
	return tail
}
