package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChunker(cfg Config) *Chunker {
	return New(cfg, zap.NewNop())
}

func TestEmptyInput(t *testing.T) {
	c := newTestChunker(Config{})
	assert.Nil(t, c.Chunk("", Auto))
	assert.Nil(t, c.Chunk("   \n\t  ", Auto))
}

func TestShortTextSingleChunk(t *testing.T) {
	c := newTestChunker(Config{})
	text := strings.Repeat("short sentence here. ", 10) // ~210 chars
	chunks := c.Chunk(text, Auto)
	require.Len(t, chunks, 1)
	assert.GreaterOrEqual(t, len([]rune(chunks[0])), DefaultMinChunkSize)
}

func TestFixedRespectsBounds(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 200, Overlap: 50, MinChunkSize: 20, MaxChunkSize: 400})
	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 60)
	chunks := c.Chunk(text, Fixed)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		n := len([]rune(chunk))
		assert.GreaterOrEqual(t, n, 20)
		assert.LessOrEqual(t, n, 400)
	}
}

func TestFixedOverlap(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 100, Overlap: 30, MinChunkSize: 10, MaxChunkSize: 200})
	text := strings.Repeat("one two three four five six seven eight nine ten. ", 20)
	chunks := c.Chunk(text, Fixed)
	require.Greater(t, len(chunks), 1)

	// consecutive chunks share text
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])/2:]
		found := false
		for _, word := range strings.Fields(tail) {
			if strings.Contains(chunks[i], word) {
				found = true
				break
			}
		}
		assert.True(t, found, "chunk %d shares no text with its predecessor", i)
	}
}

func TestSentenceStrategyKeepsSentencesWhole(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 120, Overlap: 40, MinChunkSize: 10, MaxChunkSize: 500})
	text := "First sentence about storage. Second sentence about indexes. " +
		"Third sentence about queries. Fourth sentence about caching. " +
		"Fifth sentence about backups. Sixth sentence about restores."
	chunks := c.Chunk(text, Sentence)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotContains(t, chunk, "  ")
	}
}

func TestParagraphStrategy(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 300, Overlap: 50, MinChunkSize: 20, MaxChunkSize: 600})
	para := strings.Repeat("sentence in the paragraph. ", 5)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := c.Chunk(text, Paragraph)
	require.NotEmpty(t, chunks)
	total := 0
	for _, chunk := range chunks {
		total += len([]rune(chunk))
	}
	assert.Greater(t, total, 300)
}

func TestAutoSelectsFixedForShortText(t *testing.T) {
	c := newTestChunker(Config{})
	assert.Equal(t, Fixed, c.selectStrategy("short text"))
}

func TestAutoSelectsParagraph(t *testing.T) {
	c := newTestChunker(Config{})
	para := strings.Repeat("a sentence of reasonable length goes here, making the paragraph long. ", 6) // ~420 chars
	text := strings.Join([]string{para, para, para, para}, "\n\n")
	assert.Equal(t, Paragraph, c.selectStrategy(text))
}

func TestAutoSelectsSentence(t *testing.T) {
	c := newTestChunker(Config{})
	text := strings.Repeat("A short sentence. ", 50)
	assert.Equal(t, Sentence, c.selectStrategy(text))
}

func TestCJKSentenceBoundaries(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 50, Overlap: 10, MinChunkSize: 5, MaxChunkSize: 100})
	text := strings.Repeat("这是一个测试句子,用来验证中文分块。", 10)
	chunks := c.Chunk(text, Sentence)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100)
	}
}

func TestPostProcessDropsAndTruncates(t *testing.T) {
	c := newTestChunker(Config{ChunkSize: 100, Overlap: 10, MinChunkSize: 10, MaxChunkSize: 30})
	out := c.postProcess([]string{"tiny", strings.Repeat("a", 50), "exactly ten!"})
	require.Len(t, out, 2)
	assert.Equal(t, 30, len([]rune(out[0])))
}

func TestAnalyze(t *testing.T) {
	st := Analyze([]string{"abcd", "abcdefgh"})
	assert.Equal(t, 2, st.TotalChunks)
	assert.Equal(t, 6, st.AvgChunkSize)
	assert.Equal(t, 4, st.MinChunkSize)
	assert.Equal(t, 8, st.MaxChunkSize)
	assert.Equal(t, 12, st.TotalChars)

	assert.Equal(t, Stats{}, Analyze(nil))
}
