package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortContentIsOneChunk(t *testing.T) {
	c := NewChunker(2200, 200)
	chunks := c.Split("The printer on floor 3 is offline.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "The printer on floor 3 is offline.", chunks[0])
}

func TestSplit_TinyContentDropped(t *testing.T) {
	c := NewChunker(2200, 200)
	assert.Empty(t, c.Split("ok"))
	assert.Empty(t, c.Split("   "))
	assert.Empty(t, c.Split(""))
}

func TestSplit_LongContentOverlaps(t *testing.T) {
	c := NewChunker(100, 20)
	words := strings.Repeat("lorem ipsum dolor sit amet ", 20)

	chunks := c.Split(words)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		assert.GreaterOrEqual(t, len(chunk), 10)
	}
	// consecutive chunks share text through the overlap window
	tail := chunks[0][len(chunks[0])-10:]
	assert.Contains(t, chunks[1], strings.TrimSpace(tail))
}

func TestSplit_BreaksOnWordBoundary(t *testing.T) {
	c := NewChunker(50, 10)
	chunks := c.Split(strings.Repeat("alpha beta gamma delta ", 10))
	for _, chunk := range chunks[:len(chunks)-1] {
		assert.False(t, strings.HasSuffix(chunk, "alph"), "chunk cut mid-word: %q", chunk)
	}
}

func TestSplitEmail_AnchorsSubject(t *testing.T) {
	c := NewChunker(100, 20)
	chunks := c.SplitEmail("Printer offline", strings.Repeat("details about the outage ", 15))
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk, "Subject: Printer offline\n\n"))
	}
}

func TestSplitEmail_EmptyBodyKeepsSubjectChunk(t *testing.T) {
	c := NewChunker(2200, 200)
	chunks := c.SplitEmail("Printer offline on floor 3", "")
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Printer offline")
}

func TestNewChunker_SanitizesBadValues(t *testing.T) {
	c := NewChunker(0, -5)
	assert.Equal(t, 2200, c.maxChars)
	assert.Equal(t, 220, c.overlap)

	c = NewChunker(100, 100)
	assert.Equal(t, 10, c.overlap)
}
