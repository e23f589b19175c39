package index

import "strings"

// Chunks shorter than this carry no signal worth embedding.
const minChunkLength = 10

// Chunker splits content into size-bounded overlapping character chunks
type Chunker struct {
	maxChars int
	overlap  int
}

// NewChunker creates a chunker. overlap must be smaller than maxChars; the
// defaults (2200/200) keep a chunk plus prompt inside the embedding model's
// context comfortably.
func NewChunker(maxChars, overlap int) *Chunker {
	if maxChars <= 0 {
		maxChars = 2200
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = maxChars / 10
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// Split cuts content into chunks of at most maxChars characters, each
// overlapping the previous by overlap characters. Chunks under 10 characters
// are dropped. Splitting prefers the last newline or space inside the window
// so words stay intact.
func (c *Chunker) Split(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	runes := []rune(content)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.maxChars
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakAt(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if len(chunk) >= minChunkLength {
			chunks = append(chunks, chunk)
		}

		if end == len(runes) {
			break
		}
		start = end - c.overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// SplitEmail prepends the subject anchor to each chunk of the cleaned body
// so every chunk stays attributable to its conversation on its own.
func (c *Chunker) SplitEmail(subject, body string) []string {
	anchor := ""
	if subject = strings.TrimSpace(subject); subject != "" {
		anchor = "Subject: " + subject + "\n\n"
	}

	chunks := c.Split(body)
	if anchor == "" {
		return chunks
	}
	if len(chunks) == 0 {
		// subject-only mail still gets one chunk when the anchor alone is long enough
		if len(anchor) >= minChunkLength {
			return []string{strings.TrimSpace(anchor)}
		}
		return nil
	}
	anchored := make([]string, len(chunks))
	for i, chunk := range chunks {
		anchored[i] = anchor + chunk
	}
	return anchored
}

// breakAt moves the cut point back to the nearest newline or space in the
// second half of the window, falling back to a hard cut.
func breakAt(runes []rune, start, end int) int {
	half := start + (end-start)/2
	for i := end - 1; i > half; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	for i := end - 1; i > half; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return end
}
