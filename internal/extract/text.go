package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"mailbase/internal/index"
	"mailbase/internal/models"
)

// TextExtractor handles attachments whose payload is already text: plain
// text, CSV, JSON, XML and HTML (stripped to text). Binary formats need an
// external extraction service and are rejected here, which marks them failed
// until such a service claims them.
type TextExtractor struct{}

// NewTextExtractor creates the built-in text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract reads the stored payload and returns it as plain text
func (e *TextExtractor) Extract(_ context.Context, att models.Attachment) (string, error) {
	if att.StoragePath == "" {
		return "", fmt.Errorf("no stored payload for attachment %d", att.ID)
	}
	if !supportedTextType(att.ContentType) {
		return "", fmt.Errorf("unsupported content type %q", att.ContentType)
	}

	data, err := os.ReadFile(att.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("payload of %q is not valid UTF-8", att.Filename)
	}

	text := string(data)
	if strings.HasPrefix(att.ContentType, "text/html") {
		text = index.HTMLToText(text)
	}
	return strings.TrimSpace(text), nil
}

func supportedTextType(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "text/"):
		return true
	case contentType == "application/json",
		contentType == "application/xml",
		contentType == "application/csv":
		return true
	}
	return false
}
