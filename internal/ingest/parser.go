package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"mailbase/internal/models"
)

// subjectPrefixPattern strips reply/forward prefixes, including the common
// localized variants, possibly repeated ("Re: Fwd: Re: ...").
var subjectPrefixPattern = regexp.MustCompile(`(?i)^(re|fwd|fw|aw|antw|sv|vs|отв|ответ|пересл)(\[\d+\])?\s*:\s*`)

var addressPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+`)

const maxSubjectLength = 500

// maxAttachmentBytes caps the payload kept per attachment. Oversized parts
// keep their metadata but drop the content, so they are registered and later
// marked failed instead of blowing up memory.
const maxAttachmentBytes = 25 << 20

// AttachmentMeta describes an attachment found while parsing, payload
// included. The caller decides where the payload lands.
type AttachmentMeta struct {
	Filename    string
	ContentType string
	SizeBytes   int64
	Content     []byte
}

// ParseMessage parses a raw RFC 822 message fetched under the given UID into
// the canonical message record plus attachment metadata.
func ParseMessage(uid int64, raw []byte) (*models.Message, []AttachmentMeta, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message for uid %d: %w", uid, err)
	}

	header := msg.Header

	subject := decodeHeader(header.Get("Subject"))
	m := &models.Message{
		UID:               uid,
		MessageID:         cleanMessageID(header.Get("Message-ID")),
		FromAddress:       parseAddress(header.Get("From")),
		ToAddresses:       parseAddressList(header.Get("To")),
		CcAddresses:       parseAddressList(header.Get("Cc")),
		Subject:           subject,
		SubjectNormalized: NormalizeSubject(subject),
		ReceivedAt:        parseDate(header.Get("Date")),
	}

	if inReplyTo := cleanMessageID(header.Get("In-Reply-To")); inReplyTo != "" {
		m.InReplyTo = &inReplyTo
	}
	if references := header.Get("References"); references != "" {
		for _, ref := range strings.Fields(references) {
			if cleaned := cleanMessageID(ref); cleaned != "" {
				m.References = append(m.References, cleaned)
			}
		}
	}

	bodyText, bodyHTML, attachments, err := extractContent(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract body for uid %d: %w", uid, err)
	}
	m.BodyText = bodyText
	m.BodyHTML = bodyHTML
	m.HasAttachments = len(attachments) > 0

	return m, attachments, nil
}

// NormalizeSubject strips reply/forward prefixes and surrounding whitespace,
// capped at 500 characters. An empty normalized subject disables
// subject-based thread matching for the message.
func NormalizeSubject(subject string) string {
	normalized := strings.TrimSpace(subject)
	for {
		stripped := subjectPrefixPattern.ReplaceAllString(normalized, "")
		if stripped == normalized {
			break
		}
		normalized = strings.TrimSpace(stripped)
	}
	// cap counts runes, not bytes: a byte slice could split a multibyte
	// character and leave invalid UTF-8 behind
	if runes := []rune(normalized); len(runes) > maxSubjectLength {
		normalized = string(runes[:maxSubjectLength])
	}
	return normalized
}

// decodeHeader decodes MIME encoded-word headers, falling back to the raw
// value when decoding fails.
func decodeHeader(header string) string {
	dec := &mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return header
	}
	return strings.TrimSpace(decoded)
}

func parseAddress(header string) string {
	decoded := decodeHeader(header)
	if match := addressPattern.FindString(decoded); match != "" {
		return strings.ToLower(match)
	}
	return strings.ToLower(strings.TrimSpace(decoded))
}

func parseAddressList(header string) []string {
	if header == "" {
		return nil
	}
	decoded := decodeHeader(header)
	matches := addressPattern.FindAllString(decoded, -1)
	addrs := make([]string, 0, len(matches))
	for _, m := range matches {
		addrs = append(addrs, strings.ToLower(m))
	}
	return addrs
}

func parseDate(header string) time.Time {
	if header != "" {
		if date, err := mail.ParseDate(header); err == nil {
			return date
		}
	}
	return time.Now().UTC()
}

// cleanMessageID removes < and > from Message-IDs
func cleanMessageID(msgID string) string {
	msgID = strings.TrimSpace(msgID)
	msgID = strings.TrimPrefix(msgID, "<")
	msgID = strings.TrimSuffix(msgID, ">")
	return msgID
}

// extractContent walks the MIME structure, collecting the first plain-text
// and HTML bodies and metadata for every attachment part.
func extractContent(msg *mail.Message) (string, string, []AttachmentMeta, error) {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", "", nil, err
		}
		return string(body), "", nil, nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return "", "", nil, readErr
		}
		return string(body), "", nil, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return walkMultipart(msg.Body, params["boundary"])
	}

	content, err := decodePart(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return "", "", nil, err
	}
	if strings.HasPrefix(mediaType, "text/html") {
		return "", content, nil, nil
	}
	return content, "", nil, nil
}

func walkMultipart(body io.Reader, boundary string) (string, string, []AttachmentMeta, error) {
	mr := multipart.NewReader(body, boundary)
	var bodyText, bodyHTML string
	var attachments []AttachmentMeta

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bodyText, bodyHTML, attachments, err
		}

		disposition := strings.ToLower(part.Header.Get("Content-Disposition"))
		filename := part.FileName()
		if strings.Contains(disposition, "attachment") || filename != "" {
			content, size := readAttachment(part, part.Header.Get("Content-Transfer-Encoding"))
			mediaType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			attachments = append(attachments, AttachmentMeta{
				Filename:    decodeHeader(filename),
				ContentType: mediaType,
				SizeBytes:   size,
				Content:     content,
			})
			continue
		}

		partType := part.Header.Get("Content-Type")
		mediaType, params, _ := mime.ParseMediaType(partType)

		switch {
		case strings.HasPrefix(mediaType, "text/plain") && bodyText == "":
			content, err := decodePart(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
			if err == nil {
				bodyText = content
			}
		case strings.HasPrefix(mediaType, "text/html") && bodyHTML == "":
			content, err := decodePart(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
			if err == nil {
				bodyHTML = content
			}
		case strings.HasPrefix(mediaType, "multipart/"):
			if nestedBoundary, ok := params["boundary"]; ok {
				nestedText, nestedHTML, nestedAtts, err := walkMultipart(part, nestedBoundary)
				if err == nil {
					if bodyText == "" {
						bodyText = nestedText
					}
					if bodyHTML == "" {
						bodyHTML = nestedHTML
					}
					attachments = append(attachments, nestedAtts...)
				}
			}
		}
	}

	return bodyText, bodyHTML, attachments, nil
}

// readAttachment decodes an attachment payload, undoing the transfer
// encoding. Content past the size cap is counted but discarded.
func readAttachment(body io.Reader, transferEncoding string) ([]byte, int64) {
	reader := body
	switch strings.ToLower(transferEncoding) {
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, body)
	}

	content, err := io.ReadAll(io.LimitReader(reader, maxAttachmentBytes))
	if err != nil {
		return nil, int64(len(content))
	}
	size := int64(len(content))
	if size == maxAttachmentBytes {
		rest, _ := io.Copy(io.Discard, reader)
		if rest > 0 {
			return nil, size + rest
		}
	}
	return content, size
}

// decodePart reads one MIME part, undoing the transfer encoding and the
// declared charset.
func decodePart(body io.Reader, transferEncoding, charsetName string) (string, error) {
	reader := body

	switch strings.ToLower(transferEncoding) {
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, body)
	}

	if charsetName != "" && !strings.EqualFold(charsetName, "utf-8") && !strings.EqualFold(charsetName, "us-ascii") {
		if decoded, err := charsetReader(charsetName, reader); err == nil {
			reader = decoded
		}
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// charsetReader resolves legacy charsets (koi8-r, windows-1251, iso-8859-*)
// through x/text so non-UTF-8 mail decodes correctly.
func charsetReader(charsetName string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(strings.ToLower(charsetName))
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charsetName, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
