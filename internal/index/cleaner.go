package index

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	brPattern          = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockClosePattern  = regexp.MustCompile(`(?i)</(p|div|tr|li|h[1-6]|blockquote)>`)
	tagPattern         = regexp.MustCompile(`<[^>]+>`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern    = regexp.MustCompile(`[ \t]{2,}`)

	// "On Mon, 2 Mar 2026 ... wrote:" and localized equivalents open the
	// quoted tail of a reply.
	quoteIntroPattern = regexp.MustCompile(`(?im)^On .{5,80} wrote:\s*$`)
	forwardPattern    = regexp.MustCompile(`(?im)^-{2,}\s*(Original Message|Forwarded message)\s*-{2,}`)

	signatureMarkers = []string{
		"\n-- \n",
		"\nSent from my iPhone",
		"\nSent from my iPad",
		"\nSent from my Android",
		"\nGet Outlook for",
	}

	disclaimerMarkers = []string{
		"\nThis email and any attachments are confidential",
		"\nThis message contains confidential information",
		"\nCONFIDENTIALITY NOTICE",
		"\nDISCLAIMER:",
	}
)

// HTMLToText reduces an HTML body to plain text, preserving paragraph breaks.
func HTMLToText(htmlBody string) string {
	text := scriptStylePattern.ReplaceAllString(htmlBody, " ")
	text = brPattern.ReplaceAllString(text, "\n")
	text = blockClosePattern.ReplaceAllString(text, "\n")
	text = tagPattern.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return normalizeWhitespace(text)
}

// CleanBody strips the parts of an email body that add noise to embeddings:
// quoted reply tails, forwarded-message blocks, signatures and legal
// disclaimers. Quoted lines ("> ...") are dropped line by line.
func CleanBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	if loc := quoteIntroPattern.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	if loc := forwardPattern.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	for _, marker := range signatureMarkers {
		if idx := strings.Index(body, marker); idx >= 0 {
			body = body[:idx]
		}
	}
	for _, marker := range disclaimerMarkers {
		if idx := indexFold(body, marker); idx >= 0 {
			body = body[:idx]
		}
	}

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return normalizeWhitespace(strings.Join(kept, "\n"))
}

func normalizeWhitespace(text string) string {
	text = spaceRunPattern.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}
