package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanBody_StripsQuotedReply(t *testing.T) {
	body := "Thanks, that fixed it.\n\nOn Mon, 2 Mar 2026 at 10:15, Support <support@corp.example.org> wrote:\n> Please try restarting the spooler.\n> Let us know.\n"

	cleaned := CleanBody(body)
	assert.Equal(t, "Thanks, that fixed it.", cleaned)
}

func TestCleanBody_StripsQuotedLines(t *testing.T) {
	body := "Agreed.\n> earlier text\n>> even earlier\nSee you tomorrow."

	cleaned := CleanBody(body)
	assert.NotContains(t, cleaned, "earlier")
	assert.Contains(t, cleaned, "Agreed.")
	assert.Contains(t, cleaned, "See you tomorrow.")
}

func TestCleanBody_StripsSignature(t *testing.T) {
	body := "The invoice is attached.\n-- \nAnna Kern\nAccounting, Example GmbH\n"

	cleaned := CleanBody(body)
	assert.Equal(t, "The invoice is attached.", cleaned)
}

func TestCleanBody_StripsMobileSignature(t *testing.T) {
	body := "Will be there at 9.\n\nSent from my iPhone"
	assert.Equal(t, "Will be there at 9.", CleanBody(body))
}

func TestCleanBody_StripsDisclaimer(t *testing.T) {
	body := "Numbers look fine.\n\nThis email and any attachments are confidential and intended solely for the addressee."
	assert.Equal(t, "Numbers look fine.", CleanBody(body))
}

func TestCleanBody_StripsForwardedBlock(t *testing.T) {
	body := "FYI below.\n\n---------- Forwarded message ----------\nFrom: someone@example.com\nOld content."
	assert.Equal(t, "FYI below.", CleanBody(body))
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body><p>First &amp; second.</p><div>Third line.</div><script>alert(1)</script></body></html>`

	text := HTMLToText(html)
	assert.Contains(t, text, "First & second.")
	assert.Contains(t, text, "Third line.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestHTMLToText_LineBreaks(t *testing.T) {
	text := HTMLToText("line one<br>line two<br/>line three")
	assert.Equal(t, "line one\nline two\nline three", text)
}
