package threads

import (
	"strings"

	"mailbase/internal/models"
)

// DefaultCompletionMarkers are the phrases that signal a conversation has
// reached its conclusion. Overridable via COMPLETION_MARKERS.
var DefaultCompletionMarkers = []string{
	"issue resolved",
	"problem solved",
	"problem is solved",
	"that solved it",
	"that fixed it",
	"works now",
	"working now",
	"all good now",
	"all sorted",
	"you can close this",
	"please close this ticket",
	"case closed",
	"ticket can be closed",
	"resolved, thanks",
	"thanks, resolved",
	"thank you, closing",
	"no further action needed",
	"no longer an issue",
}

var noReplyFragments = []string{"noreply", "no-reply", "donotreply", "do-not-reply"}

// MarkerSet scans messages for completion markers, with sender filters that
// keep automated mail and our own staff from closing threads.
type MarkerSet struct {
	markers         []string
	internalDomains []string
}

// NewMarkerSet builds a marker set; empty markers fall back to the defaults.
func NewMarkerSet(markers, internalDomains []string) *MarkerSet {
	if len(markers) == 0 {
		markers = DefaultCompletionMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(strings.TrimSpace(m))
	}
	domains := make([]string, len(internalDomains))
	for i, d := range internalDomains {
		domains[i] = strings.ToLower(strings.TrimSpace(d))
	}
	return &MarkerSet{markers: lowered, internalDomains: domains}
}

// Detect returns the first completion marker found in the message's subject
// or body. Messages from no-reply senders and from internal domains never
// count: closure comes from the requester's own acknowledgment, not from
// autoresponders or our replies.
func (s *MarkerSet) Detect(msg *models.Message) (string, bool) {
	sender := strings.ToLower(msg.FromAddress)
	for _, fragment := range noReplyFragments {
		if strings.Contains(sender, fragment) {
			return "", false
		}
	}
	if s.isInternal(sender) {
		return "", false
	}

	haystack := strings.ToLower(msg.Subject + "\n" + msg.BodyText)
	for _, marker := range s.markers {
		if marker != "" && strings.Contains(haystack, marker) {
			return marker, true
		}
	}
	return "", false
}

func (s *MarkerSet) isInternal(address string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return false
	}
	domain := address[at+1:]
	for _, d := range s.internalDomains {
		if d != "" && domain == d {
			return true
		}
	}
	return false
}
