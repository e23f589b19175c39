package retrieval

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange restricts retrieval to a window. BoostFreshness marks queries
// that ask about recent events without naming a hard window.
type TimeRange struct {
	From           time.Time
	To             time.Time
	BoostFreshness bool
}

var (
	lastNPattern   = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month)s?\b`)
	monthPattern   = regexp.MustCompile(`(?i)\bin\s+(january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+(\d{4}))?\b`)
	recentPattern  = regexp.MustCompile(`(?i)\b(recently|lately|latest|most recent|newest)\b`)
	monthsByName   = map[string]time.Month{}
	monthNameOrder = []string{"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december"}
)

func init() {
	for i, name := range monthNameOrder {
		monthsByName[name] = time.Month(i + 1)
	}
}

// ExtractTimeRange infers a time window from natural-language phrases in the
// query ("yesterday", "last week", "last 3 months", "in January 2026",
// "recently"). Returns nil when the query carries no temporal signal.
func ExtractTimeRange(query string, now time.Time) *TimeRange {
	q := strings.ToLower(query)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(q, "yesterday"):
		return &TimeRange{From: dayStart.AddDate(0, 0, -1), To: dayStart, BoostFreshness: true}
	case strings.Contains(q, "today"):
		return &TimeRange{From: dayStart, To: now, BoostFreshness: true}
	case strings.Contains(q, "last week") || strings.Contains(q, "past week"):
		return &TimeRange{From: now.AddDate(0, 0, -7), To: now, BoostFreshness: true}
	case strings.Contains(q, "this week"):
		weekday := int(dayStart.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return &TimeRange{From: dayStart.AddDate(0, 0, -(weekday - 1)), To: now, BoostFreshness: true}
	case strings.Contains(q, "last month") || strings.Contains(q, "past month"):
		return &TimeRange{From: now.AddDate(0, -1, 0), To: now, BoostFreshness: true}
	case strings.Contains(q, "this year"):
		return &TimeRange{From: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), To: now}
	case strings.Contains(q, "last year"):
		return &TimeRange{
			From: time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location()),
			To:   time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()),
		}
	}

	if m := lastNPattern.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			var from time.Time
			switch m[2] {
			case "day":
				from = now.AddDate(0, 0, -n)
			case "week":
				from = now.AddDate(0, 0, -7*n)
			case "month":
				from = now.AddDate(0, -n, 0)
			}
			return &TimeRange{From: from, To: now, BoostFreshness: true}
		}
	}

	if m := monthPattern.FindStringSubmatch(q); m != nil {
		month := monthsByName[m[1]]
		year := now.Year()
		if m[2] != "" {
			if y, err := strconv.Atoi(m[2]); err == nil {
				year = y
			}
		} else if month > now.Month() {
			// a bare future month means that month last year
			year--
		}
		from := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
		return &TimeRange{From: from, To: from.AddDate(0, 1, 0)}
	}

	if recentPattern.MatchString(q) {
		return &TimeRange{From: now.AddDate(0, -1, 0), To: now, BoostFreshness: true}
	}

	return nil
}
