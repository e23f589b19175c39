package retrieval

import (
	"sort"

	"mailbase/internal/utils"
)

// Content this long favors semantic matching; short notes favor exact terms.
const longContentThreshold = 1000

// Merge combines the keyword and vector passes into one ranked list:
// min-max normalize each pass's scores, dedupe by (source_table, source_id)
// keeping the best chunk per item, weight the combined score toward keywords
// when the item contains every query token exactly (with at least one
// numeric token, e.g. invoice numbers) and toward vectors for long content,
// then cut to topK with recency as the tiebreak.
func Merge(keyword, vector []Evidence, query string, topK int) []Evidence {
	if topK <= 0 {
		return []Evidence{}
	}

	normalize(keyword, func(e *Evidence) *float64 { return &e.KeywordScore })
	normalize(vector, func(e *Evidence) *float64 { return &e.VectorScore })

	type key struct {
		table string
		id    int64
	}
	merged := make(map[key]*Evidence)

	for i := range keyword {
		e := keyword[i]
		k := key{e.SourceTable, e.SourceID}
		if cur, ok := merged[k]; !ok || e.KeywordScore > cur.KeywordScore {
			if ok {
				e.VectorScore = maxFloat(e.VectorScore, cur.VectorScore)
			}
			merged[k] = &e
		}
	}
	for i := range vector {
		e := vector[i]
		k := key{e.SourceTable, e.SourceID}
		cur, ok := merged[k]
		if !ok {
			merged[k] = &e
			continue
		}
		if e.VectorScore > cur.VectorScore {
			cur.VectorScore = e.VectorScore
			// prefer the chunk the vector pass surfaced when it scores at
			// least as well as the keyword snippet
			if e.VectorScore >= cur.KeywordScore {
				cur.ChunkIndex = e.ChunkIndex
				cur.Content = e.Content
			}
		}
	}

	queryTokens := utils.ExtractMeaningfulTokens(query)
	results := make([]Evidence, 0, len(merged))
	for _, e := range merged {
		kw, vw := passWeights(e, queryTokens)
		e.Score = kw*e.KeywordScore + vw*e.VectorScore
		results = append(results, *e)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ReceivedAt.After(results[j].ReceivedAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// passWeights picks the keyword/vector blend for one item
func passWeights(e *Evidence, queryTokens []string) (float64, float64) {
	if len(queryTokens) > 0 && anyTokenHasDigit(queryTokens) {
		if ok, _ := utils.ContainsAllTokens(utils.BuildTokenSet(e.Content), queryTokens); ok {
			return 0.65, 0.35
		}
	}
	if len(e.Content) > longContentThreshold {
		return 0.35, 0.65
	}
	return 0.5, 0.5
}

func anyTokenHasDigit(tokens []string) bool {
	for _, tok := range tokens {
		if utils.TokenHasDigit(tok) {
			return true
		}
	}
	return false
}

// normalize rescales one pass's scores to [0,1]. A single-result pass keeps
// its score of 1 so it still competes in the blend.
func normalize(items []Evidence, field func(*Evidence) *float64) {
	if len(items) == 0 {
		return
	}
	min, max := *field(&items[0]), *field(&items[0])
	for i := range items {
		v := *field(&items[i])
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	for i := range items {
		p := field(&items[i])
		if span == 0 {
			*p = 1
		} else {
			*p = (*p - min) / span
		}
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
