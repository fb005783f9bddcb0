package memory

import (
	"strings"
	"time"
	"unicode"
)

// tokenize lowercases text and splits it into a word set.
func tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard computes |A∩B| / |A∪B| over two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// recencyBoost decays linearly over 30 days with a floor of 0.1.
func recencyBoost(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	boost := 1 - ageDays/30
	if boost < 0.1 {
		return 0.1
	}
	return boost
}

// scoreItem computes the hybrid retrieval score for one item.
func scoreItem(item *Item, itemVec, queryVec []float64, queryTokens map[string]struct{}, now time.Time) float64 {
	semantic := cosine(queryVec, itemVec)
	if semantic < 0 {
		semantic = 0
	}
	lexical := jaccard(queryTokens, tokenize(item.Content))
	combined := 0.7*semantic + 0.3*lexical

	importance := item.Importance
	if importance == 0 {
		importance = 0.5
	}

	boost := typeBoost[item.Type]
	if boost == 0 {
		boost = 1.0
	}

	return combined * importance * recencyBoost(item.CreatedAt, now) * boost
}
