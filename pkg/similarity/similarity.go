// Package similarity implements the two scoring primitives shared by
// title-duplicate detection and document-originality comparison: a string
// axis blending normalized edit distance with word-token containment, and
// keyword-set Jaccard overlap, plus a weighted combiner.
package similarity

import (
	"math"
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/Patrickjoshanedez/capstone-docs/pkg/textx"
)

// Default combiner parameters. Callers may override via Options.
const (
	DefaultStringWeight  = 0.7
	DefaultKeywordWeight = 0.3
	DefaultThreshold     = 0.65

	// maxComparableRunes bounds the edit-distance cost on full documents.
	maxComparableRunes = 20000
)

// Options configures the weighted combiner.
type Options struct {
	StringWeight  float64
	KeywordWeight float64
	Threshold     float64
}

// DefaultOptions returns the 0.7/0.3 combiner with a 0.65 threshold.
func DefaultOptions() Options {
	return Options{StringWeight: DefaultStringWeight, KeywordWeight: DefaultKeywordWeight, Threshold: DefaultThreshold}
}

// StringSimilarity averages two views of the normalized (lower-cased,
// trimmed) inputs: the character-level edit-distance ratio
// 1 - distance/max(len), and word-token containment, the share of the
// smaller token set found in the larger one, so a title wholly contained in
// a longer one still scores high. Identical strings, including two empty
// strings, score 1.0.
func StringSimilarity(a, b string) float64 {
	a = textx.NormalizeTerm(a)
	b = textx.NormalizeTerm(b)
	if a == b {
		return 1.0
	}
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	d := levenshtein.ComputeDistance(a, b)
	charRatio := 1.0 - float64(d)/float64(longest)
	return (charRatio + tokenContainment(a, b)) / 2
}

// tokenContainment returns |tokens(a) ∩ tokens(b)| / min(|tokens(a)|,
// |tokens(b)|), or 0 when either side has no tokens.
func tokenContainment(a, b string) float64 {
	setA := toSet(textx.Tokenize(a))
	setB := toSet(textx.Tokenize(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	smallest := len(setA)
	if len(setB) < smallest {
		smallest = len(setB)
	}
	return float64(inter) / float64(smallest)
}

// KeywordOverlap is the Jaccard index over two normalized keyword sets.
// Empty/empty is defined as 0, not 1, so keyword-less items never
// false-positive as duplicates.
func KeywordOverlap(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		n := textx.NormalizeTerm(s)
		if n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

// Combined is the weighted sum of the string and keyword axes.
func Combined(str, kw float64, opts Options) float64 {
	return opts.StringWeight*str + opts.KeywordWeight*kw
}

// Round2 rounds a score to two decimals, the precision reported to callers.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Candidate is an existing item compared against during duplicate ranking.
type Candidate struct {
	ID       string
	Title    string
	Keywords []string
}

// Match is a candidate whose combined score met the threshold.
type Match struct {
	ID    string
	Title string
	Score float64
}

// RankTitleMatches scores every candidate against the proposed title and
// keyword list, returning those at or above the threshold sorted by
// descending score, each rounded to two decimals.
func RankTitleMatches(title string, keywords []string, candidates []Candidate, opts Options) []Match {
	out := make([]Match, 0)
	for _, c := range candidates {
		score := Combined(StringSimilarity(title, c.Title), KeywordOverlap(keywords, c.Keywords), opts)
		if score >= opts.Threshold {
			out = append(out, Match{ID: c.ID, Title: c.Title, Score: Round2(score)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// CorpusDoc is one archived document compared against during document
// scoring.
type CorpusDoc struct {
	ID    string
	Title string
	Text  string
}

// SourceMatch is one corpus document flagged by document scoring.
type SourceMatch struct {
	SourceID        string
	Title           string
	MatchPercentage float64
}

// ScoreDocument compares extracted full text against the corpus using the
// same primitive as title matching, at document granularity: the string axis
// runs over (truncated) full text and the keyword axis over word-token sets.
// The returned score is an originality percentage in [0,100]; matches report
// per-source match percentages for every source at or above the threshold,
// sorted descending. An empty corpus yields a fully original score.
func ScoreDocument(text string, corpus []CorpusDoc, opts Options) (float64, []SourceMatch) {
	text = textx.Truncate(text, maxComparableRunes)
	tokens := textx.Tokenize(text)

	maxSim := 0.0
	matches := make([]SourceMatch, 0)
	for _, doc := range corpus {
		other := textx.Truncate(doc.Text, maxComparableRunes)
		sim := Combined(
			StringSimilarity(text, other),
			KeywordOverlap(tokens, textx.Tokenize(other)),
			opts,
		)
		if sim > maxSim {
			maxSim = sim
		}
		if sim >= opts.Threshold {
			matches = append(matches, SourceMatch{SourceID: doc.ID, Title: doc.Title, MatchPercentage: Round2(sim * 100)})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].MatchPercentage > matches[j].MatchPercentage })
	return Round2((1 - maxSim) * 100), matches
}
