package reference

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// BM25 parameters
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// LexicalScorer ranks chunks with BM25 over LaTeX-aware tokens.
type LexicalScorer struct{}

// NewLexicalScorer creates a LexicalScorer
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Name returns the backend name
func (s *LexicalScorer) Name() string {
	return BackendLexical
}

// Prepare computes term statistics for chunks.
func (s *LexicalScorer) Prepare(chunks []Chunk) Ranker {
	r := &lexicalRanker{
		termFreqs: make([]map[string]int, len(chunks)),
		lengths:   make([]int, len(chunks)),
		docFreq:   make(map[string]int),
	}

	total := 0
	for i, c := range chunks {
		tf := make(map[string]int)
		tokens := Tokenize(c.Content)
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			r.docFreq[tok]++
		}
		r.termFreqs[i] = tf
		r.lengths[i] = len(tokens)
		total += len(tokens)
	}
	if len(chunks) > 0 {
		r.avgLen = float64(total) / float64(len(chunks))
	}
	return r
}

type lexicalRanker struct {
	termFreqs []map[string]int
	lengths   []int
	docFreq   map[string]int
	avgLen    float64
}

// Scores returns the BM25 score of every chunk. Chunks sharing no term with
// the query score zero.
func (r *lexicalRanker) Scores(_ context.Context, query string) ([]float64, error) {
	scores := make([]float64, len(r.termFreqs))
	if r.avgLen == 0 {
		return scores, nil
	}

	seen := make(map[string]bool)
	n := float64(len(r.termFreqs))
	for _, term := range Tokenize(query) {
		if seen[term] {
			continue
		}
		seen[term] = true

		df := r.docFreq[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))

		for i, tf := range r.termFreqs {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			lenNorm := 1 - bm25B + bm25B*float64(r.lengths[i])/r.avgLen
			scores[i] += idf * f * (bm25K1 + 1) / (f + bm25K1*lenNorm)
		}
	}
	return scores, nil
}

// symbolTokens are single-character LaTeX operators kept as tokens.
const symbolTokens = "^_+-=<>*/|"

// Tokenize splits text into lower-cased NFKC tokens. LaTeX commands such as
// \frac stay whole, Han characters are one token each, letter/digit runs
// form words and math operators are kept as single-symbol tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))
	runes := []rune(text)

	var tokens []string
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\\':
			j := i + 1
			for j < len(runes) && unicode.IsLetter(runes[j]) && runes[j] < unicode.MaxASCII {
				j++
			}
			if j > i+1 {
				tokens = append(tokens, string(runes[i:j]))
			}
			i = max(j, i+1)
		case unicode.Is(unicode.Han, r):
			tokens = append(tokens, string(r))
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) && !unicode.Is(unicode.Han, runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case strings.ContainsRune(symbolTokens, r):
			tokens = append(tokens, string(r))
			i++
		default:
			i++
		}
	}
	return tokens
}
