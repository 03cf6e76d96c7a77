// Package reference indexes an OCR reference document into overlapping
// chunks and ranks them against formula queries.
package reference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"formula-corrector/internal/logger"
)

const (
	// DefaultChunkSize is the target chunk length in characters
	DefaultChunkSize = 800
	// DefaultChunkOverlap is the number of characters neighbouring chunks share
	DefaultChunkOverlap = 160
	// DefaultTopK is the number of results returned by Query
	DefaultTopK = 5
)

// Chunk is a window of the reference text. StartPos and EndPos are
// character offsets, EndPos exclusive.
type Chunk struct {
	Content  string `json:"content"`
	ChunkID  string `json:"chunk_id"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
}

// SearchResult is a ranked chunk
type SearchResult struct {
	Chunk
	Score float64 `json:"score"`
}

// Index holds the chunks of one reference document. It is read-only after
// Load and safe for concurrent queries.
type Index struct {
	chunkSize int
	overlap   int
	topK      int
	scorer    Scorer

	mu     sync.RWMutex
	chunks []Chunk
	ranker Ranker
}

// Option configures an Index
type Option func(*Index)

// WithChunking sets the chunk size and overlap. Invalid values keep the defaults.
func WithChunking(size, overlap int) Option {
	return func(ix *Index) {
		if size > 0 && overlap >= 0 && overlap < size {
			ix.chunkSize = size
			ix.overlap = overlap
		}
	}
}

// WithTopK sets the number of results returned by Query
func WithTopK(k int) Option {
	return func(ix *Index) {
		if k > 0 {
			ix.topK = k
		}
	}
}

// WithScorer sets the similarity backend. A nil scorer puts the index in
// degraded mode where every query returns no results.
func WithScorer(s Scorer) Option {
	return func(ix *Index) {
		ix.scorer = s
	}
}

// NewIndex creates an Index using the lexical scorer unless overridden.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		topK:      DefaultTopK,
		scorer:    NewLexicalScorer(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Load chunks text and returns the number of chunks. Empty or
// whitespace-only text yields zero chunks.
func (ix *Index) Load(text string) int {
	chunks := SplitChunks(text, ix.chunkSize, ix.overlap)

	var ranker Ranker
	if ix.scorer != nil && len(chunks) > 0 {
		ranker = ix.scorer.Prepare(chunks)
	}

	ix.mu.Lock()
	ix.chunks = chunks
	ix.ranker = ranker
	ix.mu.Unlock()

	logger.Debug("reference loaded",
		logger.Int("chunks", len(chunks)),
		logger.String("backend", ix.Backend()))
	return len(chunks)
}

// Chunks returns a copy of the loaded chunks.
func (ix *Index) Chunks() []Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Chunk, len(ix.chunks))
	copy(out, ix.chunks)
	return out
}

// Degraded reports whether no similarity backend is configured.
func (ix *Index) Degraded() bool {
	return ix.scorer == nil
}

// Backend returns the name of the similarity backend.
func (ix *Index) Backend() string {
	if ix.scorer == nil {
		return BackendNone
	}
	return ix.scorer.Name()
}

// Query returns up to topK chunks ranked by similarity to text. Chunks
// with no similarity are omitted. An empty result means no match.
func (ix *Index) Query(ctx context.Context, text string) ([]SearchResult, error) {
	ix.mu.RLock()
	chunks, ranker := ix.chunks, ix.ranker
	ix.mu.RUnlock()

	results := []SearchResult{}
	if strings.TrimSpace(text) == "" || len(chunks) == 0 {
		return results, nil
	}
	if ranker == nil {
		logger.Warn("reference query skipped: no similarity backend configured",
			logger.Int("chunks", len(chunks)))
		return results, nil
	}

	scores, err := ranker.Scores(ctx, text)
	if err != nil {
		logger.Error("reference query failed", err, logger.String("backend", ix.Backend()))
		return results, fmt.Errorf("similarity backend %s: %w", ix.Backend(), err)
	}

	for i, score := range scores {
		if score > 0 {
			results = append(results, SearchResult{Chunk: chunks[i], Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > ix.topK {
		results = results[:ix.topK]
	}
	return results, nil
}

// SplitChunks splits text into windows of size characters that overlap by
// overlap characters. The last window may be shorter.
func SplitChunks(text string, size, overlap int) []Chunk {
	chunks := []Chunk{}
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	step := size - overlap

	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Content:  string(runes[start:end]),
			ChunkID:  fmt.Sprintf("chunk-%04d", len(chunks)),
			StartPos: start,
			EndPos:   end,
		})
		if end == n {
			break
		}
	}
	return chunks
}
