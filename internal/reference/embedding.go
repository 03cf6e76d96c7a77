package reference

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	"formula-corrector/internal/logger"
)

// embedBatchSize bounds the number of texts sent per embedding request.
const embedBatchSize = 64

// EmbeddingScorer ranks chunks by cosine similarity of embedding vectors.
type EmbeddingScorer struct {
	embedder embedding.Embedder
}

// NewEmbeddingScorer creates an EmbeddingScorer backed by embedder.
func NewEmbeddingScorer(embedder embedding.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Name returns the backend name
func (s *EmbeddingScorer) Name() string {
	return BackendEmbedding
}

// Prepare defers chunk embedding until the first query.
func (s *EmbeddingScorer) Prepare(chunks []Chunk) Ranker {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	return &embeddingRanker{embedder: s.embedder, texts: texts}
}

type embeddingRanker struct {
	embedder embedding.Embedder
	texts    []string

	mu      sync.Mutex
	vectors [][]float64
}

// chunkVectors embeds the chunk texts on first use. Only a complete set of
// vectors is cached; after a failure the next query tries again.
func (r *embeddingRanker) chunkVectors(ctx context.Context) ([][]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectors != nil {
		return r.vectors, nil
	}

	vectors := make([][]float64, 0, len(r.texts))
	for start := 0; start < len(r.texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(r.texts))
		batch, err := r.embedder.EmbedStrings(ctx, r.texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed reference chunks: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	r.vectors = vectors
	logger.Debug("reference chunks embedded", logger.Int("chunks", len(vectors)))
	return r.vectors, nil
}

// Scores returns the cosine similarity of every chunk to query.
func (r *embeddingRanker) Scores(ctx context.Context, query string) ([]float64, error) {
	vectors, err := r.chunkVectors(ctx)
	if err != nil {
		return nil, err
	}

	q, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(q) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(q))
	}

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = CosineSimilarity(q[0], v)
	}
	return scores, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
