package reference

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
)

// Backend names accepted by NewScorer.
const (
	BackendLexical   = "lexical"
	BackendEmbedding = "embedding"
	BackendNone      = "none"
)

// Scorer is a similarity backend.
type Scorer interface {
	Name() string
	// Prepare builds per-document state for a freshly loaded chunk list.
	Prepare(chunks []Chunk) Ranker
}

// Ranker scores every chunk of one document against a query. The returned
// slice is parallel to the chunk list given to Prepare.
type Ranker interface {
	Scores(ctx context.Context, query string) ([]float64, error)
}

// NewScorer returns the scorer for backend. BackendNone returns a nil
// scorer, which leaves the index degraded.
func NewScorer(backend string, embedder embedding.Embedder) (Scorer, error) {
	switch backend {
	case "", BackendLexical:
		return NewLexicalScorer(), nil
	case BackendEmbedding:
		if embedder == nil {
			return nil, fmt.Errorf("embedding backend requires an embedder")
		}
		return NewEmbeddingScorer(embedder), nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown similarity backend: %s", backend)
	}
}
