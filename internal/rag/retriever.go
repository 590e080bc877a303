package rag

import (
	"context"
	"fmt"

	"rag-assistant/internal/models"
	"rag-assistant/internal/store"
)

type Retriever struct {
	store    *store.IndexedStore
	embedder Embedder
}

func NewRetriever(s *store.IndexedStore, embedder Embedder) *Retriever {
	return &Retriever{store: s, embedder: embedder}
}

// Retrieve returns up to topK chunks whose squared distance to query is below threshold,
// closest first. An empty store answers without calling the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float32) ([]models.RetrievalResult, error) {
	if r.store.Len() == 0 {
		return nil, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	relevant := results[:0]
	for _, res := range results {
		if res.Distance < threshold {
			relevant = append(relevant, res)
		}
	}
	return relevant, nil
}
