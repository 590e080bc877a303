// Package store keeps the vector index and the chunk list together so that the two
// can never be observed out of step.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/models"
	"rag-assistant/internal/vectorindex"
)

// ErrInconsistent is returned when the index and the chunk list disagree in length or shape.
var ErrInconsistent = errors.New("index and chunk store out of sync")

// Entry is a chunk waiting to be committed together with its embedding.
type Entry struct {
	Text     string
	Filename string
	Vector   []float32
}

// IndexedStore pairs a vector index with its chunk records. Position i of the index
// belongs to the chunk with id i.
type IndexedStore struct {
	dim int

	mu     sync.RWMutex
	index  *vectorindex.Flat
	chunks *ChunkStore
}

func NewIndexedStore(dimension int) *IndexedStore {
	return &IndexedStore{
		dim:    dimension,
		index:  vectorindex.New(dimension),
		chunks: NewChunkStore(),
	}
}

func (s *IndexedStore) Dimension() int { return s.dim }

// Add commits entries atomically: either every entry lands in both the index and the
// chunk list, or neither structure changes.
func (s *IndexedStore) Add(entries []Entry) ([]models.Chunk, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.chunks.Len()
	if s.index.Size() != before {
		return nil, fmt.Errorf("%w: index has %d vectors, store has %d chunks", ErrInconsistent, s.index.Size(), before)
	}
	if err := s.index.Add(vectors); err != nil {
		return nil, err
	}

	added := make([]models.Chunk, len(entries))
	for i, e := range entries {
		added[i] = s.chunks.Append(e.Text, e.Filename)
	}

	if s.index.Size() != s.chunks.Len() {
		s.index.Truncate(before)
		s.chunks.truncate(before)
		return nil, fmt.Errorf("%w: index has %d vectors, store has %d chunks", ErrInconsistent, s.index.Size(), s.chunks.Len())
	}
	return added, nil
}

// Search returns up to k chunks nearest to query, ascending by distance. Padding
// entries from the index are dropped.
func (s *IndexedStore) Search(query []float32, k int) ([]models.RetrievalResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	distances, indices, err := s.index.Search(query, k)
	if err != nil {
		return nil, err
	}

	results := make([]models.RetrievalResult, 0, len(indices))
	for i, pos := range indices {
		if pos < 0 || pos >= int64(s.chunks.Len()) {
			continue
		}
		chunk, err := s.chunks.Get(int(pos))
		if err != nil {
			return nil, err
		}
		results = append(results, models.RetrievalResult{Chunk: chunk, Distance: distances[i]})
	}
	return results, nil
}

func (s *IndexedStore) Get(id int) (models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks.Get(id)
}

func (s *IndexedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks.Len()
}

func (s *IndexedStore) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Stats{
		TotalChunks:    s.chunks.Len(),
		TotalDocuments: len(s.chunks.DistinctFilenames()),
	}
}

// Reset empties both structures.
func (s *IndexedStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Reset()
	s.chunks.Clear()
}

// Snapshot copies the current state for persistence.
func (s *IndexedStore) Snapshot() (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index.Size() != s.chunks.Len() {
		return nil, fmt.Errorf("%w: index has %d vectors, store has %d chunks", ErrInconsistent, s.index.Size(), s.chunks.Len())
	}
	return &models.Snapshot{
		Dimension: s.index.Dimension(),
		Vectors:   s.index.Vectors(),
		Chunks:    s.chunks.All(),
	}, nil
}

// Restore replaces the current state with snap after checking it is well formed.
func (s *IndexedStore) Restore(snap *models.Snapshot) error {
	if err := ValidateSnapshot(snap, s.dim); err != nil {
		return err
	}

	index := vectorindex.New(snap.Dimension)
	if err := index.Add(snap.Vectors); err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistent, err)
	}
	chunks := NewChunkStore()
	for _, c := range snap.Chunks {
		chunks.Append(c.Text, c.Filename)
	}

	s.mu.Lock()
	s.index = index
	s.chunks = chunks
	s.mu.Unlock()

	log.Info().Int("chunks", len(snap.Chunks)).Msg("Restored index snapshot")
	return nil
}

// ValidateSnapshot checks that snap pairs one vector of the given dimension with each
// chunk and that chunk ids match positions.
func ValidateSnapshot(snap *models.Snapshot, dimension int) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInconsistent)
	}
	if snap.Dimension != dimension {
		return fmt.Errorf("%w: snapshot dimension %d, expected %d", ErrInconsistent, snap.Dimension, dimension)
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("%w: snapshot has %d vectors and %d chunks", ErrInconsistent, len(snap.Vectors), len(snap.Chunks))
	}
	for i, c := range snap.Chunks {
		if c.ChunkID != i {
			return fmt.Errorf("%w: chunk at position %d has id %d", ErrInconsistent, i, c.ChunkID)
		}
		if len(snap.Vectors[i]) != dimension {
			return fmt.Errorf("%w: vector %d has %d values, expected %d", ErrInconsistent, i, len(snap.Vectors[i]), dimension)
		}
	}
	return nil
}
