package store

import (
	"fmt"

	"rag-assistant/internal/models"
)

// ChunkStore is an append-only sequence of chunks; a chunk's id is its position.
// It is not safe for concurrent use on its own.
type ChunkStore struct {
	chunks []models.Chunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{}
}

// Append stores a new chunk and returns it with its assigned id.
func (s *ChunkStore) Append(text, filename string) models.Chunk {
	c := models.Chunk{Text: text, Filename: filename, ChunkID: len(s.chunks)}
	s.chunks = append(s.chunks, c)
	return c
}

func (s *ChunkStore) Get(id int) (models.Chunk, error) {
	if id < 0 || id >= len(s.chunks) {
		return models.Chunk{}, fmt.Errorf("chunk %d out of range [0, %d)", id, len(s.chunks))
	}
	return s.chunks[id], nil
}

func (s *ChunkStore) Len() int { return len(s.chunks) }

func (s *ChunkStore) DistinctFilenames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, c := range s.chunks {
		names[c.Filename] = struct{}{}
	}
	return names
}

// All returns a copy of the stored chunks in id order.
func (s *ChunkStore) All() []models.Chunk {
	out := make([]models.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *ChunkStore) Clear() {
	s.chunks = nil
}

// truncate drops every chunk at position n and beyond.
func (s *ChunkStore) truncate(n int) {
	s.chunks = s.chunks[:n]
}
