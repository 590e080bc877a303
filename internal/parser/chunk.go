package parser

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultChunkSize    = 500 // words
	DefaultChunkOverlap = 50  // words
)

// ErrInvalidChunking is returned when the window would not advance.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidChunking, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the windows of text. Consecutive windows share c.overlap words and the
// last window is the first one that reaches the end of the text.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+c.size, len(words))

		chunk := strings.TrimSpace(strings.Join(words[start:end], " "))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(words) {
			break
		}
	}
	return chunks
}

// ChunkWords is a one-shot helper around NewChunker and Split.
func ChunkWords(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}
