package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
	"rag-assistant/internal/vectorindex"
)

const (
	IndexFileName  = "faiss.index"
	ChunksFileName = "chunks.json"
)

// ErrMismatchedFiles is returned by Load when the index and chunk files on disk do not
// describe the same snapshot.
var ErrMismatchedFiles = errors.New("index and chunks files do not match")

// FileStore keeps a snapshot as two files in one directory: the binary index blob and
// the chunk list as JSON.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) IndexPath() string  { return filepath.Join(s.dir, IndexFileName) }
func (s *FileStore) ChunksPath() string { return filepath.Join(s.dir, ChunksFileName) }

// Save writes both files to temporary names first and renames them into place only
// once both writes succeeded. The chunk file is replaced first; if the index cannot be
// replaced afterwards the previous chunk file is put back.
func (s *FileStore) Save(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := helper.CreateFolder(s.dir); err != nil {
		return err
	}

	index := vectorindex.New(snap.Dimension)
	if err := index.Add(snap.Vectors); err != nil {
		return fmt.Errorf("failed to build index for saving: %w", err)
	}

	chunks := snap.Chunks
	if chunks == nil {
		chunks = []models.Chunk{}
	}

	indexTmp, err := writeTemp(s.dir, IndexFileName, func(w io.Writer) error {
		_, err := index.WriteTo(w)
		return err
	})
	if err != nil {
		return err
	}
	chunksTmp, err := writeTemp(s.dir, ChunksFileName, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)
	})
	if err != nil {
		os.Remove(indexTmp)
		return err
	}

	previous, err := os.ReadFile(s.ChunksPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(indexTmp)
		os.Remove(chunksTmp)
		return fmt.Errorf("failed to read current chunks file: %w", err)
	}
	hadPrevious := err == nil

	if err := os.Rename(chunksTmp, s.ChunksPath()); err != nil {
		os.Remove(indexTmp)
		os.Remove(chunksTmp)
		return fmt.Errorf("failed to replace chunks file: %w", err)
	}
	if err := os.Rename(indexTmp, s.IndexPath()); err != nil {
		os.Remove(indexTmp)
		if rbErr := s.restoreChunks(previous, hadPrevious); rbErr != nil {
			return fmt.Errorf("failed to replace index file: %w (restoring chunks file: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to replace index file: %w", err)
	}

	log.Debug().Str("dir", s.dir).Int("chunks", len(chunks)).Msg("Saved snapshot to disk")
	return nil
}

// Load returns nil when no snapshot has been written yet.
func (s *FileStore) Load(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexFile, err := os.Open(s.IndexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer indexFile.Close()

	data, err := os.ReadFile(s.ChunksPath())
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", s.ChunksPath()).Msg("Index file present without chunk file, starting empty")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	index, err := vectorindex.Read(indexFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	var chunks []models.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse chunks file: %w", err)
	}

	if index.Size() != len(chunks) {
		return nil, fmt.Errorf("%w: %s holds %d vectors, %s holds %d chunks",
			ErrMismatchedFiles, IndexFileName, index.Size(), ChunksFileName, len(chunks))
	}

	return &models.Snapshot{
		Dimension: index.Dimension(),
		Vectors:   index.Vectors(),
		Chunks:    chunks,
	}, nil
}

func (s *FileStore) Close() error { return nil }

// restoreChunks puts back the chunk file that was current before a failed Save.
func (s *FileStore) restoreChunks(previous []byte, existed bool) error {
	if !existed {
		return os.Remove(s.ChunksPath())
	}
	tmp, err := writeTemp(s.dir, ChunksFileName, func(w io.Writer) error {
		_, err := w.Write(previous)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.ChunksPath()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeTemp(dir, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	return f.Name(), nil
}
