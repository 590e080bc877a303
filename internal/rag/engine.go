// Package rag answers questions over uploaded documents: it chunks and embeds text into
// the index, retrieves the closest chunks for a question and asks the model to answer
// from them.
package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"rag-assistant/internal/config"
	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/models"
	"rag-assistant/internal/parser"
	"rag-assistant/internal/store"
)

// ErrPersist wraps failures to save a snapshot after a mutation. The mutation itself
// stays applied in memory.
var ErrPersist = errors.New("failed to persist index")

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

var _ Embedder = (*embeddings.EmbedderImpl)(nil)

// Completer is the completion service the composer calls.
type Completer = llmservice.Completer

// Persister saves and restores snapshots. Load returns nil when nothing was saved.
type Persister interface {
	Save(ctx context.Context, snap *models.Snapshot) error
	Load(ctx context.Context) (*models.Snapshot, error)
}

// Extractor reads the text out of a file; ext selects the format.
type Extractor interface {
	Extract(filePath, ext string) (string, error)
}

type Options struct {
	ChunkSize           int
	ChunkOverlap        int
	TopK                int
	SimilarityThreshold float32
	Dimension           int
	Temperature         float64
	MaxTokens           int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:           cfg.RAG.ChunkSize,
		ChunkOverlap:        cfg.RAG.ChunkOverlap,
		TopK:                cfg.RAG.TopK,
		SimilarityThreshold: float32(cfg.RAG.SimilarityThreshold),
		Dimension:           cfg.RAG.Dimension,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
	}
}

// FileInput is an uploaded file on disk; Filename is the name it is cited under.
type FileInput struct {
	Path     string
	Filename string
}

// Engine owns the index and chunk list and coordinates ingestion, retrieval and answering.
type Engine struct {
	// mu serializes mutations together with the snapshot that follows them
	mu sync.Mutex

	store     *store.IndexedStore
	chunker   *parser.Chunker
	embedder  Embedder
	persister Persister
	retriever *Retriever
	composer  *Composer
	opts      Options
}

// NewEngine builds an engine with an empty index. persister may be nil, in which case
// nothing is saved.
func NewEngine(opts Options, embedder Embedder, completer Completer, persister Persister) (*Engine, error) {
	if embedder == nil || completer == nil {
		return nil, errors.New("embedder and completer are required")
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", opts.Dimension)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 1.5
	}

	chunker, err := parser.NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	s := store.NewIndexedStore(opts.Dimension)
	return &Engine{
		store:     s,
		chunker:   chunker,
		embedder:  embedder,
		persister: persister,
		retriever: NewRetriever(s, embedder),
		composer:  NewComposer(completer, opts.Temperature, opts.MaxTokens),
		opts:      opts,
	}, nil
}

// Load restores the last saved snapshot. Having nothing saved is not an error; a
// snapshot that does not fit the configured dimension is.
func (e *Engine) Load(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	if snap == nil {
		log.Info().Msg("No saved index found, starting empty")
		return nil
	}
	return e.store.Restore(snap)
}

// AddDocuments chunks and embeds every document before touching the index, then commits
// the whole batch and saves once. It returns the number of chunks added.
func (e *Engine) AddDocuments(ctx context.Context, docs []models.Document) (int, error) {
	var entries []store.Entry
	for _, doc := range docs {
		chunks := e.chunker.Split(doc.Text)
		if len(chunks) == 0 {
			log.Warn().Str("filename", doc.Filename).Msg("Document has no text, skipping")
			continue
		}

		vectors, err := e.embedder.EmbedDocuments(ctx, chunks)
		if err != nil {
			return 0, fmt.Errorf("failed to embed %s: %w", doc.Filename, err)
		}
		if len(vectors) != len(chunks) {
			return 0, fmt.Errorf("failed to embed %s: got %d vectors for %d chunks", doc.Filename, len(vectors), len(chunks))
		}
		for i, text := range chunks {
			entries = append(entries, store.Entry{Text: text, Filename: doc.Filename, Vector: vectors[i]})
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	added, err := e.store.Add(entries)
	if err != nil {
		return 0, err
	}
	log.Info().
		Int("documents", len(docs)).
		Int("chunks_added", len(added)).
		Int("total_chunks", e.store.Len()).
		Msg("Added documents")

	if err := e.persist(ctx); err != nil {
		return len(added), err
	}
	return len(added), nil
}

// IngestFiles extracts every file and adds the ones that could be read. Files that fail
// extraction are reported and skipped.
func (e *Engine) IngestFiles(ctx context.Context, files []FileInput, extractor Extractor) (*models.IngestReport, error) {
	report := &models.IngestReport{}
	var docs []models.Document
	for _, f := range files {
		text, err := extractor.Extract(f.Path, filepath.Ext(f.Filename))
		if err != nil {
			log.Warn().Err(err).Str("filename", f.Filename).Msg("Failed to extract text")
			report.FilesFailed = append(report.FilesFailed, models.FileError{Filename: f.Filename, Error: err.Error()})
			continue
		}
		docs = append(docs, models.Document{Text: text, Filename: f.Filename})
	}
	report.FilesProcessed = len(docs)

	var err error
	if len(docs) > 0 {
		report.ChunksAdded, err = e.AddDocuments(ctx, docs)
	}
	report.TotalChunks = e.store.Len()
	return report, err
}

// Retrieve returns the chunks close enough to question using the configured top k and threshold.
func (e *Engine) Retrieve(ctx context.Context, question string) ([]models.RetrievalResult, error) {
	return e.retriever.Retrieve(ctx, question, e.opts.TopK, e.opts.SimilarityThreshold)
}

// Query retrieves context for question and composes the answer. A failing model call
// degrades the answer instead of failing the query.
func (e *Engine) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	results, err := e.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("question", question).Int("results", len(results)).Msg("Retrieved context")
	return e.composer.Compose(ctx, question, results), nil
}

func (e *Engine) Stats() models.Stats {
	return e.store.Stats()
}

// ClearIndex drops every chunk and saves the empty state.
func (e *Engine) ClearIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Reset()
	log.Info().Msg("Index cleared")
	return e.persist(ctx)
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() (*models.Snapshot, error) {
	return e.store.Snapshot()
}

// persist must be called with e.mu held.
func (e *Engine) persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	snap, err := e.store.Snapshot()
	if err != nil {
		return err
	}
	// the commit already happened, so a cancelled request must not skip the save
	if err := e.persister.Save(context.WithoutCancel(ctx), snap); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
