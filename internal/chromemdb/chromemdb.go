package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/helper"
	"rag-assistant/internal/models"
)

// metadata keys stored with every chunk document
const (
	metaFilename   = "filename"
	metaChunkID    = "chunk_id"
	metaNorm       = "norm"
	metaGeneration = "generation"
	metaCount      = "count"
	metaDimension  = "dimension"
	metaCurrent    = "current"
)

// manifestID names the document that records which generation of chunk documents is
// the saved snapshot.
const manifestID = "manifest"

// VectorDBManager keeps snapshots in a chromem-go collection, one document per chunk.
// Every Save writes a new generation of documents and then switches the manifest to it,
// so an interrupted Save leaves the previous snapshot readable.
type VectorDBManager struct {
	db             *chromem.DB
	collectionName string
	dbPath         string
	compress       bool
	encryptionKey  string
}

type manifest struct {
	generation int
	count      int
	dimension  int
}

// NewVectorDBManager opens the database at dbPath, or an in-memory one when inMemory is set.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		dbPath:         dbPath,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}, nil
}

// ExportPath is where Export writes the collection.
func (m *VectorDBManager) ExportPath() string {
	return filepath.Join(m.dbPath, m.collectionName+".chromem")
}

func docID(generation, chunkID int) string {
	return strconv.Itoa(generation) + "-" + strconv.Itoa(chunkID)
}

// Save replaces the stored snapshot with snap.
// chromem normalizes every embedding it stores, so the original norm travels in the
// metadata and Load scales the vector back.
func (m *VectorDBManager) Save(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to open collection: %w", err)
	}
	prev, err := readManifest(ctx, c)
	if err != nil {
		return err
	}
	next := manifest{count: len(snap.Chunks), dimension: snap.Dimension}
	if prev != nil {
		next.generation = prev.generation + 1
	}
	gen := strconv.Itoa(next.generation)

	// leftovers of an earlier Save that never reached its manifest
	if err := c.Delete(ctx, map[string]string{metaGeneration: gen}, nil); err != nil {
		return fmt.Errorf("failed to clear generation %s: %w", gen, err)
	}

	if len(snap.Chunks) > 0 {
		docs := make([]chromem.Document, len(snap.Chunks))
		for i, chunk := range snap.Chunks {
			embedding, norm := normalize(snap.Vectors[i])
			docs[i] = chromem.Document{
				ID:      docID(next.generation, chunk.ChunkID),
				Content: chunk.Text,
				Metadata: map[string]string{
					metaFilename:   chunk.Filename,
					metaChunkID:    strconv.Itoa(chunk.ChunkID),
					metaNorm:       strconv.FormatFloat(norm, 'g', -1, 64),
					metaGeneration: gen,
				},
				Embedding: embedding,
			}
		}
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
		// AddDocuments skips the remaining documents without an error once ctx is done
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
	}

	if err := c.AddDocument(ctx, manifestDocument(next)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if prev != nil {
		old := strconv.Itoa(prev.generation)
		if err := c.Delete(ctx, map[string]string{metaGeneration: old}, nil); err != nil {
			log.Warn().Err(err).Str("generation", old).Msg("Failed to remove previous snapshot documents")
		}
	}
	log.Debug().
		Str("collection", m.collectionName).
		Int("generation", next.generation).
		Int("chunks", next.count).
		Msg("Saved snapshot to chromem")
	return nil
}

func manifestDocument(mf manifest) chromem.Document {
	return chromem.Document{
		ID:      manifestID,
		Content: manifestID,
		Metadata: map[string]string{
			metaGeneration: manifestID,
			metaCount:      strconv.Itoa(mf.count),
			metaDimension:  strconv.Itoa(mf.dimension),
			metaCurrent:    strconv.Itoa(mf.generation),
		},
		Embedding: []float32{1},
	}
}

// readManifest returns nil when no Save has completed yet.
func readManifest(ctx context.Context, c *chromem.Collection) (*manifest, error) {
	doc, err := c.GetByID(ctx, manifestID)
	if err != nil {
		return nil, nil
	}
	var mf manifest
	for key, dst := range map[string]*int{metaCurrent: &mf.generation, metaCount: &mf.count, metaDimension: &mf.dimension} {
		v, err := strconv.Atoi(doc.Metadata[key])
		if err != nil {
			return nil, fmt.Errorf("manifest has bad %s: %w", key, err)
		}
		*dst = v
	}
	return &mf, nil
}

// Load rebuilds the last saved snapshot; nil when nothing was saved or it was empty.
func (m *VectorDBManager) Load(ctx context.Context) (*models.Snapshot, error) {
	c := m.db.GetCollection(m.collectionName, nil)
	if c == nil {
		return nil, nil
	}
	mf, err := readManifest(ctx, c)
	if err != nil || mf == nil || mf.count == 0 {
		return nil, err
	}

	snap := &models.Snapshot{
		Dimension: mf.dimension,
		Vectors:   make([][]float32, mf.count),
		Chunks:    make([]models.Chunk, mf.count),
	}
	for i := 0; i < mf.count; i++ {
		doc, err := c.GetByID(ctx, docID(mf.generation, i))
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		norm, err := strconv.ParseFloat(doc.Metadata[metaNorm], 64)
		if err != nil {
			return nil, fmt.Errorf("chunk %d has bad norm metadata: %w", i, err)
		}
		snap.Vectors[i] = denormalize(doc.Embedding, norm)
		snap.Chunks[i] = models.Chunk{Text: doc.Content, Filename: doc.Metadata[metaFilename], ChunkID: i}
	}
	return snap, nil
}

// Export writes the collection to ExportPath, encrypted with the manager's key.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	if m.dbPath == "" {
		return errors.New("db path is required")
	}
	if m.db.GetCollection(m.collectionName, nil) == nil {
		return fmt.Errorf("collection %q does not exist", m.collectionName)
	}

	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", m.ExportPath()).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(m.ExportPath(), m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the collection back from a file written by Export.
func (m *VectorDBManager) Import(ctx context.Context, path string) error {
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

func (m *VectorDBManager) Close() error { return nil }

func normalize(v []float32) ([]float32, float64) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		return out, 0
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, norm
}

func denormalize(v []float32, norm float64) []float32 {
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) * norm)
	}
	return out
}
