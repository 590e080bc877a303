package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

// keeps each INSERT well under the Postgres bind parameter limit
const insertBatchSize = 1000

// Chunk is one row of the chunks table; chunk_id is the position in the index.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ChunkID       int64           `bun:"chunk_id,pk"`
	Text          string          `bun:"text,notnull"`
	Filename      string          `bun:"filename,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	return nil
}

// Store persists snapshots in the chunks table.
type Store struct {
	db *bun.DB
}

// Open connects, makes sure the schema exists and returns the store.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db := NewDB(sqldb, cfg.Debug)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Save replaces the table contents with snap in one transaction.
func (s *Store) Save(ctx context.Context, snap *models.Snapshot) error {
	rows := ToRows(snap)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewTruncateTable().Model((*Chunk)(nil)).Exec(ctx); err != nil {
			return fmt.Errorf("failed to truncate chunks: %w", err)
		}
		for start := 0; start < len(rows); start += insertBatchSize {
			batch := rows[start:min(start+insertBatchSize, len(rows))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert chunks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Int("chunks", len(rows)).Msg("Saved snapshot to postgres")
	return nil
}

// Load returns nil when the table is empty.
func (s *Store) Load(ctx context.Context) (*models.Snapshot, error) {
	var rows []Chunk
	if err := s.db.NewSelect().Model(&rows).Order("chunk_id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	return FromRows(rows), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ToRows(snap *models.Snapshot) []Chunk {
	rows := make([]Chunk, len(snap.Chunks))
	for i, c := range snap.Chunks {
		rows[i] = Chunk{
			ChunkID:   int64(c.ChunkID),
			Text:      c.Text,
			Filename:  c.Filename,
			Embedding: pgvector.NewVector(snap.Vectors[i]),
		}
	}
	return rows
}

func FromRows(rows []Chunk) *models.Snapshot {
	if len(rows) == 0 {
		return nil
	}
	snap := &models.Snapshot{
		Dimension: len(rows[0].Embedding.Slice()),
		Vectors:   make([][]float32, len(rows)),
		Chunks:    make([]models.Chunk, len(rows)),
	}
	for i, r := range rows {
		snap.Vectors[i] = r.Embedding.Slice()
		snap.Chunks[i] = models.Chunk{Text: r.Text, Filename: r.Filename, ChunkID: int(r.ChunkID)}
	}
	return snap
}
