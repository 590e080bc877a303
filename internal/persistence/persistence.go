// Package persistence saves and restores snapshots of the index and chunk list.
package persistence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/db"
	"rag-assistant/internal/models"
)

// Backend stores the latest snapshot. Load returns nil, nil when nothing was saved yet.
type Backend interface {
	Save(ctx context.Context, snap *models.Snapshot) error
	Load(ctx context.Context) (*models.Snapshot, error)
	Close() error
}

var (
	_ Backend = (*FileStore)(nil)
	_ Backend = (*chromemdb.VectorDBManager)(nil)
	_ Backend = (*db.Store)(nil)
)

// Open returns the backend named by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	log.Debug().Str("backend", cfg.Storage.Backend).Msg("Opening snapshot backend")

	switch cfg.Storage.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.Storage.Dir), nil
	case config.BackendChromem:
		m, err := chromemdb.NewVectorDBManager(cfg.Storage.Dir, cfg.Storage.Collection, false, cfg.Storage.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, err
		}
		return m, nil
	case config.BackendPostgres:
		s, err := db.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Storage.Backend)
	}
}

// Export writes snap as an encrypted chromem file under cfg.Storage.Dir and returns its path.
func Export(ctx context.Context, cfg *config.Config, snap *models.Snapshot) (string, error) {
	m, err := chromemdb.NewVectorDBManager(cfg.Storage.Dir, cfg.Storage.Collection, true, cfg.Storage.Compress, cfg.RAG.EncryptionKey)
	if err != nil {
		return "", err
	}
	if err := m.Save(ctx, snap); err != nil {
		return "", err
	}
	if err := m.Export(ctx); err != nil {
		return "", err
	}
	return m.ExportPath(), nil
}
