package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"rag-assistant/internal/config"
	"rag-assistant/internal/models"
)

func sampleSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Dimension: 3,
		Vectors:   [][]float32{{1, 0, 0}, {0.5, -2, 3}},
		Chunks: []models.Chunk{
			{Text: "a <b> & c", Filename: "a.txt", ChunkID: 0},
			{Text: "ünïcode text", Filename: "b.md", ChunkID: 1},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "store"))

	want := sampleSnapshot()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load = %+v, want %+v", got, want)
	}
}

func TestFileStore_ChunksFileLayout(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.ChunksPath())
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{`"chunk_id": 1`, `"filename": "a.txt"`, `a <b> & c`, "\n  {"} {
		if !strings.Contains(text, want) {
			t.Errorf("chunks.json missing %q:\n%s", want, text)
		}
	}
	if _, err := os.Stat(s.IndexPath()); err != nil {
		t.Errorf("index file: %v", err)
	}
}

func TestFileStore_EmptySnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	if err := s.Save(ctx, &models.Snapshot{Dimension: 4}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.ChunksPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("chunks.json = %q, want []", data)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Dimension != 4 || len(got.Chunks) != 0 || len(got.Vectors) != 0 {
		t.Fatalf("Load = %+v", got)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "never-written"))
	got, err := s.Load(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Load = %v, %v; want nil, nil", got, err)
	}
}

func TestFileStore_LoadCorruptIndex(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.IndexPath(), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx); err == nil {
		t.Fatal("expected error for corrupt index")
	}
}

func TestFileStore_LoadMismatchedFiles(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	extra := `[{"text":"x","filename":"x.txt","chunk_id":0}]`
	if err := os.WriteFile(s.ChunksPath(), []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrMismatchedFiles) {
		t.Fatalf("err = %v, want ErrMismatchedFiles", err)
	}
}

func TestFileStore_FailedIndexReplaceRestoresChunks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(s.ChunksPath())
	if err != nil {
		t.Fatal(err)
	}

	// a non-empty directory in place of the index makes the rename fail
	if err := os.Remove(s.IndexPath()); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(s.IndexPath(), "blocker"), 0o755); err != nil {
		t.Fatal(err)
	}

	bigger := sampleSnapshot()
	bigger.Vectors = append(bigger.Vectors, []float32{0, 0, 1})
	bigger.Chunks = append(bigger.Chunks, models.Chunk{Text: "new", Filename: "c.txt", ChunkID: 2})
	if err := s.Save(ctx, bigger); err == nil {
		t.Fatal("expected Save to fail when the index cannot be replaced")
	}

	after, err := os.ReadFile(s.ChunksPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Errorf("chunks file changed by a failed save:\n%s", after)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	for i := 0; i < 2; i++ {
		if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("store dir holds %v, want only the index and chunk files", names)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	b, err := Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*FileStore); !ok {
		t.Errorf("file backend = %T", b)
	}

	cfg.Storage.Backend = config.BackendChromem
	b, err = Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := sampleSnapshot()
	if err := b.Save(ctx, want); err != nil {
		t.Fatalf("chromem Save: %v", err)
	}
	if got, err := b.Load(ctx); err != nil || len(got.Chunks) != len(want.Chunks) {
		t.Fatalf("chromem Load = %+v, %v", got, err)
	}

	cfg.Storage.Backend = "s3"
	if _, err := Open(ctx, cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("unknown backend err = %v", err)
	}
}

func TestExport(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.RAG.EncryptionKey = "0123456789abcdef0123456789abcdef"

	path, err := Export(context.Background(), cfg, sampleSnapshot())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("export file: %v", err)
	}
}
