package chromemdb

import (
	"context"
	"math"
	"os"
	"testing"

	"rag-assistant/internal/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Dimension: 3,
		Vectors: [][]float32{
			{3, 4, 0},
			{0, 0, 0},
			{-1, 0.5, 2},
		},
		Chunks: []models.Chunk{
			{Text: "first chunk", Filename: "a.txt", ChunkID: 0},
			{Text: "second chunk", Filename: "a.txt", ChunkID: 1},
			{Text: "third chunk", Filename: "b.pdf", ChunkID: 2},
		},
	}
}

func assertSnapshot(t *testing.T, got, want *models.Snapshot) {
	t.Helper()
	if got == nil {
		t.Fatal("snapshot is nil")
	}
	if got.Dimension != want.Dimension {
		t.Fatalf("dimension = %d, want %d", got.Dimension, want.Dimension)
	}
	if len(got.Chunks) != len(want.Chunks) {
		t.Fatalf("got %d chunks, want %d", len(got.Chunks), len(want.Chunks))
	}
	for i := range want.Chunks {
		if got.Chunks[i] != want.Chunks[i] {
			t.Errorf("chunk %d = %+v, want %+v", i, got.Chunks[i], want.Chunks[i])
		}
		for j := range want.Vectors[i] {
			if math.Abs(float64(got.Vectors[i][j]-want.Vectors[i][j])) > 1e-5 {
				t.Errorf("vector %d = %v, want %v", i, got.Vectors[i], want.Vectors[i])
				break
			}
		}
	}
}

func TestVectorDBManager_SaveLoad(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager("", "chunks", true, false, "")
	if err != nil {
		t.Fatal(err)
	}

	want := testSnapshot()
	if err := m.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)
}

func TestVectorDBManager_SaveReplacesCollection(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager("", "chunks", true, false, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Save(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, &models.Snapshot{Dimension: 3}); err != nil {
		t.Fatalf("Save empty: %v", err)
	}

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil snapshot after saving an empty one, got %d chunks", len(got.Chunks))
	}
}

func TestVectorDBManager_LoadMissingCollection(t *testing.T) {
	m, err := NewVectorDBManager("", "nothing", true, false, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Load(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Load = %v, %v; want nil, nil", got, err)
	}
}

func TestVectorDBManager_PersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewVectorDBManager(dir, "chunks", false, false, "")
	if err != nil {
		t.Fatal(err)
	}
	want := testSnapshot()
	if err := m.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewVectorDBManager(dir, "chunks", false, false, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshot(t, got, want)
}

func TestVectorDBManager_ExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewVectorDBManager(dir, "chunks", true, true, testKey)
	if err != nil {
		t.Fatal(err)
	}
	want := testSnapshot()
	if err := m.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := m.Export(ctx); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(m.ExportPath()); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	other, err := NewVectorDBManager(dir, "chunks", true, true, testKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Import(ctx, m.ExportPath()); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, err := other.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshot(t, got, want)
}

func TestVectorDBManager_ExportRequiresKey(t *testing.T) {
	m, err := NewVectorDBManager(t.TempDir(), "chunks", true, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(context.Background(), testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := m.Export(context.Background()); err == nil {
		t.Fatal("expected error without an encryption key")
	}
}

func TestVectorDBManager_FailedSaveKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewVectorDBManager(dir, "chunks", false, false, "")
	if err != nil {
		t.Fatal(err)
	}
	want := testSnapshot()
	if err := m.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := m.Save(cancelled, want); err == nil {
		t.Fatal("Save with a cancelled context returned nil")
	}

	// the last chunk has neither text nor a vector, so chromem rejects it after
	// writing some of the others
	broken := testSnapshot()
	broken.Chunks = append(broken.Chunks, models.Chunk{Filename: "c.txt", ChunkID: 3})
	broken.Vectors = append(broken.Vectors, nil)
	if err := m.Save(ctx, broken); err == nil {
		t.Fatal("Save of an unwritable chunk returned nil")
	}

	reopened, err := NewVectorDBManager(dir, "chunks", false, false, "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)
}

func TestVectorDBManager_SaveRemovesStaleGenerations(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager("", "chunks", true, false, "")
	if err != nil {
		t.Fatal(err)
	}

	broken := testSnapshot()
	broken.Chunks = append(broken.Chunks, models.Chunk{Filename: "c.txt", ChunkID: 3})
	broken.Vectors = append(broken.Vectors, nil)
	if err := m.Save(ctx, broken); err == nil {
		t.Fatal("expected Save to fail")
	}
	if got, err := m.Load(ctx); err != nil || got != nil {
		t.Fatalf("Load after a failed first save = %v, %v; want nil, nil", got, err)
	}

	want := testSnapshot()
	for i := 0; i < 2; i++ {
		if err := m.Save(ctx, want); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	got, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshot(t, got, want)

	// one generation of chunks plus the manifest
	if n := m.db.GetCollection("chunks", nil).Count(); n != len(want.Chunks)+1 {
		t.Errorf("collection holds %d documents, want %d", n, len(want.Chunks)+1)
	}
}
