package sqlite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

func newTestDatabase(t *testing.T, dir string, opts ...Option) *Database {
	t.Helper()
	db, err := NewDatabase(dir, opts...)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	return db
}

func TestDatabase_MigrationsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	db := newTestDatabase(t, tmpDir)
	defer db.Close()

	// Verificar que existe el archivo de base de datos
	if _, err := os.Stat(filepath.Join(tmpDir, "cache.db")); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	ctx := context.Background()
	for _, table := range []string{"completed_assets", "partial_downloads", "partial_chunks"} {
		var count int
		err := db.DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			t.Fatalf("failed to query tables: %v", err)
		}
		if count != 1 {
			t.Errorf("%s table was not created", table)
		}
	}
}

func TestChunkStore_CompletedRoundTrip(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	defer db.Close()
	ctx := context.Background()

	asset := domain.Asset{ID: "movie-1", Title: "Movie", Genre: "drama", DurationSeconds: 5400, IsPremium: true}
	payload := bytes.Repeat([]byte("abc"), 1000)

	stored, err := db.Store.PutCompleted(ctx, asset, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to put completed: %v", err)
	}
	if stored.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), stored.Size)
	}

	got, err := db.Store.GetCompleted(ctx, "movie-1")
	if err != nil {
		t.Fatalf("failed to get completed: %v", err)
	}
	if got.Asset != asset {
		t.Errorf("expected asset %+v, got %+v", asset, got.Asset)
	}

	blob, _, err := db.Store.OpenCompleted(ctx, "movie-1")
	if err != nil {
		t.Fatalf("failed to open completed: %v", err)
	}
	defer blob.Close()

	data, err := io.ReadAll(blob)
	if err != nil {
		t.Fatalf("failed to read blob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("blob content differs from payload")
	}

	if _, err := db.Store.GetCompleted(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestChunkStore_PutCompletedOverwrites(t *testing.T) {
	dir := t.TempDir()
	db := newTestDatabase(t, dir)
	defer db.Close()
	ctx := context.Background()

	asset := domain.Asset{ID: "A", Title: "first"}
	if _, err := db.Store.PutCompleted(ctx, asset, strings.NewReader("old content")); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	asset.Title = "second"
	if _, err := db.Store.PutCompleted(ctx, asset, strings.NewReader("new")); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	all, err := db.Store.ListCompleted(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(all))
	}
	if all[0].Asset.Title != "second" || all[0].Size != 3 {
		t.Errorf("expected latest write, got %+v", all[0])
	}

	// El blob anterior se elimina
	entries, err := os.ReadDir(filepath.Join(dir, "media"))
	if err != nil {
		t.Fatalf("read media dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one blob file, got %d", len(entries))
	}
}

func TestChunkStore_DeleteAndClearCompleted(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	defer db.Close()
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		if _, err := db.Store.PutCompleted(ctx, domain.Asset{ID: id}, strings.NewReader(id)); err != nil {
			t.Fatalf("put %s failed: %v", id, err)
		}
	}

	if err := db.Store.DeleteCompleted(ctx, "A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := db.Store.DeleteCompleted(ctx, "A"); err != nil {
		t.Errorf("deleting an absent id should be a no-op, got %v", err)
	}
	if _, err := db.Store.GetCompleted(ctx, "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected A to be gone, got %v", err)
	}

	if err := db.Store.ClearAllCompleted(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	all, err := db.Store.ListCompleted(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty store, got %d entries", len(all))
	}
}

func TestChunkStore_PartialCheckpoints(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	defer db.Close()
	ctx := context.Background()

	state := &domain.PartialDownloadState{
		ID:          "A",
		Asset:       domain.Asset{ID: "A", Title: "Movie"},
		Chunks:      []domain.Chunk{{Offset: 0, Size: 4, Data: []byte("abcd")}},
		LoadedBytes: 4,
		TotalBytes:  10,
		Status:      domain.StatusDownloading,
		ETag:        `"v1"`,
	}
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("first checkpoint failed: %v", err)
	}

	// Segundo checkpoint: el primer chunk ya sin datos, uno nuevo con datos
	state.Chunks = []domain.Chunk{{Offset: 0, Size: 4}, {Offset: 4, Size: 3, Data: []byte("efg")}}
	state.LoadedBytes = 7
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("second checkpoint failed: %v", err)
	}

	got, err := db.Store.GetPartial(ctx, "A")
	if err != nil {
		t.Fatalf("get partial failed: %v", err)
	}
	if got.LoadedBytes != 7 || got.TotalBytes != 10 || got.Status != domain.StatusDownloading {
		t.Errorf("unexpected state: %+v", got)
	}
	if len(got.Chunks) != 2 || got.Chunks[1].Offset != 4 {
		t.Errorf("unexpected chunks: %+v", got.Chunks)
	}
	if got.ETag != `"v1"` {
		t.Errorf("expected etag to survive, got %q", got.ETag)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("stored state should be valid: %v", err)
	}

	r, err := db.Store.ReadPartial(ctx, "A")
	if err != nil {
		t.Fatalf("read partial failed: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read chunks failed: %v", err)
	}
	if string(data) != "abcdefg" {
		t.Errorf("expected abcdefg, got %q", data)
	}
}

func TestChunkStore_PutPartialRejectsMismatch(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	defer db.Close()
	ctx := context.Background()

	state := &domain.PartialDownloadState{
		ID:          "A",
		Chunks:      []domain.Chunk{{Offset: 0, Size: 4, Data: []byte("abcd")}},
		LoadedBytes: 4,
		Status:      domain.StatusDownloading,
	}
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	// Descriptor que no coincide con lo persistido
	bad := &domain.PartialDownloadState{
		ID:          "A",
		Chunks:      []domain.Chunk{{Offset: 0, Size: 5}},
		LoadedBytes: 5,
		Status:      domain.StatusDownloading,
	}
	if err := db.Store.PutPartial(ctx, bad); !errors.Is(err, repository.ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}

	// El registro anterior sigue intacto
	got, err := db.Store.GetPartial(ctx, "A")
	if err != nil {
		t.Fatalf("get partial failed: %v", err)
	}
	if got.LoadedBytes != 4 {
		t.Errorf("expected previous checkpoint to survive, got %d bytes", got.LoadedBytes)
	}
}

func TestChunkStore_PartialResetAndDelete(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	defer db.Close()
	ctx := context.Background()

	state := &domain.PartialDownloadState{
		ID:          "A",
		Chunks:      []domain.Chunk{{Offset: 0, Size: 4, Data: []byte("abcd")}},
		LoadedBytes: 4,
		Status:      domain.StatusPaused,
	}
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	reset := &domain.PartialDownloadState{ID: "A", Status: domain.StatusDownloading}
	if err := db.Store.PutPartial(ctx, reset); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	got, err := db.Store.GetPartial(ctx, "A")
	if err != nil {
		t.Fatalf("get partial failed: %v", err)
	}
	if got.LoadedBytes != 0 || len(got.Chunks) != 0 {
		t.Errorf("expected empty state after reset, got %+v", got)
	}

	if err := db.Store.DeletePartial(ctx, "A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := db.Store.GetPartial(ctx, "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.Store.ReadPartial(ctx, "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound from ReadPartial, got %v", err)
	}
}

func TestChunkStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := newTestDatabase(t, dir)
	state := &domain.PartialDownloadState{
		ID:          "A",
		Asset:       domain.Asset{ID: "A", Title: "Movie"},
		Chunks:      []domain.Chunk{{Offset: 0, Size: 2, Data: []byte("hi")}},
		LoadedBytes: 2,
		TotalBytes:  5,
		Status:      domain.StatusPaused,
	}
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}
	if _, err := db.Store.PutCompleted(ctx, domain.Asset{ID: "B"}, strings.NewReader("done")); err != nil {
		t.Fatalf("put completed failed: %v", err)
	}
	db.Close()

	// Simular reinicio del proceso
	db = newTestDatabase(t, dir)
	defer db.Close()

	partials, err := db.Store.ListPartial(ctx)
	if err != nil {
		t.Fatalf("list partial failed: %v", err)
	}
	if len(partials) != 1 || partials[0].LoadedBytes != 2 || partials[0].Asset.Title != "Movie" {
		t.Fatalf("unexpected partials after reopen: %+v", partials)
	}
	if partials[0].Percent() != 40 {
		t.Errorf("expected 40%%, got %d", partials[0].Percent())
	}

	if _, err := db.Store.GetCompleted(ctx, "B"); err != nil {
		t.Errorf("completed asset lost after reopen: %v", err)
	}
}

func TestChunkStore_EstimateUsage(t *testing.T) {
	db := newTestDatabase(t, t.TempDir(), WithQuota(1000))
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Store.PutCompleted(ctx, domain.Asset{ID: "A"}, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("put completed failed: %v", err)
	}
	state := &domain.PartialDownloadState{
		ID:          "B",
		Chunks:      []domain.Chunk{{Offset: 0, Size: 5, Data: []byte("01234")}},
		LoadedBytes: 5,
		Status:      domain.StatusPaused,
	}
	if err := db.Store.PutPartial(ctx, state); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	usage, err := db.Store.EstimateUsage(ctx)
	if err != nil {
		t.Fatalf("estimate usage failed: %v", err)
	}
	if usage == nil {
		t.Fatal("expected usage with explicit quota")
	}
	if usage.UsedBytes != 15 || usage.QuotaBytes != 1000 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}
