package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

// ChunkStore implementa repository.ChunkStore usando SQLite para metadatos
// y chunks parciales, y archivos en disco para los blobs completos
type ChunkStore struct {
	db         *sqlx.DB
	mediaDir   string
	quotaBytes int64
}

// Compiletime check: asegura que implementa la interfaz
var _ repository.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore crea un nuevo store sobre una conexión ya migrada
func NewChunkStore(db *sqlx.DB, mediaDir string) *ChunkStore {
	return &ChunkStore{db: db, mediaDir: mediaDir}
}

// completedRow mapea la tabla completed_assets
type completedRow struct {
	ID           string `db:"id"`
	AssetJSON    string `db:"asset"`
	Size         int64  `db:"size"`
	BlobPath     string `db:"blob_path"`
	DownloadDate int64  `db:"download_date"`
}

// PutCompleted escribe el blob en un archivo temporal, lo renombra a su
// nombre definitivo y hace upsert de la fila. La fila es el punto de commit.
func (s *ChunkStore) PutCompleted(ctx context.Context, asset domain.Asset, blob io.Reader) (*domain.CompletedAsset, error) {
	if asset.ID == "" {
		return nil, fmt.Errorf("put completed: asset without id")
	}

	assetJSON, err := json.Marshal(asset)
	if err != nil {
		return nil, fmt.Errorf("marshal asset: %w", err)
	}

	tmp, err := os.CreateTemp(s.mediaDir, ".incoming-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op después del rename

	size, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: blob})
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}

	now := time.Now()
	finalPath := filepath.Join(s.mediaDir, fmt.Sprintf("%s-%d.bin", blobName(asset.ID), now.UnixNano()))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	// Path anterior para limpiarlo después del upsert
	var previous sql.NullString
	if err := s.db.GetContext(ctx, &previous, `SELECT blob_path FROM completed_assets WHERE id = ?`, asset.ID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		os.Remove(finalPath)
		return nil, fmt.Errorf("get previous blob: %w", err)
	}

	query := `
		INSERT INTO completed_assets (id, asset, size, blob_path, download_date)
		VALUES (:id, :asset, :size, :blob_path, :download_date)
		ON CONFLICT(id) DO UPDATE SET
		    asset = excluded.asset,
		    size = excluded.size,
		    blob_path = excluded.blob_path,
		    download_date = excluded.download_date
	`

	_, err = s.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":            asset.ID,
		"asset":         string(assetJSON),
		"size":          size,
		"blob_path":     finalPath,
		"download_date": now.UnixMilli(),
	})
	if err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("upsert completed asset: %w", err)
	}

	if previous.Valid && previous.String != finalPath {
		removeBlob(previous.String)
	}

	return &domain.CompletedAsset{
		ID:           asset.ID,
		Asset:        asset,
		Size:         size,
		DownloadDate: time.UnixMilli(now.UnixMilli()),
	}, nil
}

// GetCompleted obtiene un asset completo por ID
func (s *ChunkStore) GetCompleted(ctx context.Context, id string) (*domain.CompletedAsset, error) {
	row, err := s.getCompletedRow(ctx, id)
	if err != nil {
		return nil, err
	}
	return completedToDomain(row)
}

// OpenCompleted abre el blob de un asset completo para reproducción
func (s *ChunkStore) OpenCompleted(ctx context.Context, id string) (io.ReadSeekCloser, *domain.CompletedAsset, error) {
	row, err := s.getCompletedRow(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	completed, err := completedToDomain(row)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(row.BlobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("blob missing for %s: %w", id, repository.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}

	return f, completed, nil
}

// ListCompleted obtiene todos los assets completos, más recientes primero
func (s *ChunkStore) ListCompleted(ctx context.Context) ([]*domain.CompletedAsset, error) {
	var rows []completedRow

	query := `SELECT * FROM completed_assets ORDER BY download_date DESC`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list completed assets: %w", err)
	}

	assets := make([]*domain.CompletedAsset, 0, len(rows))
	for i := range rows {
		c, err := completedToDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		assets = append(assets, c)
	}

	return assets, nil
}

// DeleteCompleted elimina la fila y luego el blob
func (s *ChunkStore) DeleteCompleted(ctx context.Context, id string) error {
	row, err := s.getCompletedRow(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM completed_assets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete completed asset: %w", err)
	}

	removeBlob(row.BlobPath)
	return nil
}

// ClearAllCompleted elimina todos los assets completos
func (s *ChunkStore) ClearAllCompleted(ctx context.Context) error {
	var paths []string
	if err := s.db.SelectContext(ctx, &paths, `SELECT blob_path FROM completed_assets`); err != nil {
		return fmt.Errorf("list blob paths: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM completed_assets`); err != nil {
		return fmt.Errorf("clear completed assets: %w", err)
	}

	for _, p := range paths {
		removeBlob(p)
	}

	return nil
}

func (s *ChunkStore) getCompletedRow(ctx context.Context, id string) (*completedRow, error) {
	var row completedRow

	query := `SELECT * FROM completed_assets WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get completed asset: %w", err)
	}

	return &row, nil
}

// Helper: conversión row → domain
func completedToDomain(row *completedRow) (*domain.CompletedAsset, error) {
	var asset domain.Asset
	if err := json.Unmarshal([]byte(row.AssetJSON), &asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}

	return &domain.CompletedAsset{
		ID:           row.ID,
		Asset:        asset,
		Size:         row.Size,
		DownloadDate: time.UnixMilli(row.DownloadDate),
	}, nil
}

// blobName deriva un nombre de archivo seguro del ID externo
func blobName(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}

func removeBlob(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("op", "sqlite/completed").Err(err).Msgf("Failed to remove blob %s", path)
	}
}

// ctxReader corta la copia cuando el contexto se cancela
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
