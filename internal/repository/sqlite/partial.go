package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

// partialRow mapea la tabla partial_downloads
type partialRow struct {
	ID          string         `db:"id"`
	AssetJSON   string         `db:"asset"`
	LoadedBytes int64          `db:"loaded_bytes"`
	TotalBytes  int64          `db:"total_bytes"`
	Status      string         `db:"status"`
	ETag        sql.NullString `db:"etag"`
	AttemptID   sql.NullString `db:"attempt_id"`
	UpdatedAt   int64          `db:"updated_at"`
}

// chunkRow mapea los descriptores de partial_chunks (sin datos)
type chunkRow struct {
	DownloadID string `db:"download_id"`
	Offset     int64  `db:"byte_offset"`
	Size       int64  `db:"size"`
}

// PutPartial guarda un checkpoint en una sola transacción: los chunks sin
// Data deben coincidir con lo persistido, los chunks con Data se insertan y
// cualquier fila posterior al último chunk conocido se descarta
func (s *ChunkStore) PutPartial(ctx context.Context, state *domain.PartialDownloadState) error {
	assetJSON, err := json.Marshal(state.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer tx.Rollback()

	var stored []chunkRow
	query := `SELECT download_id, byte_offset, size FROM partial_chunks WHERE download_id = ? ORDER BY byte_offset ASC`
	if err := tx.SelectContext(ctx, &stored, query, state.ID); err != nil {
		return fmt.Errorf("get stored chunks: %w", err)
	}

	keepUntil, fresh, err := repository.PlanPartialWrite(chunksToDomain(stored), state)
	if err != nil {
		return fmt.Errorf("plan checkpoint for %s: %w", state.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM partial_chunks WHERE download_id = ? AND byte_offset >= ?`, state.ID, keepUntil); err != nil {
		return fmt.Errorf("trim chunks: %w", err)
	}

	for _, c := range fresh {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO partial_chunks (download_id, byte_offset, size, data) VALUES (?, ?, ?, ?)`,
			state.ID, c.Offset, c.Size, c.Data,
		)
		if err != nil {
			return fmt.Errorf("insert chunk at %d: %w", c.Offset, err)
		}
	}

	timestamp := state.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	upsert := `
		INSERT INTO partial_downloads (id, asset, loaded_bytes, total_bytes, status, etag, attempt_id, updated_at)
		VALUES (:id, :asset, :loaded_bytes, :total_bytes, :status, :etag, :attempt_id, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
		    asset = excluded.asset,
		    loaded_bytes = excluded.loaded_bytes,
		    total_bytes = excluded.total_bytes,
		    status = excluded.status,
		    etag = excluded.etag,
		    attempt_id = excluded.attempt_id,
		    updated_at = excluded.updated_at
	`

	_, err = tx.NamedExecContext(ctx, upsert, map[string]interface{}{
		"id":           state.ID,
		"asset":        string(assetJSON),
		"loaded_bytes": state.LoadedBytes,
		"total_bytes":  state.TotalBytes,
		"status":       string(state.Status),
		"etag":         state.ETag,
		"attempt_id":   state.AttemptID,
		"updated_at":   timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("upsert partial download: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}

	return nil
}

// GetPartial obtiene el estado parcial con los descriptores de chunks
func (s *ChunkStore) GetPartial(ctx context.Context, id string) (*domain.PartialDownloadState, error) {
	var row partialRow

	query := `SELECT * FROM partial_downloads WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get partial download: %w", err)
	}

	var chunks []chunkRow
	query = `SELECT download_id, byte_offset, size FROM partial_chunks WHERE download_id = ? ORDER BY byte_offset ASC`
	if err := s.db.SelectContext(ctx, &chunks, query, id); err != nil {
		return nil, fmt.Errorf("get partial chunks: %w", err)
	}

	return partialToDomain(&row, chunksToDomain(chunks))
}

// ListPartial obtiene todos los estados parciales (recuperación al arrancar)
func (s *ChunkStore) ListPartial(ctx context.Context) ([]*domain.PartialDownloadState, error) {
	var rows []partialRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM partial_downloads ORDER BY updated_at ASC`); err != nil {
		return nil, fmt.Errorf("list partial downloads: %w", err)
	}

	var chunks []chunkRow
	query := `SELECT download_id, byte_offset, size FROM partial_chunks ORDER BY download_id, byte_offset ASC`
	if err := s.db.SelectContext(ctx, &chunks, query); err != nil {
		return nil, fmt.Errorf("list partial chunks: %w", err)
	}

	byID := make(map[string][]domain.Chunk)
	for _, c := range chunks {
		byID[c.DownloadID] = append(byID[c.DownloadID], domain.Chunk{Offset: c.Offset, Size: c.Size})
	}

	states := make([]*domain.PartialDownloadState, 0, len(rows))
	for i := range rows {
		st, err := partialToDomain(&rows[i], byID[rows[i].ID])
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	return states, nil
}

// ReadPartial retorna la concatenación de los chunks persistidos.
// Cada chunk se lee con su propia query para no retener la conexión.
func (s *ChunkStore) ReadPartial(ctx context.Context, id string) (io.ReadCloser, error) {
	state, err := s.GetPartial(ctx, id)
	if err != nil {
		return nil, err
	}

	return &chunkReader{ctx: ctx, store: s, id: id, chunks: state.Chunks}, nil
}

// DeletePartial elimina el estado parcial y sus chunks
func (s *ChunkStore) DeletePartial(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete partial: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM partial_chunks WHERE download_id = ?`, id); err != nil {
		return fmt.Errorf("delete partial chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM partial_downloads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete partial download: %w", err)
	}

	return tx.Commit()
}

// chunkReader lee los chunks de uno en uno en orden de offset
type chunkReader struct {
	ctx    context.Context
	store  *ChunkStore
	id     string
	chunks []domain.Chunk
	buf    []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if len(r.chunks) == 0 {
			return 0, io.EOF
		}

		next := r.chunks[0]
		r.chunks = r.chunks[1:]

		var data []byte
		query := `SELECT data FROM partial_chunks WHERE download_id = ? AND byte_offset = ?`
		if err := r.store.db.GetContext(r.ctx, &data, query, r.id, next.Offset); err != nil {
			return 0, fmt.Errorf("read chunk at %d: %w", next.Offset, err)
		}
		if int64(len(data)) != next.Size {
			return 0, fmt.Errorf("chunk at %d: %w", next.Offset, repository.ErrInconsistentState)
		}
		r.buf = data
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	r.chunks = nil
	r.buf = nil
	return nil
}

// Helper: conversión row → domain
func partialToDomain(row *partialRow, chunks []domain.Chunk) (*domain.PartialDownloadState, error) {
	var asset domain.Asset
	if err := json.Unmarshal([]byte(row.AssetJSON), &asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}

	return &domain.PartialDownloadState{
		ID:          row.ID,
		Asset:       asset,
		Chunks:      chunks,
		LoadedBytes: row.LoadedBytes,
		TotalBytes:  row.TotalBytes,
		Status:      domain.DownloadStatus(row.Status),
		ETag:        row.ETag.String,
		AttemptID:   row.AttemptID.String,
		Timestamp:   time.UnixMilli(row.UpdatedAt),
	}, nil
}

func chunksToDomain(rows []chunkRow) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		chunks = append(chunks, domain.Chunk{Offset: r.Offset, Size: r.Size})
	}
	return chunks
}
