// Package redis implementa repository.ChunkStore sobre Redis. Pensado para
// cachés pequeñas o compartidas: los blobs completos viven en memoria de Redis.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

// Config contiene la conexión a Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implementa repository.ChunkStore usando Redis
type Store struct {
	client *goredis.Client
	prefix string
}

// Compiletime check: asegura que implementa la interfaz
var _ repository.ChunkStore = (*Store)(nil)

// maxWatchRetries limita los reintentos de transacciones optimistas
const maxWatchRetries = 5

// NewStore conecta con Redis y verifica la conexión
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return &Store{client: client, prefix: strings.TrimSuffix(cfg.Prefix, ":")}, nil
}

func (s *Store) buildKey(parts ...string) string {
	key := strings.Join(parts, ":")
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *Store) completedKey(id string) string { return s.buildKey("completed", id) }
func (s *Store) blobKey(id string) string      { return s.buildKey("blob", id) }
func (s *Store) completedSet() string          { return s.buildKey("completed") }
func (s *Store) partialKey(id string) string   { return s.buildKey("partial", id) }
func (s *Store) partialSet() string            { return s.buildKey("partials") }

func (s *Store) chunkKey(id string, offset int64) string {
	return s.buildKey("chunk", id, strconv.FormatInt(offset, 10))
}

// PutCompleted guarda blob y metadatos en una transacción MULTI/EXEC
func (s *Store) PutCompleted(ctx context.Context, asset domain.Asset, blob io.Reader) (*domain.CompletedAsset, error) {
	if asset.ID == "" {
		return nil, fmt.Errorf("put completed: asset without id")
	}

	data, err := io.ReadAll(blob)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	assetJSON, err := json.Marshal(asset)
	if err != nil {
		return nil, fmt.Errorf("marshal asset: %w", err)
	}

	now := time.Now()
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.blobKey(asset.ID), data, 0)
		pipe.HSet(ctx, s.completedKey(asset.ID), map[string]interface{}{
			"asset":         string(assetJSON),
			"size":          len(data),
			"download_date": now.UnixMilli(),
		})
		pipe.SAdd(ctx, s.completedSet(), asset.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save completed asset %s: %w", asset.ID, err)
	}

	return &domain.CompletedAsset{
		ID:           asset.ID,
		Asset:        asset,
		Size:         int64(len(data)),
		DownloadDate: time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (s *Store) GetCompleted(ctx context.Context, id string) (*domain.CompletedAsset, error) {
	fields, err := s.client.HGetAll(ctx, s.completedKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get completed asset %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return completedFromHash(id, fields)
}

func (s *Store) OpenCompleted(ctx context.Context, id string) (io.ReadSeekCloser, *domain.CompletedAsset, error) {
	meta, err := s.GetCompleted(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.client.Get(ctx, s.blobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil, fmt.Errorf("blob missing for %s: %w", id, repository.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("get blob %s: %w", id, err)
	}

	return readSeekNopCloser{bytes.NewReader(data)}, meta, nil
}

func (s *Store) ListCompleted(ctx context.Context) ([]*domain.CompletedAsset, error) {
	ids, err := s.client.SMembers(ctx, s.completedSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("list completed ids: %w", err)
	}

	out := make([]*domain.CompletedAsset, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCompleted(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DownloadDate.After(out[j].DownloadDate) })
	return out, nil
}

func (s *Store) DeleteCompleted(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.completedKey(id), s.blobKey(id))
		pipe.SRem(ctx, s.completedSet(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete completed asset %s: %w", id, err)
	}
	return nil
}

func (s *Store) ClearAllCompleted(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.completedSet()).Result()
	if err != nil {
		return fmt.Errorf("list completed ids: %w", err)
	}
	for _, id := range ids {
		if err := s.DeleteCompleted(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// PutPartial usa WATCH sobre el hash del estado para que el checkpoint
// completo (chunks + metadatos) se aplique en un único EXEC
func (s *Store) PutPartial(ctx context.Context, state *domain.PartialDownloadState) error {
	assetJSON, err := json.Marshal(state.Asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}

	key := s.partialKey(state.ID)

	txf := func(tx *goredis.Tx) error {
		stored, err := s.storedChunks(ctx, tx, key)
		if err != nil {
			return err
		}

		keepUntil, fresh, err := repository.PlanPartialWrite(stored, state)
		if err != nil {
			return fmt.Errorf("plan checkpoint for %s: %w", state.ID, err)
		}

		descriptors := make([]domain.Chunk, 0, len(stored)+len(fresh))
		var dropped []string
		for _, c := range stored {
			if c.Offset >= keepUntil {
				dropped = append(dropped, s.chunkKey(state.ID, c.Offset))
				continue
			}
			descriptors = append(descriptors, domain.Chunk{Offset: c.Offset, Size: c.Size})
		}
		for _, c := range fresh {
			descriptors = append(descriptors, domain.Chunk{Offset: c.Offset, Size: c.Size})
		}

		chunksJSON, err := json.Marshal(descriptors)
		if err != nil {
			return fmt.Errorf("marshal chunks: %w", err)
		}

		timestamp := state.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if len(dropped) > 0 {
				pipe.Del(ctx, dropped...)
			}
			for _, c := range fresh {
				pipe.Set(ctx, s.chunkKey(state.ID, c.Offset), c.Data, 0)
			}
			pipe.HSet(ctx, key, map[string]interface{}{
				"asset":        string(assetJSON),
				"chunks":       string(chunksJSON),
				"loaded_bytes": state.LoadedBytes,
				"total_bytes":  state.TotalBytes,
				"status":       string(state.Status),
				"etag":         state.ETag,
				"attempt_id":   state.AttemptID,
				"updated_at":   timestamp.UnixMilli(),
			})
			pipe.SAdd(ctx, s.partialSet(), state.ID)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", state.ID, err)
	}

	return nil
}

func (s *Store) storedChunks(ctx context.Context, tx *goredis.Tx, key string) ([]domain.Chunk, error) {
	raw, err := tx.HGet(ctx, key, "chunks").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stored chunks: %w", err)
	}

	var chunks []domain.Chunk
	if err := json.Unmarshal([]byte(raw), &chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	return chunks, nil
}

func (s *Store) GetPartial(ctx context.Context, id string) (*domain.PartialDownloadState, error) {
	fields, err := s.client.HGetAll(ctx, s.partialKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get partial download %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return partialFromHash(id, fields)
}

func (s *Store) ReadPartial(ctx context.Context, id string) (io.ReadCloser, error) {
	state, err := s.GetPartial(ctx, id)
	if err != nil {
		return nil, err
	}
	return &chunkReader{ctx: ctx, store: s, id: id, chunks: state.Chunks}, nil
}

func (s *Store) ListPartial(ctx context.Context) ([]*domain.PartialDownloadState, error) {
	ids, err := s.client.SMembers(ctx, s.partialSet()).Result()
	if err != nil {
		return nil, fmt.Errorf("list partial ids: %w", err)
	}

	out := make([]*domain.PartialDownloadState, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetPartial(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DeletePartial(ctx context.Context, id string) error {
	state, err := s.GetPartial(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	keys := []string{s.partialKey(id)}
	for _, c := range state.Chunks {
		keys = append(keys, s.chunkKey(id, c.Offset))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.partialSet(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete partial download %s: %w", id, err)
	}
	return nil
}

// EstimateUsage usa maxmemory de Redis como cuota; sin maxmemory no hay cuota
func (s *Store) EstimateUsage(ctx context.Context) (*domain.StorageUsage, error) {
	info, err := s.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("redis info: %w", err)
	}

	quota := parseInfoField(info, "maxmemory")
	if quota <= 0 {
		return nil, nil
	}

	var used int64
	completed, err := s.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range completed {
		used += c.Size
	}
	partials, err := s.ListPartial(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		used += p.LoadedBytes
	}

	return &domain.StorageUsage{UsedBytes: used, QuotaBytes: quota}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// parseInfoField extrae un campo numérico de la salida de INFO
func parseInfoField(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		name, value, ok := strings.Cut(line, ":")
		if !ok || name != field {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func completedFromHash(id string, fields map[string]string) (*domain.CompletedAsset, error) {
	var asset domain.Asset
	if err := json.Unmarshal([]byte(fields["asset"]), &asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}

	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	date, _ := strconv.ParseInt(fields["download_date"], 10, 64)

	return &domain.CompletedAsset{
		ID:           id,
		Asset:        asset,
		Size:         size,
		DownloadDate: time.UnixMilli(date),
	}, nil
}

func partialFromHash(id string, fields map[string]string) (*domain.PartialDownloadState, error) {
	var asset domain.Asset
	if err := json.Unmarshal([]byte(fields["asset"]), &asset); err != nil {
		return nil, fmt.Errorf("unmarshal asset: %w", err)
	}

	var chunks []domain.Chunk
	if raw := fields["chunks"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &chunks); err != nil {
			return nil, fmt.Errorf("unmarshal chunks: %w", err)
		}
	}

	loaded, _ := strconv.ParseInt(fields["loaded_bytes"], 10, 64)
	total, _ := strconv.ParseInt(fields["total_bytes"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return &domain.PartialDownloadState{
		ID:          id,
		Asset:       asset,
		Chunks:      chunks,
		LoadedBytes: loaded,
		TotalBytes:  total,
		Status:      domain.DownloadStatus(fields["status"]),
		ETag:        fields["etag"],
		AttemptID:   fields["attempt_id"],
		Timestamp:   time.UnixMilli(updated),
	}, nil
}

// chunkReader lee los chunks de uno en uno
type chunkReader struct {
	ctx    context.Context
	store  *Store
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

		data, err := r.store.client.Get(r.ctx, r.store.chunkKey(r.id, next.Offset)).Bytes()
		if err != nil {
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

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }
