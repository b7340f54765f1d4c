// Package memory implementa repository.ChunkStore en memoria, para tests y
// para ejecuciones sin persistencia (storage.backend: memory).
package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

type completedEntry struct {
	meta domain.CompletedAsset
	blob []byte
}

type partialEntry struct {
	state domain.PartialDownloadState // Chunks sin Data
	data  map[int64][]byte
}

// Store es un ChunkStore en memoria
type Store struct {
	mu         sync.RWMutex
	completed  map[string]*completedEntry
	partials   map[string]*partialEntry
	quotaBytes int64
}

// Compiletime check: asegura que implementa la interfaz
var _ repository.ChunkStore = (*Store)(nil)

// NewStore crea un store vacío; quotaBytes 0 significa sin cuota conocida
func NewStore(quotaBytes int64) *Store {
	return &Store{
		completed:  make(map[string]*completedEntry),
		partials:   make(map[string]*partialEntry),
		quotaBytes: quotaBytes,
	}
}

func (s *Store) PutCompleted(ctx context.Context, asset domain.Asset, blob io.Reader) (*domain.CompletedAsset, error) {
	if asset.ID == "" {
		return nil, errors.New("put completed: asset without id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(blob)
	if err != nil {
		return nil, err
	}

	meta := domain.CompletedAsset{
		ID:           asset.ID,
		Asset:        asset,
		Size:         int64(len(data)),
		DownloadDate: time.Now(),
	}

	s.mu.Lock()
	s.completed[asset.ID] = &completedEntry{meta: meta, blob: data}
	s.mu.Unlock()

	return &meta, nil
}

func (s *Store) GetCompleted(_ context.Context, id string) (*domain.CompletedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.completed[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	meta := e.meta
	return &meta, nil
}

func (s *Store) OpenCompleted(_ context.Context, id string) (io.ReadSeekCloser, *domain.CompletedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.completed[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	meta := e.meta
	return nopSeekCloser{bytes.NewReader(e.blob)}, &meta, nil
}

func (s *Store) ListCompleted(_ context.Context) ([]*domain.CompletedAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CompletedAsset, 0, len(s.completed))
	for _, e := range s.completed {
		meta := e.meta
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DownloadDate.After(out[j].DownloadDate) })
	return out, nil
}

func (s *Store) DeleteCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.completed, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) ClearAllCompleted(_ context.Context) error {
	s.mu.Lock()
	s.completed = make(map[string]*completedEntry)
	s.mu.Unlock()
	return nil
}

func (s *Store) PutPartial(ctx context.Context, state *domain.PartialDownloadState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []domain.Chunk
	prev := s.partials[state.ID]
	if prev != nil {
		stored = prev.state.Chunks
	}

	keepUntil, fresh, err := repository.PlanPartialWrite(stored, state)
	if err != nil {
		return err
	}

	// Se construye una entrada nueva y se reemplaza en bloque
	next := &partialEntry{data: make(map[int64][]byte)}
	next.state = *state
	next.state.Chunks = nil

	for _, c := range stored {
		if c.Offset >= keepUntil {
			break
		}
		next.state.Chunks = append(next.state.Chunks, domain.Chunk{Offset: c.Offset, Size: c.Size})
		next.data[c.Offset] = prev.data[c.Offset]
	}
	for _, c := range fresh {
		next.state.Chunks = append(next.state.Chunks, domain.Chunk{Offset: c.Offset, Size: c.Size})
		next.data[c.Offset] = append([]byte(nil), c.Data...)
	}
	if next.state.Timestamp.IsZero() {
		next.state.Timestamp = time.Now()
	}

	s.partials[state.ID] = next
	return nil
}

func (s *Store) GetPartial(_ context.Context, id string) (*domain.PartialDownloadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.partials[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyState(&e.state), nil
}

func (s *Store) ReadPartial(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.partials[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	var buf bytes.Buffer
	for _, c := range e.state.Chunks {
		buf.Write(e.data[c.Offset])
	}
	return io.NopCloser(&buf), nil
}

func (s *Store) ListPartial(_ context.Context) ([]*domain.PartialDownloadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.PartialDownloadState, 0, len(s.partials))
	for _, e := range s.partials {
		out = append(out, copyState(&e.state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DeletePartial(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.partials, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) EstimateUsage(_ context.Context) (*domain.StorageUsage, error) {
	if s.quotaBytes <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	for _, e := range s.completed {
		used += e.meta.Size
	}
	for _, e := range s.partials {
		used += e.state.LoadedBytes
	}

	return &domain.StorageUsage{UsedBytes: used, QuotaBytes: s.quotaBytes}, nil
}

func (s *Store) Close() error {
	return nil
}

func copyState(st *domain.PartialDownloadState) *domain.PartialDownloadState {
	out := *st
	out.Chunks = append([]domain.Chunk(nil), st.Chunks...)
	return &out
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
