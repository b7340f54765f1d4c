package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

// Stats resume el estado de la cola
type Stats struct {
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Paused      int `json:"paused"`
	Failed      int `json:"failed"`
	Tracked     int `json:"tracked"`
	// Running cuenta goroutines de transferencia vivas (incluye pausas aún guardando)
	Running       int `json:"running"`
	MaxConcurrent int `json:"max_concurrent"`
}

// IsTracked indica si el asset tiene registro en el manager
func (q *QueueManager) IsTracked(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[id]
	return ok
}

// IsDownloading indica si el asset es la transferencia activa
func (q *QueueManager) IsDownloading(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	return ok && e.record.Status == domain.StatusDownloading
}

// ProgressOf retorna el porcentaje del asset; false si no está rastreado
func (q *QueueManager) ProgressOf(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return 0, false
	}
	return e.record.ProgressPercent, true
}

// Record retorna una copia del registro
func (q *QueueManager) Record(id string) (domain.DownloadRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return domain.DownloadRecord{}, false
	}
	return e.record, true
}

// Records retorna todos los registros en orden de cola
func (q *QueueManager) Records() []domain.DownloadRecord {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]domain.DownloadRecord, len(entries))
	for i, e := range entries {
		out[i] = e.record
	}
	q.mu.Unlock()
	return out
}

// Stats retorna contadores por estado
func (q *QueueManager) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Tracked: len(q.entries), Running: q.running, MaxConcurrent: maxConcurrent}
	for _, e := range q.entries {
		switch e.record.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusDownloading:
			s.Downloading++
		case domain.StatusPaused:
			s.Paused++
		case domain.StatusError:
			s.Failed++
		}
	}
	return s
}

// Offline lista los assets disponibles sin red
func (q *QueueManager) Offline(ctx context.Context) ([]*domain.CompletedAsset, error) {
	assets, err := q.store.ListCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("list completed assets: %w", err)
	}
	return assets, nil
}

// IsOffline indica si el asset está guardado completo
func (q *QueueManager) IsOffline(ctx context.Context, id string) (bool, error) {
	_, err := q.store.GetCompleted(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("get completed asset: %w", err)
	}
}

// Usage retorna la estimación de espacio; nil si no hay cuota conocida
func (q *QueueManager) Usage(ctx context.Context) (*domain.StorageUsage, error) {
	usage, err := q.store.EstimateUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimate usage: %w", err)
	}
	return usage, nil
}

// ClearOffline borra todos los assets completos
func (q *QueueManager) ClearOffline(ctx context.Context) error {
	if err := q.store.ClearAllCompleted(ctx); err != nil {
		return fmt.Errorf("clear completed assets: %w", err)
	}
	return nil
}

// OpenOffline abre el blob completo para reproducción local
func (q *QueueManager) OpenOffline(ctx context.Context, id string) (io.ReadSeekCloser, *domain.CompletedAsset, error) {
	return q.store.OpenCompleted(ctx, id)
}
