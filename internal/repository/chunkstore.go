package repository

import (
	"context"
	"errors"
	"io"

	"github.com/elsanchez/smart-cache/internal/domain"
)

var (
	// ErrNotFound indica que no existe registro para el asset
	ErrNotFound = errors.New("record not found")

	// ErrInconsistentState indica que los chunks no encajan con lo ya persistido
	ErrInconsistentState = errors.New("inconsistent partial state")
)

// ChunkStore define el almacenamiento persistente de assets completos y
// descargas parciales. Cada Put es una escritura atómica de un único registro.
type ChunkStore interface {
	// Assets completos
	PutCompleted(ctx context.Context, asset domain.Asset, blob io.Reader) (*domain.CompletedAsset, error)
	GetCompleted(ctx context.Context, id string) (*domain.CompletedAsset, error)
	OpenCompleted(ctx context.Context, id string) (io.ReadSeekCloser, *domain.CompletedAsset, error)
	ListCompleted(ctx context.Context) ([]*domain.CompletedAsset, error)
	DeleteCompleted(ctx context.Context, id string) error
	ClearAllCompleted(ctx context.Context) error

	// Descargas parciales (checkpoints)
	PutPartial(ctx context.Context, state *domain.PartialDownloadState) error
	GetPartial(ctx context.Context, id string) (*domain.PartialDownloadState, error)
	ReadPartial(ctx context.Context, id string) (io.ReadCloser, error)
	ListPartial(ctx context.Context) ([]*domain.PartialDownloadState, error)
	DeletePartial(ctx context.Context, id string) error

	// EstimateUsage retorna nil, nil si el entorno no expone cuota
	EstimateUsage(ctx context.Context) (*domain.StorageUsage, error)

	Close() error
}

// PlanPartialWrite compara los chunks ya persistidos con el nuevo estado y
// retorna el offset desde el que hay que reescribir y los chunks a insertar.
// Los chunks sin Data deben coincidir con lo persistido.
func PlanPartialWrite(stored []domain.Chunk, state *domain.PartialDownloadState) (int64, []domain.Chunk, error) {
	if err := state.Validate(); err != nil {
		return 0, nil, errors.Join(ErrInconsistentState, err)
	}

	keepUntil := int64(0)
	var fresh []domain.Chunk

	for i, c := range state.Chunks {
		if c.Data != nil {
			fresh = append(fresh, state.Chunks[i:]...)
			break
		}

		if i >= len(stored) || stored[i].Offset != c.Offset || stored[i].Size != c.Size {
			return 0, nil, ErrInconsistentState
		}
		keepUntil = c.End()
	}

	for _, c := range fresh {
		if c.Data == nil {
			return 0, nil, ErrInconsistentState
		}
	}

	return keepUntil, fresh, nil
}
