package downloader

import (
	"context"

	"github.com/elsanchez/smart-cache/internal/domain"
)

// Executor ejecuta una transferencia reanudable de principio a fin.
// Retorna nil solo si el asset quedó guardado como completo.
type Executor interface {
	Execute(ctx context.Context, asset domain.Asset, resume *domain.PartialDownloadState, onProgress ProgressFunc) error
}

// Progress es el avance emitido tras cada lectura del body
type Progress struct {
	LoadedBytes int64
	TotalBytes  int64 // 0 si el servidor no informó el tamaño
	Percent     int
}

// ProgressFunc recibe el avance; se llama desde la goroutine de la transferencia
type ProgressFunc func(Progress)
