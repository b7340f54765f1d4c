package domain

import (
	"fmt"
	"time"
)

// DownloadStatus representa los estados posibles de una descarga
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusPaused      DownloadStatus = "paused"
	StatusCompleted   DownloadStatus = "completed"
	StatusError       DownloadStatus = "error"
)

// String retorna la representación en texto del status
func (s DownloadStatus) String() string {
	return string(s)
}

// IsActive retorna true si la descarga está en cola o en curso
func (s DownloadStatus) IsActive() bool {
	return s == StatusPending || s == StatusDownloading
}

// IsResumable retorna true si un start vuelve a encolar la descarga
func (s DownloadStatus) IsResumable() bool {
	return s == StatusPaused || s == StatusError
}

// DownloadRecord es la vista en memoria de un asset rastreado por el manager.
// "completed" nunca es un estado de reposo: el registro se elimina al completar.
type DownloadRecord struct {
	Asset           Asset          `json:"asset"`
	Status          DownloadStatus `json:"status"`
	ProgressPercent int            `json:"progress_percent"`
	LoadedBytes     int64          `json:"loaded_bytes"`
	TotalBytes      int64          `json:"total_bytes"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Chunk describe un segmento contiguo de bytes de una descarga parcial.
// Data solo viene poblado en chunks que aún no se han persistido.
type Chunk struct {
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Data   []byte `json:"-"`
}

// End retorna el offset siguiente al último byte del chunk
func (c Chunk) End() int64 {
	return c.Offset + c.Size
}

// PartialDownloadState es el checkpoint persistido de una transferencia en curso
type PartialDownloadState struct {
	ID          string         `json:"id"`
	Asset       Asset          `json:"asset"`
	Chunks      []Chunk        `json:"chunks"`
	LoadedBytes int64          `json:"loaded_bytes"`
	TotalBytes  int64          `json:"total_bytes"`
	Status      DownloadStatus `json:"status"`
	ETag        string         `json:"etag,omitempty"`
	AttemptID   string         `json:"attempt_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Validate verifica que los chunks sean contiguos desde 0 y sumen LoadedBytes
func (s *PartialDownloadState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("partial state without id")
	}

	var next int64
	for i, c := range s.Chunks {
		if c.Offset != next {
			return fmt.Errorf("chunk %d starts at %d, expected %d", i, c.Offset, next)
		}
		if c.Size <= 0 {
			return fmt.Errorf("chunk %d has invalid size %d", i, c.Size)
		}
		if c.Data != nil && int64(len(c.Data)) != c.Size {
			return fmt.Errorf("chunk %d carries %d bytes, descriptor says %d", i, len(c.Data), c.Size)
		}
		next = c.End()
	}

	if next != s.LoadedBytes {
		return fmt.Errorf("chunks cover %d bytes, loaded bytes is %d", next, s.LoadedBytes)
	}

	if s.TotalBytes > 0 && s.LoadedBytes > s.TotalBytes {
		return fmt.Errorf("loaded bytes %d exceed total %d", s.LoadedBytes, s.TotalBytes)
	}

	return nil
}

// Percent retorna el progreso del checkpoint
func (s *PartialDownloadState) Percent() int {
	return ProgressPercent(s.LoadedBytes, s.TotalBytes)
}

// CompletedAsset es un asset descargado completo, disponible offline
type CompletedAsset struct {
	ID           string    `json:"id"`
	Asset        Asset     `json:"asset"`
	Size         int64     `json:"size"`
	DownloadDate time.Time `json:"download_date"`
}

// StorageUsage es la estimación de espacio usado y disponible
type StorageUsage struct {
	UsedBytes  int64 `json:"used_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
}

// ProgressPercent calcula floor(loaded/total*100); 0 si el total es desconocido
func ProgressPercent(loaded, total int64) int {
	if total <= 0 || loaded <= 0 {
		return 0
	}
	if loaded >= total {
		return 100
	}
	return int(loaded * 100 / total)
}
