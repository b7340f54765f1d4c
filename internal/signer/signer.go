// Package signer obtiene URLs firmadas y con soporte de Range para un asset.
// La verificación de permisos (suscripción, premium) es responsabilidad del
// servicio que firma; aquí solo se traduce su respuesta.
package signer

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrForbidden indica que el usuario no tiene acceso al asset
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indica que el servicio no conoce el asset
	ErrNotFound = errors.New("asset not found")
)

// Purpose indica para qué se pide la URL
type Purpose string

const (
	// PurposeDownload prefiere el objeto original (MP4 directo) sobre un manifest
	PurposeDownload Purpose = "download"
	// PurposeStream acepta cualquier URL reproducible
	PurposeStream Purpose = "stream"
)

// DefaultExpiry es la validez usada cuando el servicio no informa una
const DefaultExpiry = time.Hour

// SignedURL es una URL temporal de lectura
type SignedURL struct {
	URL       string        `json:"url"`
	ExpiresIn time.Duration `json:"expires_in"`
	// Progress es el progreso de reproducción que reporta la API, si lo hay
	Progress float64 `json:"progress,omitempty"`
}

// Signer resuelve la URL firmada de un asset
type Signer interface {
	SignURL(ctx context.Context, assetID string, purpose Purpose) (*SignedURL, error)
}
