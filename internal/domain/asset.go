package domain

// Asset representa una unidad descargable del catálogo.
// El catálogo es su dueño; la caché solo guarda una copia inmutable.
type Asset struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ThumbnailRef    string `json:"thumbnail_ref,omitempty"`
	Genre           string `json:"genre,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	IsPremium       bool   `json:"is_premium,omitempty"`
}

// DisplayName retorna el título, o el ID si el asset no tiene título
func (a Asset) DisplayName() string {
	if a.Title != "" {
		return a.Title
	}
	return a.ID
}
