package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elsanchez/smart-cache/internal/repository"
)

// MediaServer expone los assets completos por HTTP local para el reproductor.
// Soporta Range vía http.ServeContent.
type MediaServer struct {
	queue  *QueueManager
	server *http.Server
}

// NewMediaServer crea el servidor; addr vacío lo deshabilita
func NewMediaServer(addr string, queue *QueueManager) *MediaServer {
	m := &MediaServer{queue: queue}
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return m
}

// Handler retorna el mux con las rutas de media
func (m *MediaServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /media", m.handleList)
	mux.HandleFunc("GET /media/{id}", m.handleMedia)
	return mux
}

func (m *MediaServer) handleList(w http.ResponseWriter, r *http.Request) {
	assets, err := m.queue.Offline(r.Context())
	if err != nil {
		log.Error().Str("op", "daemon/media").Err(err).Msg("List offline assets failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"assets": assets})
}

func (m *MediaServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	blob, meta, err := m.queue.OpenOffline(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error().Str("op", "daemon/media").Str("asset", id).Err(err).Msg("Open offline asset failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("ETag", fmt.Sprintf(`"%s-%d"`, id, meta.DownloadDate.UnixMilli()))
	http.ServeContent(w, r, id+".mp4", meta.DownloadDate, blob)
}

// Start escucha en addr y sirve en background
func (m *MediaServer) Start() error {
	if m.server.Addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("listen media server: %w", err)
	}

	log.Info().Str("op", "daemon/media").Str("addr", ln.Addr().String()).Msg("Media server listening")

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("op", "daemon/media").Err(err).Msg("Media server stopped")
		}
	}()
	return nil
}

// Stop cierra el servidor esperando a las respuestas en curso
func (m *MediaServer) Stop(ctx context.Context) error {
	if m.server.Addr == "" {
		return nil
	}
	return m.server.Shutdown(ctx)
}
