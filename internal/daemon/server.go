package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Server es el servidor Unix socket
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   *Handlers
}

// Request representa una petición al daemon
type Request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Response representa una respuesta del daemon
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewServer crea un nuevo servidor
func NewServer(socketPath string, handlers *Handlers) *Server {
	return &Server{
		socketPath: socketPath,
		handlers:   handlers,
	}
}

// Start inicia el servidor
func (s *Server) Start(ctx context.Context) error {
	// Crear directorio para socket
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Limpiar socket anterior si existe
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	s.listener = listener

	// Permisos del socket
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	log.Info().Str("op", "daemon/server").Str("socket", s.socketPath).Msg("Server listening")

	go s.acceptLoop(ctx)

	return nil
}

// acceptLoop acepta conexiones entrantes
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn().Str("op", "daemon/server").Err(err).Msg("Accept error")
				continue
			}
		}

		go s.handleConnection(ctx, conn)
	}
}

// handleConnection maneja una conexión individual
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.sendError(conn, fmt.Errorf("decode request: %w", err))
		return
	}

	log.Debug().Str("op", "daemon/server").Str("action", req.Action).Msg("Received request")

	resp := s.route(ctx, &req)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Warn().Str("op", "daemon/server").Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) route(ctx context.Context, req *Request) Response {
	switch req.Action {
	case "ping":
		return Response{Success: true, Data: json.RawMessage(`{"message":"pong"}`)}
	case "add":
		return s.handlers.HandleAdd(ctx, req.Payload)
	case "pause":
		return s.handlers.HandlePause(ctx, req.Payload)
	case "resume":
		return s.handlers.HandleResume(ctx, req.Payload)
	case "cancel":
		return s.handlers.HandleCancel(ctx, req.Payload)
	case "remove":
		return s.handlers.HandleRemove(ctx, req.Payload)
	case "status":
		return s.handlers.HandleStatus(ctx, req.Payload)
	case "list":
		return s.handlers.HandleList(ctx)
	case "offline":
		return s.handlers.HandleOffline(ctx)
	case "usage":
		return s.handlers.HandleUsage(ctx)
	case "clear":
		return s.handlers.HandleClear(ctx)
	case "stats":
		return s.handlers.HandleStats(ctx)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
}

// sendError envía una respuesta de error
func (s *Server) sendError(conn net.Conn, err error) {
	resp := Response{
		Success: false,
		Error:   err.Error(),
	}
	json.NewEncoder(conn).Encode(resp)
}

// Stop detiene el servidor y borra el socket
func (s *Server) Stop() error {
	log.Info().Str("op", "daemon/server").Msg("Server stopping...")
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.socketPath)
	return err
}
