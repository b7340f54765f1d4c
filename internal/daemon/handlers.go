package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elsanchez/smart-cache/internal/domain"
)

// Handlers maneja las peticiones del servidor
type Handlers struct {
	queue *QueueManager
}

// NewHandlers crea un nuevo conjunto de handlers
func NewHandlers(queue *QueueManager) *Handlers {
	return &Handlers{queue: queue}
}

// IDPayload es el payload de las acciones sobre un asset
type IDPayload struct {
	ID string `json:"id"`
}

// StatusResult es la respuesta de add y status
type StatusResult struct {
	ID     string                 `json:"id"`
	Status domain.DownloadStatus  `json:"status"`
	Record *domain.DownloadRecord `json:"record,omitempty"`
}

func okResponse(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse("marshal response: %v", err)
	}
	return Response{Success: true, Data: data}
}

func errorResponse(format string, args ...interface{}) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

func decodeID(payload json.RawMessage) (string, error) {
	var req IDPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", fmt.Errorf("invalid payload: %w", err)
	}
	if req.ID == "" {
		return "", errors.New("id is required")
	}
	return req.ID, nil
}

// status arma el estado visible de un asset: registro vivo, completo o desconocido
func (h *Handlers) status(ctx context.Context, id string) (StatusResult, error) {
	if rec, ok := h.queue.Record(id); ok {
		return StatusResult{ID: id, Status: rec.Status, Record: &rec}, nil
	}

	offline, err := h.queue.IsOffline(ctx, id)
	if err != nil {
		return StatusResult{}, err
	}
	if offline {
		return StatusResult{ID: id, Status: domain.StatusCompleted}, nil
	}
	return StatusResult{}, ErrNotTracked
}

// HandleAdd encola un asset; el payload es el asset en JSON
func (h *Handlers) HandleAdd(ctx context.Context, payload json.RawMessage) Response {
	var asset domain.Asset
	if err := json.Unmarshal(payload, &asset); err != nil {
		return errorResponse("invalid payload: %v", err)
	}
	if asset.ID == "" {
		return errorResponse("id is required")
	}

	if err := h.queue.Start(ctx, asset); err != nil {
		return errorResponse("start download: %v", err)
	}

	result, err := h.status(ctx, asset.ID)
	if err != nil {
		// Puede haberse completado y borrado entre medio
		return errorResponse("get status: %v", err)
	}
	return okResponse(result)
}

// HandlePause pausa la transferencia activa del asset
func (h *Handlers) HandlePause(ctx context.Context, payload json.RawMessage) Response {
	id, err := decodeID(payload)
	if err != nil {
		return errorResponse("%v", err)
	}
	if err := h.queue.Pause(id); err != nil {
		return errorResponse("pause %s: %v", id, err)
	}

	result, err := h.status(ctx, id)
	if err != nil {
		return errorResponse("get status: %v", err)
	}
	return okResponse(result)
}

// HandleResume vuelve a encolar un asset pausado o con error
func (h *Handlers) HandleResume(ctx context.Context, payload json.RawMessage) Response {
	id, err := decodeID(payload)
	if err != nil {
		return errorResponse("%v", err)
	}
	if err := h.queue.Resume(ctx, id); err != nil {
		return errorResponse("resume %s: %v", id, err)
	}

	result, err := h.status(ctx, id)
	if err != nil {
		return errorResponse("get status: %v", err)
	}
	return okResponse(result)
}

// HandleCancel aborta y borra el progreso del asset
func (h *Handlers) HandleCancel(ctx context.Context, payload json.RawMessage) Response {
	id, err := decodeID(payload)
	if err != nil {
		return errorResponse("%v", err)
	}
	if err := h.queue.Cancel(ctx, id); err != nil {
		return errorResponse("cancel %s: %v", id, err)
	}
	return okResponse(IDPayload{ID: id})
}

// HandleRemove cancela y borra el asset completo
func (h *Handlers) HandleRemove(ctx context.Context, payload json.RawMessage) Response {
	id, err := decodeID(payload)
	if err != nil {
		return errorResponse("%v", err)
	}
	if err := h.queue.Remove(ctx, id); err != nil {
		return errorResponse("remove %s: %v", id, err)
	}
	return okResponse(IDPayload{ID: id})
}

// HandleStatus maneja la petición de status
func (h *Handlers) HandleStatus(ctx context.Context, payload json.RawMessage) Response {
	id, err := decodeID(payload)
	if err != nil {
		return errorResponse("%v", err)
	}

	result, err := h.status(ctx, id)
	if err != nil {
		return errorResponse("get status %s: %v", id, err)
	}
	return okResponse(result)
}

// HandleList retorna los registros rastreados en orden de cola
func (h *Handlers) HandleList(_ context.Context) Response {
	return okResponse(map[string]interface{}{
		"downloads": h.queue.Records(),
	})
}

// HandleOffline lista los assets completos
func (h *Handlers) HandleOffline(ctx context.Context) Response {
	assets, err := h.queue.Offline(ctx)
	if err != nil {
		return errorResponse("%v", err)
	}
	return okResponse(map[string]interface{}{
		"assets": assets,
	})
}

// HandleUsage retorna la estimación de espacio (usage null si no hay cuota)
func (h *Handlers) HandleUsage(ctx context.Context) Response {
	usage, err := h.queue.Usage(ctx)
	if err != nil {
		return errorResponse("%v", err)
	}
	return okResponse(map[string]interface{}{
		"usage": usage,
	})
}

// HandleClear borra todos los assets completos
func (h *Handlers) HandleClear(ctx context.Context) Response {
	if err := h.queue.ClearOffline(ctx); err != nil {
		return errorResponse("%v", err)
	}
	return okResponse(map[string]bool{"cleared": true})
}

// HandleStats maneja la petición de estadísticas
func (h *Handlers) HandleStats(_ context.Context) Response {
	return okResponse(h.queue.Stats())
}
