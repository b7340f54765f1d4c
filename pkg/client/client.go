package client

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/elsanchez/smart-cache/internal/domain"
)

// GetDefaultSocketPath retorna el path del socket usando XDG_RUNTIME_DIR
// Desktop Linux con systemd siempre tiene esta variable
func GetDefaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		// Fallback: construir con UID (aunque no debería ocurrir en desktop Linux moderno)
		uid := os.Getuid()
		runtimeDir = fmt.Sprintf("/run/user/%d", uid)
	}

	return filepath.Join(runtimeDir, "smart-cache.sock")
}

// Client representa un cliente del daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient crea un cliente con socket path personalizado
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 30 * time.Second}
}

// NewDefaultClient crea un cliente con el socket path por defecto
func NewDefaultClient() *Client {
	return NewClient(GetDefaultSocketPath())
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

// StatusResult es el estado de un asset según el daemon
type StatusResult struct {
	ID     string                 `json:"id"`
	Status domain.DownloadStatus  `json:"status"`
	Record *domain.DownloadRecord `json:"record,omitempty"`
}

// Stats son los contadores de la cola
type Stats struct {
	Pending       int `json:"pending"`
	Downloading   int `json:"downloading"`
	Paused        int `json:"paused"`
	Failed        int `json:"failed"`
	Tracked       int `json:"tracked"`
	Running       int `json:"running"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Send envía una petición al daemon y retorna la respuesta
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w (is daemon running?)", err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}

// call envía la acción y decodifica Data en out (si no es nil)
func (c *Client) call(action string, payload interface{}, out interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	resp, err := c.Send(&Request{Action: action, Payload: raw})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s failed: %s", action, resp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type idPayload struct {
	ID string `json:"id"`
}

// Ping verifica que el daemon responde
func (c *Client) Ping() error {
	return c.call("ping", nil, nil)
}

// Add encola un asset para descarga offline
func (c *Client) Add(asset domain.Asset) (*StatusResult, error) {
	var result StatusResult
	if err := c.call("add", asset, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pause pausa la descarga activa del asset
func (c *Client) Pause(id string) (*StatusResult, error) {
	var result StatusResult
	if err := c.call("pause", idPayload{ID: id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Resume vuelve a encolar un asset pausado o con error
func (c *Client) Resume(id string) (*StatusResult, error) {
	var result StatusResult
	if err := c.call("resume", idPayload{ID: id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel aborta la descarga y borra su progreso
func (c *Client) Cancel(id string) error {
	return c.call("cancel", idPayload{ID: id}, nil)
}

// Remove cancela y borra el asset offline
func (c *Client) Remove(id string) error {
	return c.call("remove", idPayload{ID: id}, nil)
}

// Status obtiene el estado de un asset
func (c *Client) Status(id string) (*StatusResult, error) {
	var result StatusResult
	if err := c.call("status", idPayload{ID: id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// List retorna los registros rastreados en orden de cola
func (c *Client) List() ([]domain.DownloadRecord, error) {
	var result struct {
		Downloads []domain.DownloadRecord `json:"downloads"`
	}
	if err := c.call("list", nil, &result); err != nil {
		return nil, err
	}
	return result.Downloads, nil
}

// Offline lista los assets disponibles sin red
func (c *Client) Offline() ([]*domain.CompletedAsset, error) {
	var result struct {
		Assets []*domain.CompletedAsset `json:"assets"`
	}
	if err := c.call("offline", nil, &result); err != nil {
		return nil, err
	}
	return result.Assets, nil
}

// Usage retorna la estimación de espacio; nil si el daemon no conoce la cuota
func (c *Client) Usage() (*domain.StorageUsage, error) {
	var result struct {
		Usage *domain.StorageUsage `json:"usage"`
	}
	if err := c.call("usage", nil, &result); err != nil {
		return nil, err
	}
	return result.Usage, nil
}

// Clear borra todos los assets offline
func (c *Client) Clear() error {
	return c.call("clear", nil, nil)
}

// Stats retorna los contadores de la cola
func (c *Client) Stats() (*Stats, error) {
	var result Stats
	if err := c.call("stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
