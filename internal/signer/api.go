package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APISigner pide la URL al backend de contenido:
// GET {base}/content/{id}/sign[?type=download] con token Bearer
type APISigner struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

var _ Signer = (*APISigner)(nil)

// NewAPISigner crea el signer; client nil usa un cliente con timeout de 30s
func NewAPISigner(baseURL, token string, client *http.Client) (*APISigner, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api signer: base url is required")
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &APISigner{baseURL: u, token: token, client: client}, nil
}

type signResponse struct {
	URL       string  `json:"url"`
	ExpiresIn int64   `json:"expiresIn"`
	Progress  float64 `json:"progress"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s *APISigner) SignURL(ctx context.Context, assetID string, purpose Purpose) (*SignedURL, error) {
	endpoint := s.baseURL.ResolveReference(&url.URL{Path: "content/" + assetID + "/sign"})
	if purpose == PurposeDownload {
		endpoint.RawQuery = url.Values{"type": {string(PurposeDownload)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request signed url: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read sign response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrForbidden, errorMessage(body, resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("sign %s: %w", assetID, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("sign %s: %s", assetID, errorMessage(body, resp.Status))
	}

	var parsed signResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("sign %s: empty url in response", assetID)
	}

	// La API puede devolver rutas relativas (p.ej. /api/stream/manifest/...)
	target, err := s.baseURL.Parse(parsed.URL)
	if err != nil {
		return nil, fmt.Errorf("parse signed url: %w", err)
	}

	expiry := DefaultExpiry
	if parsed.ExpiresIn > 0 {
		expiry = time.Duration(parsed.ExpiresIn) * time.Second
	}

	return &SignedURL{URL: target.String(), ExpiresIn: expiry, Progress: parsed.Progress}, nil
}

func errorMessage(body []byte, fallback string) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return fallback
}
