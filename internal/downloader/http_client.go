package downloader

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPClientConfig configura el transporte de las transferencias
type HTTPClientConfig struct {
	UserAgent   string
	IdleTimeout time.Duration
	ProxyURL    string
	Headers     map[string]string
}

// HTTPDoer es lo mínimo que el executor necesita de un cliente HTTP
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient aplica user agent y headers fijos a cada request
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var _ HTTPDoer = (*HTTPClient)(nil)

// NewHTTPClient crea el cliente. No hay timeout global: una transferencia
// lenta sigue activa hasta que el transporte falle o se pause.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "smart-cache"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:     cfg.IdleTimeout,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		// Content-Length y Content-Range deben referirse a los bytes reales
		DisableCompression:  true,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := ParseProxyURL(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport},
		config: cfg,
	}, nil
}

// ParseProxyURL exige esquema y host, url.Parse acepta casi cualquier string
func ParseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse proxy url %q: scheme and host are required", raw)
	}
	return u, nil
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
