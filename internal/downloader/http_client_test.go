package downloader

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPClient_Proxy(t *testing.T) {
	tests := []struct {
		name    string
		proxy   string
		wantErr bool
	}{
		{"environment", "", false},
		{"explicit", "http://proxy.local:3128", false},
		{"missing scheme", "proxy.local:3128", true},
		{"unparseable", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewHTTPClient(HTTPClientConfig{ProxyURL: tt.proxy})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for proxy %q", tt.proxy)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			transport := c.client.Transport.(*http.Transport)
			if transport.Proxy == nil {
				t.Fatal("expected a proxy func")
			}
			if tt.proxy == "" {
				return
			}

			req, _ := http.NewRequest(http.MethodGet, "http://origin.local/a.mp4", nil)
			got, err := transport.Proxy(req)
			if err != nil || got == nil || got.String() != tt.proxy {
				t.Errorf("expected proxy %s, got %v %v", tt.proxy, got, err)
			}
		})
	}
}

func TestHTTPClient_Headers(t *testing.T) {
	var gotUA, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Client")
	}))
	defer srv.Close()

	c, err := NewHTTPClient(HTTPClientConfig{Headers: map[string]string{"X-Client": "tests"}})
	if err != nil {
		t.Fatalf("new http client failed: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if gotUA != "smart-cache" || gotExtra != "tests" {
		t.Errorf("unexpected headers: user-agent %q, x-client %q", gotUA, gotExtra)
	}
}
