package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository/memory"
	"github.com/elsanchez/smart-cache/pkg/client"
)

func startTestServer(t *testing.T, q *QueueManager) *client.Client {
	t.Helper()

	// Path corto: los sockets Unix tienen límite de longitud
	dir, err := os.MkdirTemp("", "smc")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	socket := filepath.Join(dir, "d.sock")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(socket, NewHandlers(q))
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start server failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return client.NewClient(socket)
}

func TestServer_Actions(t *testing.T) {
	store := memory.NewStore(1000)
	exec := newScriptedExecutor(store)
	q := newTestQueue(t, store, exec)
	c := startTestServer(t, q)

	if err := c.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	res, err := c.Add(domain.Asset{ID: "A", Title: "Clip", IsPremium: true})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if res.ID != "A" || res.Record == nil || res.Record.Asset.Title != "Clip" {
		t.Errorf("unexpected add result %+v", res)
	}
	waitStarted(t, exec, "A")

	list, err := c.List()
	if err != nil || len(list) != 1 || list[0].Status != domain.StatusDownloading {
		t.Fatalf("unexpected list %+v %v", list, err)
	}

	res, err = c.Pause("A")
	if err != nil || res.Status != domain.StatusPaused {
		t.Fatalf("unexpected pause result %+v %v", res, err)
	}
	waitFor(t, "transfer to exit", func() bool { return q.Stats().Running == 0 })

	if _, err := c.Resume("A"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	waitStarted(t, exec, "A")
	exec.results <- nil
	waitFor(t, "A to complete", func() bool { return !q.IsTracked("A") })

	res, err = c.Status("A")
	if err != nil || res.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %+v %v", res, err)
	}

	offline, err := c.Offline()
	if err != nil || len(offline) != 1 || offline[0].ID != "A" {
		t.Fatalf("unexpected offline list %+v %v", offline, err)
	}

	usage, err := c.Usage()
	if err != nil || usage == nil || usage.QuotaBytes != 1000 || usage.UsedBytes != 10 {
		t.Fatalf("unexpected usage %+v %v", usage, err)
	}

	stats, err := c.Stats()
	if err != nil || stats.MaxConcurrent != 1 || stats.Tracked != 0 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	if err := c.Remove("A"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := c.Status("A"); err == nil {
		t.Error("expected status of removed asset to fail")
	}

	if err := c.Clear(); err != nil {
		t.Errorf("clear failed: %v", err)
	}
}

func TestServer_Errors(t *testing.T) {
	store := memory.NewStore(0)
	q := newTestQueue(t, store, newScriptedExecutor(store))
	c := startTestServer(t, q)

	if _, err := c.Pause("missing"); err == nil || !strings.Contains(err.Error(), ErrNotTracked.Error()) {
		t.Errorf("expected not tracked error, got %v", err)
	}
	if err := c.Cancel(""); err == nil {
		t.Error("expected error for empty id")
	}
	if _, err := c.Add(domain.Asset{}); err == nil {
		t.Error("expected error for asset without id")
	}

	resp, err := c.Send(&client.Request{Action: "explode"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "unknown action") {
		t.Errorf("unexpected response %+v", resp)
	}

	usage, err := c.Usage()
	if err != nil || usage != nil {
		t.Errorf("expected absent usage, got %+v %v", usage, err)
	}
}

func TestMediaServer(t *testing.T) {
	store := memory.NewStore(0)
	q := newTestQueue(t, store, newScriptedExecutor(store))
	store.PutCompleted(context.Background(), domain.Asset{ID: "A", Title: "Clip"}, strings.NewReader("0123456789"))

	srv := httptest.NewServer(NewMediaServer("", q).Handler())
	defer srv.Close()

	t.Run("range request", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/media/A", nil)
		req.Header.Set("Range", "bytes=2-5")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusPartialContent || string(body) != "2345" {
			t.Errorf("unexpected response %d %q", resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("unexpected content type %q", ct)
		}
	})

	t.Run("missing asset", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/media/missing")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/media")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Assets []domain.CompletedAsset `json:"assets"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(body.Assets) != 1 || body.Assets[0].Asset.Title != "Clip" {
			t.Errorf("unexpected list %+v", body.Assets)
		}
	})
}
