package downloads

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/pkg/client"
)

type fakeBackend struct {
	records []domain.DownloadRecord
	usage   *domain.StorageUsage
	listErr error
	calls   []string
}

func (f *fakeBackend) List() ([]domain.DownloadRecord, error) { return f.records, f.listErr }
func (f *fakeBackend) Usage() (*domain.StorageUsage, error)    { return f.usage, nil }

func (f *fakeBackend) Pause(id string) (*client.StatusResult, error) {
	f.calls = append(f.calls, "pause "+id)
	return &client.StatusResult{ID: id, Status: domain.StatusPaused}, nil
}

func (f *fakeBackend) Resume(id string) (*client.StatusResult, error) {
	f.calls = append(f.calls, "resume "+id)
	return &client.StatusResult{ID: id, Status: domain.StatusPending}, nil
}

func (f *fakeBackend) Cancel(id string) error {
	f.calls = append(f.calls, "cancel "+id)
	return nil
}

func sampleRecords() []domain.DownloadRecord {
	return []domain.DownloadRecord{
		{Asset: domain.Asset{ID: "A", Title: "First"}, Status: domain.StatusDownloading, ProgressPercent: 42},
		{Asset: domain.Asset{ID: "B"}, Status: domain.StatusPaused, ProgressPercent: 10},
	}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// apply ejecuta el comando (si lo hay) y alimenta su mensaje al modelo
func apply(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	next, _ := m.Update(cmd())
	return next.(Model)
}

func TestModel_Snapshot(t *testing.T) {
	b := &fakeBackend{records: sampleRecords(), usage: &domain.StorageUsage{UsedBytes: 2048, QuotaBytes: 1 << 20}}
	m := NewModel(b, 0)

	m = apply(t, m, loadSnapshot(b))

	if m.loading || len(m.records) != 2 {
		t.Fatalf("unexpected model state: loading=%v records=%d", m.loading, len(m.records))
	}

	out := m.View()
	for _, want := range []string{"First", "42%", "paused", "2.0 KiB / 1.0 MiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestModel_SnapshotError(t *testing.T) {
	b := &fakeBackend{listErr: errors.New("connect to daemon: refused")}
	m := apply(t, NewModel(b, 0), loadSnapshot(b))

	if !strings.Contains(m.View(), "connect to daemon") {
		t.Errorf("expected error in view, got:\n%s", m.View())
	}
}

func TestModel_Keys(t *testing.T) {
	b := &fakeBackend{records: sampleRecords()}
	m := apply(t, NewModel(b, 0), loadSnapshot(b))

	// A está descargando: se puede pausar, no reanudar
	next, cmd := m.Update(keyMsg("r"))
	m = next.(Model)
	if cmd != nil || !strings.Contains(m.errorMessage, "resumed") {
		t.Errorf("expected resume to be rejected, got %q", m.errorMessage)
	}

	next, cmd = m.Update(keyMsg("p"))
	m = apply(t, next.(Model), cmd)
	if m.statusMessage != "✓ A paused" {
		t.Errorf("unexpected status message %q", m.statusMessage)
	}

	next, _ = m.Update(keyMsg("j"))
	m = next.(Model)
	next, cmd = m.Update(keyMsg("r"))
	m = apply(t, next.(Model), cmd)

	next, cmd = m.Update(keyMsg("c"))
	apply(t, next.(Model), cmd)

	want := []string{"pause A", "resume B", "cancel B"}
	if strings.Join(b.calls, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected calls %v, want %v", b.calls, want)
	}

	_, cmd = m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1536:    "1.5 KiB",
		5 << 30: "5.0 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
