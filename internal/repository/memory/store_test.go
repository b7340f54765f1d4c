package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
)

func TestStore_PartialLifecycle(t *testing.T) {
	s := NewStore(0)
	ctx := context.Background()

	state := &domain.PartialDownloadState{
		ID:          "A",
		Chunks:      []domain.Chunk{{Offset: 0, Size: 3, Data: []byte("abc")}},
		LoadedBytes: 3,
		Status:      domain.StatusDownloading,
	}
	if err := s.PutPartial(ctx, state); err != nil {
		t.Fatalf("put partial failed: %v", err)
	}

	// Mutar el buffer del llamador no debe afectar lo guardado
	state.Chunks[0].Data[0] = 'X'

	state.Chunks = []domain.Chunk{{Offset: 0, Size: 3}, {Offset: 3, Size: 2, Data: []byte("de")}}
	state.LoadedBytes = 5
	if err := s.PutPartial(ctx, state); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	r, err := s.ReadPartial(ctx, "A")
	if err != nil {
		t.Fatalf("read partial failed: %v", err)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "abcde" {
		t.Errorf("expected abcde, got %q", data)
	}

	got, err := s.GetPartial(ctx, "A")
	if err != nil {
		t.Fatalf("get partial failed: %v", err)
	}
	for _, c := range got.Chunks {
		if c.Data != nil {
			t.Error("stored descriptors should not carry data")
		}
	}

	if err := s.DeletePartial(ctx, "A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.GetPartial(ctx, "A"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CompletedOverwrite(t *testing.T) {
	s := NewStore(100)
	ctx := context.Background()

	if _, err := s.PutCompleted(ctx, domain.Asset{ID: "A"}, strings.NewReader("one")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := s.PutCompleted(ctx, domain.Asset{ID: "A"}, strings.NewReader("three")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	all, _ := s.ListCompleted(ctx)
	if len(all) != 1 || all[0].Size != 5 {
		t.Fatalf("expected single entry of 5 bytes, got %+v", all)
	}

	usage, err := s.EstimateUsage(ctx)
	if err != nil || usage == nil {
		t.Fatalf("expected usage, got %v %v", usage, err)
	}
	if usage.UsedBytes != 5 || usage.QuotaBytes != 100 {
		t.Errorf("unexpected usage %+v", usage)
	}

	if u, _ := NewStore(0).EstimateUsage(ctx); u != nil {
		t.Error("store without quota should report absent usage")
	}
}
