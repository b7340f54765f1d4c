package repository

import (
	"errors"
	"testing"

	"github.com/elsanchez/smart-cache/internal/domain"
)

func TestPlanPartialWrite(t *testing.T) {
	stored := []domain.Chunk{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}}

	t.Run("appends after stored prefix", func(t *testing.T) {
		state := &domain.PartialDownloadState{
			ID:          "A",
			Chunks:      []domain.Chunk{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}, {Offset: 8, Size: 2, Data: []byte("xy")}},
			LoadedBytes: 10,
		}
		keep, fresh, err := PlanPartialWrite(stored, state)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keep != 8 || len(fresh) != 1 || fresh[0].Offset != 8 {
			t.Errorf("unexpected plan keep=%d fresh=%+v", keep, fresh)
		}
	})

	t.Run("truncates stored tail", func(t *testing.T) {
		state := &domain.PartialDownloadState{
			ID:          "A",
			Chunks:      []domain.Chunk{{Offset: 0, Size: 4}},
			LoadedBytes: 4,
		}
		keep, fresh, err := PlanPartialWrite(stored, state)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if keep != 4 || len(fresh) != 0 {
			t.Errorf("unexpected plan keep=%d fresh=%+v", keep, fresh)
		}
	})

	t.Run("reset", func(t *testing.T) {
		keep, fresh, err := PlanPartialWrite(stored, &domain.PartialDownloadState{ID: "A"})
		if err != nil || keep != 0 || len(fresh) != 0 {
			t.Errorf("unexpected plan keep=%d fresh=%+v err=%v", keep, fresh, err)
		}
	})

	t.Run("unknown descriptor", func(t *testing.T) {
		state := &domain.PartialDownloadState{
			ID:          "A",
			Chunks:      []domain.Chunk{{Offset: 0, Size: 4}, {Offset: 4, Size: 4}, {Offset: 8, Size: 4}},
			LoadedBytes: 12,
		}
		if _, _, err := PlanPartialWrite(stored, state); !errors.Is(err, ErrInconsistentState) {
			t.Errorf("expected ErrInconsistentState, got %v", err)
		}
	})

	t.Run("descriptor after data", func(t *testing.T) {
		state := &domain.PartialDownloadState{
			ID:          "A",
			Chunks:      []domain.Chunk{{Offset: 0, Size: 2, Data: []byte("ab")}, {Offset: 2, Size: 2}},
			LoadedBytes: 4,
		}
		if _, _, err := PlanPartialWrite(nil, state); !errors.Is(err, ErrInconsistentState) {
			t.Errorf("expected ErrInconsistentState, got %v", err)
		}
	})

	t.Run("invalid state", func(t *testing.T) {
		state := &domain.PartialDownloadState{ID: "A", LoadedBytes: 3}
		if _, _, err := PlanPartialWrite(nil, state); !errors.Is(err, ErrInconsistentState) {
			t.Errorf("expected ErrInconsistentState, got %v", err)
		}
	})
}
