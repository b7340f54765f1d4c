package domain

import "testing"

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name   string
		loaded int64
		total  int64
		want   int
	}{
		{"unknown total", 500, 0, 0},
		{"nothing loaded", 0, 1000, 0},
		{"floors", 1999, 5000, 39},
		{"exact", 2000000, 5000000, 40},
		{"complete", 5000000, 5000000, 100},
		{"overflow clamps", 6000, 5000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProgressPercent(tt.loaded, tt.total); got != tt.want {
				t.Errorf("ProgressPercent(%d, %d) = %d, want %d", tt.loaded, tt.total, got, tt.want)
			}
		})
	}
}

func TestPartialDownloadState_Validate(t *testing.T) {
	valid := &PartialDownloadState{
		ID:          "A",
		Chunks:      []Chunk{{Offset: 0, Size: 10}, {Offset: 10, Size: 5, Data: make([]byte, 5)}},
		LoadedBytes: 15,
		TotalBytes:  100,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid state, got %v", err)
	}

	gap := &PartialDownloadState{
		ID:          "A",
		Chunks:      []Chunk{{Offset: 0, Size: 10}, {Offset: 12, Size: 5}},
		LoadedBytes: 17,
	}
	if err := gap.Validate(); err == nil {
		t.Error("expected error for non contiguous chunks")
	}

	mismatch := &PartialDownloadState{
		ID:          "A",
		Chunks:      []Chunk{{Offset: 0, Size: 10}},
		LoadedBytes: 11,
	}
	if err := mismatch.Validate(); err == nil {
		t.Error("expected error when loaded bytes differ from chunk sum")
	}

	badData := &PartialDownloadState{
		ID:          "A",
		Chunks:      []Chunk{{Offset: 0, Size: 10, Data: make([]byte, 3)}},
		LoadedBytes: 10,
	}
	if err := badData.Validate(); err == nil {
		t.Error("expected error when data length differs from size")
	}

	empty := &PartialDownloadState{ID: "A"}
	if err := empty.Validate(); err != nil {
		t.Errorf("empty state should be valid, got %v", err)
	}
}

func TestDownloadStatus_Helpers(t *testing.T) {
	if !StatusPending.IsActive() || !StatusDownloading.IsActive() {
		t.Error("pending and downloading should be active")
	}
	if StatusPaused.IsActive() {
		t.Error("paused should not be active")
	}
	if !StatusPaused.IsResumable() || !StatusError.IsResumable() {
		t.Error("paused and error should be resumable")
	}
	if StatusDownloading.IsResumable() {
		t.Error("downloading should not be resumable")
	}
}
