package downloads

import "github.com/elsanchez/smart-cache/internal/domain"

// Message types for async operations

type snapshotMsg struct {
	records []domain.DownloadRecord
	usage   *domain.StorageUsage
	err     error
}

type tickMsg struct{}

type actionCompleteMsg struct {
	action string
	id     string
	err    error
}
