package sqlite

import (
	"context"
	"fmt"

	"github.com/elsanchez/smart-cache/internal/domain"
)

// EstimateUsage retorna los bytes de assets completos más los parciales y la
// cuota: la configurada, o lo usado más lo libre en el filesystem de datos
func (s *ChunkStore) EstimateUsage(ctx context.Context) (*domain.StorageUsage, error) {
	var completed, partial int64

	if err := s.db.GetContext(ctx, &completed, `SELECT COALESCE(SUM(size), 0) FROM completed_assets`); err != nil {
		return nil, fmt.Errorf("sum completed sizes: %w", err)
	}
	if err := s.db.GetContext(ctx, &partial, `SELECT COALESCE(SUM(size), 0) FROM partial_chunks`); err != nil {
		return nil, fmt.Errorf("sum partial sizes: %w", err)
	}

	used := completed + partial

	if s.quotaBytes > 0 {
		return &domain.StorageUsage{UsedBytes: used, QuotaBytes: s.quotaBytes}, nil
	}

	free, ok := availableBytes(s.mediaDir)
	if !ok {
		return nil, nil
	}

	return &domain.StorageUsage{UsedBytes: used, QuotaBytes: used + free}, nil
}
