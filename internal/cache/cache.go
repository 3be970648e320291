package cache

import (
	"context"
	"time"

	"puntoventa/backend/internal/domain"
)

// ReceiptCache stores rendered receipts keyed by sale ID. Sales never
// change after commit, so cached entries cannot go stale before their TTL.
type ReceiptCache interface {
	Get(ctx context.Context, key string) (*domain.Receipt, bool, error)
	Set(ctx context.Context, key string, value *domain.Receipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.Receipt, _ time.Duration) error {
	return nil
}
