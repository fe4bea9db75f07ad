package cache

import (
	"context"
	"time"
)

// ReceiptCache stores rendered receipt tickets keyed by sale ID.
// Receipts are immutable once a sale commits, so cached bytes never go
// stale; the TTL only bounds memory.
type ReceiptCache interface {
	Get(ctx context.Context, saleID int64) ([]byte, bool, error)
	Set(ctx context.Context, saleID int64, ticket []byte, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ int64) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ int64, _ []byte, _ time.Duration) error {
	return nil
}
