package cache

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache caches the effective price per product so price reads
// skip the price-history lookup. Reconciliation resolves prices inside
// its own transaction and never consults the cache.
type PriceCache interface {
	Get(ctx context.Context, productID string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, productID string, amount decimal.Decimal, ttl time.Duration) error
	Invalidate(ctx context.Context, productID string) error
}

type NoopPriceCache struct{}

func (NoopPriceCache) Get(_ context.Context, _ string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopPriceCache) Set(_ context.Context, _ string, _ decimal.Decimal, _ time.Duration) error {
	return nil
}

func (NoopPriceCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
