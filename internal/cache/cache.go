package cache

import (
	"context"
	"time"

	"optikpos/backend/internal/domain"
)

// InvoiceCache caches invoice read responses keyed by invoice ID. Entries are
// invalidated whenever a payment changes the invoice totals.
type InvoiceCache interface {
	Get(ctx context.Context, key string) (*domain.InvoiceResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.InvoiceResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Get(_ context.Context, _ string) (*domain.InvoiceResponse, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Set(_ context.Context, _ string, _ *domain.InvoiceResponse, _ time.Duration) error {
	return nil
}

func (NoopInvoiceCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
