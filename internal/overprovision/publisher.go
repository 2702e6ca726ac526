package overprovision

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/limiquantix/placement/internal/domain"
)

// RatioWriter stores and removes JSON values by key.
type RatioWriter interface {
	Put(ctx context.Context, key string, value interface{}) error
	Delete(ctx context.Context, key string) error
}

// Publisher changes per-storage ratios. With a writer the change goes to etcd
// and reaches every replica through its Watcher; without one it is applied to
// the local oracle only.
type Publisher struct {
	writer RatioWriter
	prefix string
	oracle *Oracle
}

// NewPublisher creates a publisher. writer may be nil.
func NewPublisher(writer RatioWriter, prefix string, oracle *Oracle) *Publisher {
	return &Publisher{writer: writer, prefix: prefix, oracle: oracle}
}

// SetRatio stores the ratio of a storage.
func (p *Publisher) SetRatio(ctx context.Context, storageID string, ratio decimal.Decimal) error {
	if storageID == "" {
		return fmt.Errorf("%w: storage id is required", domain.ErrInvalidArgument)
	}
	if !ratio.IsPositive() {
		return fmt.Errorf("%w: over-provisioning ratio must be positive, got %s", domain.ErrInvalidArgument, ratio)
	}

	if p.writer == nil {
		return p.oracle.SetRatio(storageID, ratio)
	}
	if err := p.writer.Put(ctx, p.prefix+storageID, RatioEntry{Ratio: ratio}); err != nil {
		return fmt.Errorf("failed to publish ratio of storage %s: %w", storageID, err)
	}
	return nil
}

// ClearRatio reverts a storage to the default ratio.
func (p *Publisher) ClearRatio(ctx context.Context, storageID string) error {
	if storageID == "" {
		return fmt.Errorf("%w: storage id is required", domain.ErrInvalidArgument)
	}

	if p.writer == nil {
		p.oracle.DeleteRatio(storageID)
		return nil
	}
	if err := p.writer.Delete(ctx, p.prefix+storageID); err != nil {
		return fmt.Errorf("failed to clear ratio of storage %s: %w", storageID, err)
	}
	return nil
}
