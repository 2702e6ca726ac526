// Package overprovision computes the capacity a storage must have available
// for a requested size, given the storage's over-provisioning ratio.
package overprovision

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/limiquantix/placement/internal/domain"
)

// Oracle holds per-storage over-provisioning ratios. A ratio of 2 means the
// storage may be provisioned to twice its physical capacity, so a 100 GiB
// disk only needs 50 GiB available. Storages without a ratio use the default.
//
// Oracle is safe for concurrent use; the watcher updates ratios while
// placement requests read them.
type Oracle struct {
	mu           sync.RWMutex
	ratios       map[string]decimal.Decimal
	defaultRatio decimal.Decimal
}

// NewOracle creates an oracle with the given default ratio. Non-positive
// defaults are replaced by 1 (no over-provisioning).
func NewOracle(defaultRatio float64) *Oracle {
	def := decimal.NewFromFloat(defaultRatio)
	if !def.IsPositive() {
		def = decimal.NewFromInt(1)
	}
	return &Oracle{
		ratios:       make(map[string]decimal.Decimal),
		defaultRatio: def,
	}
}

// SetRatio sets the ratio for a storage.
func (o *Oracle) SetRatio(storageID string, ratio decimal.Decimal) error {
	if !ratio.IsPositive() {
		return fmt.Errorf("%w: over-provisioning ratio for storage %s must be positive, got %s",
			domain.ErrInvalidArgument, storageID, ratio)
	}
	o.mu.Lock()
	o.ratios[storageID] = ratio
	o.mu.Unlock()
	return nil
}

// DeleteRatio reverts a storage to the default ratio.
func (o *Oracle) DeleteRatio(storageID string) {
	o.mu.Lock()
	delete(o.ratios, storageID)
	o.mu.Unlock()
}

func (o *Oracle) retain(storageIDs map[string]struct{}) {
	o.mu.Lock()
	for id := range o.ratios {
		if _, ok := storageIDs[id]; !ok {
			delete(o.ratios, id)
		}
	}
	o.mu.Unlock()
}

// Ratio returns the effective ratio for a storage.
func (o *Oracle) Ratio(storageID string) decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if r, ok := o.ratios[storageID]; ok {
		return r
	}
	return o.defaultRatio
}

var maxCapacity = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// RequiredCapacity returns ceil(requestedBytes / ratio). Ratios below 1 can
// push the result past the uint64 range; it then saturates at
// math.MaxUint64.
func (o *Oracle) RequiredCapacity(storageID string, requestedBytes uint64) uint64 {
	ratio := o.Ratio(storageID)
	size := decimal.NewFromBigInt(new(big.Int).SetUint64(requestedBytes), 0)
	required := size.Div(ratio).Ceil()
	if required.Cmp(maxCapacity) > 0 {
		return math.MaxUint64
	}
	return required.BigInt().Uint64()
}
