package localstorage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// SelectStrategy decides whether the local storage strategy governs a
// request. The first matching rule wins:
//
//  1. the request excludes the strategy;
//  2. the request names the strategy explicitly;
//  3. a required storage is given: its type decides, the host is not consulted;
//  4. a required host is given: any other explicit strategy wins, otherwise the
//     strategy applies if local storage is attached to the host's cluster.
//
// It returns domain.StrategyNone when the strategy does not apply.
func (p *Provider) SelectStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error) {
	if req == nil {
		return domain.StrategyNone, errNilRequest
	}
	name, err := p.selectStrategy(ctx, req)
	if err != nil {
		return domain.StrategyNone, err
	}
	p.metrics.decision("allocation", string(name))
	return name, nil
}

func (p *Provider) selectStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error) {
	switch {
	case req.IsStrategyExcluded(domain.StrategyLocalStorage):
		return domain.StrategyNone, nil

	case req.AllocationStrategy == string(domain.StrategyLocalStorage):
		return domain.StrategyLocalStorage, nil

	case req.RequiredStorageID != "":
		typ, err := p.store.StorageType(ctx, req.RequiredStorageID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.StrategyNone, nil
		}
		if err != nil {
			return domain.StrategyNone, fmt.Errorf("failed to resolve type of storage %s: %w", req.RequiredStorageID, err)
		}
		if typ.IsLocal() {
			return domain.StrategyLocalStorage, nil
		}
		return domain.StrategyNone, nil

	case req.RequiredHostID != "":
		if req.AllocationStrategy != "" {
			return domain.StrategyNone, nil
		}
		types, err := p.store.ClusterStorageTypes(ctx, req.RequiredHostID)
		if err != nil {
			return domain.StrategyNone, fmt.Errorf("failed to list storage attached to host %s: %w", req.RequiredHostID, err)
		}
		for _, t := range types {
			if t.IsLocal() {
				return domain.StrategyLocalStorage, nil
			}
		}
		return domain.StrategyNone, nil
	}

	return domain.StrategyNone, nil
}

// HypervisorGate returns the strategy name if the host's hypervisor supports
// local storage. A nil host means the host is not yet known and is treated as
// supported.
func (p *Provider) HypervisorGate(host *domain.HostCandidate) domain.StrategyName {
	name := domain.StrategyLocalStorage
	if host != nil && host.HypervisorType != domain.HypervisorKVM {
		name = domain.StrategyNone
	}
	p.metrics.decision("hypervisor", string(name))
	return name
}

// SelectMigrationStrategy returns the local storage migration strategy when a
// VM being migrated has its root volume on local storage.
func (p *Provider) SelectMigrationStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error) {
	if req == nil {
		return domain.StrategyNone, errNilRequest
	}
	if req.Operation != domain.VMOperationMigrate {
		return domain.StrategyNone, nil
	}

	root := req.RootVolume()
	if root == nil || root.StorageID == "" {
		p.logger.Debug("Migration request has no root volume storage", zap.String("vm_id", req.VMID))
		p.metrics.decision("migration", "")
		return domain.StrategyNone, nil
	}

	typ, err := p.store.StorageType(ctx, root.StorageID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.StrategyNone, fmt.Errorf("failed to resolve type of storage %s: %w", root.StorageID, err)
	}

	name := domain.StrategyNone
	if err == nil && typ.IsLocal() {
		name = domain.StrategyLocalStorageMigration
	}
	p.metrics.decision("migration", string(name))
	return name, nil
}
