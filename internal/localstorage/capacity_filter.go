package localstorage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// filterByCapacity removes hosts whose local storages cannot hold the
// requested disk size. Every storage that individually fails is recorded in
// blacklist, even when another storage on the same host rescues it.
func (p *Provider) filterByCapacity(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest, blacklist domain.Blacklist) ([]*domain.HostCandidate, error) {
	hostIDs, err := p.hostsNeedingCapacityCheck(ctx, candidates, req)
	if err != nil {
		return nil, err
	}
	if len(hostIDs) == 0 {
		return candidates, nil
	}

	tuples, err := p.store.CapacityTuples(ctx, hostIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list local storage capacity: %w", err)
	}

	required := make([]uint64, len(tuples))
	for i, t := range tuples {
		required[i] = p.oracle.RequiredCapacity(t.StorageID, req.DiskSizeBytes)
	}

	// Mark every host with a storage that is too small.
	toRemove := make(map[string]struct{})
	for i, t := range tuples {
		if t.AvailableBytes < required[i] {
			blacklist.Record(t.HostID, t.StorageID)
			p.metrics.BlacklistedStorages.Inc()
			toRemove[t.HostID] = struct{}{}
		}
	}

	// A host with several local storages stays if any one of them fits.
	for i, t := range tuples {
		if t.AvailableBytes >= required[i] {
			delete(toRemove, t.HostID)
		}
	}

	if len(toRemove) == 0 {
		return candidates, nil
	}

	removed := make([]string, 0, len(toRemove))
	for id := range toRemove {
		removed = append(removed, id)
	}
	sort.Strings(removed)
	p.logger.Debug("Local storage filtered out hosts without required disk capacity",
		zap.Strings("host_ids", removed),
		zap.Uint64("disk_size_bytes", req.DiskSizeBytes),
		zap.String("vm_id", req.VMID),
	)

	kept := removeHosts(candidates, toRemove)
	p.metrics.HostsFiltered.WithLabelValues("insufficient_capacity").Add(float64(len(candidates) - len(kept)))

	if len(kept) == 0 {
		return nil, domain.NewInsufficientCapacityError(req.VMID, req.DiskSizeBytes)
	}
	return kept, nil
}

// hostsNeedingCapacityCheck returns the IDs of candidates whose local storage
// must be checked. A host is skipped when its cluster also has non-local
// storage and either the request requires a non-local storage or it is a dry
// run. In a mixed cluster with no storage required this keeps the check, so a
// host may still be rejected even though its shared storage could have served
// the VM.
func (p *Provider) hostsNeedingCapacityCheck(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest) ([]string, error) {
	requiresNonLocal, err := p.requiresNonLocalStorage(ctx, req)
	if err != nil {
		return nil, err
	}

	exclusive := make(map[string]bool)
	hostIDs := make([]string, 0, len(candidates))
	for _, host := range candidates {
		only, ok := exclusive[host.ClusterID]
		if !ok {
			only, err = p.store.ClusterIsLocalStorageExclusive(ctx, host.ClusterID)
			if err != nil {
				return nil, fmt.Errorf("failed to check storage attached to cluster %s: %w", host.ClusterID, err)
			}
			exclusive[host.ClusterID] = only
		}

		if !only && (requiresNonLocal || req.DryRun) {
			continue
		}
		hostIDs = append(hostIDs, host.ID)
	}

	return hostIDs, nil
}

func (p *Provider) requiresNonLocalStorage(ctx context.Context, req *domain.PlacementRequest) (bool, error) {
	if req.RequiredStorageID == "" {
		return false, nil
	}

	typ, err := p.store.StorageType(ctx, req.RequiredStorageID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve type of storage %s: %w", req.RequiredStorageID, err)
	}
	return !typ.IsLocal(), nil
}
