// Package localstorage implements the local storage host allocation strategy:
// which candidate hosts stay eligible once host-attached storage capacity and
// existing volume bindings are considered, and whether the strategy governs a
// request at all.
package localstorage

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// CapacityOracle converts a requested size into the capacity a storage must
// have available, after applying its over-provisioning ratio.
type CapacityOracle interface {
	RequiredCapacity(storageID string, requestedBytes uint64) uint64
}

// Store defines the topology and capacity lookups needed by the strategy.
type Store interface {
	// CapacityTuples returns one tuple per local storage attached to any of
	// the given hosts.
	CapacityTuples(ctx context.Context, hostIDs []string) ([]domain.LocalStorageCapacity, error)

	// PlacementRecord returns the host a volume is bound to on local storage.
	// It returns domain.ErrNotFound when the volume has no binding.
	PlacementRecord(ctx context.Context, volumeID string) (*domain.PlacementRecord, error)

	// StorageType returns the type of a primary storage, or domain.ErrNotFound.
	StorageType(ctx context.Context, storageID string) (domain.StorageType, error)

	// ClusterStorageTypes returns the types of every storage attached to the
	// cluster the host belongs to.
	ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error)

	// ClusterIsLocalStorageExclusive reports whether only local storage is
	// attached to the cluster.
	ClusterIsLocalStorageExclusive(ctx context.Context, clusterID string) (bool, error)
}
