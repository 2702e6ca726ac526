// Package memory provides in-memory repository implementations for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
)

type capacityKey struct {
	hostID    string
	storageID string
}

// TopologyRepository is an in-memory store of hosts, clusters, primary
// storages, local storage capacity and placement records. It implements
// localstorage.Store and scheduler.HostRepository.
type TopologyRepository struct {
	mu       sync.RWMutex
	clusters map[string]*domain.Cluster
	hosts    map[string]*domain.Host
	storages map[string]*domain.PrimaryStorage
	capacity map[capacityKey]uint64
	records  map[string]*domain.PlacementRecord
}

// NewTopologyRepository creates an empty in-memory topology repository.
func NewTopologyRepository() *TopologyRepository {
	return &TopologyRepository{
		clusters: make(map[string]*domain.Cluster),
		hosts:    make(map[string]*domain.Host),
		storages: make(map[string]*domain.PrimaryStorage),
		capacity: make(map[capacityKey]uint64),
		records:  make(map[string]*domain.PlacementRecord),
	}
}

// AddCluster stores a cluster, generating an ID when empty.
func (r *TopologyRepository) AddCluster(c *domain.Cluster) *domain.Cluster {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.clusters[c.ID] = c
	return c
}

// AddHost stores a host, generating an ID when empty.
func (r *TopologyRepository) AddHost(h *domain.Host) *domain.Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	r.hosts[h.ID] = h
	return h
}

// AddStorage stores a primary storage, generating an ID when empty.
func (r *TopologyRepository) AddStorage(ps *domain.PrimaryStorage) *domain.PrimaryStorage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	if ps.CreatedAt.IsZero() {
		ps.CreatedAt = time.Now()
	}
	r.storages[ps.ID] = ps
	return ps
}

// AttachStorage attaches a primary storage to a cluster.
func (r *TopologyRepository) AttachStorage(storageID, clusterID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.storages[storageID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, id := range ps.ClusterIDs {
		if id == clusterID {
			return nil
		}
	}
	ps.ClusterIDs = append(ps.ClusterIDs, clusterID)
	return nil
}

// SetLocalCapacity records the available capacity of a local storage on a host.
func (r *TopologyRepository) SetLocalCapacity(hostID, storageID string, availableBytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capacity[capacityKey{hostID: hostID, storageID: storageID}] = availableBytes
}

// BindResource records that a resource lives on a host's local storage.
func (r *TopologyRepository) BindResource(record *domain.PlacementRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.records[record.ResourceID] = record
}

// ListSchedulable returns candidates for every enabled and connected host, ordered by ID.
func (r *TopologyRepository) ListSchedulable(ctx context.Context) ([]*domain.HostCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.HostCandidate
	for _, h := range r.hosts {
		if h.IsSchedulable() {
			result = append(result, h.Candidate())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CapacityTuples returns the local storage capacity tuples of the given hosts.
func (r *TopologyRepository) CapacityTuples(ctx context.Context, hostIDs []string) ([]domain.LocalStorageCapacity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]struct{}, len(hostIDs))
	for _, id := range hostIDs {
		wanted[id] = struct{}{}
	}

	var result []domain.LocalStorageCapacity
	for key, avail := range r.capacity {
		if _, ok := wanted[key.hostID]; ok {
			result = append(result, domain.LocalStorageCapacity{
				HostID:         key.hostID,
				AvailableBytes: avail,
				StorageID:      key.storageID,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].HostID != result[j].HostID {
			return result[i].HostID < result[j].HostID
		}
		return result[i].StorageID < result[j].StorageID
	})
	return result, nil
}

// PlacementRecord returns the local storage binding of a resource.
func (r *TopologyRepository) PlacementRecord(ctx context.Context, resourceID string) (*domain.PlacementRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[resourceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

// StorageType returns the type of a primary storage.
func (r *TopologyRepository) StorageType(ctx context.Context, storageID string) (domain.StorageType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps, ok := r.storages[storageID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return ps.Type, nil
}

// ClusterStorageTypes returns the types of storages attached to the host's cluster.
func (r *TopologyRepository) ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.hosts[hostID]
	if !ok {
		return nil, nil
	}
	return r.clusterTypesLocked(h.ClusterID), nil
}

// ClusterIsLocalStorageExclusive reports whether a cluster has local storage
// attached and nothing else.
func (r *TopologyRepository) ClusterIsLocalStorageExclusive(ctx context.Context, clusterID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := r.clusterTypesLocked(clusterID)
	if len(types) == 0 {
		return false, nil
	}
	for _, t := range types {
		if !t.IsLocal() {
			return false, nil
		}
	}
	return true, nil
}

func (r *TopologyRepository) clusterTypesLocked(clusterID string) []domain.StorageType {
	var types []domain.StorageType
	for _, ps := range r.storages {
		for _, id := range ps.ClusterIDs {
			if id == clusterID {
				types = append(types, ps.Type)
				break
			}
		}
	}
	return types
}
