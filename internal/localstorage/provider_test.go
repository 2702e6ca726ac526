package localstorage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// MockStore is an in-memory implementation of Store for the strategy tests.
type MockStore struct {
	tuples         []domain.LocalStorageCapacity
	records        map[string]*domain.PlacementRecord
	storageTypes   map[string]domain.StorageType
	hostTypes      map[string][]domain.StorageType
	localExclusive map[string]bool
	err            error

	capacityCalls  int
	requestedHosts []string
	exclusiveCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		records:        make(map[string]*domain.PlacementRecord),
		storageTypes:   make(map[string]domain.StorageType),
		hostTypes:      make(map[string][]domain.StorageType),
		localExclusive: make(map[string]bool),
	}
}

func (m *MockStore) CapacityTuples(ctx context.Context, hostIDs []string) ([]domain.LocalStorageCapacity, error) {
	m.capacityCalls++
	m.requestedHosts = append([]string(nil), hostIDs...)
	if m.err != nil {
		return nil, m.err
	}
	wanted := make(map[string]bool, len(hostIDs))
	for _, id := range hostIDs {
		wanted[id] = true
	}
	var result []domain.LocalStorageCapacity
	for _, t := range m.tuples {
		if wanted[t.HostID] {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *MockStore) PlacementRecord(ctx context.Context, volumeID string) (*domain.PlacementRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[volumeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (m *MockStore) StorageType(ctx context.Context, storageID string) (domain.StorageType, error) {
	if m.err != nil {
		return "", m.err
	}
	t, ok := m.storageTypes[storageID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return t, nil
}

func (m *MockStore) ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.hostTypes[hostID], nil
}

func (m *MockStore) ClusterIsLocalStorageExclusive(ctx context.Context, clusterID string) (bool, error) {
	m.exclusiveCalls++
	if m.err != nil {
		return false, m.err
	}
	return m.localExclusive[clusterID], nil
}

// ratioOracle divides the requested size by a per-storage ratio, 1.0 by default.
type ratioOracle map[string]float64

func (o ratioOracle) RequiredCapacity(storageID string, requested uint64) uint64 {
	if r, ok := o[storageID]; ok && r > 0 {
		return uint64(float64(requested) / r)
	}
	return requested
}

func newTestProvider(store *MockStore, oracle CapacityOracle) *Provider {
	if oracle == nil {
		oracle = ratioOracle{}
	}
	return NewProvider(store, oracle, NewMetrics(nil), zap.NewNop())
}

func host(id, cluster string) *domain.HostCandidate {
	return &domain.HostCandidate{ID: id, ClusterID: cluster, HypervisorType: domain.HypervisorKVM}
}

func TestProvider_Name(t *testing.T) {
	p := newTestProvider(NewMockStore(), nil)
	assert.Equal(t, domain.StrategyLocalStorage, p.Name())
}

func TestProvider_FilterCandidates_OtherOperationsPassThrough(t *testing.T) {
	store := NewMockStore()
	p := newTestProvider(store, nil)

	candidates := []*domain.HostCandidate{host("a", "c1"), host("b", "c1")}
	req := &domain.PlacementRequest{VMID: "vm-1", Operation: domain.VMOperationMigrate, DiskSizeBytes: 1 << 40}

	result, err := p.FilterCandidates(context.Background(), candidates, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.HostIDs())
	assert.Zero(t, result.Blacklist.Len())
	assert.Zero(t, store.capacityCalls)
}

func TestProvider_FilterCandidates_NilRequest(t *testing.T) {
	p := newTestProvider(NewMockStore(), nil)

	_, err := p.FilterCandidates(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
