package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/localstorage"
	"github.com/limiquantix/placement/internal/overprovision"
	"github.com/limiquantix/placement/internal/repository/memory"
)

const gib = uint64(1024 * 1024 * 1024)

func newTestScheduler(t *testing.T, config Config) *Scheduler {
	t.Helper()
	repo := memory.NewTopologyRepository()
	repo.SeedDemoData()

	provider := localstorage.NewProvider(repo, overprovision.NewOracle(1.0), nil, zap.NewNop())
	registry, err := NewRegistry(provider)
	require.NoError(t, err)

	return New(repo, registry, config, zap.NewNop())
}

func TestScheduler_Place_NoStrategyPassesThrough(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:          "vm-1",
		Operation:     domain.VMOperationCreate,
		DiskSizeBytes: 10 * gib,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyNone, result.Strategy)
	assert.Equal(t, []string{"host-1", "host-2", "host-3", "host-4"}, result.HostIDs())
	assert.Zero(t, result.Blacklist.Len())
}

func TestScheduler_Place_CreateFiltersByCapacity(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		DiskSizeBytes:      100 * gib,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorage, result.Strategy)
	// host-4 runs ESX, host-2 only has 40 GiB free.
	assert.Equal(t, []string{"host-1", "host-3"}, result.HostIDs())
	assert.True(t, result.Blacklist.Contains("host-2", "ps-local-nvme"))
	assert.Equal(t, 1, result.Blacklist.Len())
}

func TestScheduler_Place_NoHostWithEnoughCapacity(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:              "vm-big",
		Operation:         domain.VMOperationCreate,
		DiskSizeBytes:     5000 * gib,
		RequiredStorageID: "ps-local-nvme",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAvailableHost)

	var noHost *domain.NoAvailableHostError
	require.True(t, errors.As(err, &noHost))
	assert.Equal(t, "vm-big", noHost.VMID)

	require.NotNil(t, result)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, 4, result.Blacklist.Len())
}

func TestScheduler_Place_StartPinsToBoundHost(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:              "vm-demo",
		Operation:         domain.VMOperationStart,
		RequiredStorageID: "ps-local-nvme",
		Volumes:           []domain.Volume{{ID: "vol-demo-root", StorageID: "ps-local-nvme", Root: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"host-2"}, result.HostIDs())
}

func TestScheduler_Place_MigrationUsesMigrationStrategy(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:      "vm-demo",
		Operation: domain.VMOperationMigrate,
		Volumes:   []domain.Volume{{ID: "vol-demo-root", StorageID: "ps-local-nvme", Root: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorageMigration, result.Strategy)
	assert.Equal(t, []string{"host-1", "host-2", "host-3"}, result.HostIDs())
}

func TestScheduler_Place_RequiredHost(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:           "vm-1",
		Operation:      domain.VMOperationCreate,
		DiskSizeBytes:  10 * gib,
		RequiredHostID: "host-3",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorage, result.Strategy)
	assert.Equal(t, []string{"host-3"}, result.HostIDs())

	_, err = s.Place(context.Background(), &domain.PlacementRequest{
		VMID:           "vm-1",
		Operation:      domain.VMOperationCreate,
		RequiredHostID: "host-missing",
	})
	assert.ErrorIs(t, err, domain.ErrNoAvailableHost)
}

func TestScheduler_Place_HypervisorGateRejectsAll(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())

	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		RequiredHostID:     "host-4",
		AllocationStrategy: string(domain.StrategyLocalStorage),
	})
	assert.ErrorIs(t, err, domain.ErrNoAvailableHost)
	require.NotNil(t, result)
	assert.Equal(t, domain.StrategyLocalStorage, result.Strategy)
}

func TestScheduler_Place_DisabledStrategies(t *testing.T) {
	s := newTestScheduler(t, Config{DisabledStrategies: []string{string(domain.StrategyLocalStorage)}})

	req := &domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		DiskSizeBytes:      100 * gib,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	}
	result, err := s.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyNone, result.Strategy)
	assert.Len(t, result.Candidates, 4)
	assert.Empty(t, req.ExcludedStrategies)
}

func TestScheduler_Place_Errors(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig())
	_, err := s.Place(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	registry, err := NewRegistry()
	require.NoError(t, err)
	empty := New(memory.NewTopologyRepository(), registry, DefaultConfig(), zap.NewNop())
	_, err = empty.Place(context.Background(), &domain.PlacementRequest{VMID: "vm-1", Operation: domain.VMOperationCreate})
	assert.ErrorIs(t, err, domain.ErrNoAvailableHost)
}

// stubProvider claims every request and keeps candidates unchanged.
type stubProvider struct {
	name domain.StrategyName
}

func (p *stubProvider) Name() domain.StrategyName { return p.name }

func (p *stubProvider) SelectStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error) {
	return p.name, nil
}

func (p *stubProvider) SelectMigrationStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error) {
	return domain.StrategyNone, nil
}

func (p *stubProvider) HypervisorGate(host *domain.HostCandidate) domain.StrategyName { return p.name }

func (p *stubProvider) FilterCandidates(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest) (*domain.FilterResult, error) {
	return &domain.FilterResult{Candidates: candidates, Blacklist: req.Blacklist.Clone()}, nil
}

func TestRegistry(t *testing.T) {
	first := &stubProvider{name: "First"}
	registry, err := NewRegistry(first, &stubProvider{name: "Second"})
	require.NoError(t, err)

	assert.ErrorIs(t, registry.Register(&stubProvider{name: "First"}), domain.ErrAlreadyExists)
	assert.ErrorIs(t, registry.Register(nil), domain.ErrInvalidArgument)

	p, ok := registry.Get("First")
	require.True(t, ok)
	assert.Same(t, first, p)

	_, ok = registry.Get("Missing")
	assert.False(t, ok)
	assert.Len(t, registry.Providers(), 2)
}

func TestScheduler_Place_FirstProviderWins(t *testing.T) {
	repo := memory.NewTopologyRepository()
	repo.SeedDemoData()
	local := localstorage.NewProvider(repo, overprovision.NewOracle(1.0), nil, zap.NewNop())
	registry, err := NewRegistry(&stubProvider{name: "Stub"}, local)
	require.NoError(t, err)

	s := New(repo, registry, DefaultConfig(), zap.NewNop())
	result, err := s.Place(context.Background(), &domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		DiskSizeBytes:      100 * gib,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyName("Stub"), result.Strategy)
	assert.Len(t, result.Candidates, 4)
}
