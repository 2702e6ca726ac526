package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/repository/memory"
)

// fakeKV stores JSON values in a map, mirroring the Redis cache encoding.
type fakeKV struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(ctx context.Context, key string, dest interface{}) error {
	if f.getErr != nil {
		return f.getErr
	}
	val, ok := f.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(val, dest)
}

func (f *fakeKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = data
	f.lastTTL = ttl
	return nil
}

func (f *fakeKV) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n := 0
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

// countingStore wraps the memory repository and counts lookups.
type countingStore struct {
	*memory.TopologyRepository
	storageTypeCalls int
	exclusiveCalls   int
	clusterTypeCalls int
}

func (c *countingStore) StorageType(ctx context.Context, id string) (domain.StorageType, error) {
	c.storageTypeCalls++
	return c.TopologyRepository.StorageType(ctx, id)
}

func (c *countingStore) ClusterIsLocalStorageExclusive(ctx context.Context, id string) (bool, error) {
	c.exclusiveCalls++
	return c.TopologyRepository.ClusterIsLocalStorageExclusive(ctx, id)
}

func (c *countingStore) ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error) {
	c.clusterTypeCalls++
	return c.TopologyRepository.ClusterStorageTypes(ctx, hostID)
}

func newSeededStore() *countingStore {
	repo := memory.NewTopologyRepository()
	repo.SeedDemoData()
	return &countingStore{TopologyRepository: repo}
}

func TestCachedStore_CachesTopologyLookups(t *testing.T) {
	ctx := context.Background()
	backing := newSeededStore()
	kv := newFakeKV()
	store := NewCachedStore(backing, kv, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		typ, err := store.StorageType(ctx, "ps-nfs")
		require.NoError(t, err)
		assert.Equal(t, domain.StorageTypeNFS, typ)

		exclusive, err := store.ClusterIsLocalStorageExclusive(ctx, "cluster-local")
		require.NoError(t, err)
		assert.True(t, exclusive)

		types, err := store.ClusterStorageTypes(ctx, "host-3")
		require.NoError(t, err)
		assert.ElementsMatch(t, []domain.StorageType{domain.StorageTypeLocal, domain.StorageTypeNFS}, types)
	}

	assert.Equal(t, 1, backing.storageTypeCalls)
	assert.Equal(t, 1, backing.exclusiveCalls)
	assert.Equal(t, 1, backing.clusterTypeCalls)
	assert.Equal(t, time.Minute, kv.lastTTL)
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	backing := newSeededStore()
	store := NewCachedStore(backing, newFakeKV(), time.Minute, zap.NewNop())

	_, err := store.StorageType(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.StorageType(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 2, backing.storageTypeCalls)
}

func TestCachedStore_DegradesOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	backing := newSeededStore()
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	kv.setErr = errors.New("connection refused")
	store := NewCachedStore(backing, kv, time.Minute, zap.NewNop())

	exclusive, err := store.ClusterIsLocalStorageExclusive(ctx, "cluster-mixed")
	require.NoError(t, err)
	assert.False(t, exclusive)

	_, err = store.ClusterIsLocalStorageExclusive(ctx, "cluster-mixed")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.exclusiveCalls)
}

func TestCachedStore_PassesThroughCapacityAndRecords(t *testing.T) {
	ctx := context.Background()
	backing := newSeededStore()
	kv := newFakeKV()
	store := NewCachedStore(backing, kv, time.Minute, zap.NewNop())

	tuples, err := store.CapacityTuples(ctx, []string{"host-2"})
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, "ps-local-nvme", tuples[0].StorageID)

	record, err := store.PlacementRecord(ctx, "vol-demo-root")
	require.NoError(t, err)
	assert.Equal(t, "host-2", record.HostID)

	assert.Empty(t, kv.data)
}

func TestCachedStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	backing := newSeededStore()
	kv := newFakeKV()
	kv.data["unrelated"] = []byte(`1`)
	store := NewCachedStore(backing, kv, time.Minute, zap.NewNop())

	_, err := store.StorageType(ctx, "ps-nfs")
	require.NoError(t, err)
	n, err := store.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.StorageType(ctx, "ps-nfs")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.storageTypeCalls)
	assert.Contains(t, kv.data, "unrelated")
}
